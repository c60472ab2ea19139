package main

import (
	"fmt"

	"github.com/opentalon/metisctl/internal/batch"
	"github.com/opentalon/metisctl/internal/chat"
	"github.com/opentalon/metisctl/internal/config"
	"github.com/opentalon/metisctl/internal/task"
)

// batchItems converts configured items, filling unset generation settings
// from defaults.
func batchItems(items []config.ItemConfig, defaults config.DefaultsConfig) ([]batch.Item, error) {
	out := make([]batch.Item, 0, len(items))
	for i, it := range items {
		item, err := batchItem(it, defaults)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, item)
	}
	return out, nil
}

func batchItem(it config.ItemConfig, defaults config.DefaultsConfig) (batch.Item, error) {
	switch it.Kind {
	case "", config.ItemGeneration:
		return generationItem(it, defaults)
	case config.ItemChat:
		msgType, err := chat.ParseMessageType(it.Type)
		if err != nil {
			return nil, err
		}
		return batch.ChatItem{
			BotID:     it.BotID,
			SessionID: it.SessionID,
			Type:      msgType,
			Content:   it.Content,
		}, nil
	default:
		return nil, fmt.Errorf("unknown item kind %q", it.Kind)
	}
}

func generationItem(it config.ItemConfig, defaults config.DefaultsConfig) (batch.Item, error) {
	input, err := it.Args.Input()
	if err != nil {
		return nil, err
	}

	completion := it.Completion
	if completion == "" {
		completion = defaults.Completion
	}
	strategy, err := task.ParseStrategy(completion)
	if err != nil {
		return nil, err
	}

	wait := true
	switch {
	case it.Wait != nil:
		wait = *it.Wait
	case defaults.Wait != nil:
		wait = *defaults.Wait
	}

	interval := it.PollInterval
	if interval == 0 {
		interval = defaults.PollInterval
	}
	timeout := it.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}

	item := batch.GenerationItem{
		Provider:     it.Provider,
		Model:        it.Model,
		Operation:    it.Operation,
		Input:        input,
		Strategy:     strategy,
		Wait:         wait,
		PollInterval: interval.Std(),
		Timeout:      timeout.Std(),
	}
	if it.Webhook != nil {
		item.WebhookURL = it.Webhook.URL
		item.WebhookMethod = it.Webhook.Method
		item.WebhookHeaders = it.Webhook.Headers
	}
	return item, nil
}
