// Package chat sends messages into Metis bot sessions.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/opentalon/metisctl/internal/metis"
	"github.com/opentalon/metisctl/internal/metrics"
)

var (
	ErrMissingRequiredField = metis.ErrMissingRequiredField
	ErrMalformedInput       = metis.ErrMalformedInput
)

type MessageType string

const (
	MessageUser MessageType = "USER"
	MessageTool MessageType = "TOOL"
)

func ParseMessageType(s string) (MessageType, error) {
	switch t := MessageType(strings.ToUpper(strings.TrimSpace(s))); t {
	case MessageUser, MessageTool:
		return t, nil
	case "":
		return MessageUser, nil
	default:
		return "", fmt.Errorf("%w: message type %q (supported: %s, %s)", ErrMalformedInput, s, MessageUser, MessageTool)
	}
}

// Gateway is the part of the Metis client the dispatcher needs.
type Gateway interface {
	CreateSession(ctx context.Context, req *metis.CreateSessionRequest) (metis.Object, error)
	SendMessage(ctx context.Context, sessionID string, msg metis.ChatMessage) (metis.Object, error)
}

type Session struct {
	ID    string
	BotID string
}

// Message is one chat turn. An empty SessionID starts a new session.
type Message struct {
	BotID     string
	SessionID string
	Type      MessageType
	Content   string
}

type Reply struct {
	Session Session
	// Created reports whether the session was allocated for this message.
	Created bool
	Payload map[string]any
}

type Dispatcher struct {
	gateway Gateway
	metrics *metrics.Metrics
}

func NewDispatcher(gw Gateway, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{gateway: gw, metrics: m}
}

// Send posts exactly one message, creating a session first when the
// message carries no session id. A supplied id is used as is. Neither call
// is retried; session creation allocates remote state.
func (d *Dispatcher) Send(ctx context.Context, msg Message) (*Reply, error) {
	if strings.TrimSpace(msg.BotID) == "" && msg.SessionID == "" {
		return nil, fmt.Errorf("%w: bot id", ErrMissingRequiredField)
	}
	msgType := msg.Type
	if msgType == "" {
		msgType = MessageUser
	}
	if msgType != MessageUser && msgType != MessageTool {
		return nil, fmt.Errorf("%w: message type %q", ErrMalformedInput, msgType)
	}

	session := Session{ID: msg.SessionID, BotID: msg.BotID}
	created := false
	if session.ID == "" {
		resp, err := d.gateway.CreateSession(ctx, &metis.CreateSessionRequest{BotID: msg.BotID})
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		session.ID = resp.String("id")
		if session.ID == "" {
			return nil, fmt.Errorf("%w: failed to create session, no session id returned", ErrMissingRequiredField)
		}
		created = true
	}

	resp, err := d.gateway.SendMessage(ctx, session.ID, metis.ChatMessage{Type: string(msgType), Content: msg.Content})
	if err != nil {
		return nil, fmt.Errorf("send message to session %s: %w", session.ID, err)
	}
	d.metrics.ChatMessage(string(msgType), created)

	return &Reply{Session: session, Created: created, Payload: resp}, nil
}
