// Package sink writes batch outputs somewhere durable: JSON lines on a
// stream or file, or a Redis list.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/opentalon/metisctl/internal/batch"
)

type Sink interface {
	Write(ctx context.Context, outputs []batch.Output) error
	Close() error
}

// Writer emits one JSON document per output, newline separated.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewWriter wraps w. Close does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// OpenFile appends to path, creating it and its directory if needed.
func OpenFile(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file %s: %w", path, err)
	}
	return &Writer{w: f, closer: f}, nil
}

func (s *Writer) Write(_ context.Context, outputs []batch.Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	for _, out := range outputs {
		if err := enc.Encode(out); err != nil {
			return fmt.Errorf("write output %d: %w", out.Index, err)
		}
	}
	return nil
}

func (s *Writer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Redis appends each output as a JSON string to a list with RPUSH.
type Redis struct {
	client *redis.Client
	key    string
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

func NewRedis(opts RedisOptions) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return &Redis{client: client, key: opts.Key}
}

// Ping checks the connection so misconfiguration shows up before a batch runs.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *Redis) Write(ctx context.Context, outputs []batch.Output) error {
	if len(outputs) == 0 {
		return nil
	}
	values := make([]any, 0, len(outputs))
	for _, out := range outputs {
		data, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshal output %d: %w", out.Index, err)
		}
		values = append(values, string(data))
	}
	if err := s.client.RPush(ctx, s.key, values...).Err(); err != nil {
		return fmt.Errorf("redis rpush %s: %w", s.key, err)
	}
	return nil
}

func (s *Redis) Close() error {
	return s.client.Close()
}
