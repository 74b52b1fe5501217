// Package memory keeps a bounded per-identity conversation history in the
// key-value store.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-nwanne/internal/domain"
)

const (
	keyPrefix = "memory:"

	// DefaultTTL is how long an idle conversation is remembered.
	DefaultTTL = 30 * 24 * time.Hour
)

type store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// Memory stores conversation turns as a JSON array under memory:<identity>.
type Memory struct {
	store store
	ttl   time.Duration
}

func New(s store, ttl time.Duration) (*Memory, error) {
	if s == nil {
		return nil, errors.New("memory: store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{store: s, ttl: ttl}, nil
}

func key(identity string) string {
	return keyPrefix + identity
}

// History returns the stored turns, oldest first. A missing history is empty.
func (m *Memory) History(ctx context.Context, identity string) ([]domain.ChatMessage, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, errors.New("memory: identity must not be empty")
	}
	raw, ok, err := m.store.Get(ctx, key(identity))
	if err != nil {
		return nil, fmt.Errorf("memory: load: %w", err)
	}
	if !ok || raw == "" {
		return []domain.ChatMessage{}, nil
	}
	var history []domain.ChatMessage
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("memory: decode history for %s: %w", identity, err)
	}
	return history, nil
}

// AppendTurn appends (role, content), evicts the oldest turns until at most
// maxLength remain, persists the result with a refreshed TTL and returns it.
func (m *Memory) AppendTurn(ctx context.Context, identity, role, content string, maxLength int) ([]domain.ChatMessage, error) {
	if maxLength < 1 {
		return nil, errors.New("memory: max length must be at least 1")
	}
	switch role {
	case domain.RoleUser, domain.RoleAssistant, domain.RoleSystem:
	default:
		return nil, fmt.Errorf("memory: unknown role %q", role)
	}

	history, err := m.History(ctx, identity)
	if err != nil {
		return nil, err
	}
	history = append(history, domain.ChatMessage{Role: role, Content: content})
	if over := len(history) - maxLength; over > 0 {
		history = append([]domain.ChatMessage(nil), history[over:]...)
	}

	b, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("memory: encode history: %w", err)
	}
	if err := m.store.Set(ctx, key(identity), string(b), m.ttl); err != nil {
		return nil, fmt.Errorf("memory: save: %w", err)
	}
	return history, nil
}
