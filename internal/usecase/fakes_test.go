package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"ai-nwanne/internal/domain"
	"ai-nwanne/internal/respcache"
)

type chatResponse struct {
	answer string
	err    error
}

type mockLLM struct {
	responses []chatResponse
	requests  []domain.ChatRequest
	flagged   bool
	modErr    error
	modCalls  int
}

func (m *mockLLM) Chat(_ context.Context, in domain.ChatRequest) (string, error) {
	if len(m.responses) == 0 {
		return "", errors.New("no llm response configured")
	}
	idx := len(m.requests)
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	m.requests = append(m.requests, in)
	return m.responses[idx].answer, m.responses[idx].err
}

func (m *mockLLM) Moderate(_ context.Context, _ string) (bool, error) {
	m.modCalls++
	return m.flagged, m.modErr
}

type mockLimiter struct {
	allow bool
	err   error
	seen  []string
}

func (m *mockLimiter) Allow(_ context.Context, identity string) (bool, error) {
	m.seen = append(m.seen, identity)
	return m.allow, m.err
}

// mapCache mirrors respcache semantics without a store.
type mapCache struct {
	vals     map[string]string
	ttls     map[string]time.Duration
	computes int
	err      error
}

func newMapCache() *mapCache {
	return &mapCache{vals: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (c *mapCache) GetOrCompute(ctx context.Context, ns respcache.Namespace, identity, input string, ttl time.Duration, compute respcache.ComputeFunc) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	key := respcache.Key(ns, identity, input)
	if v, ok := c.vals[key]; ok {
		return v, nil
	}
	c.computes++
	v, err := compute(ctx)
	if err != nil {
		return "", err
	}
	if v != "" {
		c.vals[key] = v
		c.ttls[key] = ttl
	}
	return v, nil
}

func (c *mapCache) keysWithPrefix(prefix string) []string {
	var out []string
	for k := range c.vals {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

type mockMemory struct {
	turns map[string][]domain.ChatMessage
	err   error
}

func newMockMemory() *mockMemory {
	return &mockMemory{turns: map[string][]domain.ChatMessage{}}
}

func (m *mockMemory) AppendTurn(_ context.Context, identity, role, content string, maxLength int) ([]domain.ChatMessage, error) {
	if m.err != nil {
		return nil, m.err
	}
	h := append(m.turns[identity], domain.ChatMessage{Role: role, Content: content})
	if len(h) > maxLength {
		h = h[len(h)-maxLength:]
	}
	m.turns[identity] = h
	return append([]domain.ChatMessage(nil), h...), nil
}

type translateCall struct {
	text, target, source string
}

type mockTranslator struct {
	fn    func(text, target, source string) (string, error)
	calls []translateCall
}

func (m *mockTranslator) Translate(_ context.Context, text, target, source string) (string, error) {
	m.calls = append(m.calls, translateCall{text: text, target: target, source: source})
	return m.fn(text, target, source)
}

type mockProfiles struct {
	hashes   map[string]map[string]string
	ttls     map[string]time.Duration
	err      error
	setErr   error
	expireOp int
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{hashes: map[string]map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *mockProfiles) Exists(_ context.Context, key string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.hashes[key]
	return ok, nil
}

func (m *mockProfiles) HashSet(_ context.Context, key string, fields map[string]string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.hashes[key] = fields
	return nil
}

func (m *mockProfiles) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.expireOp++
	m.ttls[key] = ttl
	return nil
}

type mockFeeds struct {
	entries []domain.WisdomEntry
	err     error
}

func (m *mockFeeds) Entries(_ context.Context) ([]domain.WisdomEntry, error) {
	return m.entries, m.err
}

type mockTopics struct {
	list    []string
	pushErr error
	readErr error
	deletes int
}

func (m *mockTopics) Delete(_ context.Context, _ string) error {
	m.deletes++
	m.list = nil
	return nil
}

func (m *mockTopics) ListRange(_ context.Context, _ string, start, stop int64) ([]string, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	n := int64(len(m.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	return append([]string(nil), m.list[start:stop+1]...), nil
}

func (m *mockTopics) ListPush(_ context.Context, _ string, values ...string) error {
	if m.pushErr != nil {
		return m.pushErr
	}
	m.list = append(m.list, values...)
	return nil
}

func (m *mockTopics) ListTrim(ctx context.Context, key string, start, stop int64) error {
	kept, err := m.ListRange(ctx, key, start, stop)
	if err != nil {
		return err
	}
	m.list = kept
	return nil
}

type mockPublisher struct {
	name  string
	id    string
	err   error
	posts []string
}

func (m *mockPublisher) Name() string { return m.name }

func (m *mockPublisher) PublishPost(_ context.Context, text string) (string, error) {
	m.posts = append(m.posts, text)
	if m.err != nil {
		return "", m.err
	}
	return m.id, nil
}
