package cache

import (
	"context"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const memoryCacheSize = 4096

// Memory is the in-process fallback used when no REDIS_URL is configured.
// Two LRUs because the expirable variant carries one TTL each.
type Memory struct {
	success *expirable.LRU[string, []byte]
	failure *expirable.LRU[string, struct{}]
}

func NewMemory() *Memory {
	return &Memory{
		success: expirable.NewLRU[string, []byte](memoryCacheSize, nil, successTTL),
		failure: expirable.NewLRU[string, struct{}](memoryCacheSize, nil, failureTTL),
	}
}

func (m *Memory) Get(_ context.Context, dedupeKey string) ([]byte, bool, bool) {
	if xml, ok := m.success.Get(dedupeKey); ok {
		return xml, false, true
	}
	if _, ok := m.failure.Get(dedupeKey); ok {
		return nil, true, true
	}
	return nil, false, false
}

func (m *Memory) Put(_ context.Context, dedupeKey string, xml []byte) {
	m.failure.Remove(dedupeKey)
	m.success.Add(dedupeKey, xml)
}

func (m *Memory) PutFailure(_ context.Context, dedupeKey string) {
	m.failure.Add(dedupeKey, struct{}{})
}
