package kv

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/metrics"
)

const (
	defaultSweepInterval    = time.Second
	defaultSubscriberBuffer = 256
)

type entry struct {
	value    string
	expireAt int64 // unix ms, 0 = never
}

// Memory is an in-process Keyspace. Expired keys are removed lazily on
// access and by Sweep; both paths publish to Expired subscribers.
type Memory struct {
	mu               sync.Mutex
	entries          map[string]entry
	subs             map[int]chan string
	nextSub          int
	clock            model.TimeSource
	sweepInterval    time.Duration
	subscriberBuffer int
}

// NewMemory creates an empty in-memory keyspace.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries:          make(map[string]entry),
		subs:             make(map[int]chan string),
		clock:            model.SystemClock{},
		sweepInterval:    defaultSweepInterval,
		subscriberBuffer: defaultSubscriberBuffer,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) deadline(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return m.clock.NowMillis() + ttl.Milliseconds()
}

// lookup returns the live entry for key, expiring it first if needed.
// Caller holds m.mu.
func (m *Memory) lookup(key string, now int64) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if e.expireAt != 0 && e.expireAt <= now {
		delete(m.entries, key)
		m.publish(key)
		return entry{}, false
	}
	return e, true
}

// publish fans key out to subscribers without blocking. Caller holds m.mu.
func (m *Memory) publish(key string) {
	for _, ch := range m.subs {
		select {
		case ch <- key:
		default:
			metrics.RecordExpiryDropped()
		}
	}
}

// Set implements Keyspace.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{value: value, expireAt: m.deadline(ttl)}
	return nil
}

// SetNX implements Keyspace.
func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key, m.clock.NowMillis()); ok {
		return false, nil
	}
	m.entries[key] = entry{value: value, expireAt: m.deadline(ttl)}
	return true, nil
}

// Get implements Keyspace.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key, m.clock.NowMillis())
	return e.value, ok, nil
}

// Del implements Keyspace.
func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// DelIfValue implements Keyspace.
func (m *Memory) DelIfValue(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key, m.clock.NowMillis())
	if !ok || e.value != value {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

// PTTL implements Keyspace.
func (m *Memory) PTTL(_ context.Context, key string) (time.Duration, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.NowMillis()
	e, ok := m.lookup(key, now)
	if !ok {
		return 0, false, nil
	}
	if e.expireAt == 0 {
		return NoExpiry, true, nil
	}
	return time.Duration(e.expireAt-now) * time.Millisecond, true, nil
}

// Keys implements Keyspace. Results are sorted.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.NowMillis()
	var out []string
	for k := range m.entries {
		if !Match(pattern, k) {
			continue
		}
		if _, ok := m.lookup(k, now); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Expired implements Keyspace.
func (m *Memory) Expired(ctx context.Context) (<-chan string, error) {
	ch := make(chan string, m.subscriberBuffer)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// Sweep removes every expired key and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.NowMillis()
	n := 0
	for k, e := range m.entries {
		if e.expireAt != 0 && e.expireAt <= now {
			delete(m.entries, k)
			m.publish(k)
			n++
		}
	}
	return n
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored keys, including ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
