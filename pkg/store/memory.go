package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for unit tests, grounded on the
// teacher's fleet.MemoryStore map+mutex pattern. TTLs are enforced lazily on
// read rather than by a background sweep.
type MemoryStore struct {
	mu      sync.Mutex
	values  map[string]memEntry
	lists   map[string][][]byte
	sets    map[string]map[string]struct{}
	subs    map[string][]chan Message
	waiters map[string][]chan []byte
}

type memEntry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:  make(map[string]memEntry),
		lists:   make(map[string][][]byte),
		sets:    make(map[string]map[string]struct{}),
		subs:    make(map[string][]chan Message),
		waiters: make(map[string][]chan []byte),
	}
}

func (s *MemoryStore) SAdd(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (s *MemoryStore) SRem(_ context.Context, key, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets[key], member)
	return nil
}

func (s *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (s *MemoryStore) expired(e memEntry) bool {
	return !e.expires.IsZero() && time.Now().After(e.expires)
}

func (s *MemoryStore) SetEX(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]byte(nil), value...)
	entry := memEntry{value: cp}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	s.values[key] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.expired(e) {
		delete(s.values, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || s.expired(e) {
		delete(s.values, key)
		return false, nil
	}
	e.expires = time.Now().Add(ttl)
	s.values[key] = e
	return true, nil
}

func (s *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.intValueLocked(key) + 1
	s.setIntLocked(key, n)
	return n, nil
}

func (s *MemoryStore) DecrFloor0(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.intValueLocked(key) - 1
	if n < 0 {
		n = 0
	}
	s.setIntLocked(key, n)
	return n, nil
}

func (s *MemoryStore) intValueLocked(key string) int64 {
	e, ok := s.values[key]
	if !ok || s.expired(e) {
		return 0
	}
	var n int64
	for _, c := range e.value {
		n = n*10 + int64(c-'0')
	}
	return n
}

func (s *MemoryStore) setIntLocked(key string, n int64) {
	s.values[key] = memEntry{value: []byte(itoa(n))}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (s *MemoryStore) LPush(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	cp := append([]byte(nil), value...)
	s.lists[key] = append([][]byte{cp}, s.lists[key]...)
	s.mu.Unlock()
	s.wake(key)
	return nil
}

func (s *MemoryStore) LPushFront(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	cp := append([]byte(nil), value...)
	s.lists[key] = append(s.lists[key], cp)
	s.mu.Unlock()
	s.wake(key)
	return nil
}

// wake delivers to one blocked BRPop waiter, if any, bypassing the list.
func (s *MemoryStore) wake(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	waiters := s.waiters[key]
	if len(waiters) == 0 {
		return
	}
	items := s.lists[key]
	if len(items) == 0 {
		return
	}
	val := items[len(items)-1]
	s.lists[key] = items[:len(items)-1]
	ch := waiters[0]
	s.waiters[key] = waiters[1:]
	ch <- val
	close(ch)
}

func (s *MemoryStore) BRPop(ctx context.Context, wait time.Duration, key string) ([]byte, bool, error) {
	s.mu.Lock()
	items := s.lists[key]
	if len(items) > 0 {
		val := items[len(items)-1]
		s.lists[key] = items[:len(items)-1]
		s.mu.Unlock()
		return val, true, nil
	}
	ch := make(chan []byte, 1)
	s.waiters[key] = append(s.waiters[key], ch)
	s.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case val, ok := <-ch:
		if !ok {
			return nil, false, nil
		}
		return val, true, nil
	case <-timer.C:
		return nil, false, nil
	case <-ctx.Done():
		return nil, false, nil
	}
}

func (s *MemoryStore) RPop(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.lists[key]
	if len(items) == 0 {
		return nil, false, nil
	}
	val := items[len(items)-1]
	s.lists[key] = items[:len(items)-1]
	return val, true, nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- Message{Channel: channel, Payload: string(payload)}:
		default:
		}
	}
	return nil
}

func (s *MemoryStore) Subscribe(_ context.Context, channels ...string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(chan Message, 16)
	for _, ch := range channels {
		s.subs[ch] = append(s.subs[ch], out)
	}
	return &memSubscription{store: s, channels: channels, out: out}, nil
}

func (s *MemoryStore) Close() error { return nil }

type memSubscription struct {
	store    *MemoryStore
	channels []string
	out      chan Message
}

func (m *memSubscription) Channel() <-chan Message { return m.out }

func (m *memSubscription) Close() error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, ch := range m.channels {
		subs := m.store.subs[ch]
		for i, c := range subs {
			if c == m.out {
				m.store.subs[ch] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	close(m.out)
	return nil
}
