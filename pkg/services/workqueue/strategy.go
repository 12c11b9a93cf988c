package workqueue

import "sync"

// ConcurrencyStrategy decides whether a task with a given key may start.
// The queue calls OnStart and OnComplete around every execution.
type ConcurrencyStrategy interface {
	CanStart(key string) bool
	OnStart(key string)
	OnComplete(key string)
}

// KeyedStrategy runs at most one task per key and at most maxConcurrent tasks overall.
// With user IDs as keys, two jobs for the same user never overlap while
// different users proceed in parallel.
type KeyedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       int
	keys          map[string]struct{}
}

// NewKeyedStrategy creates a keyed strategy. maxConcurrent below 1 is treated as 1.
func NewKeyedStrategy(maxConcurrent int) *KeyedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &KeyedStrategy{
		maxConcurrent: maxConcurrent,
		keys:          make(map[string]struct{}),
	}
}

func (s *KeyedStrategy) CanStart(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running >= s.maxConcurrent {
		return false
	}
	_, busy := s.keys[key]
	return !busy
}

func (s *KeyedStrategy) OnStart(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
	s.keys[key] = struct{}{}
}

func (s *KeyedStrategy) OnComplete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running > 0 {
		s.running--
	}
	delete(s.keys, key)
}

// SerializedStrategy runs one task at a time regardless of key.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that serializes all tasks.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete(string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}
