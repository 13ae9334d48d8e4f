package syncqueue

import "sync"

// ConcurrencyStrategy controls which tasks are allowed to start.
// The strategy tracks running tasks by key and decides whether a new task
// can start given the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if a task with the given key can start.
	CanStart(key string) bool
	// OnStart is called when a task with the given key starts.
	OnStart(key string)
	// OnComplete is called when a task with the given key completes.
	OnComplete(key string)
}

// KeySerializedStrategy serializes tasks per key and caps total concurrency.
// Two syncs of different sources run in parallel up to the cap; two syncs of
// the same source queue behind each other.
type KeySerializedStrategy struct {
	mu            sync.Mutex
	maxConcurrent int
	running       map[string]bool
}

// NewKeySerializedStrategy creates a strategy that serializes per key and
// allows up to maxConcurrent tasks overall.
func NewKeySerializedStrategy(maxConcurrent int) *KeySerializedStrategy {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &KeySerializedStrategy{
		maxConcurrent: maxConcurrent,
		running:       make(map[string]bool),
	}
}

func (s *KeySerializedStrategy) CanStart(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running[key] && len(s.running) < s.maxConcurrent
}

func (s *KeySerializedStrategy) OnStart(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[key] = true
}

func (s *KeySerializedStrategy) OnComplete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, key)
}

// SerializedStrategy runs one task at a time regardless of key.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that serializes everything.
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
