package attempt

import (
	"context"
	"sync"

	"github.com/offbookhq/offbook/internal/assess"
)

// Compile-time interface checks.
var (
	_ Store              = (*MemoryStore)(nil)
	_ assess.AttemptSink = (*MemoryStore)(nil)
)

// MemoryStore is an in-process [Store] for development and tests. Attempts
// do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[logKey][]*assess.Result
}

type logKey struct {
	userID     string
	passageRef string
}

// NewMemoryStore creates an empty in-memory attempt log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[logKey][]*assess.Result)}
}

// Append adds res to the log for (userID, passageRef), evicting the oldest
// entry when the log is full.
func (s *MemoryStore) Append(_ context.Context, userID, passageRef string, res *assess.Result) error {
	key := logKey{userID: userID, passageRef: passageRef}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := append(s.logs[key], res)
	if len(log) > Capacity {
		log = log[len(log)-Capacity:]
	}
	s.logs[key] = log
	return nil
}

// Log returns the retained attempts oldest first. The returned slice is a
// copy; the results it points to are shared and must not be mutated.
func (s *MemoryStore) Log(_ context.Context, userID, passageRef string) ([]*assess.Result, error) {
	key := logKey{userID: userID, passageRef: passageRef}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[key]
	out := make([]*assess.Result, len(log))
	copy(out, log)
	return out, nil
}
