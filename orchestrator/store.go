package orchestrator

import (
	"context"
	"sync"

	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/protocol"
)

// TaskStore is the ordered key-value abstraction the orchestrator persists
// Task snapshots through. Writes for a given task id are serialized by the
// implementation (here, a per-key mutex); the interface itself makes no
// assumption about the backing engine (in-memory, relational, Redis, ...).
type TaskStore interface {
	Get(ctx context.Context, taskID string) (*protocol.Task, error)
	Save(ctx context.Context, task *protocol.Task) error
}

// MemoryTaskStore is an in-process TaskStore guarded by per-task-id mutexes,
// suitable for a single-process deployment or for tests.
type MemoryTaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*protocol.Task
	locks map[string]*sync.Mutex
}

// NewMemoryTaskStore creates an empty MemoryTaskStore.
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks: make(map[string]*protocol.Task),
		locks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryTaskStore) lockFor(taskID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	return l
}

// Get returns a deep-enough copy of the stored task, or a NotFound error.
func (s *MemoryTaskStore) Get(ctx context.Context, taskID string) (*protocol.Task, error) {
	l := s.lockFor(taskID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	task, ok := s.tasks[taskID]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.NotFound("task", taskID)
	}
	clone := *task
	return &clone, nil
}

// Save upserts task, serialized per task id.
func (s *MemoryTaskStore) Save(ctx context.Context, task *protocol.Task) error {
	l := s.lockFor(task.ID)
	l.Lock()
	defer l.Unlock()

	clone := *task
	s.mu.Lock()
	s.tasks[task.ID] = &clone
	s.mu.Unlock()
	return nil
}
