package engine

import (
	"log"
	"time"

	"github.com/google/uuid"

	"taskwire/internal/domain"
	"taskwire/internal/events"
	"taskwire/internal/registry"
	"taskwire/internal/store"
)

// Engine is the task lifecycle state machine. Every successful mutation is
// fanned out to all of the owning identity's connections.
type Engine struct {
	Store  *store.Store
	Events events.Broadcaster
	Now    func() time.Time
	Log    *log.Logger
}

func New(st *store.Store, reg *registry.Registry) Engine {
	return Engine{
		Store:  st,
		Events: events.Broadcaster{Registry: reg},
		Now:    time.Now,
	}
}

func (e Engine) now() int64 {
	if e.Now != nil {
		return e.Now().UnixMilli()
	}
	return time.Now().UnixMilli()
}

// CreateOptions are parameters for creating a task.
type CreateOptions struct {
	Name      string
	Project   string
	Priority  int
	Autostart bool
}

// Create writes a fresh record and broadcasts it.
func (e Engine) Create(token string, opts CreateOptions) (domain.Task, error) {
	now := e.now()
	t := domain.Task{
		ID:        uuid.New().String(),
		Name:      opts.Name,
		Project:   opts.Project,
		Priority:  opts.Priority,
		CreatedAt: now,
	}
	if opts.Autostart {
		t.StartedAt = now
		t.CurrentAt = now
	}
	if err := e.Store.Write(token, t); err != nil {
		return domain.Task{}, err
	}
	e.broadcast(token, "created", t)
	return t, nil
}

// Start begins a task's active lifecycle. Starting an already-started task
// is a state-level no-op with no broadcast. Starting a completed task means
// "start a fresh copy": a new autostarted record from the completed task's
// template fields, leaving the original untouched.
func (e Engine) Start(token, taskID string) (domain.Task, error) {
	var copyFrom *domain.Task
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if t.Completed() {
			tpl := *t
			copyFrom = &tpl
			return false
		}
		if t.Started() {
			return false
		}
		now := e.now()
		t.StartedAt = now
		t.CurrentAt = now
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if copyFrom != nil {
		return e.Create(token, CreateOptions{
			Name:      copyFrom.Name,
			Project:   copyFrom.Project,
			Priority:  copyFrom.Priority,
			Autostart: true,
		})
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// Pause folds the running active interval into elapsed and marks the pause.
func (e Engine) Pause(token, taskID string) (domain.Task, error) {
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if !t.Started() || t.Paused() || t.Completed() {
			return false
		}
		now := e.now()
		t.Elapsed += now - t.CurrentAt
		t.PausedAt = now
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// Resume reopens the active interval after a pause.
func (e Engine) Resume(token, taskID string) (domain.Task, error) {
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if !t.Started() || !t.Paused() || t.Completed() {
			return false
		}
		t.CurrentAt = e.now()
		t.PausedAt = 0
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// Restart returns a completed task to a freshly started state.
func (e Engine) Restart(token, taskID string) (domain.Task, error) {
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if !t.Started() || !t.Completed() {
			return false
		}
		now := e.now()
		t.StartedAt = now
		t.CurrentAt = now
		t.PausedAt = 0
		t.CompletedAt = 0
		t.Elapsed = 0
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// Complete closes the lifecycle. After completion elapsed equals the total
// wall-clock time the task spent started and not paused.
func (e Engine) Complete(token, taskID string) (domain.Task, error) {
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if t.Completed() {
			return false
		}
		now := e.now()
		if !t.Started() {
			t.StartedAt = now
			t.CurrentAt = now
		}
		if !t.Paused() {
			t.Elapsed += now - t.CurrentAt
		}
		t.PausedAt = 0
		t.CompletedAt = now
		t.CurrentAt = now
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// Rename updates the display name.
func (e Engine) Rename(token, taskID, name string) (domain.Task, error) {
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if t.Name == name {
			return false
		}
		t.Name = name
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// SetPriority updates the ordering hint.
func (e Engine) SetPriority(token, taskID string, priority int) (domain.Task, error) {
	t, changed, err := e.mutate(token, taskID, func(t *domain.Task) bool {
		if t.Priority == priority {
			return false
		}
		t.Priority = priority
		return true
	})
	if err != nil {
		return domain.Task{}, err
	}
	if changed {
		e.broadcast(token, "updated", t)
	}
	return t, nil
}

// Copy duplicates a task's template fields into a fresh, unstarted record.
func (e Engine) Copy(token, taskID string) (domain.Task, error) {
	src, err := e.Store.Read(token, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return e.Create(token, CreateOptions{
		Name:     src.Name,
		Project:  src.Project,
		Priority: src.Priority,
	})
}

// Delete removes the record. An already-absent file still broadcasts the
// deletion so clients stay idempotently in sync.
func (e Engine) Delete(token string, target domain.Task) error {
	err := e.Store.WithTaskLock(token, target.ID, func() error {
		return e.Store.Remove(token, target.ID)
	})
	if err != nil {
		return err
	}
	e.broadcast(token, "deleted", target)
	return nil
}

// List returns every well-formed record in the identity's namespace.
func (e Engine) List(token string) ([]domain.Task, error) {
	return e.Store.ListForToken(token)
}

// mutate runs a read-modify-write cycle inside the per-task critical
// section. fn returns whether the record changed and must be rewritten.
func (e Engine) mutate(token, taskID string, fn func(*domain.Task) bool) (domain.Task, bool, error) {
	var t domain.Task
	var changed bool
	err := e.Store.WithTaskLock(token, taskID, func() error {
		var err error
		t, err = e.Store.Read(token, taskID)
		if err != nil {
			return err
		}
		if changed = fn(&t); !changed {
			return nil
		}
		return e.Store.Write(token, t)
	})
	if err != nil {
		return domain.Task{}, false, err
	}
	return t, changed, nil
}

func (e Engine) broadcast(token, msgType string, t domain.Task) {
	if err := e.Events.Push(token, msgType, events.Payload{"task": t}); err != nil && e.Log != nil {
		e.Log.Printf("broadcast %s for task %s: %v", msgType, t.ID, err)
	}
}
