package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InFlightFetch describes a running status fetch.
type InFlightFetch struct {
	DeviceID  string    `json:"device_id"`
	StartedAt time.Time `json:"started_at"`
	// ID correlates log lines for one fetch.
	ID uuid.UUID `json:"id"`
}

// TaskGroup runs at most one task per key and can wait for all of them.
//
// A key is claimed under the group mutex before the goroutine starts, so
// two callers racing for the same key can never both start a task. The
// claim is released when the task returns, including when it panics.
type TaskGroup struct {
	mu     sync.Mutex
	active map[string]InFlightFetch
	closed bool
	wg     sync.WaitGroup

	onPanic func(key string, recovered any)

	// onChange runs under mu so reported counts are never out of order.
	onChange func(active int)
}

// NewTaskGroup creates an open, empty task group.
func NewTaskGroup() *TaskGroup {
	return &TaskGroup{
		active:   make(map[string]InFlightFetch),
		onPanic:  func(string, any) {},
		onChange: func(int) {},
	}
}

// TryGo claims key and runs fn in a new goroutine. It returns false without
// running fn if key already has a task or the group is closed.
func (g *TaskGroup) TryGo(key string, fn func(id uuid.UUID)) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	if _, busy := g.active[key]; busy {
		g.mu.Unlock()
		return false
	}
	task := InFlightFetch{
		DeviceID:  key,
		StartedAt: time.Now().UTC(),
		ID:        uuid.New(),
	}
	g.active[key] = task
	g.onChange(len(g.active))
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer g.release(key, task.ID)
		defer func() {
			if rec := recover(); rec != nil {
				g.onPanic(key, rec)
			}
		}()
		fn(task.ID)
	}()

	return true
}

func (g *TaskGroup) release(key string, id uuid.UUID) {
	g.mu.Lock()
	if cur, ok := g.active[key]; ok && cur.ID == id {
		delete(g.active, key)
	}
	g.onChange(len(g.active))
	g.mu.Unlock()
}

// Close stops the group from accepting new tasks. Running tasks continue.
func (g *TaskGroup) Close() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

// Closed reports whether Close has been called.
func (g *TaskGroup) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Wait blocks until every running task has returned or ctx is done.
// It returns ctx.Err() in the latter case.
func (g *TaskGroup) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy reports whether key has a running task.
func (g *TaskGroup) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[key]
	return ok
}

// Len returns the number of running tasks.
func (g *TaskGroup) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.active)
}

// Active returns the running tasks, oldest first.
func (g *TaskGroup) Active() []InFlightFetch {
	g.mu.Lock()
	out := make([]InFlightFetch, 0, len(g.active))
	for _, f := range g.active {
		out = append(out, f)
	}
	g.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].DeviceID < out[j].DeviceID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
