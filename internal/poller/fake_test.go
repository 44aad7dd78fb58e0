package poller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/stsync/internal/device"
	"github.com/nerrad567/stsync/internal/gateway"
)

// fakeCLI stands in for the SmartThings CLI.
type fakeCLI struct {
	mu sync.Mutex

	list     string
	listErr  error
	listGate chan struct{} // when set, "devices" waits for it to close

	status    map[string]string
	statusErr map[string]error

	// gates block a device's status call until closed. When ignoreCancel
	// is set the call also ignores ctx, simulating a stuck subprocess.
	gates        map[string]chan struct{}
	ignoreCancel bool
	panicFor     map[string]bool

	calls     map[string]int
	listCalls int
	active    map[string]int
	maxActive map[string]int
}

func newFakeCLI(list string) *fakeCLI {
	return &fakeCLI{
		list:      list,
		status:    make(map[string]string),
		statusErr: make(map[string]error),
		gates:     make(map[string]chan struct{}),
		panicFor:  make(map[string]bool),
		calls:     make(map[string]int),
		active:    make(map[string]int),
		maxActive: make(map[string]int),
	}
}

func statusJSON(health, sw string) string {
	return fmt.Sprintf(`{"components":{"main":{
		"healthCheck":{"DeviceWatch-DeviceStatus":{"value":%q}},
		"switch":{"switch":{"value":%q}}}}}`, health, sw)
}

func (f *fakeCLI) Execute(ctx context.Context, args ...string) (string, error) {
	switch args[0] {
	case "devices":
		f.mu.Lock()
		f.listCalls++
		gate, list, err := f.listGate, f.list, f.listErr
		f.mu.Unlock()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return "", &gateway.CommandError{Kind: gateway.KindCanceled, Args: args, Err: ctx.Err()}
			}
		}
		return list, err

	case "devices:status":
		id := args[1]
		f.mu.Lock()
		f.calls[id]++
		f.active[id]++
		if f.active[id] > f.maxActive[id] {
			f.maxActive[id] = f.active[id]
		}
		gate := f.gates[id]
		ignore := f.ignoreCancel
		shouldPanic := f.panicFor[id]
		f.mu.Unlock()

		defer func() {
			f.mu.Lock()
			f.active[id]--
			f.mu.Unlock()
		}()

		if shouldPanic {
			panic("fake cli exploded")
		}

		if gate != nil {
			if ignore {
				<-gate
			} else {
				select {
				case <-gate:
				case <-ctx.Done():
					return "", &gateway.CommandError{Kind: gateway.KindCanceled, Args: args, Err: ctx.Err()}
				}
			}
		}

		f.mu.Lock()
		defer f.mu.Unlock()
		if err := f.statusErr[id]; err != nil {
			return "", err
		}
		return f.status[id], nil
	}
	return "", &gateway.CommandError{Kind: gateway.KindNonZeroExit, Args: args, Detail: "unknown command"}
}

func (f *fakeCLI) set(fn func(f *fakeCLI)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCLI) statusCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeCLI) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeCLI) maxConcurrent(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive[id]
}

// countingObserver records state notifications per device.
type countingObserver struct {
	device.NoopObserver
	mu      sync.Mutex
	changes map[string][]device.DeviceState
	errors  []string
}

func newCountingObserver() *countingObserver {
	return &countingObserver{changes: make(map[string][]device.DeviceState)}
}

func (o *countingObserver) OnDeviceStateChanged(id string, st device.DeviceState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes[id] = append(o.changes[id], st)
}

func (o *countingObserver) OnLoadError(message string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.errors = append(o.errors, message)
}

func (o *countingObserver) count(id string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.changes[id])
}

func (o *countingObserver) loadErrors() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.errors)
}

// recordingMetrics captures fetch outcomes.
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []Outcome
	inFlight []int
}

func (m *recordingMetrics) ObserveFetch(o Outcome, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
}

func (m *recordingMetrics) SetInFlight(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inFlight = append(m.inFlight, n)
}

func (m *recordingMetrics) count(o Outcome) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, got := range m.outcomes {
		if got == o {
			n++
		}
	}
	return n
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func listJSON(ids ...string) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf(`{"deviceId":%q,"label":"Device %s"}`, id, id)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
