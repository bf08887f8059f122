package shutdown

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// recordingComponent appends its name to a shared log when shut down.
type recordingComponent struct {
	name  string
	delay time.Duration
	err   error
	calls atomic.Int32
	mu    *sync.Mutex
	order *[]string
}

func (r *recordingComponent) Name() string { return r.name }

func (r *recordingComponent) Shutdown(ctx context.Context) error {
	r.calls.Add(1)
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	*r.order = append(*r.order, r.name)
	r.mu.Unlock()
	return r.err
}

// **Feature: deployment-logs, Property 13: Components shut down in reverse registration order**
// For any number of components, each is shut down exactly once, after every
// component registered later than it.
func TestPropertyShutdownOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("shutdown is sequential LIFO", prop.ForAll(
		func(n int) bool {
			var mu sync.Mutex
			var order []string
			coordinator := NewCoordinator(WithTimeout(time.Second))

			var want []string
			comps := make([]*recordingComponent, n)
			for i := range n {
				comps[i] = &recordingComponent{name: fmt.Sprintf("c%d", i), mu: &mu, order: &order}
				coordinator.Register(comps[i])
				want = append([]string{comps[i].name}, want...)
			}

			coordinator.Shutdown()
			coordinator.Shutdown()
			coordinator.Wait()

			for _, c := range comps {
				if c.calls.Load() != 1 {
					return false
				}
			}
			return slices.Equal(order, want) && coordinator.ExitCode() == 0
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

func TestShutdownTimeoutSkipsRemaining(t *testing.T) {
	var mu sync.Mutex
	var order []string
	first := &recordingComponent{name: "first", mu: &mu, order: &order}
	slow := &recordingComponent{name: "slow", delay: time.Second, mu: &mu, order: &order}

	coordinator := NewCoordinator(WithTimeout(50 * time.Millisecond))
	coordinator.Register(first)
	coordinator.Register(slow)

	start := time.Now()
	coordinator.Shutdown()
	coordinator.Wait()

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("shutdown took %v", elapsed)
	}
	if coordinator.ExitCode() != 1 {
		t.Errorf("ExitCode = %d, want 1", coordinator.ExitCode())
	}
	if first.calls.Load() != 0 {
		t.Error("components after the deadline should be skipped")
	}
	if !errors.Is(coordinator.Err(), context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", coordinator.Err())
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	var mu sync.Mutex
	var order []string
	boom := errors.New("close failed")

	coordinator := NewCoordinator(WithTimeout(time.Second))
	coordinator.Register(&recordingComponent{name: "ok", mu: &mu, order: &order})
	coordinator.Register(&recordingComponent{name: "bad", err: boom, mu: &mu, order: &order})

	coordinator.Shutdown()
	if !errors.Is(coordinator.Err(), boom) {
		t.Errorf("Err = %v, want %v", coordinator.Err(), boom)
	}
	if coordinator.ExitCode() != 0 || len(order) != 2 {
		t.Errorf("a failing component should not stop the others: order=%v", order)
	}
}

func TestWaitForSignal(t *testing.T) {
	sigCh := make(chan os.Signal, 1)
	closed := make(chan struct{})
	coordinator := NewCoordinator(WithSignalChannel(sigCh))
	coordinator.Register(NewFuncComponent("func", func(context.Context) error {
		close(closed)
		return nil
	}))

	go coordinator.WaitForSignal(context.Background())
	sigCh <- os.Interrupt

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	coordinator.Wait()
}

func TestWaitForSignalContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	coordinator := NewCoordinator(WithSignalChannel(make(chan os.Signal)))

	done := make(chan struct{})
	go func() {
		coordinator.WaitForSignal(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not trigger shutdown")
	}
}

type blockingCloser struct{ release chan struct{} }

func (b blockingCloser) Close() error {
	<-b.release
	return nil
}

func TestCloserComponentRespectsDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	comp := NewCloserComponent("store", blockingCloser{release: release})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := comp.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if comp.Name() != "store" {
		t.Errorf("Name = %q", comp.Name())
	}
}

func TestHTTPServerComponentDrainsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	var completed atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		completed.Store(true)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	coordinator := NewCoordinator(WithTimeout(time.Second))
	coordinator.Register(NewHTTPServerComponent("api", server.Config))

	status := make(chan int, 1)
	go func() {
		resp, err := http.Get(server.URL)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	<-started

	coordinator.Shutdown()
	coordinator.Wait()

	if !completed.Load() {
		t.Error("in-flight request should complete before shutdown returns")
	}
	if got := <-status; got != http.StatusOK {
		t.Errorf("status = %d, want 200", got)
	}
	if coordinator.ExitCode() != 0 {
		t.Errorf("ExitCode = %d, want 0", coordinator.ExitCode())
	}
}
