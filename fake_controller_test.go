package daemonctl

import (
	"context"
	"sync"
	"time"
)

// fakeInstance is one started daemon
type fakeInstance struct {
	done   chan struct{}
	out    chan string
	status ExitStatus
}

// fakeController simulates a daemon. Tests make the current instance print
// lines and exit with chosen codes.
type fakeController struct {
	mu          sync.Mutex
	variant     Variant
	selfRestart bool
	startErr    error
	hangOnStop  bool
	// stopStatus, when set, is how the daemon exits on a graceful stop
	stopStatus *ExitStatus
	onStart     func(n int, inst *fakeInstance)

	inst      *fakeInstance
	last      ExitStatus
	starts    int
	stops     []bool
	restarted chan struct{}
}

func newFakeController() *fakeController {
	return &fakeController{
		variant:   VariantStandalone,
		restarted: make(chan struct{}, 1),
	}
}

func (f *fakeController) Variant() Variant { return f.variant }

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return &LaunchError{Variant: f.variant, Err: f.startErr}
	}
	f.starts++
	n := f.starts
	inst := f.launchLocked()
	hook := f.onStart
	f.mu.Unlock()

	if hook != nil {
		hook(n, inst)
	}
	return nil
}

func (f *fakeController) launchLocked() *fakeInstance {
	inst := &fakeInstance{done: make(chan struct{}), out: make(chan string, 64)}
	f.inst = inst
	f.last = UnknownExit
	return inst
}

func (f *fakeController) Stop(ctx context.Context, graceful bool) error {
	f.mu.Lock()
	f.stops = append(f.stops, graceful)
	hang := f.hangOnStop
	stopStatus := f.stopStatus
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if graceful && stopStatus != nil {
		f.exit(*stopStatus)
	} else if graceful {
		f.exit(ExitedWith(0))
	} else {
		f.exit(ExitStatus{Code: -9, Known: true, Signaled: true})
	}
	return nil
}

func (f *fakeController) Restart(ctx context.Context) error {
	if err := f.Stop(ctx, true); err != nil {
		return err
	}
	return f.Start(ctx)
}

func (f *fakeController) FollowOutput(ctx context.Context) (<-chan string, error) {
	f.mu.Lock()
	inst := f.inst
	f.mu.Unlock()

	out := make(chan string)
	if inst == nil {
		close(out)
		return out, nil
	}
	go func() {
		defer close(out)
		for {
			select {
			case line, ok := <-inst.out:
				if !ok {
					return
				}
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (f *fakeController) IsActive(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inst != nil && !isClosed(f.inst.done), nil
}

func (f *fakeController) WaitExit(ctx context.Context) (ExitStatus, error) {
	f.mu.Lock()
	inst := f.inst
	f.mu.Unlock()
	if inst == nil {
		return f.ExitCode(ctx)
	}
	select {
	case <-inst.done:
		return inst.status, nil
	case <-ctx.Done():
		return UnknownExit, ctx.Err()
	}
}

func (f *fakeController) ExitCode(context.Context) (ExitStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, nil
}

func (f *fakeController) SupportsSelfAutorestart() bool { return f.selfRestart }

func (f *fakeController) WaitForSelfAutorestart(ctx context.Context) error {
	if !f.selfRestart {
		return ErrNotSupported
	}
	select {
	case <-f.restarted:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// print makes the current instance emit line
func (f *fakeController) print(line string) {
	f.mu.Lock()
	inst := f.inst
	f.mu.Unlock()
	inst.out <- line
}

// exit ends the current instance with status; later calls are ignored
func (f *fakeController) exit(status ExitStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inst == nil || isClosed(f.inst.done) {
		return
	}
	f.inst.status = status
	f.last = status
	close(f.inst.out)
	close(f.inst.done)
}

// platformRestart simulates a supervisor bringing the daemon back on its own
func (f *fakeController) platformRestart() {
	f.mu.Lock()
	f.launchLocked()
	f.mu.Unlock()
	f.restarted <- struct{}{}
}

func (f *fakeController) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts
}

func (f *fakeController) stopCalls() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.stops...)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// proberFunc adapts a function to Prober
type proberFunc func(ctx context.Context) error

func (p proberFunc) WaitReady(ctx context.Context) error { return p(ctx) }

// readyWhen reports ready as soon as cond holds
func readyWhen(cond func() bool) Prober {
	return proberFunc(func(ctx context.Context) error {
		return pollUntil(ctx, 2*time.Millisecond, func(context.Context) (bool, error) {
			return cond(), nil
		})
	})
}
