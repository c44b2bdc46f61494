package timectrl

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the number of callbacks waiting to run.
const DefaultQueueSize = 256

// Loop is the single event-loop thread of the overlay. Snapshot arrivals,
// periodic ticks, pointer events and asynchronous continuations are all
// funnelled through it, so no two callbacks ever run concurrently and the
// components they drive need no locking of their own.
type Loop struct {
	// Tick is the interval at which tick listeners fire; zero disables ticks.
	Tick time.Duration

	// OnPanic receives values recovered from panicking callbacks. When nil
	// the panic is dropped and the loop keeps running.
	OnPanic func(recovered any)

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once

	// owner is the ID of the goroutine inside Run, zero when not running.
	owner atomic.Uint64

	mu        sync.Mutex
	listeners []func(time.Time)
	running   bool
}

// NewLoop constructs a loop. tick may be zero.
func NewLoop(tick time.Duration) *Loop {
	return &Loop{
		Tick:  tick,
		tasks: make(chan func(), DefaultQueueSize),
		done:  make(chan struct{}),
	}
}

// AddListener registers a callback invoked on the loop at every tick.
func (l *Loop) AddListener(fn func(time.Time)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Post queues fn to run on the loop. Called from a loop callback, fn runs
// immediately instead. Otherwise Post blocks while the queue is full. It
// returns false once the loop is closed; fn is then dropped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	if l.OnLoop() {
		l.run(fn)
		return true
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run processes callbacks until ctx is done or Close is called. It must be
// called at most once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return fmt.Errorf("loop already running")
	}
	l.running = true
	l.mu.Unlock()

	l.owner.Store(goroutineID())
	defer l.owner.Store(0)
	defer l.Close()

	var tick <-chan time.Time
	if l.Tick > 0 {
		ticker := time.NewTicker(l.Tick)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.run(fn)
		case now := <-tick:
			l.mu.Lock()
			listeners := append([]func(time.Time){}, l.listeners...)
			l.mu.Unlock()
			for _, fn := range listeners {
				l.run(func() { fn(now) })
			}
		}
	}
}

// Close stops the loop. Queued callbacks that have not started are
// dropped. It is safe to call more than once.
func (l *Loop) Close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == goroutineID()
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && l.OnPanic != nil {
			l.OnPanic(r)
		}
	}()
	fn()
}

// goroutineID parses the current goroutine's ID from its stack header,
// "goroutine 42 [running]:".
func goroutineID() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
