package timectrl

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestLoopRunsPostedCallbacksInOrder(t *testing.T) {
	loop := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- loop.Run(ctx) }()

	var got []int
	done := make(chan struct{})
	for i := range 5 {
		loop.Post(func() { got = append(got, i) })
	}
	loop.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("callbacks did not run")
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got %v, want ascending order", got)
		}
	}

	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if loop.Post(func() {}) {
		t.Fatalf("Post after stop should report false")
	}
}

func TestLoopTicksListeners(t *testing.T) {
	loop := NewLoop(5 * time.Millisecond)
	var ticks atomic.Int32
	loop.AddListener(func(time.Time) {
		if ticks.Add(1) == 3 {
			loop.Close()
		}
	})

	errc := make(chan error, 1)
	go func() { errc <- loop.Run(context.Background()) }()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop did not stop after ticks")
	}
	if ticks.Load() < 3 {
		t.Fatalf("ticks=%d, want >= 3", ticks.Load())
	}
}

func TestLoopRecoversPanics(t *testing.T) {
	loop := NewLoop(0)
	recovered := make(chan any, 1)
	loop.OnPanic = func(r any) { recovered <- r }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	loop.Post(func() { panic("boom") })
	ran := make(chan struct{})
	loop.Post(func() { close(ran) })

	select {
	case r := <-recovered:
		if r != "boom" {
			t.Fatalf("recovered %v, want boom", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("panic not reported")
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("loop stopped after panic")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	loop := NewLoop(0)
	loop.Close()
	loop.Close()
	select {
	case <-loop.Done():
	default:
		t.Fatalf("Done not closed")
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("Run on closed loop: %v", err)
	}
}

func TestPostFromCallbackRunsInline(t *testing.T) {
	loop := NewLoop(0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	const posts = DefaultQueueSize + 44
	result := make(chan int, 1)
	loop.Post(func() {
		if !loop.OnLoop() {
			t.Errorf("OnLoop false inside a loop callback")
		}
		n := 0
		for range posts {
			if !loop.Post(func() { n++ }) {
				t.Errorf("nested Post reported a closed loop")
			}
		}
		result <- n
	})

	select {
	case n := <-result:
		if n != posts {
			t.Fatalf("%d nested callbacks ran before Post returned, want %d", n, posts)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("loop callback blocked posting to its own loop")
	}
	if loop.OnLoop() {
		t.Fatalf("OnLoop true outside the loop goroutine")
	}
}
