package channels

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeChannel struct {
	label string
	n     int
}

func TestWaitBeforeArrival(t *testing.T) {
	r := New[*fakeChannel]()

	got := make(chan *fakeChannel, 1)
	errs := make(chan error, 1)
	go func() {
		c, err := r.Wait(context.Background(), "sendChannel")
		if err != nil {
			errs <- err
			return
		}
		got <- c
	}()

	deadline := time.Now().Add(2 * time.Second)
	for r.Pending() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("waiter was never registered")
		}
		time.Sleep(time.Millisecond)
	}

	want := &fakeChannel{label: "sendChannel"}
	if !r.Arrive("sendChannel", want) {
		t.Fatalf("Arrive returned false for first arrival")
	}

	select {
	case c := <-got:
		if c != want {
			t.Fatalf("got %p, want %p", c, want)
		}
	case err := <-errs:
		t.Fatalf("Wait: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for resolution")
	}

	if n := r.Pending(); n != 0 {
		t.Fatalf("pending=%d after resolution, want 0", n)
	}

	again, err := r.Wait(context.Background(), "sendChannel")
	if err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if again != want {
		t.Fatalf("second Wait returned %p, want cached %p", again, want)
	}
	if n := r.Pending(); n != 0 {
		t.Fatalf("pending=%d after cached lookup, want 0", n)
	}
}

func TestWaitAfterArrivalDoesNotBlock(t *testing.T) {
	r := New[*fakeChannel]()
	want := &fakeChannel{label: "a"}
	r.Arrive("a", want)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cancelled context proves Wait never suspends for arrived labels.
	c, err := r.Wait(ctx, "a")
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if c != want {
		t.Fatalf("got %p, want %p", c, want)
	}
}

func TestDuplicateWaiter(t *testing.T) {
	r := New[*fakeChannel]()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := r.Wait(ctx, "x")
		done <- err
	}()
	for r.Pending() != 1 {
		time.Sleep(time.Millisecond)
	}

	if _, err := r.Wait(context.Background(), "x"); !errors.Is(err, ErrDuplicateWaiter) {
		t.Fatalf("err=%v, want %v", err, ErrDuplicateWaiter)
	}

	// The rejected call must not disturb the first waiter.
	r.Arrive("x", &fakeChannel{label: "x"})
	if err := <-done; err != nil {
		t.Fatalf("first waiter: %v", err)
	}
}

func TestCancelledWaitRemovesWaiter(t *testing.T) {
	r := New[*fakeChannel]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := r.Wait(ctx, "late"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v, want %v", err, context.DeadlineExceeded)
	}
	if n := r.Pending(); n != 0 {
		t.Fatalf("pending=%d, want 0", n)
	}

	// The label can be waited on again and still resolves later.
	r.Arrive("late", &fakeChannel{label: "late"})
	if _, err := r.Wait(context.Background(), "late"); err != nil {
		t.Fatalf("Wait after arrival: %v", err)
	}
}

func TestFirstArrivalWins(t *testing.T) {
	r := New[*fakeChannel]()
	first := &fakeChannel{label: "dup", n: 1}
	if !r.Arrive("dup", first) {
		t.Fatalf("first Arrive=false")
	}
	if r.Arrive("dup", &fakeChannel{label: "dup", n: 2}) {
		t.Fatalf("second Arrive=true, want false")
	}
	c, ok := r.Lookup("dup")
	if !ok || c != first {
		t.Fatalf("Lookup=%v,%v want first channel", c, ok)
	}
}

func TestCloseFailsPendingWaiters(t *testing.T) {
	r := New[*fakeChannel]()
	r.Arrive("kept", &fakeChannel{label: "kept"})

	sentinel := errors.New("session closed")
	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Wait(context.Background(), string(rune('a'+i)))
		}(i)
	}
	for r.Pending() != len(errs) {
		time.Sleep(time.Millisecond)
	}

	r.Close(sentinel)
	wg.Wait()
	for i, err := range errs {
		if !errors.Is(err, sentinel) {
			t.Fatalf("waiter %d err=%v, want %v", i, err, sentinel)
		}
	}

	if _, err := r.Wait(context.Background(), "new"); !errors.Is(err, sentinel) {
		t.Fatalf("Wait after Close err=%v, want %v", err, sentinel)
	}
	if _, err := r.Wait(context.Background(), "kept"); err != nil {
		t.Fatalf("arrived channel should survive Close: %v", err)
	}
	if r.Arrive("b", &fakeChannel{}) {
		t.Fatalf("Arrive after Close=true, want false")
	}
}

func TestLabelsSorted(t *testing.T) {
	r := New[int]()
	r.Arrive("b", 2)
	r.Arrive("a", 1)
	got := r.Labels()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("labels=%v, want [a b]", got)
	}
}

func TestConcurrentWaitersDistinctLabels(t *testing.T) {
	r := New[int]()
	const n = 50

	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := r.Wait(context.Background(), label(i))
			if err != nil {
				t.Errorf("Wait(%d): %v", i, err)
				return
			}
			results[i] = v
		}(i)
	}
	for i := 0; i < n; i++ {
		r.Arrive(label(i), i+1)
	}
	wg.Wait()

	for i, v := range results {
		if v != i+1 {
			t.Fatalf("results[%d]=%d, want %d", i, v, i+1)
		}
	}
	if p := r.Pending(); p != 0 {
		t.Fatalf("pending=%d, want 0", p)
	}
}

func label(i int) string {
	return "ch-" + string(rune('A'+i%26)) + string(rune('a'+i/26))
}
