package timer

import (
	"sync"
	"testing"
	"time"
)

func TestTimerElapses(t *testing.T) {
	t.Parallel()
	tm := Start(10 * time.Millisecond)
	if got := tm.Wait(); got != Elapsed {
		t.Fatalf("Wait() = %v, want %v", got, Elapsed)
	}
	if tm.Cancel() {
		t.Fatal("Cancel after elapse should be a no-op")
	}
	if got := tm.Outcome(); got != Elapsed {
		t.Fatalf("Outcome() = %v, want %v", got, Elapsed)
	}
}

func TestTimerCancelBeforeElapse(t *testing.T) {
	t.Parallel()
	tm := Start(200 * time.Millisecond)
	if got := tm.Outcome(); got != Pending {
		t.Fatalf("Outcome() = %v, want %v", got, Pending)
	}
	if !tm.Cancel() {
		t.Fatal("Cancel should resolve a pending timer")
	}
	if got := tm.Wait(); got != Cancelled {
		t.Fatalf("Wait() = %v, want %v", got, Cancelled)
	}

	// No spurious resolution after the deadline passes.
	time.Sleep(250 * time.Millisecond)
	if got := tm.Outcome(); got != Cancelled {
		t.Fatalf("Outcome() after deadline = %v, want %v", got, Cancelled)
	}
	if tm.Cancel() {
		t.Fatal("second Cancel should be a no-op")
	}
}

func TestTimerCancelUnblocksWaiter(t *testing.T) {
	t.Parallel()
	tm := Start(time.Hour)

	got := make(chan Outcome, 1)
	go func() { got <- tm.Wait() }()

	time.Sleep(10 * time.Millisecond)
	tm.Cancel()

	select {
	case o := <-got:
		if o != Cancelled {
			t.Fatalf("Wait() = %v, want %v", o, Cancelled)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not unblocked by Cancel")
	}
}

func TestTimerNegativeDelay(t *testing.T) {
	t.Parallel()
	tm := Start(-time.Second)
	if tm.Delay() != 0 {
		t.Fatalf("Delay() = %v, want 0", tm.Delay())
	}
	if got := tm.Wait(); got != Elapsed {
		t.Fatalf("Wait() = %v, want %v", got, Elapsed)
	}
}

func TestTimerRaceSingleWinner(t *testing.T) {
	t.Parallel()
	for i := 0; i < 200; i++ {
		tm := Start(time.Duration(i%3) * time.Millisecond)

		var wg sync.WaitGroup
		wins := make(chan bool, 4)
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				wins <- tm.Cancel()
			}()
		}
		wg.Wait()
		close(wins)

		n := 0
		for w := range wins {
			if w {
				n++
			}
		}
		out := tm.Wait()
		switch out {
		case Cancelled:
			if n != 1 {
				t.Fatalf("cancelled with %d winning Cancel calls, want 1", n)
			}
		case Elapsed:
			if n != 0 {
				t.Fatalf("elapsed but %d Cancel calls reported winning", n)
			}
		default:
			t.Fatalf("unexpected outcome %v", out)
		}
	}
}
