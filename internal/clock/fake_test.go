package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnlyPastDeadline(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		if !got.Equal(time.Unix(10, 0)) {
			t.Fatalf("got %v, want %v", got, time.Unix(10, 0))
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("pending = %d, want 0", n)
	}
}

func TestFakeTickerRepeatsUntilStopped(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tk := c.NewTicker(5 * time.Second)

	for i := 0; i < 3; i++ {
		c.Advance(5 * time.Second)
		select {
		case <-tk.C:
		default:
			t.Fatalf("tick %d missing", i)
		}
	}

	tk.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestWaitForTimers(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)
	<-done
}

func TestFakeTimerStop(t *testing.T) {
	c := Fake(time.Unix(0, 0))
	tm := c.NewTimer(time.Second)
	if !tm.Stop() {
		t.Fatal("Stop on pending timer = false")
	}
	if tm.Stop() {
		t.Fatal("second Stop = true")
	}
	if n := c.PendingCount(); n != 0 {
		t.Fatalf("pending = %d after Stop", n)
	}
	c.Advance(2 * time.Second)
	select {
	case <-tm.C:
		t.Fatal("stopped timer fired")
	default:
	}
}
