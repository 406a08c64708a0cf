package harvest_test

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/moisson/harvest"
)

func TestControlAwaitResumeWakesOnResume(t *testing.T) {
	// WHAT: AwaitResume parks while paused and returns once Resume runs.
	// WHY: Pause must be a real wait, not a poll loop; the wake has to
	// come from the condition variable.
	c := harvest.NewControl()
	c.Pause()

	done := make(chan error, 1)
	go func() {
		done <- c.AwaitResume(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("AwaitResume returned while still paused")
	case <-time.After(50 * time.Millisecond):
	}

	c.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitResume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after Resume")
	}
}

func TestControlStopWakesPausedWaiter(t *testing.T) {
	// WHAT: Stop unblocks a paused waiter and stays visible afterwards.
	// WHY: A stop request must not be deferred until someone resumes.
	c := harvest.NewControl()
	c.Pause()

	done := make(chan error, 1)
	go func() {
		done <- c.AwaitResume(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	c.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("AwaitResume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after Stop")
	}
	if !c.Stopped() {
		t.Error("Stopped should report true")
	}
}

func TestControlAwaitResumeHonorsContext(t *testing.T) {
	// WHAT: Cancelling the context unblocks a paused waiter with its error.
	// WHY: Process shutdown cannot hang on a paused session.
	c := harvest.NewControl()
	c.Pause()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.AwaitResume(ctx)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after cancel")
	}
}

func TestControlAwaitResumeNoopWhenNotPaused(t *testing.T) {
	// WHAT: AwaitResume returns immediately when the lever is unset.
	// WHY: The page loop calls it on every boundary.
	c := harvest.NewControl()
	if err := c.AwaitResume(context.Background()); err != nil {
		t.Fatalf("AwaitResume: %v", err)
	}
}
