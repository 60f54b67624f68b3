package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestFinish_CleanOutcome verifies hooks see OutcomeClean on a nil cause.
func TestFinish_CleanOutcome(t *testing.T) {
	lctx := New(nil)

	var got Completion
	if _, err := lctx.OnCompletion(func(_ context.Context, c Completion) error {
		got = c
		return nil
	}); err != nil {
		t.Fatalf("OnCompletion() error = %v", err)
	}

	if err := lctx.Finish(context.Background(), nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if got.Outcome != OutcomeClean {
		t.Errorf("Outcome = %v, want %v", got.Outcome, OutcomeClean)
	}
	if got.Cause != nil {
		t.Errorf("Cause = %v, want nil", got.Cause)
	}
}

// TestFinish_ExceptionOutcome verifies a non-nil cause reaches the hooks and
// is part of the returned error.
func TestFinish_ExceptionOutcome(t *testing.T) {
	lctx := New(nil)
	boom := errors.New("handler failed")

	var got Completion
	if _, err := lctx.OnCompletion(func(_ context.Context, c Completion) error {
		got = c
		return nil
	}); err != nil {
		t.Fatalf("OnCompletion() error = %v", err)
	}

	err := lctx.Finish(context.Background(), boom)
	if !errors.Is(err, boom) {
		t.Errorf("Finish() error = %v, want wrapping %v", err, boom)
	}

	if got.Outcome != OutcomeException {
		t.Errorf("Outcome = %v, want %v", got.Outcome, OutcomeException)
	}
	if got.Cause != boom {
		t.Errorf("Cause = %v, want %v", got.Cause, boom)
	}
}

// TestFinish_HooksRunLIFO verifies reverse registration order.
func TestFinish_HooksRunLIFO(t *testing.T) {
	lctx := New(nil)

	var order []int
	for i := 0; i < 3; i++ {
		i := i
		if _, err := lctx.OnCompletion(func(context.Context, Completion) error {
			order = append(order, i)
			return nil
		}); err != nil {
			t.Fatalf("OnCompletion() error = %v", err)
		}
	}

	if err := lctx.Finish(context.Background(), nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	want := []int{2, 1, 0}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("hook order = %v, want %v", order, want)
		}
	}
}

// TestFinish_ExactlyOnce verifies repeat and concurrent Finish calls run the
// hooks a single time.
func TestFinish_ExactlyOnce(t *testing.T) {
	lctx := New(nil)

	var mu sync.Mutex
	runs := 0
	if _, err := lctx.OnCompletion(func(context.Context, Completion) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("OnCompletion() error = %v", err)
	}

	var wg sync.WaitGroup
	firstErrs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			firstErrs <- lctx.Finish(context.Background(), nil)
		}()
	}
	wg.Wait()
	close(firstErrs)

	nilCount := 0
	repeatCount := 0
	for err := range firstErrs {
		switch {
		case err == nil:
			nilCount++
		case errors.Is(err, ErrFinished):
			repeatCount++
		default:
			t.Fatalf("unexpected Finish() error: %v", err)
		}
	}

	if nilCount != 1 || repeatCount != 9 {
		t.Errorf("Finish results: %d nil, %d ErrFinished; want 1 and 9", nilCount, repeatCount)
	}
	if runs != 1 {
		t.Errorf("hook ran %d times, want 1", runs)
	}
}

// TestFinish_HookErrorsJoined verifies every hook error is surfaced.
func TestFinish_HookErrorsJoined(t *testing.T) {
	lctx := New(nil)
	err1 := errors.New("first teardown failed")
	err2 := errors.New("second teardown failed")

	lctx.OnCompletion(func(context.Context, Completion) error { return err1 })
	lctx.OnCompletion(func(context.Context, Completion) error { return err2 })

	err := lctx.Finish(context.Background(), nil)
	if !errors.Is(err, err1) {
		t.Errorf("Finish() error %v missing %v", err, err1)
	}
	if !errors.Is(err, err2) {
		t.Errorf("Finish() error %v missing %v", err, err2)
	}
}

// TestOnCompletion_AfterFinish verifies registration is refused once done.
func TestOnCompletion_AfterFinish(t *testing.T) {
	lctx := New(nil)
	if err := lctx.Finish(context.Background(), nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	if _, err := lctx.OnCompletion(func(context.Context, Completion) error { return nil }); !errors.Is(err, ErrFinished) {
		t.Errorf("OnCompletion() error = %v, want ErrFinished", err)
	}
}

// TestOnCompletion_CancelDeregisters verifies a cancelled hook does not run
// and that cancel is safe to call twice.
func TestOnCompletion_CancelDeregisters(t *testing.T) {
	lctx := New(nil)

	ran := false
	cancel, err := lctx.OnCompletion(func(context.Context, Completion) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("OnCompletion() error = %v", err)
	}

	cancel()
	cancel()

	if err := lctx.Finish(context.Background(), nil); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if ran {
		t.Error("cancelled hook still ran")
	}
}

// TestDone_ClosedAfterHooks verifies Done observes a fully torn down context.
func TestDone_ClosedAfterHooks(t *testing.T) {
	lctx := New(nil)

	hookDone := false
	lctx.OnCompletion(func(context.Context, Completion) error {
		time.Sleep(10 * time.Millisecond)
		hookDone = true
		return nil
	})

	go lctx.Finish(context.Background(), nil)

	select {
	case <-lctx.Done():
		if !hookDone {
			t.Error("Done closed before hooks completed")
		}
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

// TestRun_FinishesWithResult verifies the Run helper propagates the unit of
// work error and finishes the child.
func TestRun_FinishesWithResult(t *testing.T) {
	root := New(nil)
	boom := errors.New("work failed")

	var child *Context
	err := Run(context.Background(), root, func(lctx *Context) error {
		child = lctx
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Run() error = %v, want wrapping %v", err, boom)
	}
	if !child.Finished() {
		t.Error("child context not finished after Run")
	}
	if child.Parent() != root {
		t.Error("child parent mismatch")
	}
}
