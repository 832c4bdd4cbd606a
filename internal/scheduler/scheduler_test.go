package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"
)

// syncDispatch runs tasks inline, standing in for the orchestrator's
// serialized dispatch queue in these tests.
func syncDispatch(mu *sync.Mutex, calls *[]string, label string) Dispatch {
	return func(task func()) {
		mu.Lock()
		*calls = append(*calls, label)
		mu.Unlock()
		task()
	}
}

func TestEveryStepsFiresOnceEveryN(t *testing.T) {
	var mu sync.Mutex
	var fired []int
	dispatch := func(task func()) { task() }

	s := New(NewVirtualTimeBridge(time.Unix(0, 0)), dispatch)
	s.EverySteps(2, func(stepCount int) {
		mu.Lock()
		fired = append(fired, stepCount)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		s.AdvanceStep()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 2 {
		t.Fatalf("expected 2 firings over 5 steps at interval 2, got %v", fired)
	}
	if fired[0] != 2 || fired[1] != 4 {
		t.Fatalf("expected firings at steps [2 4], got %v", fired)
	}
}

func TestEveryFiresRepeatedlyOnVirtualClock(t *testing.T) {
	bridge := NewVirtualTimeBridge(time.Unix(0, 0))
	var mu sync.Mutex
	count := 0
	dispatch := func(task func()) { task() }

	s := New(bridge, dispatch)
	s.Every(time.Second, func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	for i := 0; i < 3; i++ {
		bridge.Advance(time.Second)
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected 3 firings after 3 one-second advances, got %d", count)
	}
}

func TestAtFiresOnceAndIsRemoved(t *testing.T) {
	bridge := NewVirtualTimeBridge(time.Unix(0, 0))
	var mu sync.Mutex
	count := 0
	dispatch := func(task func()) { task() }

	s := New(bridge, dispatch)
	s.At(bridge.Now().Add(time.Second), func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	bridge.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)
	bridge.Advance(2 * time.Second)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected an \"at\" trigger to fire exactly once, got %d", count)
	}
}

func TestCronFiresOnSchedule(t *testing.T) {
	bridge := NewVirtualTimeBridge(time.Unix(0, 0))
	var mu sync.Mutex
	count := 0
	dispatch := func(task func()) { task() }

	s := New(bridge, dispatch)
	if _, err := s.Cron("* * * * *", func() {
		mu.Lock()
		count++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Cron() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	for i := 0; i < 3; i++ {
		bridge.Advance(time.Minute)
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Fatalf("expected 3 firings after 3 one-minute advances, got %d", count)
	}
}

func TestCronRejectsInvalidExpression(t *testing.T) {
	dispatch := func(task func()) { task() }
	s := New(NewVirtualTimeBridge(time.Unix(0, 0)), dispatch)
	if _, err := s.Cron("not a cron expression", func() {}); err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestCancelRemovesRule(t *testing.T) {
	dispatch := func(task func()) { task() }
	s := New(NewVirtualTimeBridge(time.Unix(0, 0)), dispatch)

	fired := false
	h := s.EverySteps(1, func(stepCount int) { fired = true })
	s.Cancel(h)
	s.AdvanceStep()

	if fired {
		t.Fatal("expected cancelled everySteps rule to not fire")
	}
}
