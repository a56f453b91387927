package pubsub

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPublisher_RegistrationOrder(t *testing.T) {
	pub := NewPublisher[int](nil)

	var got []string
	pub.Subscribe(func(v int) { got = append(got, "a") })
	pub.Subscribe(func(v int) { got = append(got, "b") })
	pub.Subscribe(func(v int) { got = append(got, "c") })

	pub.Publish(1)

	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("delivered to %d subscribers, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPublisher_ExactlyOncePerCall(t *testing.T) {
	pub := NewPublisher[string](nil)

	counts := make(map[string]int)
	pub.Subscribe(func(v string) { counts[v]++ })

	pub.Publish("x")
	pub.Publish("x")
	pub.Publish("y")

	if counts["x"] != 2 || counts["y"] != 1 {
		t.Errorf("counts = %v, want x:2 y:1", counts)
	}
}

func TestPublisher_UnsubscribeMidDispatch(t *testing.T) {
	pub := NewPublisher[int](nil)

	var calls int
	var tok Token
	tok = pub.Subscribe(func(v int) {
		calls++
		pub.Unsubscribe(tok)
	})

	// First call delivers; the handler removes itself during dispatch.
	pub.Publish(1)
	// Second call must exclude the removed subscriber.
	pub.Publish(2)

	if calls != 1 {
		t.Errorf("handler called %d times, want 1", calls)
	}
}

func TestPublisher_SubscribeDuringDispatch(t *testing.T) {
	pub := NewPublisher[int](nil)

	var lateCalls int
	pub.Subscribe(func(v int) {
		if v == 1 {
			pub.Subscribe(func(int) { lateCalls++ })
		}
	})

	pub.Publish(1)
	if lateCalls != 0 {
		t.Errorf("subscriber added mid-call received that call")
	}

	pub.Publish(2)
	if lateCalls != 1 {
		t.Errorf("late subscriber calls = %d, want 1", lateCalls)
	}
}

func TestPublisher_UnsubscribeUnknownToken(t *testing.T) {
	pub := NewPublisher[int](nil)
	pub.Subscribe(func(int) {})

	pub.Unsubscribe(Token(999))

	if pub.Len() != 1 {
		t.Errorf("Len() = %d, want 1", pub.Len())
	}
}

func TestPublisher_ConcurrentPublish(t *testing.T) {
	pub := NewPublisher[int](nil)

	var received atomic.Int32
	pub.Subscribe(func(int) { received.Add(1) })

	const publishers = 10
	const perPublisher = 100

	var wg sync.WaitGroup
	wg.Add(publishers)
	for p := 0; p < publishers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				pub.Publish(i)
			}
		}()
	}
	wg.Wait()

	if got := received.Load(); got != publishers*perPublisher {
		t.Errorf("received %d values, want %d", got, publishers*perPublisher)
	}
}

func TestGoExecutor_PreservesOrder(t *testing.T) {
	exec := NewGoExecutor(16)
	pub := NewPublisher[int](exec)

	var mu sync.Mutex
	var got []int
	pub.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		pub.Publish(i)
	}
	exec.Close()

	if len(got) != 50 {
		t.Fatalf("received %d values, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery[%d] = %d, out of order", i, v)
		}
	}
}

func TestGoExecutor_CloseIdempotent(t *testing.T) {
	exec := NewGoExecutor(1)

	done := make(chan struct{})
	go func() {
		exec.Close()
		exec.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close() deadlocked")
	}
}

func TestGoExecutor_ExecuteAfterCloseDropsWork(t *testing.T) {
	exec := NewGoExecutor(4)
	var ran atomic.Int32
	exec.Execute(func() { ran.Add(1) })
	exec.Close()

	// Late submissions are silently dropped, not a panic on a closed channel.
	exec.Execute(func() { ran.Add(1) })

	if got := ran.Load(); got != 1 {
		t.Fatalf("ran %d closures, want 1", got)
	}
}
