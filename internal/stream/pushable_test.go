package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushable_OrderPreserved(t *testing.T) {
	p := NewPushable[int]()
	for i := 0; i < 100; i++ {
		p.Push(i)
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		item, ok, err := p.Next(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, item)
	}
	assert.Equal(t, 0, p.Len())
}

func TestPushable_NextBlocksUntilPush(t *testing.T) {
	p := NewPushable[string]()

	got := make(chan string, 1)
	go func() {
		item, ok, err := p.Next(context.Background())
		if err == nil && ok {
			got <- item
		}
	}()

	// Give the consumer time to register as a waiter.
	time.Sleep(20 * time.Millisecond)
	p.Push("hello")

	select {
	case item := <-got:
		assert.Equal(t, "hello", item)
	case <-time.After(time.Second):
		t.Fatal("consumer never woke up")
	}
}

func TestPushable_EndWakesAllWaiters(t *testing.T) {
	p := NewPushable[int]()

	const consumers = 5
	var wg sync.WaitGroup
	results := make(chan bool, consumers)

	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := p.Next(context.Background())
			assert.NoError(t, err)
			results <- ok
		}()
	}

	time.Sleep(20 * time.Millisecond)
	p.End()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiters not woken by End")
	}

	close(results)
	for ok := range results {
		assert.False(t, ok, "waiter should see end-of-stream")
	}
}

func TestPushable_PushAfterEndDropped(t *testing.T) {
	p := NewPushable[int]()
	p.Push(1)
	p.End()
	p.Push(2)

	ctx := context.Background()
	item, ok, err := p.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok, "buffered item remains consumable after End")
	assert.Equal(t, 1, item)

	_, ok, err = p.Next(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushable_EndIdempotent(t *testing.T) {
	p := NewPushable[int]()
	p.End()
	p.End()
	assert.True(t, p.Ended())
}

func TestPushable_WaiterHandoffFIFO(t *testing.T) {
	p := NewPushable[int]()

	first := make(chan int, 1)
	go func() {
		item, ok, _ := p.Next(context.Background())
		if ok {
			first <- item
		}
	}()
	time.Sleep(20 * time.Millisecond)

	second := make(chan int, 1)
	go func() {
		item, ok, _ := p.Next(context.Background())
		if ok {
			second <- item
		}
	}()
	time.Sleep(20 * time.Millisecond)

	p.Push(1)
	p.Push(2)

	select {
	case item := <-first:
		assert.Equal(t, 1, item, "longest-waiting consumer receives first")
	case <-time.After(time.Second):
		t.Fatal("first consumer starved")
	}
	select {
	case item := <-second:
		assert.Equal(t, 2, item)
	case <-time.After(time.Second):
		t.Fatal("second consumer starved")
	}
}

func TestPushable_NextContextCancelled(t *testing.T) {
	p := NewPushable[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, ok, err := p.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The cancelled waiter must not swallow a later item.
	p.Push(7)
	item, ok, err := p.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, item)
}

func TestPushable_TryNext(t *testing.T) {
	p := NewPushable[int]()

	_, ok := p.TryNext()
	assert.False(t, ok)

	p.Push(3)
	item, ok := p.TryNext()
	require.True(t, ok)
	assert.Equal(t, 3, item)
}

func TestPushable_ConcurrentProducersConsumers(t *testing.T) {
	p := NewPushable[int]()

	const total = 500
	var wg sync.WaitGroup
	seen := make(chan int, total)

	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok, err := p.Next(context.Background())
				if err != nil || !ok {
					return
				}
				seen <- item
			}
		}()
	}

	for i := 0; i < total; i++ {
		p.Push(i)
	}

	collected := make(map[int]bool, total)
	for i := 0; i < total; i++ {
		select {
		case item := <-seen:
			collected[item] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only received %d of %d items", len(collected), total)
		}
	}

	p.End()
	wg.Wait()

	assert.Len(t, collected, total, "every pushed item delivered exactly once")
}
