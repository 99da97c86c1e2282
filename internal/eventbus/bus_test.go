package eventbus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedEventsKeepOrder(t *testing.T) {
	b := NewWithConfig(4, 1000)

	var mu sync.Mutex
	seen := make(map[string][]int)

	b.Subscribe(EventTypeDeviceChanged, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Key] = append(seen[e.Key], e.Data["seq"].(int))
	})

	keys := []string{"hall", "porch", "kitchen", "attic", "desk"}
	for i := 0; i < 100; i++ {
		for _, k := range keys {
			require.True(t, b.Publish(Event{Type: EventTypeDeviceChanged, Key: k, Data: map[string]interface{}{"seq": i}}))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Close(ctx)

	for _, k := range keys {
		require.Len(t, seen[k], 100, k)
		for i, v := range seen[k] {
			assert.Equal(t, i, v, "key %s out of order", k)
		}
	}
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 10)

	var mu sync.Mutex
	var handled []string
	b.Subscribe(EventTypeDeviceChanged, func(e Event) {
		if e.Key == "boom" {
			panic("handler failure")
		}
		mu.Lock()
		handled = append(handled, e.Key)
		mu.Unlock()
	})

	b.Publish(Event{Type: EventTypeDeviceChanged, Key: "boom"})
	b.Publish(Event{Type: EventTypeDeviceChanged, Key: "hall"})

	b.Close(context.Background())
	assert.Equal(t, []string{"hall"}, handled)
}

func TestPublishAfterCloseDrops(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe(EventTypePeriodicCheck, func(Event) { calls++ })
	b.Close(context.Background())
	b.Close(context.Background())

	assert.False(t, b.Publish(Event{Type: EventTypePeriodicCheck}))
	assert.Zero(t, calls)
}

func TestQueueFullDrops(t *testing.T) {
	b := NewWithConfig(1, 1)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	b.Subscribe(EventTypeDeviceChanged, func(Event) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
	})

	require.True(t, b.Publish(Event{Type: EventTypeDeviceChanged, Key: "a"}))
	<-started
	require.True(t, b.Publish(Event{Type: EventTypeDeviceChanged, Key: "a"}))
	assert.False(t, b.Publish(Event{Type: EventTypeDeviceChanged, Key: "a"}))

	close(release)
	b.Close(context.Background())
}

func TestUnkeyedEventsSpreadAcrossWorkers(t *testing.T) {
	b := NewWithConfig(3, 10)
	var mu sync.Mutex
	count := 0
	b.Subscribe(EventTypePeriodicCheck, func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	for i := 0; i < 9; i++ {
		b.Publish(Event{Type: EventTypePeriodicCheck, Data: map[string]interface{}{"n": fmt.Sprint(i)}})
	}
	b.Close(context.Background())
	assert.Equal(t, 9, count)
}
