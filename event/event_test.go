// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		require.True(t, ok, "channel closed")
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestEventBusSingleSubscriber(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	_, subCh := eb.Subscribe(TransactionAddedEventType)
	eb.Publish(
		TransactionAddedEventType,
		NewEvent(TransactionAddedEventType, TransactionAddedEvent{ChainID: 2, TransactionID: 99}),
	)
	data, ok := receive(t, subCh).Data.(TransactionAddedEvent)
	require.True(t, ok)
	assert.Equal(t, uint64(99), data.TransactionID)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	_, sub1 := eb.Subscribe(BlockAppliedEventType)
	_, sub2 := eb.Subscribe(BlockAppliedEventType)
	eb.Publish(BlockAppliedEventType, NewEvent(BlockAppliedEventType, BlockAppliedEvent{Height: 3}))
	for _, ch := range []<-chan Event{sub1, sub2} {
		assert.Equal(t, int32(3), receive(t, ch).Data.(BlockAppliedEvent).Height)
	}
}

func TestForChainFilter(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	_, ignis := eb.Subscribe(BundleBroadcastEventType, ForChain(2))
	for _, chainID := range []int32{3, 2} {
		eb.Publish(
			BundleBroadcastEventType,
			NewEvent(BundleBroadcastEventType, BundleBroadcastEvent{ChainID: chainID, Children: int(chainID)}),
		)
	}
	// Payloads without a chain never match
	eb.Publish(BundleBroadcastEventType, NewEvent(BundleBroadcastEventType, nil))
	assert.Equal(t, 2, receive(t, ignis).Data.(BundleBroadcastEvent).Children)
	select {
	case evt := <-ignis:
		t.Fatalf("unexpected event %v", evt.Data)
	default:
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	eb := NewEventBus(nil, nil)
	defer eb.Stop()
	subID, ch := eb.Subscribe(BlockAppliedEventType)
	eb.Unsubscribe(BlockAppliedEventType, subID)
	eb.Publish(BlockAppliedEventType, NewEvent(BlockAppliedEventType, nil))
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestSubscribeFunc(t *testing.T) {
	eb := NewEventBus(nil, nil)
	var got atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	eb.SubscribeFunc(TransactionAddedEventType, func(Event) {
		got.Add(1)
		wg.Done()
	})
	for range 3 {
		eb.Publish(TransactionAddedEventType, NewEvent(TransactionAddedEventType, nil))
	}
	wg.Wait()
	assert.Equal(t, int32(3), got.Load())
	eb.Stop()
	assert.Zero(t, eb.SubscribeFunc(TransactionAddedEventType, func(Event) {}))
	id, ch := eb.Subscribe(TransactionAddedEventType)
	assert.Zero(t, id)
	_, ok := <-ch
	assert.False(t, ok)
	eb.Stop()
}

func TestPanickingFilterUnregisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := NewEventBus(reg, nil)
	defer eb.Stop()
	subID, ch := eb.Subscribe(TransactionBroadcastEventType, func(Event) bool { panic("bad filter") })
	require.NotZero(t, subID)
	eb.Publish(TransactionBroadcastEventType, NewEvent(TransactionBroadcastEventType, nil))

	_, ok := <-ch
	assert.False(t, ok)
	assert.InDelta(t, 0, testutil.ToFloat64(
		eb.metrics.subscribers.WithLabelValues(string(TransactionBroadcastEventType)),
	), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(
		eb.metrics.published.WithLabelValues(string(TransactionBroadcastEventType)),
	), 0)
}

func TestFullSubscriberDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	eb := NewEventBus(reg, nil)
	defer eb.Stop()
	_, ch := eb.Subscribe(BlockAppliedEventType)
	for i := range EventQueueSize + 1 {
		eb.Publish(BlockAppliedEventType, NewEvent(BlockAppliedEventType, i))
	}
	assert.Len(t, ch, EventQueueSize)
	assert.InDelta(t, 1, testutil.ToFloat64(
		eb.metrics.dropped.WithLabelValues(string(BlockAppliedEventType)),
	), 0)
}

func TestPublishStopRace(t *testing.T) {
	for range 100 {
		eb := NewEventBus(nil, nil)
		subID, ch := eb.Subscribe(BlockAppliedEventType)
		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			for j := range 10 {
				eb.Publish(BlockAppliedEventType, NewEvent(BlockAppliedEventType, j))
			}
		}()
		go func() {
			defer wg.Done()
			eb.Unsubscribe(BlockAppliedEventType, subID)
			eb.Stop()
		}()
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		wg.Wait()
	}
}
