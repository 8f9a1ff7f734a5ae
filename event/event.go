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

// Package event is the in-process bus connecting the unconfirmed pool, the
// ledger and the bundlers.
package event

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventQueueSize is the buffer of each subscription. Publishing never
// blocks: a full subscription drops the event.
const EventQueueSize = 20

type EventType string

type EventSubscriberId int

type EventHandlerFunc func(Event)

type Event struct {
	Timestamp time.Time
	Data      any
	Type      EventType
}

func NewEvent(eventType EventType, eventData any) Event {
	return Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      eventData,
	}
}

// ChainScoped is implemented by payloads that belong to one chain
type ChainScoped interface {
	EventChainID() int32
}

// Filter narrows a subscription
type Filter func(Event) bool

// ForChain keeps events whose payload belongs to chainID. Payloads without
// a chain are dropped.
func ForChain(chainID int32) Filter {
	return func(evt Event) bool {
		scoped, ok := evt.Data.(ChainScoped)
		return ok && scoped.EventChainID() == chainID
	}
}

type subscription struct {
	ch      chan Event
	filters []Filter
	mu      sync.RWMutex
	closed  bool
}

func (s *subscription) matches(evt Event) bool {
	for _, f := range s.filters {
		if !f(evt) {
			return false
		}
	}
	return true
}

// offer queues evt without blocking and reports whether it was kept
func (s *subscription) offer(evt Event) (queued bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event filter panic: %v", r)
		}
	}()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || !s.matches(evt) {
		return true, nil
	}
	select {
	case s.ch <- evt:
		return true, nil
	default:
		return false, nil
	}
}

func (s *subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type EventBus struct {
	subscribers map[EventType]map[EventSubscriberId]*subscription
	metrics     *eventMetrics
	logger      *slog.Logger
	lastSubId   EventSubscriberId
	mu          sync.RWMutex
	handlerWg   sync.WaitGroup
	stopped     bool
}

func NewEventBus(
	promRegistry prometheus.Registerer,
	logger *slog.Logger,
) *EventBus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	e := &EventBus{
		subscribers: make(map[EventType]map[EventSubscriberId]*subscription),
		logger:      logger.With("component", "event"),
	}
	if promRegistry != nil {
		e.metrics = newEventMetrics(promRegistry)
	}
	return e
}

// Subscribe returns a channel receiving events of eventType that pass every
// filter. The channel is closed by Unsubscribe or Stop. A stopped bus
// returns id 0 and a closed channel.
func (e *EventBus) Subscribe(
	eventType EventType,
	filters ...Filter,
) (EventSubscriberId, <-chan Event) {
	sub := &subscription{
		ch:      make(chan Event, EventQueueSize),
		filters: filters,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		sub.close()
		return 0, sub.ch
	}
	e.lastSubId++
	subId := e.lastSubId
	if e.subscribers[eventType] == nil {
		e.subscribers[eventType] = make(map[EventSubscriberId]*subscription)
	}
	e.subscribers[eventType][subId] = sub
	if e.metrics != nil {
		e.metrics.subscribers.WithLabelValues(string(eventType)).Inc()
	}
	return subId, sub.ch
}

// SubscribeFunc runs handlerFunc for each matching event on a dedicated
// goroutine, which Stop waits for
func (e *EventBus) SubscribeFunc(
	eventType EventType,
	handlerFunc EventHandlerFunc,
	filters ...Filter,
) EventSubscriberId {
	subId, evtCh := e.Subscribe(eventType, filters...)
	if subId == 0 {
		return 0
	}
	e.handlerWg.Add(1)
	go func() {
		defer e.handlerWg.Done()
		for evt := range evtCh {
			handlerFunc(evt)
		}
	}()
	return subId
}

func (e *EventBus) Unsubscribe(eventType EventType, subId EventSubscriberId) {
	e.mu.Lock()
	sub := e.subscribers[eventType][subId]
	if sub != nil {
		delete(e.subscribers[eventType], subId)
		if len(e.subscribers[eventType]) == 0 {
			delete(e.subscribers, eventType)
		}
		if e.metrics != nil {
			e.metrics.subscribers.WithLabelValues(string(eventType)).Dec()
		}
	}
	e.mu.Unlock()
	if sub != nil {
		sub.close()
	}
}

// Publish delivers evt to the subscribers of eventType without blocking.
// A subscription whose filter panics is removed.
func (e *EventBus) Publish(eventType EventType, evt Event) {
	e.mu.RLock()
	subs := make(map[EventSubscriberId]*subscription, len(e.subscribers[eventType]))
	for id, sub := range e.subscribers[eventType] {
		subs[id] = sub
	}
	e.mu.RUnlock()
	for id, sub := range subs {
		queued, err := sub.offer(evt)
		if err != nil {
			e.logger.Warn("removing subscriber", "type", eventType, "error", err)
			e.Unsubscribe(eventType, id)
			continue
		}
		if !queued {
			e.logger.Warn("subscriber queue full, dropping event", "type", eventType)
			if e.metrics != nil {
				e.metrics.dropped.WithLabelValues(string(eventType)).Inc()
			}
		}
	}
	if e.metrics != nil {
		e.metrics.published.WithLabelValues(string(eventType)).Inc()
	}
}

// Stop closes every subscription and waits for SubscribeFunc handlers to
// return. It is safe to call more than once.
func (e *EventBus) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	subs := e.subscribers
	e.subscribers = make(map[EventType]map[EventSubscriberId]*subscription)
	e.mu.Unlock()
	for _, byID := range subs {
		for _, sub := range byID {
			sub.close()
		}
	}
	if e.metrics != nil {
		e.metrics.subscribers.Reset()
	}
	e.handlerWg.Wait()
}
