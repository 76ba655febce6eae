package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"voucherchain/core/events"
)

const eventStreamHistoryLimit = 2048

// EventUpdate is one committed event as delivered to stream subscribers.
type EventUpdate struct {
	Sequence   uint64
	Cursor     string
	Type       string
	Attributes map[string]string
	Timestamp  int64
}

func cloneEventUpdate(update EventUpdate) EventUpdate {
	cloned := update
	if len(update.Attributes) > 0 {
		cloned.Attributes = make(map[string]string, len(update.Attributes))
		for k, v := range update.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

type eventStream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan EventUpdate
	history []EventUpdate
}

func (s *eventStream) publish(evt events.Event, at int64) {
	if evt == nil {
		return
	}
	update := EventUpdate{Type: evt.EventType(), Timestamp: at}
	if payload, ok := evt.(events.Payload); ok {
		if body := payload.Event(); body != nil {
			update.Attributes = body.Attributes
		}
	}

	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan EventUpdate)
	}
	s.seq++
	update.Sequence = s.seq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	s.history = append(s.history, cloneEventUpdate(update))
	if len(s.history) > eventStreamHistoryLimit {
		excess := len(s.history) - eventStreamHistoryLimit
		trimmed := make([]EventUpdate, eventStreamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	// Non-blocking; cancel closes channels under the same lock.
	for _, ch := range s.subs {
		select {
		case ch <- cloneEventUpdate(update):
		default:
		}
	}
	s.mu.Unlock()
}

// SubscribeEvents registers a subscriber for committed events after the
// supplied cursor. The backlog holds retained events the subscriber missed;
// slow subscribers drop updates rather than block the node.
func (n *Node) SubscribeEvents(ctx context.Context, cursor string) (<-chan EventUpdate, func(), []EventUpdate, error) {
	if n == nil {
		return nil, nil, nil, fmt.Errorf("node not initialised")
	}
	updates := make(chan EventUpdate, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	s := &n.stream
	s.mu.Lock()
	if s.subs == nil {
		s.subs = make(map[uint64]chan EventUpdate)
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]EventUpdate, 0, len(s.history))
	for _, update := range s.history {
		if update.Sequence > since {
			backlog = append(backlog, cloneEventUpdate(update))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(updates)
			s.mu.Unlock()
		})
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog, nil
}
