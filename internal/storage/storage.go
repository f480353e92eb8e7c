package storage

import (
	"context"
	"fmt"

	"rangeKeeper/internal/model"
)

// EventSink receives reposition events.
type EventSink interface {
	PutRepositionEvent(ctx context.Context, event model.RepositionEvent) error
}

// KVStore persists vault custody slots.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// KeyLister enumerates stored keys, in order, for inspection.
type KeyLister interface {
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// PositionEventSink receives decoded position-manager events in batches.
type PositionEventSink interface {
	PutPositionEvents(ctx context.Context, events []model.PositionEvent) error
}

// MultiSink hands every event to each sink in order and stops at the first
// failure.
type MultiSink []EventSink

func (m MultiSink) PutRepositionEvent(ctx context.Context, event model.RepositionEvent) error {
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutRepositionEvent(ctx, event); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// MultiPositionSink is MultiSink for position event batches.
type MultiPositionSink []PositionEventSink

func (m MultiPositionSink) PutPositionEvents(ctx context.Context, events []model.PositionEvent) error {
	for i, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.PutPositionEvents(ctx, events); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}
