package ledger

import "context"

// EventSink receives StateChange events after they have been committed.
//
// The registry calls sinks synchronously, in commit order, while holding its
// write lock. Sinks that talk to the network should hand the event off to
// their own queue rather than block. A sink error never fails the operation
// that produced the event: the journal already holds it.
type EventSink interface {
	// Name identifies the sink in logs and metrics.
	Name() string

	// PublishStateChange delivers one event.
	PublishStateChange(ctx context.Context, ev StateChange) error
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, ev StateChange) error
}

// Name implements EventSink.
func (s SinkFunc) Name() string {
	return s.SinkName
}

// PublishStateChange implements EventSink.
func (s SinkFunc) PublishStateChange(ctx context.Context, ev StateChange) error {
	return s.Fn(ctx, ev)
}
