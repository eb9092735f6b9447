package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/device-ledger/internal/infrastructure/mqtt"
	"github.com/nerrad567/device-ledger/internal/ledger"
)

// DefaultQueueSize is the publish queue depth used by cmd/devledger.
const DefaultQueueSize = 256

// Publisher is the subset of *mqtt.Client the publisher needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by the sinks.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// DeviceStateMessage is the retained payload on a device's state topic.
type DeviceStateMessage struct {
	DeviceID  string    `json:"device_id"`
	State     bool      `json:"state"`
	Seq       int64     `json:"seq"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StateChangeMessage is the payload on the state_change event topic.
type StateChangeMessage struct {
	Type       string    `json:"type"`
	Seq        int64     `json:"seq"`
	Device     string    `json:"device"`
	NewState   bool      `json:"new_state"`
	Caller     string    `json:"caller"`
	RecordedAt time.Time `json:"recorded_at"`
}

// MQTTPublisher is an EventSink that forwards state changes to the broker.
//
// Thread Safety: PublishStateChange and Close may be called concurrently.
type MQTTPublisher struct {
	pub    Publisher
	qos    byte
	logger Logger

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool
	queue  chan ledger.StateChange
	done   chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewMQTTPublisher creates the sink and starts its worker.
//
// Parameters:
//   - pub: Connected MQTT client
//   - qos: Quality of service for both topics
//   - queueSize: Events buffered while the broker is slow; values below 1 use DefaultQueueSize
//
// Returns:
//   - *MQTTPublisher: Running sink; call Close to drain and stop it
func NewMQTTPublisher(pub Publisher, qos byte, queueSize int) *MQTTPublisher {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	p := &MQTTPublisher{
		pub:    pub,
		qos:    qos,
		logger: noopLogger{},
		queue:  make(chan ledger.StateChange, queueSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// SetLogger sets the logger. Call before the first event.
func (p *MQTTPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Name implements ledger.EventSink.
func (p *MQTTPublisher) Name() string {
	return "mqtt"
}

// PublishStateChange implements ledger.EventSink. It never blocks: the event
// is queued for the worker, or ErrQueueFull is returned.
func (p *MQTTPublisher) PublishStateChange(_ context.Context, ev ledger.StateChange) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	select {
	case p.queue <- ev:
		return nil
	default:
		return fmt.Errorf("%w: seq %d", ErrQueueFull, ev.Seq)
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return nil
}

// Stats returns how many events were published and how many failed.
func (p *MQTTPublisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// run publishes queued events one at a time until the queue is closed.
func (p *MQTTPublisher) run() {
	defer close(p.done)

	for ev := range p.queue {
		if err := p.publish(context.Background(), ev); err != nil {
			p.failed.Add(1)
			p.logger.Warn("mqtt event publish failed",
				"device", ev.Device,
				"seq", ev.Seq,
				"error", err,
			)
			continue
		}
		p.published.Add(1)
		p.logger.Debug("mqtt event published", "device", ev.Device, "seq", ev.Seq)
	}
}

func (p *MQTTPublisher) publish(ctx context.Context, ev ledger.StateChange) error {
	state, err := json.Marshal(DeviceStateMessage{
		DeviceID:  ev.Device.String(),
		State:     ev.NewState,
		Seq:       ev.Seq,
		UpdatedAt: ev.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("marshalling device state: %w", err)
	}

	event, err := json.Marshal(StateChangeMessage{
		Type:       mqtt.EventStateChange,
		Seq:        ev.Seq,
		Device:     ev.Device.String(),
		NewState:   ev.NewState,
		Caller:     ev.Caller.String(),
		RecordedAt: ev.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("marshalling state change: %w", err)
	}

	topics := mqtt.Topics{}
	if err := p.pub.Publish(ctx, topics.DeviceState(ev.Device.String()), state, p.qos, true); err != nil {
		return err
	}
	return p.pub.Publish(ctx, topics.Event(mqtt.EventStateChange), event, p.qos, false)
}
