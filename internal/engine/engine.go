package engine

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amaydixit11/causalchat/internal/causal"
	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/metrics"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config contains configuration options for the engine
type Config struct {
	Processes int
	Logger    zerolog.Logger
	Now       func() time.Time // defaults to time.Now
}

// Engine is the causal delivery core shared by every presentation layer.
// Each process owns its clock, pending buffer and delivered log.
type Engine interface {
	// Send ticks the sender's clock and returns the stamped message.
	// The caller schedules its arrival at the other processes.
	Send(sender int, payload string) (core.Message, error)

	// Enqueue hands a message to a receiver's pending buffer
	Enqueue(receiver int, msg core.Message) error

	// PollDelivery runs delivery passes until nothing more is deliverable and
	// returns the newly delivered messages in delivery order
	PollDelivery(receiver int) ([]core.Message, error)

	// Read-only views
	CurrentClock(process int) (core.Entries, error)
	PendingCount(process int) (int, error)
	Pending(process int) ([]core.Message, error)
	Delivered(process int) ([]core.Message, error)
	SessionID() uuid.UUID
	NumProcesses() int

	// Reset discards all clocks and buffers and starts a new session
	Reset(processes int) error

	// Event stream
	Subscribe() Subscription
	SubscribeWithOptions(opts SubscriptionOptions) Subscription
	Unsubscribe(sub Subscription)

	// Lifecycle
	Close() error
}

// process is the private state of one participant
type process struct {
	mu        sync.Mutex
	clock     *core.VectorClock
	buffer    *causal.Buffer
	delivered []core.Message
}

// engineImpl is the concrete implementation of the Engine interface
type engineImpl struct {
	mu      sync.RWMutex // write-locked only to swap sessions
	session uuid.UUID
	procs   []*process
	nextID  atomic.Uint64

	bus    *EventBus
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new engine with a fresh session
func New(cfg Config) (Engine, error) {
	procs, err := newProcesses(cfg.Processes)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &engineImpl{
		session: uuid.New(),
		procs:   procs,
		bus:     NewEventBus(),
		logger:  cfg.Logger.With().Str("component", "engine").Logger(),
		now:     now,
	}
	e.logger.Debug().
		Str("session", e.session.String()).
		Int("processes", cfg.Processes).
		Msg("session started")
	return e, nil
}

func newProcesses(n int) ([]*process, error) {
	if n < 1 {
		return nil, ErrInvalidProcessCount{N: n}
	}
	procs := make([]*process, n)
	for i := range procs {
		clock, err := core.NewVectorClock(i, n)
		if err != nil {
			return nil, err
		}
		procs[i] = &process{clock: clock, buffer: causal.NewBuffer(n)}
	}
	return procs, nil
}

// process must be called with e.mu held
func (e *engineImpl) process(id int) (*process, error) {
	if id < 0 || id >= len(e.procs) {
		return nil, core.ErrInvalidProcessID{ID: id, N: len(e.procs)}
	}
	return e.procs[id], nil
}

// Send creates a message from sender. The sender sees its own message at
// once; its clock already accounts for it.
func (e *engineImpl) Send(sender int, payload string) (core.Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(sender)
	if err != nil {
		return core.Message{}, err
	}

	p.mu.Lock()
	stamp := p.clock.Tick()
	sentAt := e.now()
	msg := core.NewMessage(e.nextID.Add(1)-1, e.session, sender, payload, stamp, sentAt)
	own := msg.Delivered(sentAt)
	p.delivered = append(p.delivered, own)
	p.mu.Unlock()

	metrics.MessagesSent.Inc()
	e.logger.Debug().
		Int("sender", sender).
		Uint64("message_id", msg.ID).
		Stringer("clock", stamp).
		Msg("message sent")

	e.bus.Publish(Event{Type: EventSent, SessionID: e.session, ProcessID: sender, Message: msgPtr(msg), Clock: stamp.Clone(), Timestamp: sentAt})
	e.bus.Publish(Event{Type: EventDelivered, SessionID: e.session, ProcessID: sender, Message: msgPtr(own), Clock: stamp.Clone(), Timestamp: sentAt})

	return msg, nil
}

// Enqueue places msg in receiver's pending buffer. Messages from an earlier
// session are refused with ErrStaleSession. A process never buffers its own
// messages.
func (e *engineImpl) Enqueue(receiver int, msg core.Message) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(receiver)
	if err != nil {
		return err
	}
	if msg.SessionID != e.session {
		return ErrStaleSession{Message: msg.SessionID, Current: e.session}
	}
	if msg.SenderID == receiver {
		e.logger.Debug().
			Int("receiver", receiver).
			Uint64("message_id", msg.ID).
			Msg("ignoring own message")
		return nil
	}

	p.mu.Lock()
	err = p.buffer.Enqueue(msg)
	pending := p.buffer.Len()
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("enqueue to process %d: %w", receiver, err)
	}

	label := strconv.Itoa(receiver)
	metrics.MessagesEnqueued.WithLabelValues(label).Inc()
	metrics.PendingMessages.WithLabelValues(label).Set(float64(pending))
	e.logger.Debug().
		Int("receiver", receiver).
		Int("sender", msg.SenderID).
		Uint64("message_id", msg.ID).
		Int("pending", pending).
		Msg("message enqueued")

	e.bus.Publish(Event{Type: EventEnqueued, SessionID: e.session, ProcessID: receiver, Message: msgPtr(msg), Timestamp: e.now()})
	return nil
}

// PollDelivery delivers everything receiver can deliver now, repeating the
// buffer scan until a pass yields nothing, and folds each delivered stamp
// into receiver's clock.
func (e *engineImpl) PollDelivery(receiver int) ([]core.Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(receiver)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	delivered, passes, err := p.drain(e.now)
	clock := p.clock.Snapshot()
	pending := p.buffer.Len()
	p.mu.Unlock()

	label := strconv.Itoa(receiver)
	metrics.DeliveryPasses.Add(float64(passes))
	metrics.PendingMessages.WithLabelValues(label).Set(float64(pending))
	if err != nil {
		return delivered, fmt.Errorf("deliver at process %d: %w", receiver, err)
	}

	for _, m := range delivered {
		metrics.MessagesDelivered.WithLabelValues(label).Inc()
		metrics.DeliveryLatency.Observe(m.Latency().Seconds())
		e.bus.Publish(Event{Type: EventDelivered, SessionID: e.session, ProcessID: receiver, Message: msgPtr(m), Clock: clock.Clone(), Timestamp: m.DeliveredAt})
	}
	if len(delivered) > 0 {
		e.logger.Debug().
			Int("receiver", receiver).
			Int("delivered", len(delivered)).
			Int("pending", pending).
			Stringer("clock", clock).
			Msg("delivery pass complete")
	}

	return delivered, nil
}

// drain must be called with p.mu held
func (p *process) drain(now func() time.Time) ([]core.Message, int, error) {
	var out []core.Message
	passes := 0
	for {
		passes++
		ready, err := p.buffer.DrainDeliverable(p.clock.Snapshot())
		if err != nil {
			return out, passes, err
		}
		if len(ready) == 0 {
			return out, passes, nil
		}
		// Messages released by one scan come from distinct senders, so
		// folding one never invalidates another.
		for _, m := range ready {
			if _, err := p.clock.Fold(m.StampedClock); err != nil {
				return out, passes, err
			}
			d := m.Delivered(now())
			p.delivered = append(p.delivered, d)
			out = append(out, d)
		}
	}
}

// CurrentClock returns a snapshot of a process's clock
func (e *engineImpl) CurrentClock(id int) (core.Entries, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(id)
	if err != nil {
		return nil, err
	}
	return p.clock.Snapshot(), nil
}

// PendingCount returns the number of buffered messages at a process
func (e *engineImpl) PendingCount(id int) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(id)
	if err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.Len(), nil
}

// Pending returns copies of the buffered messages at a process
func (e *engineImpl) Pending(id int) ([]core.Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffer.Pending(), nil
}

// Delivered returns copies of every message delivered at a process, in order
func (e *engineImpl) Delivered(id int) ([]core.Message, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.process(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.Message, len(p.delivered))
	for i, m := range p.delivered {
		out[i] = m.Clone()
	}
	return out, nil
}

// SessionID returns the identifier of the current session
func (e *engineImpl) SessionID() uuid.UUID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session
}

// NumProcesses returns the participant count of the current session
func (e *engineImpl) NumProcesses() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.procs)
}

// Reset replaces every clock, buffer and delivered log in one step.
// Messages stamped with the old session are refused afterwards.
func (e *engineImpl) Reset(n int) error {
	procs, err := newProcesses(n)
	if err != nil {
		return err
	}

	e.mu.Lock()
	old := e.session
	e.session = uuid.New()
	e.procs = procs
	e.nextID.Store(0)
	session := e.session
	e.mu.Unlock()

	metrics.SessionResets.Inc()
	metrics.PendingMessages.Reset()
	e.logger.Info().
		Str("previous", old.String()).
		Str("session", session.String()).
		Int("processes", n).
		Msg("session reset")

	e.bus.Publish(Event{Type: EventReset, SessionID: session, ProcessID: -1, Timestamp: e.now()})
	return nil
}

func (e *engineImpl) Subscribe() Subscription {
	return e.bus.Subscribe()
}

func (e *engineImpl) SubscribeWithOptions(opts SubscriptionOptions) Subscription {
	return e.bus.SubscribeWithOptions(opts)
}

func (e *engineImpl) Unsubscribe(sub Subscription) {
	e.bus.Unsubscribe(sub)
}

// Close closes all subscriptions
func (e *engineImpl) Close() error {
	e.bus.Close()
	return nil
}

func msgPtr(m core.Message) *core.Message {
	c := m.Clone()
	return &c
}
