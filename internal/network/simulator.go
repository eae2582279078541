package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/amaydixit11/causalchat/internal/metrics"
	"github.com/rs/zerolog"
)

// Config contains configuration for the Simulator
type Config struct {
	// PollInterval is the fallback delivery poll per process
	// Default: 500ms
	PollInterval time.Duration

	// KickDelay schedules one more delivery pass this long after a pass
	// that delivered something. Zero disables the re-check.
	// Default: 100ms
	KickDelay time.Duration

	Logger zerolog.Logger
}

// DefaultConfig returns the default simulator configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: 500 * time.Millisecond,
		KickDelay:    100 * time.Millisecond,
		Logger:       zerolog.Nop(),
	}
}

// Simulator broadcasts sent messages to every other process after a delay
// and runs one delivery loop per process.
type Simulator struct {
	engine engine.Engine
	delays DelayGenerator
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	epoch    uint64 // bumped by Reset; stale arrivals compare against it
	nextKey  uint64
	inflight map[uint64]*time.Timer
	loops    *loopSet
	ctx      context.Context
}

// deliveryLoop is the delivery driver of one process
type deliveryLoop struct {
	id   int
	kick chan struct{}
}

// trigger requests a delivery pass without blocking
func (l *deliveryLoop) trigger() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

type loopSet struct {
	loops  []*deliveryLoop
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSimulator creates a simulator driving e with the given delays
func NewSimulator(e engine.Engine, delays DelayGenerator, cfg Config) *Simulator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Simulator{
		engine:   e,
		delays:   delays,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "network").Logger(),
		inflight: make(map[uint64]*time.Timer),
	}
}

// Engine returns the engine being driven
func (s *Simulator) Engine() engine.Engine {
	return s.engine
}

// Start launches the delivery loops. They run until ctx is done or Stop is
// called.
func (s *Simulator) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loops != nil {
		return errors.New("simulator already started")
	}
	s.ctx = ctx
	s.startLoops(s.engine.NumProcesses())
	s.logger.Info().
		Int("processes", s.engine.NumProcesses()).
		Dur("poll_interval", s.cfg.PollInterval).
		Msg("delivery loops started")
	return nil
}

// Stop cancels every in-flight message and stops the delivery loops
func (s *Simulator) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelInflight()
	s.stopLoops()
}

// Send creates a message at sender and puts one copy per other process on
// the wire.
func (s *Simulator) Send(sender int, payload string) (core.Message, error) {
	msg, err := s.engine.Send(sender, payload)
	if err != nil {
		return core.Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(msg.StampedClock)
	for r := 0; r < n; r++ {
		if r == sender {
			continue
		}
		s.schedule(r, msg, s.delays.NextDelay())
	}
	return msg, nil
}

// schedule must be called with s.mu held
func (s *Simulator) schedule(receiver int, msg core.Message, delay time.Duration) {
	key := s.nextKey
	s.nextKey++
	epoch := s.epoch

	metrics.NetworkDelay.Observe(delay.Seconds())
	s.logger.Debug().
		Int("sender", msg.SenderID).
		Int("receiver", receiver).
		Uint64("message_id", msg.ID).
		Dur("delay", delay).
		Msg("message in flight")

	s.inflight[key] = time.AfterFunc(delay, func() {
		s.arrive(key, epoch, receiver, msg)
	})
}

// arrive hands a message to its receiver unless the session was reset while
// it was in flight
func (s *Simulator) arrive(key, epoch uint64, receiver int, msg core.Message) {
	s.mu.Lock()
	delete(s.inflight, key)
	if epoch != s.epoch {
		s.mu.Unlock()
		s.discard(receiver, msg)
		return
	}
	err := s.engine.Enqueue(receiver, msg)
	loop := s.loop(receiver)
	s.mu.Unlock()

	if err != nil {
		var stale engine.ErrStaleSession
		if errors.As(err, &stale) {
			s.discard(receiver, msg)
			return
		}
		s.logger.Warn().Err(err).
			Int("receiver", receiver).
			Uint64("message_id", msg.ID).
			Msg("enqueue failed")
		return
	}
	if loop != nil {
		loop.trigger()
	}
}

func (s *Simulator) discard(receiver int, msg core.Message) {
	metrics.StaleDiscarded.Inc()
	s.logger.Debug().
		Int("receiver", receiver).
		Uint64("message_id", msg.ID).
		Str("session", msg.SessionID.String()).
		Msg("discarding message from reset session")
}

// Reset starts a new engine session with n processes. Messages still in
// flight are cancelled, and any that slip through are discarded on arrival.
func (s *Simulator) Reset(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	s.cancelInflight()
	running := s.loops != nil
	s.stopLoops()

	if err := s.engine.Reset(n); err != nil {
		return err
	}
	if running {
		s.startLoops(n)
	}
	return nil
}

// InFlight returns the number of message copies still on the wire
func (s *Simulator) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// WaitIdle blocks until nothing is in flight and no process has pending
// messages, or ctx is done. Delivery loops must be running.
func (s *Simulator) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Simulator) idle() bool {
	if s.InFlight() > 0 {
		return false
	}
	for p := 0; p < s.engine.NumProcesses(); p++ {
		if n, err := s.engine.PendingCount(p); err != nil || n > 0 {
			return false
		}
	}
	return true
}

// cancelInflight must be called with s.mu held
func (s *Simulator) cancelInflight() {
	stopped := 0
	for key, t := range s.inflight {
		if t.Stop() {
			stopped++
		}
		delete(s.inflight, key)
	}
	if stopped > 0 {
		metrics.StaleDiscarded.Add(float64(stopped))
		s.logger.Debug().Int("cancelled", stopped).Msg("cancelled in-flight messages")
	}
}

// loop must be called with s.mu held
func (s *Simulator) loop(id int) *deliveryLoop {
	if s.loops == nil || id < 0 || id >= len(s.loops.loops) {
		return nil
	}
	return s.loops.loops[id]
}

// startLoops must be called with s.mu held
func (s *Simulator) startLoops(n int) {
	ctx, cancel := context.WithCancel(s.ctx)
	set := &loopSet{cancel: cancel, loops: make([]*deliveryLoop, n)}
	for i := range set.loops {
		l := &deliveryLoop{id: i, kick: make(chan struct{}, 1)}
		set.loops[i] = l
		set.wg.Add(1)
		go s.run(ctx, &set.wg, l)
	}
	s.loops = set
}

// stopLoops must be called with s.mu held. Loops never take s.mu, so
// waiting here cannot deadlock.
func (s *Simulator) stopLoops() {
	if s.loops == nil {
		return
	}
	s.loops.cancel()
	s.loops.wg.Wait()
	s.loops = nil
}

// run is the delivery loop of one process: a pass after every arrival and a
// fallback pass every PollInterval
func (s *Simulator) run(ctx context.Context, wg *sync.WaitGroup, l *deliveryLoop) {
	defer wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.kick:
		case <-ticker.C:
		}

		delivered, err := s.engine.PollDelivery(l.id)
		if err != nil {
			s.logger.Warn().Err(err).Int("process", l.id).Msg("delivery pass failed")
			continue
		}
		if len(delivered) > 0 && s.cfg.KickDelay > 0 {
			time.AfterFunc(s.cfg.KickDelay, l.trigger)
		}
	}
}
