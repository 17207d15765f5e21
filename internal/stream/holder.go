package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the connection lifecycle of a Holder.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is the slice of *websocket.Conn the holder uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Dialer opens a stream connection; swapped for a fake in tests.
type Dialer interface {
	Dial(url string) (Conn, error)
}

// GorillaDialer dials with the gorilla/websocket default dialer.
type GorillaDialer struct{}

func (GorillaDialer) Dial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Handler receives every decoded kline event, open and closed alike.
type Handler func(ev Event)

const (
	defaultBatchSize      = 5
	defaultBatchInterval  = 500 * time.Millisecond
	defaultReconnectDelay = 3 * time.Second
	defaultIdleTimeout    = 180 * time.Second
	defaultWatchdogPeriod = 20 * time.Second
)

// Holder owns one exchange stream connection end to end: it dials, batches
// subscription frames, dispatches decoded events, reconnects after read
// failures and force-reconnects when the feed has been idle too long. All
// desired topics are replayed after every reconnect.
type Holder struct {
	codec   Codec
	dial    Dialer
	handler Handler
	logger  *zap.Logger

	batchSize      int
	batchInterval  time.Duration
	reconnectDelay time.Duration
	idleTimeout    time.Duration
	watchdogPeriod time.Duration

	mu      sync.Mutex
	conn    Conn
	desired map[string]struct{}
	queue   []string

	// writeMu serializes frame writes; gorilla/websocket allows at most one
	// concurrent writer per connection.
	writeMu sync.Mutex

	state   int32 // State, accessed atomically
	lastMsg int64 // unix nano of the last received frame
}

// HolderOption tweaks holder construction; production code uses the defaults.
type HolderOption func(*Holder)

func WithBatchSize(n int) HolderOption {
	return func(h *Holder) { h.batchSize = n }
}

func WithBatchInterval(d time.Duration) HolderOption {
	return func(h *Holder) { h.batchInterval = d }
}

func WithReconnectDelay(d time.Duration) HolderOption {
	return func(h *Holder) { h.reconnectDelay = d }
}

func WithIdleTimeout(idle, check time.Duration) HolderOption {
	return func(h *Holder) { h.idleTimeout, h.watchdogPeriod = idle, check }
}

// NewHolder builds a holder over the given codec and dialer. Run must be
// called before any traffic flows.
func NewHolder(codec Codec, dial Dialer, handler Handler, logger *zap.Logger, opts ...HolderOption) *Holder {
	h := &Holder{
		codec:          codec,
		dial:           dial,
		handler:        handler,
		logger:         logger,
		batchSize:      defaultBatchSize,
		batchInterval:  defaultBatchInterval,
		reconnectDelay: defaultReconnectDelay,
		idleTimeout:    defaultIdleTimeout,
		watchdogPeriod: defaultWatchdogPeriod,
		desired:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// State returns the current lifecycle state.
func (h *Holder) State() State { return State(atomic.LoadInt32(&h.state)) }

func (h *Holder) setState(s State) { atomic.StoreInt32(&h.state, int32(s)) }

// Subscribe adds topics to the desired set. New topics are queued for the
// next batch flush; already-desired topics are ignored.
func (h *Holder) Subscribe(topics ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range topics {
		if _, ok := h.desired[topic]; ok {
			continue
		}
		h.desired[topic] = struct{}{}
		if h.conn != nil {
			h.queue = append(h.queue, topic)
		}
	}
}

// Unsubscribe drops topics from the desired set and, when connected, sends
// one unsubscribe frame for all of them.
func (h *Holder) Unsubscribe(topics ...string) {
	h.mu.Lock()
	var drop []string
	for _, topic := range topics {
		if _, ok := h.desired[topic]; !ok {
			continue
		}
		delete(h.desired, topic)
		drop = append(drop, topic)
	}
	if len(drop) > 0 {
		kept := h.queue[:0]
		for _, queued := range h.queue {
			if _, still := h.desired[queued]; still {
				kept = append(kept, queued)
			}
		}
		h.queue = kept
	}
	conn := h.conn
	h.mu.Unlock()

	if len(drop) == 0 || conn == nil {
		return
	}
	if err := h.writeJSON(conn, h.codec.UnsubscribePayload(drop)); err != nil {
		h.logger.Warn("unsubscribe frame failed",
			zap.String("exchange", string(h.codec.Exchange())), zap.Error(err))
	}
}

// TopicCount returns the size of the desired topic set.
func (h *Holder) TopicCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.desired)
}

// Run drives the connection until ctx is cancelled: dial, replay the desired
// topics in batches, dispatch frames, and reconnect after the configured
// delay on any failure.
func (h *Holder) Run(ctx context.Context) {
	defer h.setState(StateClosed)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := h.connect()
		if err != nil {
			h.logger.Warn("stream dial failed",
				zap.String("exchange", string(h.codec.Exchange())),
				zap.String("url", h.codec.URL()),
				zap.Error(err))
			if !h.sleep(ctx, h.reconnectDelay) {
				return
			}
			continue
		}
		h.logger.Info("stream connected",
			zap.String("exchange", string(h.codec.Exchange())),
			zap.Int("topics", h.TopicCount()))

		h.serve(ctx, conn)

		h.mu.Lock()
		h.conn = nil
		h.mu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		h.setState(StateDisconnected)
		if !h.sleep(ctx, h.reconnectDelay) {
			return
		}
	}
}

// connect dials and rebuilds the subscribe queue from the full desired set,
// so a reconnect always replays every topic.
func (h *Holder) connect() (Conn, error) {
	h.setState(StateConnecting)
	conn, err := h.dial.Dial(h.codec.URL())
	if err != nil {
		h.setState(StateDisconnected)
		return nil, err
	}

	h.mu.Lock()
	h.conn = conn
	h.queue = h.queue[:0]
	for topic := range h.desired {
		h.queue = append(h.queue, topic)
	}
	h.mu.Unlock()

	atomic.StoreInt64(&h.lastMsg, time.Now().UnixNano())
	h.setState(StateReady)
	return conn, nil
}

// serve pumps one connection until it fails, the watchdog trips or the
// context ends.
func (h *Holder) serve(ctx context.Context, conn Conn) {
	readErr := make(chan error, 1)
	go h.readLoop(conn, readErr)

	flush := time.NewTicker(h.batchInterval)
	defer flush.Stop()
	watchdog := time.NewTicker(h.watchdogPeriod)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close()
			<-readErr
			return
		case err := <-readErr:
			h.logger.Warn("stream read failed",
				zap.String("exchange", string(h.codec.Exchange())), zap.Error(err))
			return
		case <-flush.C:
			h.flushBatch(conn)
		case <-watchdog.C:
			idle := time.Duration(time.Now().UnixNano() - atomic.LoadInt64(&h.lastMsg))
			if h.TopicCount() > 0 && idle >= h.idleTimeout {
				h.logger.Warn("stream idle, forcing reconnect",
					zap.String("exchange", string(h.codec.Exchange())),
					zap.Duration("idle", idle))
				_ = conn.Close()
				<-readErr
				return
			}
		}
	}
}

func (h *Holder) readLoop(conn Conn, readErr chan<- error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		atomic.StoreInt64(&h.lastMsg, time.Now().UnixNano())

		events, ok := h.codec.Decode(msg)
		if !ok {
			continue
		}
		for _, ev := range events {
			h.handler(ev)
		}
	}
}

// flushBatch sends at most one subscribe frame of up to batchSize topics.
// Pacing between frames comes from the flush ticker, not from here.
func (h *Holder) flushBatch(conn Conn) {
	h.mu.Lock()
	if len(h.queue) == 0 {
		h.mu.Unlock()
		return
	}
	n := h.batchSize
	if n > len(h.queue) {
		n = len(h.queue)
	}
	batch := make([]string, n)
	copy(batch, h.queue[:n])
	h.queue = h.queue[n:]
	h.mu.Unlock()

	if err := h.writeJSON(conn, h.codec.SubscribePayload(batch)); err != nil {
		h.logger.Warn("subscribe frame failed",
			zap.String("exchange", string(h.codec.Exchange())),
			zap.Int("topics", len(batch)),
			zap.Error(err))
		// Put the batch back so the next connection replays it.
		h.mu.Lock()
		h.queue = append(batch, h.queue...)
		h.mu.Unlock()
	}
}

// writeJSON is the single funnel for outbound frames. The unsubscribe path
// runs on the caller's goroutine while batch flushes run on the serve
// goroutine, so the two must never enter the connection's writer at once.
func (h *Holder) writeJSON(conn Conn, v interface{}) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	return conn.WriteJSON(v)
}

func (h *Holder) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
