// Package realtime maintains the authenticated delivery websocket and
// fans inbound events out to local subscribers.
package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nikolay4ru/kolesomobileapp-sub002/internal/domain"
	"github.com/Nikolay4ru/kolesomobileapp-sub002/pkg/logger"
	"go.uber.org/zap"
)

// State is the channel connection state
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected // transport open, auth frame sent, waiting for auth_success
	StateAuthenticated
	StateReconnecting
	StateGivenUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateReconnecting:
		return "reconnecting"
	case StateGivenUp:
		return "given_up"
	}
	return "unknown"
}

// TokenSource supplies the current bearer token at (re)auth time
type TokenSource interface {
	Token() string
}

// Config holds channel configuration
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	MaxReconnects     int
}

// Channel is the resilient authenticated delivery connection.
//
// Reconnects use linear backoff (base × attempt) up to MaxReconnects,
// after which the channel gives up until a manual Connect call. The
// attempt counter resets only after a successful open.
type Channel struct {
	cfg       *Config
	transport Transport
	sched     Scheduler
	tokens    TokenSource
	log       *logger.Logger
	bus       *Bus

	mu    sync.Mutex
	state State
	conn  Conn
	// gen invalidates callbacks belonging to a torn-down connection cycle
	gen            int
	attempts       int
	reconnectTimer Timer
	heartbeatTimer Timer
	subs           map[int64]struct{}
	userID         string
	role           string
}

// NewChannel creates a delivery channel
func NewChannel(cfg *Config, transport Transport, sched Scheduler, tokens TokenSource, log *logger.Logger) *Channel {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 5 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if sched == nil {
		sched = NewScheduler()
	}
	return &Channel{
		cfg:       cfg,
		transport: transport,
		sched:     sched,
		tokens:    tokens,
		log:       log,
		bus:       NewBus(log),
		state:     StateDisconnected,
		subs:      make(map[int64]struct{}),
	}
}

// On registers an event handler (generic or per-order composite key)
func (c *Channel) On(event string, fn Handler) *Subscription {
	return c.bus.On(event, fn)
}

// State returns the current connection state
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot is a point-in-time view for the status surface
type Snapshot struct {
	State         string `json:"state"`
	Attempts      int    `json:"reconnectAttempts"`
	Subscriptions int    `json:"subscriptions"`
	UserID        string `json:"userId,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Snapshot returns the current channel view
func (c *Channel) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:         c.state.String(),
		Attempts:      c.attempts,
		Subscriptions: len(c.subs),
		UserID:        c.userID,
		Role:          c.role,
	}
}

// Connect opens the channel. It is the only way out of the given-up
// state; a manual call resets the attempt counter.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateAuthenticated:
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.attempts = 0
	c.mu.Unlock()

	return c.dial(ctx)
}

// dial opens the transport once and wires the new connection
func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx, c.cfg.URL)

	c.mu.Lock()
	if c.gen != gen {
		// torn down while dialing
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		c.scheduleReconnectLocked(err)
		c.mu.Unlock()
		return fmt.Errorf("failed to open delivery channel: %w", err)
	}

	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	token := c.tokens.Token()
	c.mu.Unlock()

	go c.readLoop(conn, gen)

	if err := conn.WriteJSON(&AuthFrame{Type: TypeAuth, Token: token}); err != nil {
		// the read loop observes the broken connection and reconnects
		c.log.Warn("failed to send auth frame", zap.Error(err))
	}
	return nil
}

// readLoop is the single reader for one connection; dispatch is
// synchronous so subscribers observe frames in receipt order.
func (c *Channel) readLoop(conn Conn, gen int) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connLost(gen, err)
			return
		}

		frame, err := DecodeServerFrame(data)
		if err != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		c.dispatch(frame, gen)
	}
}

func (c *Channel) dispatch(frame ServerFrame, gen int) {
	switch f := frame.(type) {
	case *AuthSuccessFrame:
		c.handleAuthSuccess(f, gen)
	case *SubscribedFrame:
		c.log.Debug("subscription acknowledged", zap.Int64("order_id", f.OrderID))
	case *LocationUpdateFrame:
		c.bus.Emit(EventLocationUpdate, f)
		c.bus.Emit(OrderEvent(f.OrderID, "location"), f)
	case *StatusUpdateFrame:
		c.bus.Emit(EventStatusUpdate, f)
		c.bus.Emit(OrderEvent(f.OrderID, "status"), f)
	case *OrderCancelledFrame:
		c.bus.Emit(EventOrderCancelled, f)
		c.bus.Emit(OrderEvent(f.OrderID, "cancelled"), f)
	case *ErrorFrame:
		c.log.Warn("server error frame", zap.String("code", f.Code), zap.String("message", f.Message))
		c.bus.Emit(EventError, f)
	case *PongFrame:
		// heartbeat answered, nothing to do
	}
}

// handleAuthSuccess replays the subscription set before any further frame
// is read, so no data frame for a replayed order can precede its
// subscribe_order.
func (c *Channel) handleAuthSuccess(f *AuthSuccessFrame, gen int) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticated
	c.userID = f.UserID
	c.role = f.Role
	conn := c.conn

	ids := make([]int64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	c.startHeartbeatLocked(gen)
	c.mu.Unlock()

	c.log.Info("delivery channel authenticated",
		zap.String("user_id", f.UserID),
		zap.String("role", f.Role),
		zap.Int("replayed_subscriptions", len(ids)))

	for _, id := range ids {
		if err := conn.WriteJSON(&SubscribeOrderFrame{Type: TypeSubscribeOrder, OrderID: id}); err != nil {
			c.log.Warn("failed to replay subscription", zap.Int64("order_id", id), zap.Error(err))
			return
		}
	}
}

func (c *Channel) startHeartbeatLocked(gen int) {
	c.heartbeatTimer = c.sched.AfterFunc(c.cfg.HeartbeatInterval, func() {
		c.heartbeat(gen)
	})
}

func (c *Channel) heartbeat(gen int) {
	c.mu.Lock()
	if c.gen != gen || c.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.startHeartbeatLocked(gen)
	c.mu.Unlock()

	if err := conn.WriteJSON(&PingFrame{Type: TypePing}); err != nil {
		// the read loop notices the broken connection
		c.log.Debug("heartbeat write failed", zap.Error(err))
	}
}

func (c *Channel) stopTimersLocked() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// connLost handles a read error on the connection of generation gen
func (c *Channel) connLost(gen int, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.scheduleReconnectLocked(err)
	c.mu.Unlock()
}

// scheduleReconnectLocked applies the linear backoff policy. Caller holds mu.
func (c *Channel) scheduleReconnectLocked(cause error) {
	if c.attempts >= c.cfg.MaxReconnects {
		c.state = StateGivenUp
		c.log.Error("delivery channel gave up reconnecting",
			zap.Int("attempts", c.attempts),
			zap.Error(cause))
		return
	}

	c.attempts++
	delay := c.cfg.ReconnectBase * time.Duration(c.attempts)
	c.state = StateReconnecting
	c.log.Warn("delivery channel lost, scheduling reconnect",
		zap.Int("attempt", c.attempts),
		zap.Duration("delay", delay),
		zap.Error(cause))

	c.reconnectTimer = c.sched.AfterFunc(delay, func() {
		_ = c.dial(context.Background())
	})
}

// SubscribeToOrder adds the order to the local subscription set and, when
// already authenticated, sends the subscribe frame immediately. While
// disconnected the set is replayed on the next auth_success.
func (c *Channel) SubscribeToOrder(orderID int64) {
	c.mu.Lock()
	_, dup := c.subs[orderID]
	c.subs[orderID] = struct{}{}
	send := !dup && c.state == StateAuthenticated
	conn := c.conn
	c.mu.Unlock()

	if !send {
		return
	}
	if err := conn.WriteJSON(&SubscribeOrderFrame{Type: TypeSubscribeOrder, OrderID: orderID}); err != nil {
		c.log.Warn("failed to send subscribe frame", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// Subscriptions returns the subscribed order ids in ascending order
func (c *Channel) Subscriptions() []int64 {
	c.mu.Lock()
	ids := make([]int64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// UnsubscribeFromOrder removes the order locally. No wire frame is sent;
// the server drops interest lazily on disconnect.
func (c *Channel) UnsubscribeFromOrder(orderID int64) {
	c.mu.Lock()
	delete(c.subs, orderID)
	c.mu.Unlock()
}

// SendCourierLocation sends a location frame best-effort; dropped with a
// warning when not authenticated. Callers must not block or retry.
func (c *Channel) SendCourierLocation(orderID int64, sample domain.LocationSample) {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == StateAuthenticated
	c.mu.Unlock()

	if !ok {
		c.log.Warn("dropping courier location: channel not connected", zap.Int64("order_id", orderID))
		return
	}
	frame := &CourierLocationFrame{
		Type:      TypeCourierLocation,
		OrderID:   orderID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
		Speed:     sample.Speed,
		Heading:   sample.Heading,
		Accuracy:  sample.Accuracy,
	}
	if err := conn.WriteJSON(frame); err != nil {
		c.log.Warn("failed to send courier location", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// UpdateOrderStatus sends a status frame with the same best-effort
// semantics as SendCourierLocation.
func (c *Channel) UpdateOrderStatus(orderID int64, status string) {
	c.mu.Lock()
	conn := c.conn
	ok := c.state == StateAuthenticated
	c.mu.Unlock()

	if !ok {
		c.log.Warn("dropping order status: channel not connected",
			zap.Int64("order_id", orderID), zap.String("status", status))
		return
	}
	if err := conn.WriteJSON(&OrderStatusFrame{Type: TypeOrderStatus, OrderID: orderID, Status: status}); err != nil {
		c.log.Warn("failed to send order status", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// Disconnect tears the channel down: timers stopped, subscription set and
// listeners cleared, transport closed. The only transition that never
// schedules a reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopTimersLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.subs = make(map[int64]struct{})
	c.state = StateDisconnected
	c.attempts = 0
	c.userID = ""
	c.role = ""
	c.mu.Unlock()

	c.bus.Clear()
}
