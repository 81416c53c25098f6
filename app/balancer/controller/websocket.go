package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/canopy-network/balancex/pkg/balances"
	"github.com/canopy-network/balancex/pkg/retry"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	sendBuffer   = 256
	allChains    = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// resubscribe paces redis resubscriptions of one websocket client.
var resubscribe = retry.Policy{Base: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: 0.1}

// ClientMessage is sent by websocket clients.
type ClientMessage struct {
	Action  string `json:"action"`  // subscribe|unsubscribe
	ChainID string `json:"chainId"` // decimal chain ID or "*"
}

// ServerMessage is sent to websocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// SnapshotMessage carries the current balances of a chain, sent right after a
// subscription so clients do not wait for the next fetch.
type SnapshotMessage struct {
	ChainID  uint64            `json:"chainId"`
	Owner    string            `json:"owner"`
	Nonce    uint64            `json:"nonce"`
	Balances balances.Balances `json:"balances"`
}

// Subscriptions tracks the chains one client listens to.
type Subscriptions struct {
	all    atomic.Bool
	chains *xsync.Map[uint64, struct{}]
}

func NewSubscriptions() *Subscriptions {
	return &Subscriptions{chains: xsync.NewMap[uint64, struct{}]()}
}

func (s *Subscriptions) Subscribe(chainID uint64) { s.chains.Store(chainID, struct{}{}) }

func (s *Subscriptions) Unsubscribe(chainID uint64) { s.chains.Delete(chainID) }

// SetAll toggles the "*" subscription.
func (s *Subscriptions) SetAll(all bool) { s.all.Store(all) }

// IsSubscribed reports whether events of chainID are forwarded.
func (s *Subscriptions) IsSubscribed(chainID uint64) bool {
	if s.all.Load() {
		return true
	}
	_, ok := s.chains.Load(chainID)
	return ok
}

// wsSession is one websocket client. Only write() touches the connection for
// data frames; everything else goes through send.
type wsSession struct {
	c      *Controller
	conn   *websocket.Conn
	logger *zap.Logger
	subs   *Subscriptions
	send   chan ServerMessage
}

// HandleWebSocket streams balance.updated events to the client.
//
// Client sends:
//
//	{"action": "subscribe", "chainId": "1"}
//	{"action": "subscribe", "chainId": "*"}
//	{"action": "unsubscribe", "chainId": "1"}
//
// Server sends:
//
//	{"type": "subscribed", "payload": {"chainId": "1"}}
//	{"type": "snapshot", "payload": {"chainId": 1, "nonce": 3, "balances": {...}}}
//	{"type": "balance.updated", "payload": {"chainId": 1, "nonce": 4, ...}}
//	{"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	s := &wsSession{
		c:      c,
		conn:   conn,
		logger: c.App.Logger.With(zap.String("remote_addr", r.RemoteAddr)),
		subs:   NewSubscriptions(),
		send:   make(chan ServerMessage, sendBuffer),
	}
	s.logger.Info("WebSocket client connected")
	s.serve(r.Context())
	s.logger.Info("WebSocket client disconnected")
}

func (s *wsSession) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	for name, fn := range map[string]func(context.Context){
		"redis":  s.follow,
		"ping":   s.ping,
		"writer": s.write,
	} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					s.logger.Error("Panic in websocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())))
					cancel()
				}
			}()
			fn(ctx)
		}()
	}

	s.read(ctx)
	cancel()
	wg.Wait()
}

func (s *wsSession) push(ctx context.Context, msg ServerMessage) bool {
	select {
	case s.send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func errorMessage(format string, args ...interface{}) ServerMessage {
	return ServerMessage{Type: "error", Payload: map[string]string{"message": fmt.Sprintf(format, args...)}}
}

// follow keeps a pattern subscription on every chain's balance channel,
// resubscribing with backoff whenever it drops.
func (s *wsSession) follow(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		err := s.subscribe(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := resubscribe.Delay(attempt)
		s.logger.Warn("Redis subscription ended, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", delay))
		if !s.push(ctx, ServerMessage{Type: "error", Payload: map[string]interface{}{
			"message":     "Redis connection lost, attempting to reconnect...",
			"retryIn":     delay.Seconds(),
			"recoverable": true,
		}}) {
			return
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (s *wsSession) subscribe(ctx context.Context) error {
	pubsub := s.c.App.RedisClient.PSubscribe(ctx, balances.ChannelPattern)
	defer func() { _ = pubsub.Close() }()

	confirmCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := pubsub.Receive(confirmCtx); err != nil {
		return fmt.Errorf("confirm redis subscription: %w", err)
	}
	if !s.push(ctx, ServerMessage{Type: "info", Payload: map[string]string{"message": "subscribed to balance events"}}) {
		return ctx.Err()
	}
	return s.listen(ctx, pubsub.Channel())
}

var errSubscriptionClosed = errors.New("redis subscription closed")

// listen forwards the events of subscribed chains until ch closes or ctx is done.
func (s *wsSession) listen(ctx context.Context, ch <-chan *redis.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			chainID, ok := balances.ParseChannel(msg.Channel)
			if !ok {
				s.logger.Warn("Unexpected balance event channel", zap.String("channel", msg.Channel))
				continue
			}
			if !s.subs.IsSubscribed(chainID) {
				continue
			}

			var event balances.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				s.logger.Error("Failed to parse balance event", zap.Error(err), zap.String("channel", msg.Channel))
				continue
			}
			if !s.push(ctx, ServerMessage{Type: balances.EventBalanceUpdated, Payload: event}) {
				return ctx.Err()
			}
		}
	}
}

// handle applies one client message and returns the replies.
func (s *wsSession) handle(msg ClientMessage) []ServerMessage {
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return []ServerMessage{errorMessage("unknown action: %s", msg.Action)}
	}
	ack := ServerMessage{Type: msg.Action + "d", Payload: map[string]string{"chainId": msg.ChainID}}

	if msg.ChainID == allChains {
		s.subs.SetAll(msg.Action == "subscribe")
		if msg.Action == "unsubscribe" {
			return []ServerMessage{ack}
		}
		replies := []ServerMessage{ack}
		for chainID := range s.c.App.Manager.Data() {
			replies = append(replies, s.snapshot(chainID)...)
		}
		return replies
	}

	chainID, err := strconv.ParseUint(msg.ChainID, 10, 64)
	if err != nil {
		return []ServerMessage{errorMessage("invalid chainId %q", msg.ChainID)}
	}
	if msg.Action == "unsubscribe" {
		s.subs.Unsubscribe(chainID)
		return []ServerMessage{ack}
	}
	s.subs.Subscribe(chainID)
	return append([]ServerMessage{ack}, s.snapshot(chainID)...)
}

func (s *wsSession) snapshot(chainID uint64) []ServerMessage {
	snap, ok := s.c.App.Manager.Snapshot(chainID)
	if !ok {
		return nil
	}
	return []ServerMessage{{Type: "snapshot", Payload: SnapshotMessage{
		ChainID:  chainID,
		Owner:    snap.Owner.Hex(),
		Nonce:    snap.Nonce,
		Balances: snap.Balances,
	}}}
}

// ping keeps the connection alive; the pong handler extends the read deadline.
func (s *wsSession) ping(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				s.logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

func (s *wsSession) write(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteJSON(msg); err != nil {
				s.logger.Debug("Failed to write WebSocket message", zap.Error(err))
				return
			}
		}
	}
}

// read handles client messages until the connection closes.
func (s *wsSession) read(ctx context.Context) {
	extend := func() error { return s.conn.SetReadDeadline(time.Now().Add(readTimeout)) }
	if extend() != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error { return extend() })

	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Error("WebSocket read error", zap.Error(err))
			}
			return
		}
		if extend() != nil {
			return
		}
		s.logger.Debug("WebSocket client message", zap.String("action", msg.Action), zap.String("chainId", msg.ChainID))

		for _, reply := range s.handle(msg) {
			if !s.push(ctx, reply) {
				return
			}
		}
	}
}
