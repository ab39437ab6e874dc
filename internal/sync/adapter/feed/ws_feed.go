package feed

import (
	"context"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ahmadnk31/gsm-sync/internal/shared/errors"
	"github.com/ahmadnk31/gsm-sync/internal/shared/logger"
	"github.com/ahmadnk31/gsm-sync/internal/sync/config"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/model"
	"github.com/ahmadnk31/gsm-sync/internal/sync/domain/repository"

	"github.com/fasthttp/websocket"
	"go.uber.org/zap"
)

// Frame types on the feed wire.
const (
	frameTypeChange                = "change"
	frameTypeHeartbeat             = "heartbeat"
	frameTypeSubscriptionConfirmed = "subscription_confirmed"
	frameTypeError                 = "error"

	actionSubscribe = "subscribe"
)

// feedFrame is the envelope around everything the feed sends.
type feedFrame struct {
	Type      string           `json:"type"`
	Change    *model.RawChange `json:"change,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp,omitempty"`
}

// subscribeFrame is sent after each (re)connect to open one logical channel.
type subscribeFrame struct {
	Action     string `json:"action"`
	EntityKind string `json:"entityKind"`
}

// WSFeed implements repository.ChangeFeed over a websocket transport. Each
// subscription runs its own connection with exponential backoff, bounded
// jitter, a capped retry interval and unlimited retries while the owning
// context is alive. After every successful connect it signals a resync before
// forwarding incremental events, because nothing missed during the outage is
// replayed by the server.
type WSFeed struct {
	cfg   config.FeedConfig
	scope model.ViewScope
	log   logger.Logger
}

// NewWSFeed creates a websocket change feed bound to one viewer scope.
func NewWSFeed(cfg config.FeedConfig, scope model.ViewScope, log logger.Logger) *WSFeed {
	return &WSFeed{
		cfg:   cfg,
		scope: scope,
		log:   log.WithComponent("ws-feed"),
	}
}

// Subscribe opens one logical channel for an entity kind. At most one
// subscription per kind per session is the caller's contract; the feed itself
// does not multiplex.
func (f *WSFeed) Subscribe(ctx context.Context, kind model.EntityKind) (repository.Subscription, error) {
	if !kind.IsValid() {
		return nil, errors.ErrUnknownEntityKind
	}

	buffer := f.cfg.EventChannelBuffer
	if buffer <= 0 {
		buffer = 64
	}

	sub := &wsSubscription{
		events:  make(chan model.RawChange, buffer),
		resyncs: make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}

	go f.run(ctx, kind, sub)
	return sub, nil
}

// run owns the connection lifecycle for one subscription.
func (f *WSFeed) run(ctx context.Context, kind model.EntityKind, sub *wsSubscription) {
	defer close(sub.events)

	initial := f.cfg.InitialBackoff
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	backoff := initial

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.closed:
			return
		default:
		}

		conn, err := f.dial(ctx, kind)
		if err != nil {
			f.log.Error("Feed dial failed",
				zap.String("entityKind", string(kind)),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return
			case <-sub.closed:
				return
			case <-time.After(withJitter(backoff)):
			}
			backoff = nextBackoff(backoff, f.cfg.MaxBackoff)
			continue
		}

		// Connected. Events missed while disconnected are gone; consumers must
		// run a full resync before trusting incremental application again.
		backoff = initial
		sub.signalResync()

		f.readPump(ctx, kind, conn, sub)
		conn.Close()
	}
}

// dial connects, authenticates, and sends the subscribe frame.
func (f *WSFeed) dial(ctx context.Context, kind model.EntityKind) (*websocket.Conn, error) {
	u, err := url.Parse(f.cfg.URL)
	if err != nil {
		return nil, errors.NewValidationError("invalid feed URL").WithCause(err)
	}

	token, err := MintFeedToken(f.cfg.JWTSecret, f.scope, f.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}

	// Token travels both ways: some proxies strip websocket headers.
	query := u.Query()
	query.Set("token", token)
	u.RawQuery = query.Encode()

	headers := http.Header{
		"Authorization": {"Bearer " + token},
	}

	handshake := f.cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	dialer := &websocket.Dialer{
		HandshakeTimeout: handshake,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, errors.NewTransportError("failed to connect to change feed").WithCause(err)
	}

	if err := conn.WriteJSON(subscribeFrame{Action: actionSubscribe, EntityKind: string(kind)}); err != nil {
		conn.Close()
		return nil, errors.NewTransportError("failed to send subscribe frame").WithCause(err)
	}

	f.log.Info("Change feed connected",
		zap.String("entityKind", string(kind)),
		zap.String("url", f.cfg.URL))

	return conn, nil
}

// readPump forwards frames until the connection drops or the subscription ends.
func (f *WSFeed) readPump(ctx context.Context, kind model.EntityKind, conn *websocket.Conn, sub *wsSubscription) {
	for {
		var frame feedFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				f.log.Warn("Feed connection dropped",
					zap.String("entityKind", string(kind)),
					zap.Error(err))
			}
			return
		}

		switch frame.Type {
		case frameTypeChange:
			if frame.Change == nil {
				f.log.Warn("Change frame without payload",
					zap.String("entityKind", string(kind)))
				continue
			}
			select {
			case sub.events <- *frame.Change:
			case <-ctx.Done():
				return
			case <-sub.closed:
				return
			}

		case frameTypeHeartbeat, frameTypeSubscriptionConfirmed:
			// Keepalive and handshake acks carry no state.

		case frameTypeError:
			f.log.Warn("Feed reported error",
				zap.String("entityKind", string(kind)),
				zap.String("error", frame.Error))

		default:
			f.log.Debug("Ignoring unknown frame type",
				zap.String("type", frame.Type))
		}
	}
}

// nextBackoff doubles the delay up to the cap.
func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if max > 0 && next > max {
		next = max
	}
	return next
}

// withJitter adds a small bounded jitter so reconnecting clients spread out.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// wsSubscription is the consumer-facing half of one feed channel.
type wsSubscription struct {
	events  chan model.RawChange
	resyncs chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

func (s *wsSubscription) Events() <-chan model.RawChange {
	return s.events
}

func (s *wsSubscription) Resyncs() <-chan struct{} {
	return s.resyncs
}

func (s *wsSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	return nil
}

// signalResync is non-blocking: a pending resync signal already covers any
// number of reconnects behind it.
func (s *wsSubscription) signalResync() {
	select {
	case s.resyncs <- struct{}{}:
	default:
	}
}
