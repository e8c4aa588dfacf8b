package xrpl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vitwit/xrpfi/instruction"
	"github.com/vitwit/xrpfi/logger"
	"github.com/vitwit/xrpfi/metrics"
	"github.com/vitwit/xrpfi/types"
)

// Recorder persists a newly observed payment.
type Recorder interface {
	Create(ctx context.Context, hash, sourceAddress, amount string, kind types.InstructionType, memoHex string) (*types.Transaction, error)
}

// Dispatcher hands a created record to the orchestrator without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, hash string) error
}

type Config struct {
	URL             string
	OperatorAddress string
	PingInterval    time.Duration
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
}

// Listener subscribes to the operator account and turns incoming payments into
// ledger records. Connection loss is retried forever with capped backoff.
type Listener struct {
	cfg        Config
	recorder   Recorder
	dispatcher Dispatcher
	seen       SeenCache
	dialer     *websocket.Dialer
	logger     logger.Logger
	metrics    metrics.Recorder
}

type Option func(*Listener)

func WithSeenCache(c SeenCache) Option {
	return func(l *Listener) { l.seen = c }
}

func WithLogger(lg logger.Logger) Option {
	return func(l *Listener) { l.logger = lg }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(l *Listener) { l.metrics = m }
}

func WithDialer(d *websocket.Dialer) Option {
	return func(l *Listener) { l.dialer = d }
}

func NewListener(cfg Config, recorder Recorder, dispatcher Dispatcher, opts ...Option) *Listener {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	l := &Listener{
		cfg:        cfg,
		recorder:   recorder,
		dispatcher: dispatcher,
		seen:       NewMemorySeenCache(time.Hour),
		dialer:     websocket.DefaultDialer,
		logger:     logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run keeps a subscription open until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	backoff := l.cfg.MinBackoff
	for {
		started := time.Now()
		err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}

		lost := types.WrapError(types.ErrCodeConnectivityLost, err, "xrpl stream disconnected")
		// a session that stayed up longer than the cap is healthy; start over
		if time.Since(started) > l.cfg.MaxBackoff {
			backoff = l.cfg.MinBackoff
		}
		l.logger.Warn("xrpl connection lost, reconnecting", map[string]any{"error": lost, "backoff": backoff.String()})
		l.metrics.IncCounter(metrics.EventListenerReconnect, map[string]string{"reason": types.ErrCodeConnectivityLost})

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}
}

type subscribeRequest struct {
	ID       int      `json:"id"`
	Command  string   `json:"command"`
	Accounts []string `json:"accounts"`
}

func (l *Listener) session(ctx context.Context) error {
	conn, _, err := l.dialer.DialContext(ctx, l.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", l.cfg.URL, err)
	}
	defer conn.Close()

	sub := subscribeRequest{ID: 1, Command: "subscribe", Accounts: []string{l.cfg.OperatorAddress}}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	l.logger.Info("xrpl listener subscribed", map[string]any{"account": l.cfg.OperatorAddress, "url": l.cfg.URL})

	readTimeout := 2 * l.cfg.PingInterval
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(l.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				// unblocks ReadMessage
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		l.HandleMessage(ctx, raw)
	}
}

// HandleMessage processes one stream message. Irrelevant or malformed input is
// logged and dropped; it never returns an error.
func (l *Listener) HandleMessage(ctx context.Context, raw []byte) {
	var head struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if json.Unmarshal(raw, &head) == nil && head.Type == "response" {
		if head.Status != "success" {
			l.logger.Error("xrpl request failed", map[string]any{"error": head.Error})
		}
		return
	}

	payment, reason := ParsePayment(raw, l.cfg.OperatorAddress)
	if reason != "" {
		if reason != ReasonNotTransaction {
			l.discard(reason, "", nil)
		}
		return
	}
	l.metrics.IncCounter(metrics.EventPaymentObserved, nil)

	first, err := l.seen.MarkSeen(ctx, payment.TxHash)
	if err != nil {
		l.logger.Warn("seen cache unavailable", map[string]any{"error": err})
	} else if !first {
		l.discard(ReasonDuplicate, payment.TxHash, nil)
		return
	}

	ins, err := instruction.DecodeHex(payment.MemoHex)
	if err != nil {
		l.discard(ReasonMalformedMemo, payment.TxHash, err)
		return
	}
	kind, err := instruction.KindForCode(ins.Code)
	if err != nil {
		l.discard(ReasonUnknownCode, payment.TxHash, err)
		return
	}

	if _, err := l.recorder.Create(ctx, payment.TxHash, payment.Account, payment.AmountXRP, kind, ins.Hex()); err != nil {
		if errors.Is(err, types.ErrDuplicateTransaction) {
			l.discard(ReasonDuplicate, payment.TxHash, nil)
			return
		}
		l.logger.Error("failed to record payment", map[string]any{"tx": payment.TxHash, "error": err})
		// unrecorded payments must stay deliverable
		if ferr := l.seen.Forget(context.WithoutCancel(ctx), payment.TxHash); ferr != nil {
			l.logger.Warn("seen cache forget failed", map[string]any{"tx": payment.TxHash, "error": ferr})
		}
		return
	}
	l.metrics.IncCounter(metrics.EventRecordCreated, map[string]string{"reason": string(kind)})
	l.logger.Info("payment recorded", map[string]any{
		"tx": payment.TxHash, "from": payment.Account, "amount": payment.AmountXRP, "kind": kind,
	})

	if err := l.dispatcher.Dispatch(ctx, payment.TxHash); err != nil {
		l.logger.Error("dispatch failed", map[string]any{"tx": payment.TxHash, "error": err})
	}
}

func (l *Listener) discard(reason, hash string, err error) {
	l.metrics.IncCounter(metrics.EventPaymentDiscarded, map[string]string{"reason": reason})
	fields := map[string]any{"reason": reason}
	if hash != "" {
		fields["tx"] = hash
	}
	if err != nil {
		fields["error"] = err
	}
	l.logger.Debug("payment discarded", fields)
}
