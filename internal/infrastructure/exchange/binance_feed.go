package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

type FeedConfig struct {
	URL               string
	Interval          string
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	MaxReconnects     int
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

// BinanceFeed is the fast path: a kline stream over one websocket connection with
// per-symbol SUBSCRIBE/UNSUBSCRIBE. Subscriptions survive reconnects.
type BinanceFeed struct {
	cfg    FeedConfig
	logger *zap.Logger
	dialer *websocket.Dialer
	nextID atomic.Int64

	mu        sync.Mutex
	conn      *websocket.Conn
	active    map[string]bool
	callbacks []func(symbol string, candle domain.Candle)

	writeMu sync.Mutex
}

func NewBinanceFeed(cfg FeedConfig, logger *zap.Logger) *BinanceFeed {
	if cfg.URL == "" {
		cfg.URL = BinanceWSURL
	}
	if cfg.Interval == "" {
		cfg.Interval = "15m"
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	return &BinanceFeed{
		cfg:    cfg,
		logger: logger,
		dialer: websocket.DefaultDialer,
		active: make(map[string]bool),
	}
}

func (f *BinanceFeed) OnCandle(callback func(symbol string, candle domain.Candle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Subscribe marks the symbol active and subscribes on the live connection, if any.
// Offline subscriptions are sent on the next connect.
func (f *BinanceFeed) Subscribe(symbol string) error {
	f.mu.Lock()
	f.active[symbol] = true
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return nil
	}
	return f.send(conn, "SUBSCRIBE", []string{symbol})
}

// Unsubscribe deactivates the symbol before telling the server, so messages already
// in flight are dropped on arrival.
func (f *BinanceFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	wasActive := f.active[symbol]
	delete(f.active, symbol)
	conn := f.conn
	f.mu.Unlock()

	if conn == nil || !wasActive {
		return nil
	}
	return f.send(conn, "UNSUBSCRIBE", []string{symbol})
}

// Active returns the subscribed symbols, sorted.
func (f *BinanceFeed) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.active))
	for s := range f.active {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (f *BinanceFeed) isActive(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[symbol]
}

func (f *BinanceFeed) streamName(symbol string) string {
	return strings.ToLower(symbol) + "@kline_" + f.cfg.Interval
}

type streamRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (f *BinanceFeed) send(conn *websocket.Conn, method string, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	params := make([]string, len(symbols))
	for i, s := range symbols {
		params[i] = f.streamName(s)
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteJSON(streamRequest{Method: method, Params: params, ID: f.nextID.Add(1)}); err != nil {
		return fmt.Errorf("%s %v: %w", strings.ToLower(method), symbols, err)
	}
	return nil
}

// Run keeps the connection alive until ctx is done. After MaxReconnects consecutive
// failed attempts it gives up and returns the last error.
func (f *BinanceFeed) Run(ctx context.Context) error {
	b := &backoff.Backoff{Min: f.cfg.ReconnectMin, Max: f.cfg.ReconnectMax, Factor: 2, Jitter: true}
	failures := 0
	for {
		connected, err := f.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			failures = 0
			b.Reset()
		}
		failures++
		if failures > f.cfg.MaxReconnects {
			return fmt.Errorf("feed gave up after %d reconnect attempts: %w", f.cfg.MaxReconnects, err)
		}

		wait := b.Duration()
		f.logger.Warn("Feed disconnected, reconnecting",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection until it fails. connected reports whether the dial worked.
func (f *BinanceFeed) session(ctx context.Context) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(f.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.cfg.PongTimeout))
	})

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.conn = nil
		f.mu.Unlock()
	}()

	if symbols := f.Active(); len(symbols) > 0 {
		if err := f.send(conn, "SUBSCRIBE", symbols); err != nil {
			return true, err
		}
		f.logger.Info("Feed resubscribed", zap.Int("symbols", len(symbols)))
	}

	stop := make(chan struct{})
	defer close(stop)
	go f.heartbeat(conn, stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	f.logger.Info("Feed connected", zap.String("url", f.cfg.URL))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		f.dispatch(data)
	}
}

func (f *BinanceFeed) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(f.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			f.writeMu.Unlock()
			if err != nil {
				f.logger.Debug("Ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (f *BinanceFeed) dispatch(data []byte) {
	symbol, candle, ok, err := parseKline(data)
	if err != nil {
		f.logger.Debug("Unparseable feed message", zap.Error(err))
		return
	}
	if !ok || !f.isActive(symbol) {
		return
	}

	f.mu.Lock()
	callbacks := make([]func(string, domain.Candle), len(f.callbacks))
	copy(callbacks, f.callbacks)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(symbol, candle)
	}
}

// parseKline decodes a kline stream event. Subscription acks and other events
// return ok=false without error.
func parseKline(data []byte) (string, domain.Candle, bool, error) {
	var ev binance.WsKlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", domain.Candle{}, false, err
	}
	if ev.Event != "kline" {
		return "", domain.Candle{}, false, nil
	}
	if ev.Symbol == "" {
		return "", domain.Candle{}, false, errors.New("kline event without symbol")
	}
	k := ev.Kline
	return ev.Symbol, domain.Candle{
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		Open:      parseFloat(k.Open),
		High:      parseFloat(k.High),
		Low:       parseFloat(k.Low),
		Close:     parseFloat(k.Close),
		Volume:    parseFloat(k.Volume),
		CloseTime: time.UnixMilli(k.EndTime).UTC(),
		Closed:    k.IsFinal,
	}, true, nil
}
