package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"go.uber.org/zap"
)

type EngineConfig struct {
	ScanInterval   time.Duration
	SweepInterval  time.Duration
	QueueSize      int
	PersistTimeout time.Duration
}

// Publisher hands events to the notification side without blocking.
type Publisher interface {
	Publish(ev domain.Event) bool
}

// EngineDeps are the collaborators an Engine drives. Scanner, Repo, Publisher and
// Metrics may be nil.
type EngineDeps struct {
	Detector  *AnomalyDetector
	Watchlist *WatchlistManager
	Positions *PositionManager
	Scanner   *Scanner
	Feed      domain.PriceFeed
	Repo      domain.StateRepository
	Publisher Publisher
	Metrics   MetricsRecorder
}

type collection string

const (
	collWatchlist collection = "watchlist"
	collPositions collection = "positions"
	collLedger    collection = "ledger"
	collLeads     collection = "leads"
)

type inputKind int

const (
	inputWindow inputKind = iota
	inputCandle
)

type input struct {
	kind    inputKind
	symbol  string
	candles []domain.Candle
	candle  domain.Candle
}

// Engine owns all per-symbol state. Every transition runs on the goroutine that
// executes Run, so slow-path creation and fast-path transitions never interleave.
type Engine struct {
	cfg       EngineConfig
	detector  *AnomalyDetector
	watchlist *WatchlistManager
	positions *PositionManager
	stats     *StatisticsAccumulator
	scanner   *Scanner
	feed      domain.PriceFeed
	repo      domain.StateRepository
	publisher Publisher
	metrics   MetricsRecorder
	logger    *zap.Logger

	inputs   chan input
	now      func() time.Time
	attached sync.Once

	mu     sync.RWMutex
	halted map[string]string
}

func NewEngine(cfg EngineConfig, deps EngineDeps, logger *zap.Logger) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics()
	}
	return &Engine{
		cfg:       cfg,
		detector:  deps.Detector,
		watchlist: deps.Watchlist,
		positions: deps.Positions,
		stats:     NewStatisticsAccumulator(),
		scanner:   deps.Scanner,
		feed:      deps.Feed,
		repo:      deps.Repo,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    logger,
		inputs:    make(chan input, cfg.QueueSize),
		now:       func() time.Time { return time.Now().UTC() },
		halted:    make(map[string]string),
	}
}

// Restore loads the persisted snapshot and resubscribes every watched or open symbol.
// It must be called before Run.
func (e *Engine) Restore(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	snap, err := e.repo.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	open := make(map[string]bool, len(snap.Positions))
	for _, p := range snap.Positions {
		open[p.Symbol] = true
	}
	pending := make([]domain.PendingAnomaly, 0, len(snap.Watchlist))
	for _, a := range snap.Watchlist {
		if open[a.Symbol] {
			e.logger.Warn("Dropping restored watchlist entry for symbol with open position", zap.String("symbol", a.Symbol))
			continue
		}
		pending = append(pending, a)
	}

	e.watchlist.Restore(pending, snap.Leads)
	e.positions.Restore(snap.Positions, snap.Ledger)

	for _, l := range snap.Leads {
		e.detector.RestoreCooldown(l.Symbol, l.EnteredAt)
	}
	for _, a := range pending {
		e.detector.RestoreCooldown(a.Symbol, a.WatchlistEnteredAt)
	}

	for _, symbol := range e.activeSymbols() {
		if err := e.feed.Subscribe(symbol); err != nil {
			e.logger.Error("Resubscribe failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	e.refreshGauges()
	e.logger.Info("State restored",
		zap.Int("watchlist", len(pending)),
		zap.Int("positions", len(snap.Positions)),
		zap.Int("ledger", len(snap.Ledger)),
		zap.Int("leads", len(snap.Leads)))
	return nil
}

func (e *Engine) activeSymbols() []string {
	var symbols []string
	for _, a := range e.watchlist.List() {
		symbols = append(symbols, a.Symbol)
	}
	for _, p := range e.positions.List() {
		symbols = append(symbols, p.Symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Run consumes queued inputs and the sweep ticker until ctx is done. When a Scanner is set
// it is run immediately and then every ScanInterval on a separate goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.Attach(ctx)

	var wg sync.WaitGroup
	if e.scanner != nil && e.cfg.ScanInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.scanLoop(ctx)
		}()
	}
	defer wg.Wait()

	sweep := time.NewTicker(e.cfg.SweepInterval)
	defer sweep.Stop()

	e.logger.Info("Engine started",
		zap.Duration("scan_interval", e.cfg.ScanInterval),
		zap.Duration("sweep_interval", e.cfg.SweepInterval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping")
			return ctx.Err()
		case in := <-e.inputs:
			switch in.kind {
			case inputWindow:
				e.ApplyWindow(in.symbol, in.candles, e.now())
			case inputCandle:
				e.ApplyCandle(in.symbol, in.candle, e.now())
			}
		case <-sweep.C:
			e.Sweep(e.now())
		}
	}
}

func (e *Engine) scanLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		if err := e.scanner.Scan(ctx, e.now(), e.SubmitWindow); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Warn("Scan failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Attach routes feed candles into the input queue. Call it before the feed starts
// so frames for restored subscriptions are queued rather than lost. Run attaches
// on its own if this was not done; later calls are no-ops.
func (e *Engine) Attach(ctx context.Context) {
	e.attached.Do(func() {
		e.feed.OnCandle(func(symbol string, candle domain.Candle) {
			if err := e.SubmitCandle(ctx, symbol, candle); err != nil {
				e.logger.Debug("Candle dropped", zap.String("symbol", symbol), zap.Error(err))
			}
		})
	})
}

// SubmitWindow queues a slow-path candle window. It blocks while the queue is full.
func (e *Engine) SubmitWindow(ctx context.Context, symbol string, candles []domain.Candle) error {
	return e.submit(ctx, input{kind: inputWindow, symbol: symbol, candles: candles})
}

// SubmitCandle queues a fast-path candle. Order per symbol is preserved.
func (e *Engine) SubmitCandle(ctx context.Context, symbol string, candle domain.Candle) error {
	return e.submit(ctx, input{kind: inputCandle, symbol: symbol, candle: candle})
}

func (e *Engine) submit(ctx context.Context, in input) error {
	select {
	case e.inputs <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ApplyWindow runs anomaly detection for a symbol that is neither watched nor held.
func (e *Engine) ApplyWindow(symbol string, candles []domain.Candle, now time.Time) {
	if e.isHalted(symbol) || e.watchlist.Has(symbol) || e.positions.Has(symbol) {
		return
	}

	det := e.detector.Detect(symbol, candles, now)
	e.metrics.DetectionResult(det.Result)
	switch det.Result {
	case DetectionAnomalyFound:
	case DetectionUnclassified:
		e.logger.Info("Volume spike without clear direction",
			zap.String("symbol", symbol),
			zap.Float64("volume_leverage", det.VolumeLeverage),
			zap.Float64("deviation", det.Deviation))
		return
	default:
		return
	}

	stored, outcome, err := e.watchlist.Add(*det.Anomaly, now)
	if err != nil {
		e.halt(symbol, err)
		return
	}
	if outcome != nil {
		e.logger.Info("Anomaly failed consolidation",
			zap.String("symbol", symbol),
			zap.String("side", string(det.Anomaly.Side)),
			zap.Float64("high", det.Anomaly.AnomalyCandle.High),
			zap.Float64("low", det.Anomaly.AnomalyCandle.Low))
		e.metrics.LeadResolved(string(outcome.Result))
		e.publish(domain.WatchlistRemoved{Anomaly: *det.Anomaly, Outcome: *outcome})
		e.persist(collLeads)
		return
	}

	if err := e.feed.Subscribe(symbol); err != nil {
		e.logger.Error("Subscribe failed, entry will time out", zap.String("symbol", symbol), zap.Error(err))
	}
	e.logger.Info("Anomaly added to watchlist",
		zap.String("symbol", symbol),
		zap.String("side", string(stored.Side)),
		zap.Float64("volume_leverage", stored.VolumeLeverage),
		zap.Float64("entry_level", stored.EntryLevel),
		zap.Float64("cancel_level", stored.CancelLevel))
	e.publish(domain.AnomalyAdded{Anomaly: *stored})
	e.persist(collWatchlist)
	e.refreshGauges()
}

// ApplyCandle feeds a fast-path price to whichever manager owns the symbol.
// Unknown symbols are ignored.
func (e *Engine) ApplyCandle(symbol string, candle domain.Candle, now time.Time) {
	if e.isHalted(symbol) || candle.Close <= 0 {
		return
	}
	price := candle.Close

	if d, ok := e.watchlist.Evaluate(symbol, price, now); ok {
		e.resolveLead(d)
		return
	}

	u, ok := e.positions.Evaluate(symbol, price, now)
	if !ok {
		return
	}
	for _, lvl := range u.Executed {
		e.logger.Info("Level executed",
			zap.String("symbol", symbol),
			zap.Int("level", lvl.LevelNumber),
			zap.Float64("price", lvl.ExecutionPrice),
			zap.Float64("pnl", lvl.ProfitLoss))
		e.metrics.LevelExecuted()
		e.publish(domain.LevelExecuted{Position: u.Position, Level: lvl})
	}
	if u.Promoted {
		e.logger.Info("Stop promoted to break-even",
			zap.String("symbol", symbol),
			zap.Float64("previous_stop", u.PreviousStop),
			zap.Float64("stop", u.Position.StopLoss),
			zap.Float64("price", price))
		e.metrics.BreakEvenPromoted()
		e.publish(domain.BreakEvenPromoted{Position: u.Position, PreviousStop: u.PreviousStop, Price: price, At: now})
	}
	if u.Exit != nil {
		e.closePosition(*u.Exit)
		return
	}
	if u.Changed() {
		e.persist(collPositions)
	}
}

// Sweep expires watchlist entries that outlived the confirmation window without a price.
func (e *Engine) Sweep(now time.Time) {
	for _, d := range e.watchlist.Expired(now) {
		if e.isHalted(d.Symbol) {
			continue
		}
		e.resolveLead(d)
	}
	e.detector.Cooldowns().Prune(now)
}

func (e *Engine) resolveLead(d WatchDecision) {
	if d.Result != domain.LeadConverted {
		e.unsubscribe(d.Symbol)
	}
	anomaly, outcome, req, err := e.watchlist.Resolve(d)
	if err != nil {
		e.halt(d.Symbol, err)
		return
	}
	e.logger.Info("Watchlist entry resolved",
		zap.String("symbol", d.Symbol),
		zap.String("result", string(d.Result)),
		zap.Float64("price", d.Price),
		zap.Duration("lifetime", outcome.Lifetime()))
	e.metrics.LeadResolved(string(outcome.Result))
	e.publish(domain.WatchlistRemoved{Anomaly: anomaly, Outcome: outcome})

	if req == nil {
		e.persist(collWatchlist, collLeads)
		e.refreshGauges()
		return
	}

	pos, err := e.positions.Open(*req)
	if err != nil {
		e.persist(collWatchlist, collLeads)
		e.halt(d.Symbol, err)
		return
	}
	e.logger.Info("Position opened",
		zap.String("symbol", pos.Symbol),
		zap.String("side", string(pos.Side)),
		zap.Float64("entry", pos.EntryPrice),
		zap.Float64("stop_loss", pos.StopLoss),
		zap.Float64("take_profit", pos.TakeProfit),
		zap.Int("levels", len(pos.Levels)))
	e.metrics.PositionOpened(string(pos.Side))
	e.publish(domain.PositionOpened{Position: pos})
	e.persist(collWatchlist, collLeads, collPositions)
	e.refreshGauges()
}

func (e *Engine) closePosition(exit ExitDecision) {
	e.unsubscribe(exit.Symbol)
	trade, err := e.positions.Close(exit)
	if err != nil {
		e.halt(exit.Symbol, err)
		return
	}
	stats := e.Statistics()
	e.logger.Info("Position closed",
		zap.String("symbol", exit.Symbol),
		zap.String("reason", string(trade.CloseReason)),
		zap.Float64("exit", trade.ExitPrice),
		zap.Float64("pnl", trade.ProfitLoss),
		zap.Float64("pnl_percent", trade.ProfitLossPercent),
		zap.Duration("duration", trade.Duration))
	e.metrics.PositionClosed(string(trade.CloseReason), trade.ProfitLoss)
	e.publish(domain.PositionClosed{Trade: trade, Stats: stats})
	e.persist(collPositions, collLedger)
	e.refreshGauges()
}

func (e *Engine) unsubscribe(symbol string) {
	if err := e.feed.Unsubscribe(symbol); err != nil {
		e.logger.Warn("Unsubscribe failed", zap.String("symbol", symbol), zap.Error(err))
	}
}

// halt stops processing for one symbol after a contract violation. Other symbols keep running.
func (e *Engine) halt(symbol string, err error) {
	e.mu.Lock()
	e.halted[symbol] = err.Error()
	e.mu.Unlock()

	e.unsubscribe(symbol)
	e.metrics.SymbolHalted()
	e.logger.Error("Symbol halted", zap.String("symbol", symbol), zap.Error(err))
}

func (e *Engine) isHalted(symbol string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.halted[symbol]
	return ok
}

func (e *Engine) publish(ev domain.Event) {
	if e.publisher == nil {
		return
	}
	e.publisher.Publish(ev)
}

// persist writes full snapshots of the named collections. Failures are logged and the
// in-memory state stays authoritative.
func (e *Engine) persist(collections ...collection) {
	if e.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.PersistTimeout)
	defer cancel()

	for _, c := range collections {
		var err error
		switch c {
		case collWatchlist:
			err = e.repo.SaveWatchlist(ctx, e.watchlist.List())
		case collPositions:
			err = e.repo.SavePositions(ctx, e.positions.List())
		case collLedger:
			err = e.repo.SaveLedger(ctx, e.positions.Ledger())
		case collLeads:
			err = e.repo.SaveLeads(ctx, e.watchlist.Leads())
		}
		if err != nil {
			e.metrics.PersistFailed(string(c))
			e.logger.Error("Persist failed", zap.String("collection", string(c)), zap.Error(err))
		}
	}
}

func (e *Engine) refreshGauges() {
	e.metrics.WatchlistSize(e.watchlist.Len())
	e.metrics.OpenPositions(e.positions.Len())
}

func (e *Engine) Watchlist() []domain.PendingAnomaly { return e.watchlist.List() }
func (e *Engine) Positions() []domain.Position       { return e.positions.List() }
func (e *Engine) Ledger() []domain.ClosedTrade       { return e.positions.Ledger() }
func (e *Engine) Leads() []domain.LeadOutcome        { return e.watchlist.Leads() }

func (e *Engine) Statistics() domain.Statistics {
	return e.stats.Compute(e.positions.Ledger(), e.watchlist.Leads())
}

// Halted returns the halted symbols with the error that stopped them.
func (e *Engine) Halted() map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]string, len(e.halted))
	for k, v := range e.halted {
		out[k] = v
	}
	return out
}
