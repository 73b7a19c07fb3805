package usecase_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
	"github.com/vitos/volume_anomaly_bot/internal/usecase"
	"go.uber.org/zap"
)

type fakeFeed struct {
	mu       sync.Mutex
	active   map[string]bool
	log      []string
	callback func(symbol string, candle domain.Candle)
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{active: make(map[string]bool)}
}

func (f *fakeFeed) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[symbol] = true
	f.log = append(f.log, "+"+symbol)
	return nil
}

func (f *fakeFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, symbol)
	f.log = append(f.log, "-"+symbol)
	return nil
}

func (f *fakeFeed) OnCandle(cb func(symbol string, candle domain.Candle)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callback = cb
}

func (f *fakeFeed) push(symbol string, price float64) {
	f.mu.Lock()
	cb := f.callback
	f.mu.Unlock()
	cb(symbol, domain.Candle{Close: price})
}

func (f *fakeFeed) isActive(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[symbol]
}

type memoryRepo struct {
	mu       sync.Mutex
	snapshot domain.Snapshot
	saves    map[string]int
	failWith error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{saves: make(map[string]int)}
}

func (r *memoryRepo) save(name string, apply func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.saves[name]++
	apply()
	return nil
}

func (r *memoryRepo) SaveWatchlist(ctx context.Context, pending []domain.PendingAnomaly) error {
	return r.save("watchlist", func() { r.snapshot.Watchlist = pending })
}

func (r *memoryRepo) SavePositions(ctx context.Context, positions []domain.Position) error {
	return r.save("positions", func() { r.snapshot.Positions = positions })
}

func (r *memoryRepo) SaveLedger(ctx context.Context, trades []domain.ClosedTrade) error {
	return r.save("ledger", func() { r.snapshot.Ledger = trades })
}

func (r *memoryRepo) SaveLeads(ctx context.Context, leads []domain.LeadOutcome) error {
	return r.save("leads", func() { r.snapshot.Leads = leads })
}

func (r *memoryRepo) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := r.snapshot
	return &snap, nil
}

func (r *memoryRepo) Close() error { return nil }

type capturePublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *capturePublisher) Publish(ev domain.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *capturePublisher) kinds() []domain.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventKind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind())
	}
	return out
}

type engineFixture struct {
	engine    *usecase.Engine
	feed      *fakeFeed
	repo      *memoryRepo
	publisher *capturePublisher
	positions *usecase.PositionManager
}

func newEngineFixture(t *testing.T, multi bool) *engineFixture {
	t.Helper()
	f := &engineFixture{
		feed:      newFakeFeed(),
		repo:      newMemoryRepo(),
		publisher: &capturePublisher{},
		positions: usecase.NewPositionManager(positionConfig(multi)),
	}
	f.engine = usecase.NewEngine(usecase.EngineConfig{SweepInterval: time.Hour}, usecase.EngineDeps{
		Detector:  usecase.NewAnomalyDetector(detectorConfig(), nil),
		Watchlist: usecase.NewWatchlistManager(watchlistConfig()),
		Positions: f.positions,
		Feed:      f.feed,
		Repo:      f.repo,
		Publisher: f.publisher,
	}, zap.NewNop())
	return f
}

func price(p float64) domain.Candle { return domain.Candle{Close: p} }

func TestEngine_FullLifecycle(t *testing.T) {
	f := newEngineFixture(t, false)
	e := f.engine

	e.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	require.Len(t, e.Watchlist(), 1)
	assert.True(t, f.feed.isActive("BTCUSDT"))
	a := e.Watchlist()[0]
	assert.Equal(t, domain.SideLong, a.Side)
	assert.Equal(t, 99.6960, a.EntryLevel)

	// Already watched: a second window is ignored.
	e.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0.Add(time.Minute))
	assert.Len(t, e.Watchlist(), 1)

	e.ApplyCandle("BTCUSDT", price(100), t0.Add(2*time.Minute))
	assert.Empty(t, e.Watchlist())
	require.Len(t, e.Positions(), 1)
	pos := e.Positions()[0]
	assert.Equal(t, 100.0, pos.EntryPrice)
	assert.Equal(t, 99.0, pos.StopLoss)
	assert.Equal(t, 103.0, pos.TakeProfit)
	assert.True(t, f.feed.isActive("BTCUSDT"), "converted symbol stays subscribed")

	e.ApplyCandle("BTCUSDT", price(100.6), t0.Add(3*time.Minute))
	assert.Equal(t, 100.06, e.Positions()[0].StopLoss)

	e.ApplyCandle("BTCUSDT", price(103), t0.Add(time.Hour))
	assert.Empty(t, e.Positions())
	require.Len(t, e.Ledger(), 1)
	assert.False(t, f.feed.isActive("BTCUSDT"))

	// A late update after close is a no-op.
	e.ApplyCandle("BTCUSDT", price(90), t0.Add(2*time.Hour))
	assert.Len(t, e.Ledger(), 1)

	assert.Equal(t, []domain.EventKind{
		domain.EventAnomalyAdded,
		domain.EventWatchlistRemoved,
		domain.EventPositionOpened,
		domain.EventBreakEvenPromoted,
		domain.EventPositionClosed,
	}, f.publisher.kinds())

	stats := e.Statistics()
	assert.Equal(t, 1, stats.TotalTrades)
	assert.Equal(t, 1, stats.ConvertedLeads)
	assert.Equal(t, 1.0, stats.ConversionRate)

	snap, err := f.repo.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Watchlist)
	assert.Empty(t, snap.Positions)
	assert.Len(t, snap.Ledger, 1)
	assert.Len(t, snap.Leads, 1)
}

func TestEngine_CancelNeverOpens(t *testing.T) {
	f := newEngineFixture(t, false)
	e := f.engine

	e.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	e.ApplyCandle("BTCUSDT", price(98), t0.Add(time.Minute))

	assert.Empty(t, e.Watchlist())
	assert.Empty(t, e.Positions())
	assert.False(t, f.feed.isActive("BTCUSDT"))
	leads := e.Leads()
	require.Len(t, leads, 1)
	assert.Equal(t, domain.LeadCancelled, leads[0].Result)
	assert.False(t, leads[0].Converted)
}

func TestEngine_SweepTimesOut(t *testing.T) {
	f := newEngineFixture(t, false)
	e := f.engine

	e.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	e.Sweep(t0.Add(6 * 15 * time.Minute))
	assert.Len(t, e.Watchlist(), 1)

	e.Sweep(t0.Add(7 * 15 * time.Minute))
	assert.Empty(t, e.Watchlist())
	assert.False(t, f.feed.isActive("BTCUSDT"))
	require.Len(t, e.Leads(), 1)
	assert.Equal(t, domain.LeadTimeout, e.Leads()[0].Result)
}

func TestEngine_UnsubscribesBeforeRemoving(t *testing.T) {
	f := newEngineFixture(t, false)
	e := f.engine

	e.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	e.ApplyCandle("BTCUSDT", price(98), t0.Add(time.Minute))
	assert.Equal(t, []string{"+BTCUSDT", "-BTCUSDT"}, f.feed.log)
}

func TestEngine_ConsolidationFailureDoesNotSubscribe(t *testing.T) {
	f := newEngineFixture(t, false)
	e := f.engine

	candles := window(8, 99.2, 900)
	candles[6].High = 103
	e.ApplyWindow("BTCUSDT", candles, t0)

	assert.Empty(t, e.Watchlist())
	assert.Empty(t, f.feed.log)
	require.Len(t, e.Leads(), 1)
	assert.Equal(t, domain.LeadConsolidationFailure, e.Leads()[0].Result)
	assert.Equal(t, []domain.EventKind{domain.EventWatchlistRemoved}, f.publisher.kinds())
}

func TestEngine_HaltsOnlyAffectedSymbol(t *testing.T) {
	f := newEngineFixture(t, false)
	e := f.engine

	_, err := f.positions.Open(openRequest("BTCUSDT", domain.SideLong, 100))
	require.NoError(t, err)
	e.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	assert.Empty(t, e.Watchlist(), "held symbols are not scanned")

	// A watchlist entry restored alongside an open position makes confirmation a contract violation.
	wl := usecase.NewWatchlistManager(watchlistConfig())
	a := pendingAnomaly("ETHUSDT", domain.SideLong, 100)
	a.WatchlistEnteredAt = t0
	a.EntryLevel, a.CancelLevel = 100.5, 99
	wl.Restore([]domain.PendingAnomaly{a}, nil)
	pm := usecase.NewPositionManager(positionConfig(false))
	_, err = pm.Open(openRequest("ETHUSDT", domain.SideLong, 100))
	require.NoError(t, err)

	feed := newFakeFeed()
	eng := usecase.NewEngine(usecase.EngineConfig{}, usecase.EngineDeps{
		Detector:  usecase.NewAnomalyDetector(detectorConfig(), nil),
		Watchlist: wl,
		Positions: pm,
		Feed:      feed,
	}, zap.NewNop())

	eng.ApplyCandle("ETHUSDT", price(101), t0.Add(time.Minute))
	assert.Contains(t, eng.Halted(), "ETHUSDT")

	eng.ApplyWindow("XRPUSDT", window(8, 99.2, 900), t0)
	assert.Len(t, eng.Watchlist(), 1, "other symbols keep running")

	eng.ApplyCandle("ETHUSDT", price(90), t0.Add(2*time.Minute))
	_, stillOpen := pm.Get("ETHUSDT")
	assert.True(t, stillOpen, "halted symbol ignores further prices")
}

func TestEngine_PersistFailureKeepsMemoryState(t *testing.T) {
	f := newEngineFixture(t, false)
	f.repo.failWith = errors.New("disk full")

	f.engine.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	assert.Len(t, f.engine.Watchlist(), 1)
}

func TestEngine_RestoreResubscribes(t *testing.T) {
	f := newEngineFixture(t, false)
	f.engine.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	f.engine.ApplyWindow("ETHUSDT", window(8, 99.2, 900), t0)
	f.engine.ApplyCandle("ETHUSDT", price(100), t0.Add(time.Minute))

	restarted := newEngineFixture(t, false)
	restarted.repo = f.repo
	restarted.engine = usecase.NewEngine(usecase.EngineConfig{}, usecase.EngineDeps{
		Detector:  usecase.NewAnomalyDetector(detectorConfig(), nil),
		Watchlist: usecase.NewWatchlistManager(watchlistConfig()),
		Positions: restarted.positions,
		Feed:      restarted.feed,
		Repo:      f.repo,
	}, zap.NewNop())

	require.NoError(t, restarted.engine.Restore(context.Background()))
	assert.Equal(t, f.engine.Watchlist(), restarted.engine.Watchlist())
	assert.Equal(t, f.engine.Positions(), restarted.engine.Positions())
	assert.Equal(t, f.engine.Leads(), restarted.engine.Leads())
	assert.True(t, restarted.feed.isActive("BTCUSDT"))
	assert.True(t, restarted.feed.isActive("ETHUSDT"))
}

func TestEngine_RestoreKeepsCooldown(t *testing.T) {
	f := newEngineFixture(t, false)
	f.engine.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0)
	f.engine.ApplyCandle("BTCUSDT", price(98), t0.Add(time.Minute))
	f.engine.ApplyWindow("ETHUSDT", window(8, 99.2, 900), t0)
	require.Len(t, f.engine.Watchlist(), 1)

	detector := usecase.NewAnomalyDetector(detectorConfig(), nil)
	restarted := usecase.NewEngine(usecase.EngineConfig{}, usecase.EngineDeps{
		Detector:  detector,
		Watchlist: usecase.NewWatchlistManager(watchlistConfig()),
		Positions: usecase.NewPositionManager(positionConfig(false)),
		Feed:      newFakeFeed(),
		Repo:      f.repo,
	}, zap.NewNop())
	require.NoError(t, restarted.Restore(context.Background()))

	until, ok := detector.Cooldowns().Until("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), until)
	assert.True(t, detector.Cooldowns().Active("ETHUSDT", t0.Add(time.Minute)))

	// The cancelled symbol is not re-flagged by the same spike after a restart.
	restarted.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0.Add(2*time.Minute))
	assert.Len(t, restarted.Watchlist(), 1)
	assert.Equal(t, "ETHUSDT", restarted.Watchlist()[0].Symbol)

	restarted.ApplyWindow("BTCUSDT", window(8, 99.2, 900), t0.Add(time.Hour))
	assert.Len(t, restarted.Watchlist(), 2)
}

func TestEngine_AttachQueuesCandlesBeforeRun(t *testing.T) {
	f := newEngineFixture(t, false)
	f.engine.ApplyWindow("BTCUSDT", window(8, 99.2, 900), time.Now())
	require.Len(t, f.engine.Watchlist(), 1)

	feed := newFakeFeed()
	restarted := usecase.NewEngine(usecase.EngineConfig{}, usecase.EngineDeps{
		Detector:  usecase.NewAnomalyDetector(detectorConfig(), nil),
		Watchlist: usecase.NewWatchlistManager(watchlistConfig()),
		Positions: usecase.NewPositionManager(positionConfig(false)),
		Feed:      feed,
		Repo:      f.repo,
	}, zap.NewNop())
	require.NoError(t, restarted.Restore(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	restarted.Attach(ctx)
	// The feed may deliver a frame for a restored subscription before Run starts.
	feed.push("BTCUSDT", 100)

	done := make(chan error, 1)
	go func() { done <- restarted.Run(ctx) }()
	require.Eventually(t, func() bool { return len(restarted.Positions()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 100.0, restarted.Positions()[0].EntryPrice)
	assert.Equal(t, time.UTC, restarted.Positions()[0].EntryTime.Location())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEngine_RunProcessesFeedInOrder(t *testing.T) {
	f := newEngineFixture(t, true)
	e := f.engine

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, e.SubmitWindow(ctx, "BTCUSDT", window(8, 99.2, 900)))
	require.Eventually(t, func() bool { return len(e.Watchlist()) == 1 }, time.Second, 5*time.Millisecond)

	f.feed.push("BTCUSDT", 100)
	f.feed.push("BTCUSDT", 100.2)
	f.feed.push("BTCUSDT", 105)
	f.feed.push("BTCUSDT", 110)
	require.Eventually(t, func() bool { return len(e.Ledger()) == 1 }, time.Second, 5*time.Millisecond)

	trade := e.Ledger()[0]
	assert.Equal(t, domain.CloseTakeProfit, trade.CloseReason)
	for _, l := range trade.Position.Levels {
		assert.True(t, l.Executed)
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
