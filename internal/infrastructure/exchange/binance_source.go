package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

const (
	BinanceBaseURL = "https://api.binance.com"
	BinanceWSURL   = "wss://stream.binance.com:9443/ws"

	// codeInvalidSymbol is Binance's "Invalid symbol." error.
	codeInvalidSymbol = -1121
)

// BinanceSource serves the slow path from the Binance spot REST API.
type BinanceSource struct {
	client   *binance.Client
	interval string
	now      func() time.Time
}

func NewBinanceSource(apiKey, apiSecret, baseURL, interval string) *BinanceSource {
	client := binance.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceSource{
		client:   client,
		interval: interval,
		now:      time.Now,
	}
}

// FetchHistoricalCandles returns candles oldest first. A candle whose close time is still
// in the future is marked as not closed.
func (b *BinanceSource) FetchHistoricalCandles(ctx context.Context, symbol string, since time.Time, limit int) ([]domain.Candle, error) {
	svc := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(b.interval).
		Limit(limit)
	if !since.IsZero() {
		svc = svc.StartTime(since.UnixMilli())
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, classify(symbol, err)
	}

	nowMs := b.now().UnixMilli()
	candles := make([]domain.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, domain.Candle{
			OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime).UTC(),
			Closed:    k.CloseTime < nowMs,
		})
	}
	return candles, nil
}

func (b *BinanceSource) ListInstruments(ctx context.Context) ([]domain.Instrument, error) {
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, classify("", err)
	}

	instruments := make([]domain.Instrument, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		instruments = append(instruments, domain.Instrument{
			Symbol:    s.Symbol,
			BaseCoin:  s.BaseAsset,
			QuoteCoin: s.QuoteAsset,
			Status:    s.Status,
		})
	}
	return instruments, nil
}

// classify maps Binance errors onto the domain taxonomy. Everything that is not a
// known permanent rejection is treated as transient.
func classify(symbol string, err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol {
		return fmt.Errorf("binance %s: %s: %w", symbol, apiErr.Message, domain.ErrSymbolNotFound)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("binance %s: %v: %w", symbol, err, domain.ErrTransient)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
