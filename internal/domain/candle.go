package domain

import "time"

// Candle is one OHLCV bar. Closed is false for bars still forming on the push stream.
type Candle struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
	Closed    bool      `json:"closed"`
}

// AvgPrice is the (open+close)/2 midpoint used for price deviation.
func (c Candle) AvgPrice() float64 {
	return (c.Open + c.Close) / 2
}

// ClosedOnly filters out candles that are still forming, keeping order.
func ClosedOnly(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Closed {
			out = append(out, c)
		}
	}
	return out
}
