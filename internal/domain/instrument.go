package domain

// Instrument describes a tradeable pair as reported by the exchange.
type Instrument struct {
	Symbol    string `json:"symbol"`
	BaseCoin  string `json:"base_coin"`
	QuoteCoin string `json:"quote_coin"`
	Status    string `json:"status"`
}

const InstrumentTrading = "TRADING"

func (i Instrument) Tradeable(quote string) bool {
	return i.Status == InstrumentTrading && (quote == "" || i.QuoteCoin == quote)
}
