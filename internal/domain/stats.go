package domain

import "time"

// TradeSummary identifies a notable trade in the statistics.
type TradeSummary struct {
	PositionID        string        `json:"position_id"`
	Symbol            string        `json:"symbol"`
	Side              Side          `json:"side"`
	ProfitLoss        float64       `json:"profit_loss"`
	ProfitLossPercent float64       `json:"profit_loss_percent"`
	Duration          time.Duration `json:"duration"`
	ExitTime          time.Time     `json:"exit_time"`
}

// Statistics aggregates the closed-trade ledger and lead outcomes.
type Statistics struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	TakeProfitCount int     `json:"take_profit_count"`
	StopLossCount   int     `json:"stop_loss_count"`

	TotalProfit          float64 `json:"total_profit"`
	AverageProfit        float64 `json:"average_profit"`
	AverageProfitPercent float64 `json:"average_profit_percent"`
	TotalCommission      float64 `json:"total_commission"`

	BestTrade     *TradeSummary `json:"best_trade,omitempty"`
	WorstTrade    *TradeSummary `json:"worst_trade,omitempty"`
	LongestTrade  *TradeSummary `json:"longest_trade,omitempty"`
	ShortestTrade *TradeSummary `json:"shortest_trade,omitempty"`

	TotalLeads          int                `json:"total_leads"`
	ConvertedLeads      int                `json:"converted_leads"`
	ConversionRate      float64            `json:"conversion_rate"`
	AverageLeadLifetime time.Duration      `json:"average_lead_lifetime"`
	LeadsByResult       map[LeadResult]int `json:"leads_by_result"`
}
