package domain

import "errors"

var (
	// ErrSymbolNotFound marks a permanent data-source failure: the symbol is not tradeable.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrTransient marks a retryable data-source failure (timeout, rate limit).
	ErrTransient = errors.New("transient data source error")

	ErrPositionExists  = errors.New("position already open")
	ErrAlreadyPending  = errors.New("symbol already on watchlist")
	ErrInvalidPosition = errors.New("invalid position")
	ErrUnknownSymbol   = errors.New("unknown symbol")
)
