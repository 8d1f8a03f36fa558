package domain

import "github.com/shopspring/decimal"

// Token holds the running aggregates of a single token contract.
// Corresponds to tokens table in PostgreSQL.
type Token struct {
	Address  string // token contract address (primary key)
	Name     string // immutable once set
	Symbol   string // immutable once set
	Decimals uint8  // immutable once set

	TotalSupply decimal.Decimal // TotalMinted - TotalBurned
	TotalMinted decimal.Decimal
	TotalBurned decimal.Decimal

	TransferCount uint64
	MintCount     uint64
	BurnCount     uint64

	CurrentHolderCount    int64 // accounts with strictly positive balance
	CumulativeHolderCount int64 // accounts that ever held a positive balance; never decremented

	CreatedBlock uint64 // block of the first event referencing the token
	UpdatedBlock uint64 // block of the last applied event
}

// TokenMetadata is the immutable descriptive part of a token.
type TokenMetadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// NewToken returns a token with all counters zeroed.
func NewToken(address string, meta TokenMetadata) *Token {
	return &Token{
		Address:     address,
		Name:        meta.Name,
		Symbol:      meta.Symbol,
		Decimals:    meta.Decimals,
		TotalSupply: decimal.Zero,
		TotalMinted: decimal.Zero,
		TotalBurned: decimal.Zero,
	}
}
