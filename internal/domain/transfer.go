package domain

import "github.com/shopspring/decimal"

// TransferLog is a raw ERC-20 Transfer log as delivered by an event source.
// Amount is nullable so that a missing value can be told apart from zero.
type TransferLog struct {
	TxHash      string              // transaction hash
	LogIndex    uint32              // index of the log within the block
	TxNonce     uint64              // sender nonce of the transaction
	BlockNumber uint64              // block height
	Timestamp   int64               // block timestamp (unix seconds)
	Token       string              // emitting contract address
	From        string              // sender
	To          string              // receiver
	Amount      decimal.NullDecimal // transferred value
	Removed     bool                // set by live feeds when the log was reorged out
}

// Position returns the chain position of the log.
func (l *TransferLog) Position() Position {
	return Position{BlockNumber: l.BlockNumber, LogIndex: l.LogIndex}
}

// TransferEvent is the immutable record of one applied transfer.
// Corresponds to transfer_events table in PostgreSQL.
type TransferEvent struct {
	ID          string // idhash.TransferRecordKey(TxHash, LogIndex)
	TxHash      string
	LogIndex    uint32
	Nonce       uint64
	Token       string
	From        string
	To          string
	Amount      decimal.Decimal
	BlockNumber uint64
	Timestamp   int64
}

// Log converts the record back into the raw log it was created from.
func (e *TransferEvent) Log() *TransferLog {
	return &TransferLog{
		TxHash:      e.TxHash,
		LogIndex:    e.LogIndex,
		TxNonce:     e.Nonce,
		BlockNumber: e.BlockNumber,
		Timestamp:   e.Timestamp,
		Token:       e.Token,
		From:        e.From,
		To:          e.To,
		Amount:      decimal.NewNullDecimal(e.Amount),
	}
}

// Position identifies a log in canonical chain order.
type Position struct {
	BlockNumber uint64
	LogIndex    uint32
}

// Compare returns -1, 0 or 1 ordering by (block ASC, log index ASC).
func (p Position) Compare(o Position) int {
	switch {
	case p.BlockNumber < o.BlockNumber:
		return -1
	case p.BlockNumber > o.BlockNumber:
		return 1
	case p.LogIndex < o.LogIndex:
		return -1
	case p.LogIndex > o.LogIndex:
		return 1
	}
	return 0
}
