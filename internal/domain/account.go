package domain

import "github.com/shopspring/decimal"

// Account is an address that appeared as sender or receiver of a transfer.
// It carries no state beyond its identity.
type Account struct {
	Address string
}

// AccountBalance is the running balance of one account for one token.
// Corresponds to account_balances table in PostgreSQL.
type AccountBalance struct {
	ID          string          // idhash.BalanceKey(Account, Token)
	Account     string          // account address
	Token       string          // token address
	Amount      decimal.Decimal // signed; negative only under corrupted input
	BlockNumber uint64          // block of the last update
}

// IsPositive reports whether the balance is strictly positive.
func (b *AccountBalance) IsPositive() bool {
	return b.Amount.IsPositive()
}
