package verification

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// InvariantViolation describes an aggregate invariant that does not hold.
type InvariantViolation struct {
	Token  string
	Rule   string
	Detail string
}

func (v InvariantViolation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Token, v.Rule, v.Detail)
}

// Invariant rule names.
const (
	RuleSupplyEquation    = "total_supply_equals_minted_minus_burned"
	RuleBalanceSum        = "balances_sum_to_total_supply"
	RuleHolderCount       = "current_holders_match_positive_balances"
	RuleHolderBound       = "current_holders_within_cumulative"
	RuleNegativeBalance   = "balance_non_negative"
	RuleClassifiedCounts  = "mints_and_burns_within_transfers"
	RuleTransferRecords   = "transfer_records_match_transfer_count"
	RuleSnapshotTotals    = "snapshot_counters_sum_to_token_totals"
	RuleLatestSnapshot    = "latest_snapshot_mirrors_token"
	RuleSnapshotMonotonic = "snapshot_cumulative_holders_non_decreasing"
)

// CheckInvariants evaluates every aggregate invariant over the store.
func CheckInvariants(ctx context.Context, store storage.Aggregates) ([]InvariantViolation, error) {
	tokens, err := store.Tokens().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}

	transfers, err := store.Transfers().ListOrdered(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	records := make(map[string]uint64)
	for _, t := range transfers {
		records[t.Token]++
	}

	var out []InvariantViolation
	for _, token := range tokens {
		balances, err := store.Balances().ListByToken(ctx, token.Address)
		if err != nil {
			return nil, fmt.Errorf("list balances of %s: %w", token.Address, err)
		}
		snaps, err := store.Snapshots().ListByToken(ctx, token.Address)
		if err != nil {
			return nil, fmt.Errorf("list snapshots of %s: %w", token.Address, err)
		}
		out = append(out, checkToken(token, balances, snaps, records[token.Address])...)
	}
	return out, nil
}

func checkToken(token *domain.Token, balances []*domain.AccountBalance, snaps []*domain.TokenDailySnapshot, records uint64) []InvariantViolation {
	var out []InvariantViolation
	violate := func(rule, format string, args ...interface{}) {
		out = append(out, InvariantViolation{Token: token.Address, Rule: rule, Detail: fmt.Sprintf(format, args...)})
	}

	if expected := token.TotalMinted.Sub(token.TotalBurned); !token.TotalSupply.Equal(expected) {
		violate(RuleSupplyEquation, "supply %s, minted-burned %s", token.TotalSupply, expected)
	}

	sum := decimal.Zero
	var positive int64
	for _, b := range balances {
		sum = sum.Add(b.Amount)
		if b.Amount.IsPositive() {
			positive++
		}
		if b.Amount.IsNegative() {
			violate(RuleNegativeBalance, "%s holds %s", b.Account, b.Amount)
		}
	}
	if !sum.Equal(token.TotalSupply) {
		violate(RuleBalanceSum, "balances %s, supply %s", sum, token.TotalSupply)
	}
	if positive != token.CurrentHolderCount {
		violate(RuleHolderCount, "positive balances %d, current holders %d", positive, token.CurrentHolderCount)
	}
	if token.CurrentHolderCount > token.CumulativeHolderCount {
		violate(RuleHolderBound, "current %d > cumulative %d", token.CurrentHolderCount, token.CumulativeHolderCount)
	}
	if token.MintCount+token.BurnCount > token.TransferCount {
		violate(RuleClassifiedCounts, "mints %d + burns %d > transfers %d", token.MintCount, token.BurnCount, token.TransferCount)
	}
	if records != token.TransferCount {
		violate(RuleTransferRecords, "records %d, transfer count %d", records, token.TransferCount)
	}

	if len(snaps) == 0 {
		return out
	}

	var transfersSum, mintsSum, burnsSum uint64
	minted, burned := decimal.Zero, decimal.Zero
	var lastCumulative int64
	for i, s := range snaps {
		transfersSum += s.DailyTransferCount
		mintsSum += s.DailyMintCount
		burnsSum += s.DailyBurnCount
		minted = minted.Add(s.DailyMintAmount)
		burned = burned.Add(s.DailyBurnAmount)
		if i > 0 && s.CumulativeHolderCount < lastCumulative {
			violate(RuleSnapshotMonotonic, "day %d has %d after %d", s.DayID, s.CumulativeHolderCount, lastCumulative)
		}
		lastCumulative = s.CumulativeHolderCount
	}
	if transfersSum != token.TransferCount || mintsSum != token.MintCount || burnsSum != token.BurnCount {
		violate(RuleSnapshotTotals, "daily counts %d/%d/%d, token counts %d/%d/%d",
			transfersSum, mintsSum, burnsSum, token.TransferCount, token.MintCount, token.BurnCount)
	}
	if !minted.Equal(token.TotalMinted) || !burned.Equal(token.TotalBurned) {
		violate(RuleSnapshotTotals, "daily minted %s burned %s, token minted %s burned %s",
			minted, burned, token.TotalMinted, token.TotalBurned)
	}

	last := snaps[len(snaps)-1]
	if !last.DailyTotalSupply.Equal(token.TotalSupply) ||
		last.CurrentHolderCount != token.CurrentHolderCount ||
		last.CumulativeHolderCount != token.CumulativeHolderCount {
		violate(RuleLatestSnapshot, "day %d mirrors supply %s holders %d/%d, token %s %d/%d",
			last.DayID, last.DailyTotalSupply, last.CurrentHolderCount, last.CumulativeHolderCount,
			token.TotalSupply, token.CurrentHolderCount, token.CumulativeHolderCount)
	}
	return out
}
