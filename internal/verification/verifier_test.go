package verification

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-rollup/internal/aggregation"
	"token-rollup/internal/domain"
	"token-rollup/internal/idhash"
	"token-rollup/internal/observability"
	"token-rollup/internal/storage/memory"
)

const (
	tokenAddr = "0x00000000000000000000000000000000000000aa"
	addrX     = "0x1111111111111111111111111111111111111111"
	addrY     = "0x2222222222222222222222222222222222222222"
	addrZ     = "0x3333333333333333333333333333333333333333"
)

func transfer(block uint64, ts int64, from, to string, amount int64) *domain.TransferLog {
	return &domain.TransferLog{
		TxHash:      "0xfeed" + decimal.NewFromInt(int64(block)).String(),
		LogIndex:    0,
		TxNonce:     block,
		BlockNumber: block,
		Timestamp:   ts,
		Token:       tokenAddr,
		From:        from,
		To:          to,
		Amount:      decimal.NewNullDecimal(decimal.NewFromInt(amount)),
	}
}

// populatedStore applies a mint, a transfer, a self-transfer and a burn over two days.
func populatedStore(t *testing.T) *memory.AggregateStore {
	t.Helper()
	store := memory.NewAggregateStore()
	p := aggregation.NewProcessor(aggregation.ProcessorOptions{
		Store:    store,
		Metadata: aggregation.StaticMetadata{Name: "dFusion", Symbol: "VFSN", Decimals: 18},
	})

	logs := []*domain.TransferLog{
		transfer(1, 100, domain.ZeroAddress, addrX, 100),
		transfer(2, 200, addrX, addrY, 30),
		transfer(3, 86405, addrY, addrY, 10),
		transfer(4, 86500, addrY, domain.ZeroAddress, 5),
	}
	for _, l := range logs {
		_, err := p.Process(context.Background(), l)
		require.NoError(t, err)
	}
	return store
}

func newVerifier(store *memory.AggregateStore) (*ReplayVerifier, *observability.Metrics) {
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	return NewReplayVerifier(ReplayVerifierOptions{Store: store, Metrics: metrics}), metrics
}

func TestReplayVerifier_ConsistentStore(t *testing.T) {
	store := populatedStore(t)
	v, metrics := newVerifier(store)

	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Match(), "divergences: %v, violations: %v", report.Divergences, report.Violations)
	assert.Equal(t, 4, report.TransfersReplayed)
	assert.Equal(t, 1, report.TokensChecked)
	assert.Equal(t, 3, report.BalancesChecked) // zero address, X, Y
	assert.Equal(t, 2, report.SnapshotsChecked)
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.ReplayDivergences))
}

func TestReplayVerifier_EmptyStore(t *testing.T) {
	v, _ := newVerifier(memory.NewAggregateStore())

	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Match())
	assert.Zero(t, report.TransfersReplayed)
}

func TestReplayVerifier_TamperedBalance(t *testing.T) {
	ctx := context.Background()
	store := populatedStore(t)

	bal, err := store.Balances().Get(ctx, idhash.BalanceKey(addrX, tokenAddr))
	require.NoError(t, err)
	bal.Amount = decimal.NewFromInt(71)
	require.NoError(t, store.Balances().Upsert(ctx, bal))

	v, metrics := newVerifier(store)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	assert.False(t, report.Match())
	require.Len(t, report.Divergences, 1)
	d := report.Divergences[0]
	assert.Equal(t, "balance", d.Entity)
	assert.Equal(t, bal.ID, d.Key)
	assert.Equal(t, "Amount", d.Field)
	assert.Equal(t, "70", d.Expected)
	assert.Equal(t, "71", d.Actual)

	rules := violatedRules(report.Violations)
	assert.Contains(t, rules, RuleBalanceSum)
	assert.Equal(t, float64(len(report.Divergences)+len(report.Violations)), testutil.ToFloat64(metrics.ReplayDivergences))
}

func TestReplayVerifier_UnexpectedBalance(t *testing.T) {
	ctx := context.Background()
	store := populatedStore(t)

	extra := &domain.AccountBalance{
		ID:      idhash.BalanceKey(addrZ, tokenAddr),
		Account: addrZ,
		Token:   tokenAddr,
		Amount:  decimal.Zero,
	}
	require.NoError(t, store.Balances().Upsert(ctx, extra))

	v, _ := newVerifier(store)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	require.Len(t, report.Divergences, 1)
	assert.Equal(t, missing("balance", extra.ID, false), report.Divergences[0])
	assert.Empty(t, report.Violations)
}

func TestReplayVerifier_TamperedToken(t *testing.T) {
	ctx := context.Background()
	store := populatedStore(t)

	token, err := store.Tokens().Get(ctx, tokenAddr)
	require.NoError(t, err)
	token.CurrentHolderCount = 5
	require.NoError(t, store.Tokens().Upsert(ctx, token))

	v, _ := newVerifier(store)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	require.Len(t, report.Divergences, 1)
	assert.Equal(t, "CurrentHolderCount", report.Divergences[0].Field)
	assert.Equal(t, "2", report.Divergences[0].Expected)
	assert.Equal(t, "5", report.Divergences[0].Actual)

	rules := violatedRules(report.Violations)
	assert.Contains(t, rules, RuleHolderCount)
	assert.Contains(t, rules, RuleHolderBound)
	assert.Contains(t, rules, RuleLatestSnapshot)
}

func TestReplayVerifier_TamperedSnapshot(t *testing.T) {
	ctx := context.Background()
	store := populatedStore(t)

	snaps, err := store.Snapshots().ListByToken(ctx, tokenAddr)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	snaps[0].DailyMintCount = 3
	require.NoError(t, store.Snapshots().Upsert(ctx, snaps[0]))

	v, _ := newVerifier(store)
	report, err := v.VerifyAll(ctx)
	require.NoError(t, err)

	require.Len(t, report.Divergences, 1)
	assert.Equal(t, "snapshot", report.Divergences[0].Entity)
	assert.Equal(t, "DailyMintCount", report.Divergences[0].Field)
	assert.Contains(t, violatedRules(report.Violations), RuleSnapshotTotals)
}

func TestCheckInvariants_ConsistentStore(t *testing.T) {
	violations, err := CheckInvariants(context.Background(), populatedStore(t))
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestCheckToken(t *testing.T) {
	base := func() *domain.Token {
		tok := domain.NewToken(tokenAddr, domain.TokenMetadata{})
		tok.TotalMinted = decimal.NewFromInt(10)
		tok.TotalSupply = decimal.NewFromInt(10)
		tok.TransferCount = 1
		tok.MintCount = 1
		tok.CurrentHolderCount = 1
		tok.CumulativeHolderCount = 1
		return tok
	}
	balance := func(account string, amount int64) *domain.AccountBalance {
		return &domain.AccountBalance{
			ID:      idhash.BalanceKey(account, tokenAddr),
			Account: account,
			Token:   tokenAddr,
			Amount:  decimal.NewFromInt(amount),
		}
	}

	tests := []struct {
		name     string
		mutate   func(*domain.Token)
		balances []*domain.AccountBalance
		records  uint64
		want     []string
	}{
		{
			name:     "consistent",
			balances: []*domain.AccountBalance{balance(domain.ZeroAddress, 0), balance(addrX, 10)},
			records:  1,
		},
		{
			name:     "supply equation",
			mutate:   func(tok *domain.Token) { tok.TotalBurned = decimal.NewFromInt(1) },
			balances: []*domain.AccountBalance{balance(addrX, 10)},
			records:  1,
			want:     []string{RuleSupplyEquation},
		},
		{
			name:     "negative balance",
			balances: []*domain.AccountBalance{balance(addrX, 12), balance(addrY, -2)},
			records:  1,
			want:     []string{RuleNegativeBalance},
		},
		{
			name:     "classified counts",
			mutate:   func(tok *domain.Token) { tok.BurnCount = 1 },
			balances: []*domain.AccountBalance{balance(addrX, 10)},
			records:  1,
			want:     []string{RuleClassifiedCounts},
		},
		{
			name:     "missing transfer records",
			balances: []*domain.AccountBalance{balance(addrX, 10)},
			want:     []string{RuleTransferRecords},
		},
		{
			name:     "holder count",
			balances: []*domain.AccountBalance{balance(addrX, 5), balance(addrY, 5)},
			records:  1,
			want:     []string{RuleHolderCount},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := base()
			if tt.mutate != nil {
				tt.mutate(tok)
			}
			got := violatedRules(checkToken(tok, tt.balances, nil, tt.records))
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestCheckToken_SnapshotMonotonic(t *testing.T) {
	tok := domain.NewToken(tokenAddr, domain.TokenMetadata{})
	snaps := []*domain.TokenDailySnapshot{
		{DayID: 0, CumulativeHolderCount: 2},
		{DayID: 1, CumulativeHolderCount: 1},
	}
	// Holder counts are zero on the token, so the latest snapshot also disagrees.
	rules := violatedRules(checkToken(tok, nil, snaps, 0))
	assert.Contains(t, rules, RuleSnapshotMonotonic)
	assert.Contains(t, rules, RuleLatestSnapshot)
}

func TestFieldDivergence_String(t *testing.T) {
	d := FieldDivergence{Entity: "token", Key: tokenAddr, Field: "TotalSupply", Expected: "10", Actual: "11"}
	assert.Equal(t, "token "+tokenAddr+": TotalSupply expected 10, got 11", d.String())
}

func violatedRules(vs []InvariantViolation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}
