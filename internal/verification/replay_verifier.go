package verification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"token-rollup/internal/aggregation"
	"token-rollup/internal/domain"
	"token-rollup/internal/observability"
	"token-rollup/internal/storage"
	"token-rollup/internal/storage/memory"
)

// ReplayVerifier implements Verifier by re-applying every stored transfer
// record to an empty in-memory store and diffing the result.
type ReplayVerifier struct {
	store   storage.AggregateStore
	metrics *observability.Metrics
	logger  *zap.Logger
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Store   storage.AggregateStore
	Metrics *observability.Metrics // optional
	Logger  *zap.Logger
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReplayVerifier{store: opts.Store, metrics: opts.Metrics, logger: logger}
}

// Compile-time interface check.
var _ Verifier = (*ReplayVerifier)(nil)

// storedMetadata seeds replayed tokens with the metadata already stored,
// so that the replay does not depend on external calls.
type storedMetadata struct {
	tokens storage.TokenStore
}

func (m storedMetadata) Resolve(ctx context.Context, token string) (domain.TokenMetadata, error) {
	t, err := m.tokens.Get(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.TokenMetadata{}, nil
	}
	if err != nil {
		return domain.TokenMetadata{}, err
	}
	return domain.TokenMetadata{Name: t.Name, Symbol: t.Symbol, Decimals: t.Decimals}, nil
}

// VerifyAll replays all transfer records and compares tokens, balances and
// snapshots with the store. Invariants are checked on the stored state.
func (v *ReplayVerifier) VerifyAll(ctx context.Context) (*VerificationReport, error) {
	replayed, n, err := v.replay(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerificationReport{TransfersReplayed: n}

	if err := v.compare(ctx, replayed, report); err != nil {
		return nil, err
	}

	violations, err := CheckInvariants(ctx, v.store)
	if err != nil {
		return nil, fmt.Errorf("check invariants: %w", err)
	}
	report.Violations = violations

	for _, d := range report.Divergences {
		v.logger.Warn("replay divergence",
			zap.String("entity", d.Entity),
			zap.String("key", d.Key),
			zap.String("field", d.Field),
			zap.String("expected", d.Expected),
			zap.String("actual", d.Actual))
	}
	for _, iv := range report.Violations {
		v.logger.Warn("invariant violated",
			zap.String("token", iv.Token),
			zap.String("rule", iv.Rule),
			zap.String("detail", iv.Detail))
	}
	if v.metrics != nil {
		v.metrics.ReplayDivergences.Set(float64(len(report.Divergences) + len(report.Violations)))
	}

	v.logger.Info("verification complete",
		zap.Int("transfers", report.TransfersReplayed),
		zap.Int("tokens", report.TokensChecked),
		zap.Int("balances", report.BalancesChecked),
		zap.Int("snapshots", report.SnapshotsChecked),
		zap.Int("divergences", len(report.Divergences)),
		zap.Int("violations", len(report.Violations)))
	return report, nil
}

// replay rebuilds aggregates from the stored transfer records.
func (v *ReplayVerifier) replay(ctx context.Context) (*memory.AggregateStore, int, error) {
	records, err := v.store.Transfers().ListOrdered(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list transfers: %w", err)
	}

	fresh := memory.NewAggregateStore()
	processor := aggregation.NewProcessor(aggregation.ProcessorOptions{
		Store:            fresh,
		Metadata:         storedMetadata{tokens: v.store.Tokens()},
		Logger:           v.logger.Named("replay"),
		DisableWatermark: true,
	})

	for _, rec := range records {
		if _, err := processor.Process(ctx, rec.Log()); err != nil {
			return nil, 0, fmt.Errorf("replay %s: %w", rec.ID, err)
		}
	}
	return fresh, len(records), nil
}

func (v *ReplayVerifier) compare(ctx context.Context, replayed storage.Aggregates, report *VerificationReport) error {
	stored, err := v.store.Tokens().List(ctx)
	if err != nil {
		return fmt.Errorf("list stored tokens: %w", err)
	}
	rebuilt, err := replayed.Tokens().List(ctx)
	if err != nil {
		return fmt.Errorf("list replayed tokens: %w", err)
	}

	storedByAddr := make(map[string]*domain.Token, len(stored))
	for _, t := range stored {
		storedByAddr[t.Address] = t
	}

	for _, r := range rebuilt {
		report.TokensChecked++
		s, ok := storedByAddr[r.Address]
		if !ok {
			report.Divergences = append(report.Divergences, missing("token", r.Address, true))
			continue
		}
		delete(storedByAddr, r.Address)
		report.Divergences = append(report.Divergences, CompareTokens(r, s)...)

		if err := v.compareBalances(ctx, replayed, r.Address, report); err != nil {
			return err
		}
		if err := v.compareSnapshots(ctx, replayed, r.Address, report); err != nil {
			return err
		}
	}
	for addr := range storedByAddr {
		report.Divergences = append(report.Divergences, missing("token", addr, false))
	}
	return nil
}

func (v *ReplayVerifier) compareBalances(ctx context.Context, replayed storage.Aggregates, token string, report *VerificationReport) error {
	stored, err := v.store.Balances().ListByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("list stored balances: %w", err)
	}
	rebuilt, err := replayed.Balances().ListByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("list replayed balances: %w", err)
	}

	byID := make(map[string]*domain.AccountBalance, len(stored))
	for _, b := range stored {
		byID[b.ID] = b
	}
	for _, r := range rebuilt {
		report.BalancesChecked++
		s, ok := byID[r.ID]
		if !ok {
			report.Divergences = append(report.Divergences, missing("balance", r.ID, true))
			continue
		}
		delete(byID, r.ID)
		report.Divergences = append(report.Divergences, CompareBalances(r, s)...)
	}
	for id := range byID {
		report.Divergences = append(report.Divergences, missing("balance", id, false))
	}
	return nil
}

func (v *ReplayVerifier) compareSnapshots(ctx context.Context, replayed storage.Aggregates, token string, report *VerificationReport) error {
	stored, err := v.store.Snapshots().ListByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("list stored snapshots: %w", err)
	}
	rebuilt, err := replayed.Snapshots().ListByToken(ctx, token)
	if err != nil {
		return fmt.Errorf("list replayed snapshots: %w", err)
	}

	byID := make(map[string]*domain.TokenDailySnapshot, len(stored))
	for _, s := range stored {
		byID[s.ID] = s
	}
	for _, r := range rebuilt {
		report.SnapshotsChecked++
		s, ok := byID[r.ID]
		if !ok {
			report.Divergences = append(report.Divergences, missing("snapshot", r.ID, true))
			continue
		}
		delete(byID, r.ID)
		report.Divergences = append(report.Divergences, CompareSnapshots(r, s)...)
	}
	for id := range byID {
		report.Divergences = append(report.Divergences, missing("snapshot", id, false))
	}
	return nil
}
