package aggregation

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"token-rollup/internal/domain"
	"token-rollup/internal/storage"
)

// MetadataResolver supplies the immutable descriptive fields of a token
// the first time the token is seen.
type MetadataResolver interface {
	Resolve(ctx context.Context, token string) (domain.TokenMetadata, error)
}

// StaticMetadata resolves every token to the same fixed metadata.
type StaticMetadata domain.TokenMetadata

// Resolve implements MetadataResolver.
func (m StaticMetadata) Resolve(_ context.Context, _ string) (domain.TokenMetadata, error) {
	return domain.TokenMetadata(m), nil
}

// Side identifies which end of a transfer a balance belongs to.
type Side int

const (
	SideSender Side = iota
	SideReceiver
)

// TokenManager maintains per-token counters.
type TokenManager struct {
	tokens   storage.TokenStore
	metadata MetadataResolver
}

// NewTokenManager creates a token manager. A nil resolver seeds empty metadata.
func NewTokenManager(tokens storage.TokenStore, metadata MetadataResolver) *TokenManager {
	if metadata == nil {
		metadata = StaticMetadata{}
	}
	return &TokenManager{tokens: tokens, metadata: metadata}
}

// GetOrCreate loads a token, creating it with zeroed counters if missing.
// blockNumber is recorded as CreatedBlock for new tokens.
func (m *TokenManager) GetOrCreate(ctx context.Context, address string, blockNumber uint64) (*domain.Token, error) {
	token, err := m.tokens.Get(ctx, address)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	meta, err := m.metadata.Resolve(ctx, address)
	if err != nil {
		return nil, err
	}

	token = domain.NewToken(address, meta)
	token.CreatedBlock = blockNumber
	return token, nil
}

// Commit persists the token.
func (m *TokenManager) Commit(ctx context.Context, t *domain.Token) error {
	return m.tokens.Upsert(ctx, t)
}

// RecordTransfer counts one applied transfer.
func (m *TokenManager) RecordTransfer(t *domain.Token) {
	t.TransferCount++
}

// RecordMint counts a mint and adds amount to the minted total and supply.
func (m *TokenManager) RecordMint(t *domain.Token, amount decimal.Decimal) {
	t.MintCount++
	t.TotalMinted = t.TotalMinted.Add(amount)
	t.TotalSupply = t.TotalSupply.Add(amount)
}

// RecordBurn counts a burn, adds amount to the burned total and removes it from supply.
func (m *TokenManager) RecordBurn(t *domain.Token, amount decimal.Decimal) {
	t.BurnCount++
	t.TotalBurned = t.TotalBurned.Add(amount)
	t.TotalSupply = t.TotalSupply.Sub(amount)
}

// AdjustHolderCount applies the holder transition of one balance, given its
// positive state before and after the event's delta.
// Sender side: positive to non-positive decrements currentHolderCount.
// Receiver side: non-positive to positive increments both holder counts.
// Returns a violation if currentHolderCount becomes negative.
func (m *TokenManager) AdjustHolderCount(t *domain.Token, wasPositive, isPositive bool, side Side) *Violation {
	switch side {
	case SideSender:
		if wasPositive && !isPositive {
			t.CurrentHolderCount--
		}
	case SideReceiver:
		if !wasPositive && isPositive {
			t.CurrentHolderCount++
			t.CumulativeHolderCount++
		}
	}

	if t.CurrentHolderCount < 0 {
		return &Violation{
			Kind:  ViolationNegativeHolderCount,
			Token: t.Address,
			Value: strconv.FormatInt(t.CurrentHolderCount, 10),
		}
	}
	return nil
}

// Classify reports whether a transfer is a mint or a burn.
// A transfer between two zero addresses is neither.
func Classify(from, to string) (isMint, isBurn bool) {
	fromZero := domain.IsZeroAddress(from)
	toZero := domain.IsZeroAddress(to)
	return fromZero && !toZero, toZero && !fromZero
}
