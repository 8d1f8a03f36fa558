package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"unicode/utf8"

	"go.uber.org/zap"

	"token-rollup/internal/domain"
)

// ERC-20 metadata selectors.
const (
	selectorName     = "0x06fdde03"
	selectorSymbol   = "0x95d89b41"
	selectorDecimals = "0x313ce567"
)

// MetadataResolver reads ERC-20 name, symbol and decimals with eth_call.
// Fields that cannot be read fall back to the configured defaults.
type MetadataResolver struct {
	rpc      RPCClient
	fallback domain.TokenMetadata
	logger   *zap.Logger

	mu    sync.Mutex
	cache map[string]domain.TokenMetadata
}

// NewMetadataResolver creates a resolver. logger may be nil.
func NewMetadataResolver(rpc RPCClient, fallback domain.TokenMetadata, logger *zap.Logger) *MetadataResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataResolver{
		rpc:      rpc,
		fallback: fallback,
		logger:   logger,
		cache:    make(map[string]domain.TokenMetadata),
	}
}

// Resolve returns the token's metadata. It never fails; unreadable fields
// take the fallback values.
func (r *MetadataResolver) Resolve(ctx context.Context, token string) (domain.TokenMetadata, error) {
	r.mu.Lock()
	if m, ok := r.cache[token]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	meta := r.fallback

	if out, err := r.rpc.Call(ctx, token, selectorName); err == nil {
		if s, err := decodeString(out); err == nil && s != "" {
			meta.Name = s
		}
	} else {
		r.logger.Warn("eth_call name() failed, using fallback", zap.String("token", token), zap.Error(err))
	}

	if out, err := r.rpc.Call(ctx, token, selectorSymbol); err == nil {
		if s, err := decodeString(out); err == nil && s != "" {
			meta.Symbol = s
		}
	} else {
		r.logger.Warn("eth_call symbol() failed, using fallback", zap.String("token", token), zap.Error(err))
	}

	if out, err := r.rpc.Call(ctx, token, selectorDecimals); err == nil {
		if d, err := decodeUint8(out); err == nil {
			meta.Decimals = d
		}
	} else {
		r.logger.Warn("eth_call decimals() failed, using fallback", zap.String("token", token), zap.Error(err))
	}

	r.mu.Lock()
	r.cache[token] = meta
	r.mu.Unlock()
	return meta, nil
}

// decodeString decodes an ABI string return value. Legacy tokens that return
// bytes32 are accepted as well.
func decodeString(out string) (string, error) {
	b, err := decodeHex(out)
	if err != nil {
		return "", err
	}

	if len(b) == 32 {
		s := strings.TrimRight(string(b), "\x00")
		if !utf8.ValidString(s) {
			return "", fmt.Errorf("bytes32 is not utf-8")
		}
		return s, nil
	}

	if len(b) < 64 {
		return "", fmt.Errorf("string return too short: %d bytes", len(b))
	}
	offset := new(big.Int).SetBytes(b[:32])
	if !offset.IsUint64() || offset.Uint64()+32 > uint64(len(b)) {
		return "", fmt.Errorf("string offset out of range")
	}
	start := offset.Uint64()
	length := new(big.Int).SetBytes(b[start : start+32])
	if !length.IsUint64() || start+32+length.Uint64() > uint64(len(b)) {
		return "", fmt.Errorf("string length out of range")
	}
	return string(b[start+32 : start+32+length.Uint64()]), nil
}

func decodeUint8(out string) (uint8, error) {
	b, err := decodeHex(out)
	if err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, fmt.Errorf("empty return")
	}
	v := new(big.Int).SetBytes(b)
	if !v.IsUint64() || v.Uint64() > 255 {
		return 0, fmt.Errorf("decimals out of range: %s", v)
	}
	return uint8(v.Uint64()), nil
}
