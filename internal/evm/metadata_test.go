package evm_test

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-rollup/internal/domain"
	"token-rollup/internal/evm"
	"token-rollup/internal/evm/stub"
)

const metaToken = "0x2222222222222222222222222222222222222222"

func abiString(s string) string {
	pad := func(h string) string { return strings.Repeat("0", 64-len(h)) + h }
	data := hex.EncodeToString([]byte(s))
	if rem := len(data) % 64; rem != 0 || len(data) == 0 {
		data += strings.Repeat("0", 64-rem)
	}
	return "0x" + pad("20") + pad(hex.EncodeToString([]byte{byte(len(s))})) + data
}

func TestMetadataResolver_Resolve(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetCall(metaToken, "0x06fdde03", abiString("Rollup Token"))
	rpc.SetCall(metaToken, "0x95d89b41", abiString("RLP"))
	rpc.SetCall(metaToken, "0x313ce567", "0x"+strings.Repeat("0", 62)+"06")

	r := evm.NewMetadataResolver(rpc, domain.TokenMetadata{Name: "fallback", Symbol: "FB", Decimals: 18}, nil)

	meta, err := r.Resolve(context.Background(), metaToken)
	require.NoError(t, err)
	assert.Equal(t, domain.TokenMetadata{Name: "Rollup Token", Symbol: "RLP", Decimals: 6}, meta)
}

func TestMetadataResolver_Bytes32Symbol(t *testing.T) {
	rpc := stub.NewRPCClient()
	symbol := hex.EncodeToString([]byte("MKR")) + strings.Repeat("0", 64-6)
	rpc.SetCall(metaToken, "0x95d89b41", "0x"+symbol)

	r := evm.NewMetadataResolver(rpc, domain.TokenMetadata{Name: "fallback", Decimals: 18}, nil)

	meta, err := r.Resolve(context.Background(), metaToken)
	require.NoError(t, err)
	assert.Equal(t, "MKR", meta.Symbol)
	assert.Equal(t, "fallback", meta.Name)
	assert.Equal(t, uint8(18), meta.Decimals)
}

func TestMetadataResolver_FallbackOnFailure(t *testing.T) {
	rpc := stub.NewRPCClient()
	fallback := domain.TokenMetadata{Name: "Token", Symbol: "TKN", Decimals: 18}

	r := evm.NewMetadataResolver(rpc, fallback, nil)

	meta, err := r.Resolve(context.Background(), metaToken)
	require.NoError(t, err)
	assert.Equal(t, fallback, meta)
}

func TestMetadataResolver_Caches(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetCall(metaToken, "0x95d89b41", abiString("ONE"))

	r := evm.NewMetadataResolver(rpc, domain.TokenMetadata{}, nil)

	first, err := r.Resolve(context.Background(), metaToken)
	require.NoError(t, err)

	rpc.SetCall(metaToken, "0x95d89b41", abiString("TWO"))
	second, err := r.Resolve(context.Background(), metaToken)
	require.NoError(t, err)

	assert.Equal(t, "ONE", first.Symbol)
	assert.Equal(t, first, second)
}

func TestMetadataResolver_DecimalsOutOfRange(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.SetCall(metaToken, "0x313ce567", "0x"+strings.Repeat("0", 61)+"100")

	r := evm.NewMetadataResolver(rpc, domain.TokenMetadata{Decimals: 18}, nil)

	meta, err := r.Resolve(context.Background(), metaToken)
	require.NoError(t, err)
	assert.Equal(t, uint8(18), meta.Decimals)
}
