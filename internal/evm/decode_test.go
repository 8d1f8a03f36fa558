package evm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-rollup/internal/domain"
)

const (
	tokenAddr = "0x1111111111111111111111111111111111111111"
	alice     = "0xa11ce00000000000000000000000000000000001"
	bob       = "0xb0b0000000000000000000000000000000000002"
)

func topicAddr(addr string) string {
	return "0x" + strings.Repeat("0", 24) + strings.TrimPrefix(addr, "0x")
}

func word(hexValue string) string {
	return strings.Repeat("0", 64-len(hexValue)) + hexValue
}

func TestEventTopic_Transfer(t *testing.T) {
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", TopicTransfer)
	assert.Equal(t, "0x8c5be1e5ebec7d5bd14f71427d1e84f3dd0314c0f7b2291e5b200ac8c7c3b925",
		EventTopic("Approval(address,address,uint256)"))
}

func TestKnownTopics(t *testing.T) {
	topics := KnownTopics()
	require.Len(t, topics, len(signatures))
	assert.Equal(t, TopicTransfer, topics[0])
}

func TestDecodeLog_Transfer(t *testing.T) {
	l := Log{
		Address:     "0x1111111111111111111111111111111111111111",
		Topics:      []string{TopicTransfer, topicAddr(alice), topicAddr(bob)},
		Data:        "0x" + word("3e8"),
		BlockNumber: 12,
		TxHash:      "0xABC",
		LogIndex:    3,
	}

	d, err := DecodeLog(l, 1700000000, 9)
	require.NoError(t, err)
	require.NotNil(t, d.Transfer)
	assert.Nil(t, d.Contract)

	tl := d.Transfer
	assert.Equal(t, "0xabc", tl.TxHash)
	assert.Equal(t, uint32(3), tl.LogIndex)
	assert.Equal(t, uint64(9), tl.TxNonce)
	assert.Equal(t, uint64(12), tl.BlockNumber)
	assert.Equal(t, int64(1700000000), tl.Timestamp)
	assert.Equal(t, tokenAddr, tl.Token)
	assert.Equal(t, alice, tl.From)
	assert.Equal(t, bob, tl.To)
	require.True(t, tl.Amount.Valid)
	assert.Equal(t, "1000", tl.Amount.Decimal.String())
}

func TestDecodeLog_TransferMint(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{TopicTransfer, topicAddr(domain.ZeroAddress), topicAddr(bob)},
		Data:    "0x" + word("ff"),
	}

	d, err := DecodeLog(l, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ZeroAddress, d.Transfer.From)
	assert.Equal(t, "255", d.Transfer.Amount.Decimal.String())
}

func TestDecodeLog_TransferUint256Max(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{TopicTransfer, topicAddr(alice), topicAddr(bob)},
		Data:    "0x" + strings.Repeat("f", 64),
	}

	d, err := DecodeLog(l, 0, 0)
	require.NoError(t, err)
	assert.Equal(t,
		"115792089237316195423570985008687907853269984665640564039457584007913129639935",
		d.Transfer.Amount.Decimal.String())
}

func TestDecodeLog_TransferMissingValue(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{TopicTransfer, topicAddr(alice), topicAddr(bob)},
		Data:    "0x",
	}

	d, err := DecodeLog(l, 0, 0)
	require.NoError(t, err)
	assert.False(t, d.Transfer.Amount.Valid)
}

func TestDecodeLog_TransferMissingTopics(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{TopicTransfer},
		Data:    "0x" + word("1"),
	}

	_, err := DecodeLog(l, 0, 0)
	require.Error(t, err)
}

func TestDecodeLog_Approval(t *testing.T) {
	l := Log{
		Address:     tokenAddr,
		Topics:      []string{EventTopic("Approval(address,address,uint256)"), topicAddr(alice), topicAddr(bob)},
		Data:        "0x" + word("64"),
		BlockNumber: 7,
		TxHash:      "0xdef",
		LogIndex:    1,
	}

	d, err := DecodeLog(l, 86400, 0)
	require.NoError(t, err)
	require.NotNil(t, d.Contract)
	assert.Nil(t, d.Transfer)

	ev := d.Contract
	assert.Equal(t, domain.ContractEventApproval, ev.Kind)
	assert.Equal(t, tokenAddr, ev.Token)
	assert.Equal(t, uint64(7), ev.BlockNumber)
	assert.Equal(t, int64(86400), ev.Timestamp)
	assert.Equal(t, map[string]string{
		"owner":   alice,
		"spender": bob,
		"value":   "100",
	}, ev.Params)
}

func TestDecodeLog_DelegateVotesChanged(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{EventTopic("DelegateVotesChanged(address,uint256,uint256)"), topicAddr(alice)},
		Data:    "0x" + word("a") + word("14"),
	}

	d, err := DecodeLog(l, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractEventDelegateVotesChanged, d.Contract.Kind)
	assert.Equal(t, map[string]string{
		"delegate":      alice,
		"previousVotes": "10",
		"newVotes":      "20",
	}, d.Contract.Params)
}

func TestDecodeLog_NoArgs(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{EventTopic("MintBlocked()")},
		Data:    "0x",
	}

	d, err := DecodeLog(l, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, domain.ContractEventMintBlocked, d.Contract.Kind)
	assert.Empty(t, d.Contract.Params)
}

func TestDecodeLog_MissingArgument(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{EventTopic("OwnershipTransferred(address,address)"), topicAddr(alice)},
		Data:    "0x",
	}

	_, err := DecodeLog(l, 0, 0)
	require.Error(t, err)
}

func TestDecodeLog_Unknown(t *testing.T) {
	_, err := DecodeLog(Log{Topics: []string{"0x1234"}}, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeLog(Log{}, 0, 0)
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeLog_BadHex(t *testing.T) {
	l := Log{
		Address: tokenAddr,
		Topics:  []string{TopicTransfer, "0xzz", topicAddr(bob)},
		Data:    "0x",
	}

	_, err := DecodeLog(l, 0, 0)
	require.Error(t, err)
}
