package evm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"token-rollup/internal/domain"
)

// ErrUnknownEvent is returned for logs whose topic0 is not a known token event.
var ErrUnknownEvent = errors.New("unknown event")

type argKind int

const (
	argAddress argKind = iota
	argUint
)

type eventArg struct {
	name string
	kind argKind
}

type eventABI struct {
	kind domain.ContractEventKind // empty for Transfer
	args []eventArg
}

// Event signatures of the token contract. Indexed arguments of every event
// precede its non-indexed ones, so topics[1:] followed by the data words
// yields the arguments in declaration order.
var signatures = map[string]eventABI{
	"Transfer(address,address,uint256)": {
		args: []eventArg{{"from", argAddress}, {"to", argAddress}, {"value", argUint}},
	},
	"Approval(address,address,uint256)": {
		kind: domain.ContractEventApproval,
		args: []eventArg{{"owner", argAddress}, {"spender", argAddress}, {"value", argUint}},
	},
	"OwnershipTransferred(address,address)": {
		kind: domain.ContractEventOwnershipTransferred,
		args: []eventArg{{"previousOwner", argAddress}, {"newOwner", argAddress}},
	},
	"OwnershipTransferStarted(address,address)": {
		kind: domain.ContractEventOwnershipTransferStarted,
		args: []eventArg{{"previousOwner", argAddress}, {"newOwner", argAddress}},
	},
	"AdminChanged(address,address)": {
		kind: domain.ContractEventAdminChanged,
		args: []eventArg{{"oldAdmin", argAddress}, {"newAdmin", argAddress}},
	},
	"AddressBlocked(address)": {
		kind: domain.ContractEventAddressBlocked,
		args: []eventArg{{"blockedAddress", argAddress}},
	},
	"AddressUnblocked(address)": {
		kind: domain.ContractEventAddressUnblocked,
		args: []eventArg{{"unblockedAddress", argAddress}},
	},
	"MintBlocked()": {
		kind: domain.ContractEventMintBlocked,
	},
	"DelegateChanged(address,address,address)": {
		kind: domain.ContractEventDelegateChanged,
		args: []eventArg{{"delegator", argAddress}, {"fromDelegate", argAddress}, {"toDelegate", argAddress}},
	},
	"DelegateVotesChanged(address,uint256,uint256)": {
		kind: domain.ContractEventDelegateVotesChanged,
		args: []eventArg{{"delegate", argAddress}, {"previousVotes", argUint}, {"newVotes", argUint}},
	},
	"EIP712DomainChanged()": {
		kind: domain.ContractEventEIP712DomainChanged,
	},
}

// TopicTransfer is topic0 of the ERC-20 Transfer event.
var TopicTransfer = EventTopic("Transfer(address,address,uint256)")

var byTopic = func() map[string]eventABI {
	m := make(map[string]eventABI, len(signatures))
	for sig, abi := range signatures {
		m[EventTopic(sig)] = abi
	}
	return m
}()

// EventTopic returns the keccak-256 topic of an event signature.
func EventTopic(signature string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}

// KnownTopics returns topic0 of every decodable event, Transfer first.
func KnownTopics() []string {
	topics := []string{TopicTransfer}
	for topic := range byTopic {
		if topic != TopicTransfer {
			topics = append(topics, topic)
		}
	}
	return topics
}

// Decoded is the result of decoding one log. Exactly one field is set.
type Decoded struct {
	Transfer *domain.TransferLog
	Contract *domain.ContractEvent
}

// DecodeLog classifies a log by topic0 and decodes its arguments.
// blockTime is the block timestamp in unix seconds and nonce the sender
// nonce of the emitting transaction (0 if unknown).
// A Transfer whose value cannot be decoded is returned with an invalid
// Amount so that the processor rejects it as malformed.
func DecodeLog(l Log, blockTime int64, nonce uint64) (*Decoded, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	abi, ok := byTopic[strings.ToLower(l.Topics[0])]
	if !ok {
		return nil, ErrUnknownEvent
	}

	words, err := argWords(l)
	if err != nil {
		return nil, err
	}

	if abi.kind == "" {
		return decodeTransfer(l, words, blockTime, nonce)
	}

	params := make(map[string]string, len(abi.args))
	for i, arg := range abi.args {
		if i >= len(words) {
			return nil, fmt.Errorf("decode %s: missing argument %s", abi.kind, arg.name)
		}
		params[arg.name] = formatWord(words[i], arg.kind)
	}

	return &Decoded{Contract: &domain.ContractEvent{
		Kind:        abi.kind,
		Token:       strings.ToLower(l.Address),
		TxHash:      strings.ToLower(l.TxHash),
		LogIndex:    l.LogIndex,
		BlockNumber: l.BlockNumber,
		Timestamp:   blockTime,
		Params:      params,
	}}, nil
}

func decodeTransfer(l Log, words [][]byte, blockTime int64, nonce uint64) (*Decoded, error) {
	if len(words) < 2 {
		return nil, fmt.Errorf("decode Transfer: expected from and to, got %d words", len(words))
	}

	tl := &domain.TransferLog{
		TxHash:      strings.ToLower(l.TxHash),
		LogIndex:    l.LogIndex,
		TxNonce:     nonce,
		BlockNumber: l.BlockNumber,
		Timestamp:   blockTime,
		Token:       strings.ToLower(l.Address),
		From:        formatWord(words[0], argAddress),
		To:          formatWord(words[1], argAddress),
		Removed:     l.Removed,
	}
	if len(words) >= 3 {
		tl.Amount = decimal.NewNullDecimal(decimal.NewFromBigInt(new(big.Int).SetBytes(words[2]), 0))
	}
	return &Decoded{Transfer: tl}, nil
}

// argWords returns topics[1:] followed by the 32-byte words of data.
func argWords(l Log) ([][]byte, error) {
	var words [][]byte
	for _, t := range l.Topics[1:] {
		b, err := decodeHex(t)
		if err != nil {
			return nil, fmt.Errorf("decode topic: %w", err)
		}
		words = append(words, leftPad(b))
	}

	data, err := decodeHex(l.Data)
	if err != nil {
		return nil, fmt.Errorf("decode data: %w", err)
	}
	for len(data) >= 32 {
		words = append(words, data[:32])
		data = data[32:]
	}
	return words, nil
}

func formatWord(w []byte, kind argKind) string {
	switch kind {
	case argAddress:
		return "0x" + hex.EncodeToString(w[len(w)-20:])
	default:
		return new(big.Int).SetBytes(w).String()
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

func leftPad(b []byte) []byte {
	if len(b) >= 32 {
		return b
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
