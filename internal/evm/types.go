package evm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Log is a contract log as returned by eth_getLogs or a logs subscription.
type Log struct {
	Address     string
	Topics      []string
	Data        string
	BlockNumber uint64
	BlockHash   string
	TxHash      string
	TxIndex     uint32
	LogIndex    uint32
	Removed     bool

	// BlockTimestamp is set by nodes that include it in log objects, else 0.
	BlockTimestamp int64
}

// LogFilter selects logs for eth_getLogs and eth_subscribe.
type LogFilter struct {
	FromBlock uint64
	ToBlock   uint64
	Addresses []string
	Topics    [][]string // OR-set per topic position
}

// Block is the subset of a block header the indexer needs.
type Block struct {
	Number    uint64
	Hash      string
	Timestamp int64
}

// Transaction is the subset of a transaction the indexer needs.
type Transaction struct {
	Hash        string
	From        string
	Nonce       uint64
	BlockNumber uint64
}

// rawLog mirrors the JSON-RPC log object.
type rawLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	BlockHash        string   `json:"blockHash"`
	BlockTimestamp   string   `json:"blockTimestamp,omitempty"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex string   `json:"transactionIndex"`
	LogIndex         string   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

func (r rawLog) toLog() (Log, error) {
	block, err := parseQuantity(r.BlockNumber)
	if err != nil {
		return Log{}, fmt.Errorf("blockNumber: %w", err)
	}
	logIndex, err := parseQuantity(r.LogIndex)
	if err != nil {
		return Log{}, fmt.Errorf("logIndex: %w", err)
	}
	txIndex, err := parseQuantity(r.TransactionIndex)
	if err != nil {
		return Log{}, fmt.Errorf("transactionIndex: %w", err)
	}

	l := Log{
		Address:     strings.ToLower(r.Address),
		Topics:      make([]string, len(r.Topics)),
		Data:        r.Data,
		BlockNumber: block,
		BlockHash:   strings.ToLower(r.BlockHash),
		TxHash:      strings.ToLower(r.TransactionHash),
		TxIndex:     uint32(txIndex),
		LogIndex:    uint32(logIndex),
		Removed:     r.Removed,
	}
	for i, t := range r.Topics {
		l.Topics[i] = strings.ToLower(t)
	}
	if r.BlockTimestamp != "" {
		ts, err := parseQuantity(r.BlockTimestamp)
		if err != nil {
			return Log{}, fmt.Errorf("blockTimestamp: %w", err)
		}
		l.BlockTimestamp = int64(ts)
	}
	return l, nil
}

// UnmarshalJSON decodes a JSON-RPC log object.
func (l *Log) UnmarshalJSON(data []byte) error {
	var raw rawLog
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := raw.toLog()
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// params renders the filter as an eth_getLogs / eth_subscribe object.
// A zero ToBlock means "latest" and both bounds are omitted for subscriptions.
func (f LogFilter) params(withRange bool) map[string]interface{} {
	p := make(map[string]interface{})
	if withRange {
		p["fromBlock"] = formatQuantity(f.FromBlock)
		if f.ToBlock == 0 {
			p["toBlock"] = "latest"
		} else {
			p["toBlock"] = formatQuantity(f.ToBlock)
		}
	}
	if len(f.Addresses) > 0 {
		p["address"] = f.Addresses
	}
	if len(f.Topics) > 0 {
		topics := make([]interface{}, len(f.Topics))
		for i, set := range f.Topics {
			if len(set) == 0 {
				topics[i] = nil
			} else {
				topics[i] = set
			}
		}
		p["topics"] = topics
	}
	return p
}

// parseQuantity decodes a 0x-prefixed hex quantity.
func parseQuantity(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return v, nil
}

// formatQuantity encodes a number as a 0x-prefixed hex quantity.
func formatQuantity(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
