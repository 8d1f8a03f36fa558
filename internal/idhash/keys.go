package idhash

import (
	"fmt"
	"strconv"
	"strings"
)

// SecondsPerDay is the width of a snapshot day bucket.
const SecondsPerDay = 86400

// TransferRecordKey computes the key of a transfer record.
// Formula: lower(tx_hash) || hex8(log_index)
// The log index is fixed-width, so the key splits unambiguously and depends
// only on the log's chain position, never on its payload.
func TransferRecordKey(txHash string, logIndex uint32) string {
	return fmt.Sprintf("%s%08x", strings.ToLower(strings.TrimSpace(txHash)), logIndex)
}

// ContractEventKey computes the key of a non-Transfer contract event record.
// Shares the TransferRecordKey formula; the two live in separate tables.
func ContractEventKey(txHash string, logIndex uint32) string {
	return TransferRecordKey(txHash, logIndex)
}

// BalanceKey computes the key of an (account, token) balance.
// Formula: len(account):account len(token):token
func BalanceKey(account, token string) string {
	return composite(account, token)
}

// DayBucket returns floor(timestamp / 86400).
func DayBucket(timestamp int64) int64 {
	day := timestamp / SecondsPerDay
	if timestamp%SecondsPerDay < 0 {
		day--
	}
	return day
}

// SnapshotKey computes the key of a token daily snapshot for the bucket
// containing timestamp.
// Formula: len(token):token len(day):day
func SnapshotKey(token string, timestamp int64) string {
	return DaySnapshotKey(token, DayBucket(timestamp))
}

// DaySnapshotKey computes the snapshot key for an already derived day bucket.
func DaySnapshotKey(token string, day int64) string {
	return composite(token, strconv.FormatInt(day, 10))
}

// composite length-prefixes every part so that no choice of part contents
// can make two different part lists encode to the same key.
func composite(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}
