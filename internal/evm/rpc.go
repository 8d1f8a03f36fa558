// Package evm talks to Ethereum-compatible nodes over JSON-RPC and decodes
// token contract logs.
package evm

import "context"

// RPCClient defines the EVM JSON-RPC HTTP interface.
type RPCClient interface {
	// BlockNumber returns the latest block height.
	BlockNumber(ctx context.Context) (uint64, error)

	// GetLogs returns logs matching the filter in node order.
	GetLogs(ctx context.Context, filter LogFilter) ([]Log, error)

	// GetBlockByNumber retrieves a block header by height.
	GetBlockByNumber(ctx context.Context, number uint64) (*Block, error)

	// GetTransactionByHash retrieves a transaction by hash.
	GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error)

	// Call executes a read-only contract call against the latest block.
	// data and the result are 0x-prefixed hex.
	Call(ctx context.Context, to, data string) (string, error)
}
