package stub

import (
	"context"
	"errors"
	"strings"
	"sync"

	"token-rollup/internal/evm"
)

// ErrNotFound is returned when a call target has no canned response.
var ErrNotFound = errors.New("not found")

// RPCClient implements evm.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	Head         uint64
	Logs         []evm.Log
	Blocks       map[uint64]*evm.Block
	Transactions map[string]*evm.Transaction
	// Calls maps "to|data" to the hex result of eth_call.
	Calls map[string]string

	// GetLogsCalls records every filter passed to GetLogs.
	GetLogsCalls []evm.LogFilter
}

// NewRPCClient creates a new stub RPC client.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Blocks:       make(map[uint64]*evm.Block),
		Transactions: make(map[string]*evm.Transaction),
		Calls:        make(map[string]string),
	}
}

// Compile-time interface check.
var _ evm.RPCClient = (*RPCClient)(nil)

// BlockNumber returns Head.
func (c *RPCClient) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Head, nil
}

// GetLogs returns stored logs within the filter's block range and address set.
func (c *RPCClient) GetLogs(_ context.Context, filter evm.LogFilter) ([]evm.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.GetLogsCalls = append(c.GetLogsCalls, filter)

	var out []evm.Log
	for _, l := range c.Logs {
		if l.BlockNumber < filter.FromBlock {
			continue
		}
		if filter.ToBlock != 0 && l.BlockNumber > filter.ToBlock {
			continue
		}
		if len(filter.Addresses) > 0 && !containsFold(filter.Addresses, l.Address) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// GetBlockByNumber returns a stored block or nil.
func (c *RPCClient) GetBlockByNumber(_ context.Context, number uint64) (*evm.Block, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Blocks[number], nil
}

// GetTransactionByHash returns a stored transaction or nil.
func (c *RPCClient) GetTransactionByHash(_ context.Context, hash string) (*evm.Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Transactions[strings.ToLower(hash)], nil
}

// Call returns the canned result for (to, data).
func (c *RPCClient) Call(_ context.Context, to, data string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, ok := c.Calls[strings.ToLower(to)+"|"+data]
	if !ok {
		return "", ErrNotFound
	}
	return out, nil
}

// AddLog adds a log to the stub store.
func (c *RPCClient) AddLog(l evm.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Logs = append(c.Logs, l)
	if l.BlockNumber > c.Head {
		c.Head = l.BlockNumber
	}
}

// AddBlock adds a block to the stub store.
func (c *RPCClient) AddBlock(b *evm.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Blocks[b.Number] = b
}

// AddTransaction adds a transaction to the stub store.
func (c *RPCClient) AddTransaction(tx *evm.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Transactions[strings.ToLower(tx.Hash)] = tx
}

// SetCall sets the eth_call result for (to, data).
func (c *RPCClient) SetCall(to, data, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls[strings.ToLower(to)+"|"+data] = result
}

func containsFold(set []string, s string) bool {
	for _, v := range set {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
