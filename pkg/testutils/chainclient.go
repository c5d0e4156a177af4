package testutils

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// ChainClient is a scriptable in-memory eventfeed.ChainClient. It serves
// FilterLogs from a fixed log set with real topic/range matching, so feed
// tests exercise the same query semantics a node would.
type ChainClient struct {
	mu       sync.Mutex
	head     int64
	logs     []types.Log
	headers  map[int64]*types.Header
	receipts map[common.Hash]*types.Receipt

	// Overrides, nil means the default behavior.
	FilterLogsFn       func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	CallContractFn     func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SubscribeNewHeadFn func(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

var _ eventfeed.ChainClient = (*ChainClient)(nil)

// NewChainClient returns an empty scriptable client.
func NewChainClient() *ChainClient {
	return &ChainClient{
		headers:  map[int64]*types.Header{},
		receipts: map[common.Hash]*types.Receipt{},
	}
}

// SetHead sets the reported chain head.
func (c *ChainClient) SetHead(head int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head = head
}

// AddLog adds a log served by FilterLogs.
func (c *ChainClient) AddLog(l types.Log) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, l)
}

// SetHeader sets the header returned for a block number.
func (c *ChainClient) SetHeader(blockNumber int64, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.headers[blockNumber] = &types.Header{
		Number: big.NewInt(blockNumber),
		Time:   timestamp,
	}
}

// SetReceipt sets the receipt returned for a transaction hash.
func (c *ChainClient) SetReceipt(txnHash common.Hash, receipt *types.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts[txnHash] = receipt
}

// BlockNumber returns the scripted head.
func (c *ChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.head), nil
}

// FilterLogs serves the stored logs honoring the query's range, address set,
// and positional topic filters.
func (c *ChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if c.FilterLogsFn != nil {
		return c.FilterLogsFn(ctx, q)
	}
	return c.DefaultFilterLogs(ctx, q)
}

// DefaultFilterLogs is the stock log matching; an installed FilterLogsFn can
// delegate to it for the queries it doesn't script.
func (c *ChainClient) DefaultFilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ret []types.Log
	for _, l := range c.logs {
		if q.FromBlock != nil && int64(l.BlockNumber) < q.FromBlock.Int64() {
			continue
		}
		if q.ToBlock != nil && int64(l.BlockNumber) > q.ToBlock.Int64() {
			continue
		}
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !topicsMatch(q.Topics, l.Topics) {
			continue
		}
		ret = append(ret, l)
	}
	return ret, nil
}

// HeaderByNumber returns a scripted header, or ethereum.NotFound.
func (c *ChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.headers[number.Int64()]
	if !ok {
		return nil, ethereum.NotFound
	}
	return h, nil
}

// SubscribeNewHead reports head subscriptions as unsupported unless
// overridden; the feed falls back to its poll cadence.
func (c *ChainClient) SubscribeNewHead(
	ctx context.Context, ch chan<- *types.Header,
) (ethereum.Subscription, error) {
	if c.SubscribeNewHeadFn != nil {
		return c.SubscribeNewHeadFn(ctx, ch)
	}
	return nil, errors.New("head subscriptions unsupported")
}

// TransactionReceipt returns a scripted receipt.
func (c *ChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// CallContract delegates to the scripted function, failing by default.
func (c *ChainClient) CallContract(
	ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int,
) ([]byte, error) {
	if c.CallContractFn != nil {
		return c.CallContractFn(ctx, call, blockNumber)
	}
	return nil, errors.New("contract calls unsupported")
}

func containsAddress(addrs []common.Address, addr common.Address) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		match := false
		for _, alt := range alternatives {
			if topics[i] == alt {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// Log builders producing wire-faithful logs for each tracked event.

// BurnTransferLog is a XEN Transfer to the null address.
func BurnTransferLog(
	t *testing.T, token common.Address, from common.Address, value *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: token,
		Topics: []common.Hash{
			eventfeed.XENTokenABI.Events["Transfer"].ID,
			addressTopic(from),
			addressTopic(common.Address{}),
		},
		Data:        packData(t, eventfeed.XENTokenABI, "Transfer", value),
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// XENBurnedLog is the minter's explicit burn.
func XENBurnedLog(
	t *testing.T, minter common.Address, user common.Address, amount *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: minter,
		Topics: []common.Hash{
			eventfeed.BurnMinterABI.Events["XENBurned"].ID,
			addressTopic(user),
		},
		Data:        packData(t, eventfeed.BurnMinterABI, "XENBurned", amount),
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// BurnNFTMintedLog announces a new position NFT.
func BurnNFTMintedLog(
	t *testing.T, nft common.Address, user common.Address, tokenID, amount, termDays *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: nft,
		Topics: []common.Hash{
			eventfeed.BurnNFTABI.Events["BurnNFTMinted"].ID,
			addressTopic(user),
			common.BigToHash(tokenID),
		},
		Data:        packData(t, eventfeed.BurnNFTABI, "BurnNFTMinted", amount, termDays),
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// XburnClaimedLog is the minter-level normal claim.
func XburnClaimedLog(
	t *testing.T, minter common.Address, user common.Address, baseAmount, bonusAmount *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: minter,
		Topics: []common.Hash{
			eventfeed.BurnMinterABI.Events["XburnClaimed"].ID,
			addressTopic(user),
		},
		Data:        packData(t, eventfeed.BurnMinterABI, "XburnClaimed", baseAmount, bonusAmount),
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// EmergencyEndLog is the minter-level emergency withdrawal.
func EmergencyEndLog(
	t *testing.T, minter common.Address, user common.Address, amount *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: minter,
		Topics: []common.Hash{
			eventfeed.BurnMinterABI.Events["EmergencyEnd"].ID,
			addressTopic(user),
		},
		Data:        packData(t, eventfeed.BurnMinterABI, "EmergencyEnd", amount),
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// BurnNFTClaimedLog is the position-level claim.
func BurnNFTClaimedLog(
	t *testing.T, nft common.Address, user common.Address, tokenID, amount *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: nft,
		Topics: []common.Hash{
			eventfeed.BurnNFTABI.Events["BurnNFTClaimed"].ID,
			addressTopic(user),
			common.BigToHash(tokenID),
		},
		Data:        packData(t, eventfeed.BurnNFTABI, "BurnNFTClaimed", amount),
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// BurnNFTBurnedLog announces the destruction of a position NFT.
func BurnNFTBurnedLog(
	t *testing.T, nft common.Address, tokenID *big.Int,
	blockNumber uint64, txnHash common.Hash, index uint,
) types.Log {
	t.Helper()
	return types.Log{
		Address: nft,
		Topics: []common.Hash{
			eventfeed.BurnNFTABI.Events["BurnNFTBurned"].ID,
			common.BigToHash(tokenID),
		},
		BlockNumber: blockNumber,
		TxHash:      txnHash,
		Index:       index,
	}
}

// PackOutput ABI-encodes a view method's return values.
func PackOutput(t *testing.T, contract abi.ABI, method string, vals ...interface{}) []byte {
	t.Helper()
	data, err := contract.Methods[method].Outputs.Pack(vals...)
	require.NoError(t, err)
	return data
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func packData(t *testing.T, contract abi.ABI, event string, args ...interface{}) []byte {
	t.Helper()
	data, err := contract.Events[event].Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return data
}
