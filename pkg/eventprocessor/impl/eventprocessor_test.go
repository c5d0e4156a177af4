package impl

import (
	"context"
	"math/big"
	"testing"

	"github.com/TreeCityWes/xburn-dashboard/pkg/blocks"
	"github.com/TreeCityWes/xburn-dashboard/pkg/eventfeed"
	"github.com/TreeCityWes/xburn-dashboard/pkg/sqlstore"
	"github.com/TreeCityWes/xburn-dashboard/pkg/testutils"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr  = common.HexToAddress("0x0000000000000000000000000000000000000101")
	minterAddr = common.HexToAddress("0x0000000000000000000000000000000000000102")
	nftAddr    = common.HexToAddress("0x0000000000000000000000000000000000000103")

	userAddr  = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	otherAddr = common.HexToAddress("0x00000000000000000000000000000000000000BB")
)

func TestBurnSplitExactness(t *testing.T) {
	t.Parallel()

	for _, amount := range []int64{0, 1, 4, 5, 1001, 999999999} {
		direct, accumulated := SplitBurnAmount(big.NewInt(amount))
		require.Equal(t, amount*80/100, direct.Int64())
		require.Equal(t, amount, new(big.Int).Add(direct, accumulated).Int64())
	}
}

func TestExplicitBurnRow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	client.SetHeader(15, 1700000000)

	txnHash := common.HexToHash("0x01")
	batch := singleEventBatch(15, txnHash, &eventfeed.XENBurned{
		User:   userAddr,
		Amount: big.NewInt(1001),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	event, err := store.GetBurnEvent(ctx, txnHash.Hex(), sqlstore.EventTypeXENBurned)
	require.NoError(t, err)
	require.Equal(t, "1001", event.Amount.String())
	require.Equal(t, "800", event.DirectAmount.String())
	require.Equal(t, "201", event.AccumulatedAmount.String())
	require.Equal(t, int64(1700000000), event.BlockTimestamp)
}

func TestMintCreatesPosition(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	client.SetHeader(20, 1700000000)
	client.CallContractFn = func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
		return testutils.PackOutput(t, eventfeed.BurnMinterABI, "currentAmplifier", big.NewInt(2500)), nil
	}

	txnHash := common.HexToHash("0x02")
	batch := singleEventBatch(20, txnHash,
		&eventfeed.XENBurned{User: userAddr, Amount: big.NewInt(500)},
		&eventfeed.BurnNFTMinted{
			User:     userAddr,
			TokenId:  big.NewInt(7),
			Amount:   big.NewInt(500),
			TermDays: big.NewInt(30),
		})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 7)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusLocked, position.Status)
	require.Equal(t, "500", position.TotalBurned.String())
	require.Equal(t, int64(30), position.TermDays)
	require.Equal(t, int64(1700000000+30*86400), position.MaturityTS)
	require.Equal(t, int64(2500), position.AmplifierSnapshot)
	require.Equal(t, txnHash.Hex(), position.MintTxHash)

	// The same-txn explicit burn gets stamped with the minted NFT id.
	burn, err := store.GetBurnEvent(ctx, txnHash.Hex(), sqlstore.EventTypeXENBurned)
	require.NoError(t, err)
	require.NotNil(t, burn.NFTID)
	require.Equal(t, int64(7), *burn.NFTID)
}

func TestMintIdempotency(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	client.SetHeader(20, 1700000000)

	txnHash := common.HexToHash("0x03")
	batch := singleEventBatch(20, txnHash, &eventfeed.BurnNFTMinted{
		User:     userAddr,
		TokenId:  big.NewInt(9),
		Amount:   big.NewInt(750),
		TermDays: big.NewInt(90),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))
	first, err := store.GetPosition(ctx, testutils.ChainID, 9)
	require.NoError(t, err)

	// Replaying the exact same batch must change nothing.
	require.NoError(t, ep.ExecuteBatch(ctx, batch))
	second, err := store.GetPosition(ctx, testutils.ChainID, 9)
	require.NoError(t, err)
	require.Equal(t, first, second)

	counts, err := store.CountPositionsByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), counts[sqlstore.PositionStatusLocked])
}

func TestMintAmplifierRPCFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	client.SetHeader(20, 1700000000)
	// The default client fails contract calls; the position is still
	// created with a zero amplifier placeholder.

	txnHash := common.HexToHash("0x04")
	batch := singleEventBatch(20, txnHash, &eventfeed.BurnNFTMinted{
		User:     userAddr,
		TokenId:  big.NewInt(11),
		Amount:   big.NewInt(100),
		TermDays: big.NewInt(7),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 11)
	require.NoError(t, err)
	require.Equal(t, int64(0), position.AmplifierSnapshot)
	require.Equal(t, sqlstore.PositionStatusLocked, position.Status)
}

func TestClaimNormal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 5, userAddr)

	claimHash := common.HexToHash("0x10")
	client.SetHeader(40, 1700050000)
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.XburnClaimedLog(t, minterAddr, userAddr, big.NewInt(400), big.NewInt(50), 40, claimHash, 0)),
	}})

	batch := singleEventBatch(40, claimHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(5),
		Amount:  big.NewInt(450),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 5)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusClaimed, position.Status)
	require.Equal(t, "450", position.ClaimedAmount.String())
	require.Equal(t, claimHash.Hex(), *position.ClaimTxHash)
	require.Equal(t, int64(1700050000), *position.ClaimTS)
}

func TestClaimTieBreakPrefersNormal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 6, userAddr)

	claimHash := common.HexToHash("0x11")
	client.SetHeader(41, 1700060000)
	// Both companions in the same receipt: the normal claim wins.
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.EmergencyEndLog(t, minterAddr, userAddr, big.NewInt(999), 41, claimHash, 0)),
		logOf(testutils.XburnClaimedLog(t, minterAddr, userAddr, big.NewInt(300), big.NewInt(30), 41, claimHash, 1)),
	}})

	batch := singleEventBatch(41, claimHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(6),
		Amount:  big.NewInt(330),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 6)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusClaimed, position.Status)
	require.Equal(t, "330", position.ClaimedAmount.String())
}

func TestEmergencyWithdrawnByOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 8, userAddr)

	claimHash := common.HexToHash("0x12")
	client.SetHeader(42, 1700070000)
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.EmergencyEndLog(t, minterAddr, userAddr, big.NewInt(777), 42, claimHash, 0)),
	}})

	batch := singleEventBatch(42, claimHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(8),
		Amount:  big.NewInt(777),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 8)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusEmergencyWithdrawn, position.Status)
	require.Equal(t, "777", position.ClaimedAmount.String())
}

func TestEmergencyWrongOwnerIsNotWithdrawn(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 12, userAddr)

	claimHash := common.HexToHash("0x13")
	client.SetHeader(43, 1700080000)
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.EmergencyEndLog(t, minterAddr, otherAddr, big.NewInt(500), 43, claimHash, 0)),
	}})
	// The chain confirms the stored owner, so the emergency withdrawer
	// really isn't the position owner.
	client.CallContractFn = func(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
		return testutils.PackOutput(t, eventfeed.BurnNFTABI, "ownerOf", userAddr), nil
	}

	batch := singleEventBatch(43, claimHash, &eventfeed.BurnNFTClaimed{
		User:    otherAddr,
		TokenId: big.NewInt(12),
		Amount:  big.NewInt(500),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 12)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusClaimedUnknownType, position.Status)
	require.Equal(t, "0", position.ClaimedAmount.String())
}

func TestEmergencyOwnerUnverified(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 13, userAddr)

	claimHash := common.HexToHash("0x14")
	client.SetHeader(44, 1700090000)
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.EmergencyEndLog(t, minterAddr, otherAddr, big.NewInt(600), 44, claimHash, 0)),
	}})
	// Owner resolution fails (default client): the withdrawal is recorded
	// with the unverified status instead of being discarded.

	batch := singleEventBatch(44, claimHash, &eventfeed.BurnNFTClaimed{
		User:    otherAddr,
		TokenId: big.NewInt(13),
		Amount:  big.NewInt(600),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 13)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusEmergencyUnverified, position.Status)
	require.Equal(t, "600", position.ClaimedAmount.String())
}

func TestClaimWithoutCompanion(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 14, userAddr)

	claimHash := common.HexToHash("0x15")
	client.SetHeader(45, 1700100000)
	client.SetReceipt(claimHash, &types.Receipt{})

	batch := singleEventBatch(45, claimHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(14),
		Amount:  big.NewInt(0),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 14)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusClaimedUnknownType, position.Status)
}

func TestUnknownCloseNeverOverwritesResolved(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)
	mintPosition(t, ep, client, 15, userAddr)

	// First a fully resolved normal claim.
	claimHash := common.HexToHash("0x16")
	client.SetHeader(46, 1700110000)
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.XburnClaimedLog(t, minterAddr, userAddr, big.NewInt(100), big.NewInt(0), 46, claimHash, 0)),
	}})
	require.NoError(t, ep.ExecuteBatch(ctx, singleEventBatch(46, claimHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(15),
		Amount:  big.NewInt(100),
	})))

	// A replayed claim whose receipt is no longer resolvable must not
	// downgrade the terminal status.
	client.SetHeader(47, 1700120000)
	replayHash := common.HexToHash("0x17")
	client.SetReceipt(replayHash, &types.Receipt{})
	require.NoError(t, ep.ExecuteBatch(ctx, singleEventBatch(47, replayHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(15),
		Amount:  big.NewInt(0),
	})))

	position, err := store.GetPosition(ctx, testutils.ChainID, 15)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusClaimed, position.Status)
	require.Equal(t, "100", position.ClaimedAmount.String())
}

func TestClaimForUnknownPositionCreatesStub(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, client := newTestProcessor(t)

	claimHash := common.HexToHash("0x18")
	client.SetHeader(48, 1700130000)
	client.SetReceipt(claimHash, &types.Receipt{Logs: []*types.Log{
		logOf(testutils.XburnClaimedLog(t, minterAddr, userAddr, big.NewInt(90), big.NewInt(10), 48, claimHash, 0)),
	}})

	batch := singleEventBatch(48, claimHash, &eventfeed.BurnNFTClaimed{
		User:    userAddr,
		TokenId: big.NewInt(99),
		Amount:  big.NewInt(100),
	})
	require.NoError(t, ep.ExecuteBatch(ctx, batch))

	position, err := store.GetPosition(ctx, testutils.ChainID, 99)
	require.NoError(t, err)
	require.Equal(t, sqlstore.PositionStatusClaimed, position.Status)
	require.Equal(t, "100", position.ClaimedAmount.String())
	require.Equal(t, "0", position.TotalBurned.String())
}

func TestBatchAdvancesCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	ep, store, _ := newTestProcessor(t)

	// An empty batch still advances the cursor to its tip.
	require.NoError(t, ep.ExecuteBatch(ctx, eventfeed.Batch{FromBlock: 1, ToBlock: 120}))

	chain, err := store.GetChain(ctx, testutils.ChainID)
	require.NoError(t, err)
	require.Equal(t, int64(120), chain.LastIndexedBlock)
}

func newTestProcessor(t *testing.T) (*EventProcessor, sqlstore.SystemStore, *testutils.ChainClient) {
	t.Helper()

	store := testutils.NewStore(t)
	testutils.SeedChain(t, store)
	client := testutils.NewChainClient()
	blockSvc := blocks.New(store, testutils.ChainID, client)
	addrs := eventfeed.ContractAddresses{
		XENToken:   tokenAddr,
		BurnMinter: minterAddr,
		BurnNFT:    nftAddr,
	}
	ep, err := New(store, client, blockSvc, nil, testutils.ChainID, addrs)
	require.NoError(t, err)
	return ep, store, client
}

func mintPosition(t *testing.T, ep *EventProcessor, client *testutils.ChainClient, nftID int64, owner common.Address) {
	t.Helper()

	client.SetHeader(30, 1700000000)
	mintHash := common.BigToHash(big.NewInt(0xabc00000 + nftID))
	batch := singleEventBatch(30, mintHash, &eventfeed.BurnNFTMinted{
		User:     owner,
		TokenId:  big.NewInt(nftID),
		Amount:   big.NewInt(1000),
		TermDays: big.NewInt(30),
	})
	require.NoError(t, ep.ExecuteBatch(context.Background(), batch))
}

func logOf(l types.Log) *types.Log {
	return &l
}

func singleEventBatch(blockNumber int64, txnHash common.Hash, events ...interface{}) eventfeed.Batch {
	return eventfeed.Batch{
		FromBlock: blockNumber,
		ToBlock:   blockNumber,
		Blocks: []eventfeed.BlockEvents{{
			BlockNumber: blockNumber,
			Txns:        []eventfeed.TxnEvents{{TxnHash: txnHash, Events: events}},
		}},
	}
}
