package eventfeed

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

func TestDecodeTransfer(t *testing.T) {
	t.Parallel()

	from := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	data, err := XENTokenABI.Events["Transfer"].Inputs.NonIndexed().Pack(big.NewInt(123))
	require.NoError(t, err)
	l := types.Log{
		Topics: []common.Hash{
			XENTokenABI.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(common.Address{}.Bytes()),
		},
		Data:        data,
		BlockNumber: 10,
		TxHash:      common.HexToHash("0x01"),
	}

	event, err := DecodeLog(l)
	require.NoError(t, err)
	transfer, ok := event.(*XENTransfer)
	require.True(t, ok)
	require.Equal(t, from, transfer.From)
	require.Equal(t, common.Address{}, transfer.To)
	require.Equal(t, "123", transfer.Value.String())
	require.Equal(t, l, transfer.Raw)
}

func TestDecodeRejectsERC721Transfer(t *testing.T) {
	t.Parallel()

	// An ERC-721 Transfer shares the ERC-20 topic but indexes the token id
	// too, giving it a fourth topic. It must not decode as a XEN transfer.
	l := types.Log{
		Topics: []common.Hash{
			XENTokenABI.Events["Transfer"].ID,
			common.BytesToHash(common.HexToAddress("0xAA").Bytes()),
			common.BytesToHash(common.Address{}.Bytes()),
			common.BigToHash(big.NewInt(7)),
		},
	}

	_, err := DecodeLog(l)
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeUnknownTopic(t *testing.T) {
	t.Parallel()

	_, err := DecodeLog(types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}})
	require.ErrorIs(t, err, ErrUnknownEvent)

	_, err = DecodeLog(types.Log{})
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeMalformedPayload(t *testing.T) {
	t.Parallel()

	l := types.Log{
		Topics: []common.Hash{
			BurnMinterABI.Events["XENBurned"].ID,
			common.BytesToHash(common.HexToAddress("0xAA").Bytes()),
		},
		Data:   []byte{0x01, 0x02},
		TxHash: common.HexToHash("0x02"),
	}

	_, err := DecodeLog(l)
	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	require.Equal(t, l.TxHash, decodeErr.TxnHash)
}

func TestDecodeBurnNFTMinted(t *testing.T) {
	t.Parallel()

	user := common.HexToAddress("0xBB")
	data, err := BurnNFTABI.Events["BurnNFTMinted"].Inputs.NonIndexed().Pack(big.NewInt(500), big.NewInt(30))
	require.NoError(t, err)
	l := types.Log{
		Topics: []common.Hash{
			BurnNFTABI.Events["BurnNFTMinted"].ID,
			common.BytesToHash(user.Bytes()),
			common.BigToHash(big.NewInt(7)),
		},
		Data: data,
	}

	event, err := DecodeLog(l)
	require.NoError(t, err)
	mint, ok := event.(*BurnNFTMinted)
	require.True(t, ok)
	require.Equal(t, user, mint.User)
	require.Equal(t, "7", mint.TokenId.String())
	require.Equal(t, "500", mint.Amount.String())
	require.Equal(t, "30", mint.TermDays.String())
}
