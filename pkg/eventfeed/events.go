package eventfeed

import (
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// XENTransfer is an ERC-20 transfer of the burned token; only transfers to
// the null address are queried.
type XENTransfer struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Raw   types.Log
}

// XENBurned is the minter's explicit burn event.
type XENBurned struct {
	User   common.Address
	Amount *big.Int
	Raw    types.Log
}

// BurnNFTMinted announces a new burn position NFT.
type BurnNFTMinted struct {
	User     common.Address
	TokenId  *big.Int
	Amount   *big.Int
	TermDays *big.Int
	Raw      types.Log
}

// XburnClaimed is the minter-level normal claim event. It carries no
// position identifier.
type XburnClaimed struct {
	User        common.Address
	BaseAmount  *big.Int
	BonusAmount *big.Int
	Raw         types.Log
}

// EmergencyEnd is the minter-level emergency withdrawal event.
type EmergencyEnd struct {
	User   common.Address
	Amount *big.Int
	Raw    types.Log
}

// BurnNFTClaimed is the position-level claim event; it carries the position
// id and is the authoritative close-out trigger.
type BurnNFTClaimed struct {
	User    common.Address
	TokenId *big.Int
	Amount  *big.Int
	Raw     types.Log
}

// BurnNFTBurned announces the destruction of a position NFT.
type BurnNFTBurned struct {
	TokenId *big.Int
	Raw     types.Log
}

const (
	xenTokenABIJSON = `[
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"address","name":"from","type":"address"},
	    {"indexed":true,"internalType":"address","name":"to","type":"address"},
	    {"indexed":false,"internalType":"uint256","name":"value","type":"uint256"}],
	   "name":"Transfer","type":"event"}
	]`

	burnMinterABIJSON = `[
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"address","name":"user","type":"address"},
	    {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],
	   "name":"XENBurned","type":"event"},
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"address","name":"user","type":"address"},
	    {"indexed":false,"internalType":"uint256","name":"baseAmount","type":"uint256"},
	    {"indexed":false,"internalType":"uint256","name":"bonusAmount","type":"uint256"}],
	   "name":"XburnClaimed","type":"event"},
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"address","name":"user","type":"address"},
	    {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],
	   "name":"EmergencyEnd","type":"event"},
	  {"inputs":[],"name":"currentAmplifier",
	   "outputs":[{"internalType":"uint256","name":"","type":"uint256"}],
	   "stateMutability":"view","type":"function"}
	]`

	burnNFTABIJSON = `[
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"address","name":"user","type":"address"},
	    {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},
	    {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
	    {"indexed":false,"internalType":"uint256","name":"termDays","type":"uint256"}],
	   "name":"BurnNFTMinted","type":"event"},
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"address","name":"user","type":"address"},
	    {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"},
	    {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}],
	   "name":"BurnNFTClaimed","type":"event"},
	  {"anonymous":false,"inputs":[
	    {"indexed":true,"internalType":"uint256","name":"tokenId","type":"uint256"}],
	   "name":"BurnNFTBurned","type":"event"},
	  {"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],
	   "name":"ownerOf",
	   "outputs":[{"internalType":"address","name":"","type":"address"}],
	   "stateMutability":"view","type":"function"}
	]`
)

// Parsed contract ABIs, shared by the feed and the processor.
var (
	XENTokenABI   = mustParseABI(xenTokenABIJSON)
	BurnMinterABI = mustParseABI(burnMinterABIJSON)
	BurnNFTABI    = mustParseABI(burnNFTABIJSON)
)

// ErrUnknownEvent signals a log whose topic doesn't map to a tracked event.
var ErrUnknownEvent = errors.New("unknown event")

// DecodeError is a malformed log; it's skipped and logged, never fatal.
type DecodeError struct {
	TxnHash common.Hash
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding log of txn %s: %s", e.TxnHash, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type eventDescriptor struct {
	name      string
	contract  *abi.ABI
	typ       reflect.Type
	numTopics int
}

var eventDescriptors = map[common.Hash]eventDescriptor{}

func init() {
	register := func(contract *abi.ABI, name string, typ reflect.Type) {
		event := contract.Events[name]
		numTopics := 1
		for _, arg := range event.Inputs {
			if arg.Indexed {
				numTopics++
			}
		}
		eventDescriptors[event.ID] = eventDescriptor{
			name:      name,
			contract:  contract,
			typ:       typ,
			numTopics: numTopics,
		}
	}
	register(&XENTokenABI, "Transfer", reflect.TypeOf(XENTransfer{}))
	register(&BurnMinterABI, "XENBurned", reflect.TypeOf(XENBurned{}))
	register(&BurnMinterABI, "XburnClaimed", reflect.TypeOf(XburnClaimed{}))
	register(&BurnMinterABI, "EmergencyEnd", reflect.TypeOf(EmergencyEnd{}))
	register(&BurnNFTABI, "BurnNFTMinted", reflect.TypeOf(BurnNFTMinted{}))
	register(&BurnNFTABI, "BurnNFTClaimed", reflect.TypeOf(BurnNFTClaimed{}))
	register(&BurnNFTABI, "BurnNFTBurned", reflect.TypeOf(BurnNFTBurned{}))
}

// DecodeLog deconstructs a raw log into one of the typed event structs.
// Untracked topics return ErrUnknownEvent; a tracked topic with a malformed
// payload returns a *DecodeError. The ERC-721 Transfer shares the ERC-20
// Transfer topic but carries an extra indexed argument, so the topic count
// must match too.
func DecodeLog(l types.Log) (interface{}, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	descr, ok := eventDescriptors[l.Topics[0]]
	if !ok || descr.numTopics != len(l.Topics) {
		return nil, ErrUnknownEvent
	}

	i := reflect.New(descr.typ).Interface()
	if len(l.Data) > 0 {
		if err := descr.contract.UnpackIntoInterface(i, descr.name, l.Data); err != nil {
			return nil, &DecodeError{TxnHash: l.TxHash, Err: err}
		}
	}
	var indexed abi.Arguments
	for _, arg := range descr.contract.Events[descr.name].Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopics(i, indexed, l.Topics[1:]); err != nil {
		return nil, &DecodeError{TxnHash: l.TxHash, Err: err}
	}
	reflect.ValueOf(i).Elem().FieldByName("Raw").Set(reflect.ValueOf(l))

	return i, nil
}

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parsing contract abi: %s", err))
	}
	return parsed
}
