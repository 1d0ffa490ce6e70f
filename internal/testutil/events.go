package testutil

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MarketsABI is the event ABI used across package tests.
const MarketsABI = `[
  {
    "type": "event",
    "name": "MarketCreated",
    "anonymous": false,
    "inputs": [
      {"name": "market", "type": "address", "indexed": true},
      {"name": "marketCreator", "type": "address", "indexed": true},
      {"name": "endTime", "type": "uint256", "indexed": false},
      {"name": "description", "type": "string", "indexed": false},
      {"name": "extraInfo", "type": "string", "indexed": false},
      {"name": "feePerCashInAttoCash", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "TokensTransferred",
    "anonymous": false,
    "inputs": [
      {"name": "token", "type": "address", "indexed": true},
      {"name": "from", "type": "address", "indexed": true},
      {"name": "to", "type": "address", "indexed": true},
      {"name": "value", "type": "uint256", "indexed": false}
    ]
  },
  {
    "type": "event",
    "name": "OrderFilled",
    "anonymous": false,
    "inputs": [
      {"name": "market", "type": "address", "indexed": true},
      {"name": "filler", "type": "address", "indexed": true},
      {"name": "orderId", "type": "bytes32", "indexed": false},
      {"name": "amount", "type": "uint256", "indexed": false},
      {"name": "price", "type": "uint256", "indexed": false},
      {"name": "outcome", "type": "uint8", "indexed": false}
    ]
  }
]`

// Default addresses used by tests.
var (
	ContractAddress = common.HexToAddress("0x990f3D4e5d1Ab4b9E8d5bd8b7c5A2B4b3A9B6c3D")
	UserA           = common.HexToAddress("0x913dA4198E6bE1D5f5E4a40D0667f70C0B5430Eb")
	UserB           = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

// ParseMarketsABI parses MarketsABI.
func ParseMarketsABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(MarketsABI))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EventLog ABI-encodes an event emitted by ContractAddress. args holds every
// input of the event in declaration order, indexed ones included.
func EventLog(contract abi.ABI, name string, args ...any) types.Log {
	event, ok := contract.Events[name]
	if !ok {
		panic(fmt.Sprintf("unknown event %s", name))
	}
	if len(args) != len(event.Inputs) {
		panic(fmt.Sprintf("event %s takes %d args, got %d", name, len(event.Inputs), len(args)))
	}

	topics := []common.Hash{event.ID}
	var nonIndexed []any
	for i, input := range event.Inputs {
		if !input.Indexed {
			nonIndexed = append(nonIndexed, args[i])
			continue
		}

		rules, err := abi.MakeTopics([]any{args[i]})
		if err != nil {
			panic(fmt.Sprintf("failed to encode topic %s: %v", input.Name, err))
		}
		topics = append(topics, rules[0][0])
	}

	data, err := event.Inputs.NonIndexed().Pack(nonIndexed...)
	if err != nil {
		panic(fmt.Sprintf("failed to pack %s: %v", name, err))
	}

	return types.Log{
		Address: ContractAddress,
		Topics:  topics,
		Data:    data,
	}
}

var marketsABI = ParseMarketsABI()

// MarketCreatedLog builds a MarketCreated log.
func MarketCreatedLog(market, creator common.Address, endTime uint64, description, extraInfo string) types.Log {
	return EventLog(marketsABI, "MarketCreated",
		market, creator, new(big.Int).SetUint64(endTime), description, extraInfo, big.NewInt(1000))
}

// TokensTransferredLog builds a TokensTransferred log of value wei.
func TokensTransferredLog(token, from, to common.Address, value *big.Int) types.Log {
	return EventLog(marketsABI, "TokensTransferred", token, from, to, value)
}

// OrderFilledLog builds an OrderFilled log.
func OrderFilledLog(market, filler common.Address, orderID [32]byte, amount, price *big.Int, outcome uint8) types.Log {
	return EventLog(marketsABI, "OrderFilled", market, filler, orderID, amount, price, outcome)
}

// MarketMetadata renders the extraInfo JSON of a market.
func MarketMetadata(longDescription string, tags ...string) string {
	quoted := make([]string, len(tags))
	for i, tag := range tags {
		quoted[i] = fmt.Sprintf("%q", tag)
	}
	return fmt.Sprintf(`{"longDescription":%q,"tags":[%s]}`, longDescription, strings.Join(quoted, ","))
}
