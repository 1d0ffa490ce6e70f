package rpc

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/ChainSync/internal/common"
)

var (
	tooManyResultsRe = regexp.MustCompile(`(?i)query returned more than \d+ results`)
	suggestedRangeRe = regexp.MustCompile(`\[(0x[0-9a-fA-F]+),\s*(0x[0-9a-fA-F]+)\]`)
)

// rangeLimitMarkers are messages other providers use when a getLogs range is too wide.
var rangeLimitMarkers = []string{
	"block range is too wide",
	"block range too large",
	"exceed maximum block range",
	"exceeds max block range",
	"log response size exceeded",
}

// BlockRange is an inclusive block interval.
type BlockRange struct {
	From uint64
	To   uint64
}

// RangeLimitError describes a node refusing a getLogs range.
// Suggested is set when the node proposed a narrower range.
type RangeLimitError struct {
	Message   string
	Suggested *BlockRange
}

// AsRangeLimitError reports whether err is a node refusing a getLogs range as too large.
func AsRangeLimitError(err error) (*RangeLimitError, bool) {
	if err == nil {
		return nil, false
	}

	msg := err.Error()

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) && dataErr.ErrorData() != nil {
		msg = fmt.Sprintf("%s: %v", msg, dataErr.ErrorData())
	}

	if !tooManyResultsRe.MatchString(msg) && !containsAny(strings.ToLower(msg), rangeLimitMarkers) {
		return nil, false
	}

	rle := &RangeLimitError{Message: msg}
	if from, to, ok := ParseSuggestedBlockRange(msg); ok {
		rle.Suggested = &BlockRange{From: from, To: to}
	}

	return rle, true
}

// ParseSuggestedBlockRange extracts a range like "[0x7dfd25, 0x7e0fcc]" from msg.
func ParseSuggestedBlockRange(msg string) (fromBlock, toBlock uint64, ok bool) {
	matches := suggestedRangeRe.FindStringSubmatch(msg)
	if len(matches) != 3 { //nolint:mnd
		return 0, 0, false
	}

	from, err := common.ParseUint64orHex(&matches[1])
	if err != nil {
		return 0, 0, false
	}
	to, err := common.ParseUint64orHex(&matches[2])
	if err != nil || to < from {
		return 0, 0, false
	}

	return from, to, true
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
