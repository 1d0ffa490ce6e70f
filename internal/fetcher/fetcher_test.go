package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/internal/logger"
	irpc "github.com/goran-ethernal/ChainSync/internal/rpc"
	"github.com/goran-ethernal/ChainSync/internal/testutil"
	"github.com/stretchr/testify/require"
)

func transfer(n int64) types.Log {
	return testutil.TokensTransferredLog(ethcommon.HexToAddress("0x1"), testutil.UserB, testutil.UserA, big.NewInt(n))
}

func newTestFetcher(chain *testutil.FakeChain, tail uint64) *Fetcher {
	return New(Config{
		Addresses: []ethcommon.Address{testutil.ContractAddress},
		TailDepth: tail,
	}, chain, logger.NewNopLogger())
}

func TestFetchRange(t *testing.T) {
	chain := testutil.NewFakeChain()
	for i := range 10 {
		if i%3 == 0 {
			chain.AddBlock(transfer(int64(i)), transfer(int64(i+100)))
		} else {
			chain.AddBlock()
		}
	}

	f := newTestFetcher(chain, 3)
	res, err := f.FetchRange(context.Background(), 1, 10)
	require.NoError(t, err)

	require.Len(t, res.Logs, 8)
	for _, l := range res.Logs {
		require.Equal(t, testutil.GenesisTime+l.BlockNumber, res.Timestamp(l.BlockNumber))
	}

	require.Len(t, res.Tail, 3)
	require.Equal(t, uint64(8), res.Tail[0].Number)
	require.Equal(t, chain.Header(10).Hash(), res.Tail[2].Hash)
	require.Equal(t, chain.Header(9).Hash(), res.Tail[2].ParentHash)
}

func TestFetchRange_SplitsTooLargeRanges(t *testing.T) {
	chain := testutil.NewFakeChain()
	for i := range 16 {
		chain.AddBlock(transfer(int64(i)))
	}
	chain.SetMaxResults(3)

	f := newTestFetcher(chain, 0)
	res, err := f.FetchRange(context.Background(), 1, 16)
	require.NoError(t, err)
	require.Len(t, res.Logs, 16)

	for i, l := range res.Logs {
		require.Equal(t, uint64(i+1), l.BlockNumber, "logs stay ordered across split windows")
	}
	require.Greater(t, len(chain.GetLogsCalls()), 1)
}

func TestFetchRange_SingleBlockTooLarge(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlock(transfer(1), transfer(2))
	chain.SetMaxResults(1)

	_, err := newTestFetcher(chain, 0).FetchRange(context.Background(), 1, 1)
	require.ErrorContains(t, err, "cannot split range further")
}

func TestFetchRange_PropagatesOtherErrors(t *testing.T) {
	chain := testutil.NewFakeChain()
	chain.AddBlocks(3)

	boom := errors.New("boom")
	chain.FailNext(testutil.MethodGetLogs, boom)

	_, err := newTestFetcher(chain, 0).FetchRange(context.Background(), 1, 3)
	require.ErrorIs(t, err, boom)
}

func TestNarrow(t *testing.T) {
	tests := []struct {
		name     string
		from, to uint64
		rle      *irpc.RangeLimitError
		want     uint64
		ok       bool
	}{
		{name: "halves", from: 0, to: 9, rle: &irpc.RangeLimitError{}, want: 4, ok: true},
		{name: "two blocks", from: 4, to: 5, rle: &irpc.RangeLimitError{}, want: 4, ok: true},
		{name: "single block", from: 4, to: 4, rle: &irpc.RangeLimitError{}, ok: false},
		{
			name: "honors suggestion",
			from: 100, to: 200,
			rle:  &irpc.RangeLimitError{Suggested: &irpc.BlockRange{From: 100, To: 120}},
			want: 120, ok: true,
		},
		{
			name: "ignores suggestion elsewhere",
			from: 100, to: 200,
			rle:  &irpc.RangeLimitError{Suggested: &irpc.BlockRange{From: 50, To: 120}},
			want: 150, ok: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := narrow(tt.from, tt.to, tt.rle)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got, fmt.Sprintf("%d-%d", tt.from, tt.to))
		})
	}
}

func TestFetchBlockLogs(t *testing.T) {
	chain := testutil.NewFakeChain()
	header := chain.AddBlock(transfer(1), transfer(2))

	logs, err := newTestFetcher(chain, 0).FetchBlockLogs(context.Background(), header.Hash())
	require.NoError(t, err)
	require.Len(t, logs, 2)
}
