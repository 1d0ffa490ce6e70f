package types

import (
	"context"
	"fmt"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/goran-ethernal/ChainSync/pkg/rpc"
)

// BlockFinality selects which chain head backfill runs up to.
type BlockFinality string

const (
	// FinalityFinalized uses the finalized block tag (highest level of finality)
	FinalityFinalized BlockFinality = config.FinalityFinalized

	// FinalitySafe uses the safe block tag (medium level of finality)
	FinalitySafe BlockFinality = config.FinalitySafe

	// FinalityLatest uses the latest block tag (no finality guarantees)
	FinalityLatest BlockFinality = config.FinalityLatest
)

// String returns the string representation of BlockFinality.
func (f BlockFinality) String() string {
	return string(f)
}

// IsValid checks if the BlockFinality value is valid.
func (f BlockFinality) IsValid() bool {
	switch f {
	case FinalityFinalized, FinalitySafe, FinalityLatest:
		return true
	default:
		return false
	}
}

// ParseBlockFinality parses a string into a BlockFinality. Empty means latest.
func ParseBlockFinality(s string) (BlockFinality, error) {
	if s == "" {
		return FinalityLatest, nil
	}

	f := BlockFinality(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid block finality: %s (must be one of: finalized, safe, latest)", s)
	}
	return f, nil
}

// Head fetches the header tagged by f.
func (f BlockFinality) Head(ctx context.Context, client rpc.EthClient) (*ethtypes.Header, error) {
	var (
		header *ethtypes.Header
		err    error
	)

	switch f {
	case FinalityFinalized:
		header, err = client.GetFinalizedBlockHeader(ctx)
	case FinalitySafe:
		header, err = client.GetSafeBlockHeader(ctx)
	case FinalityLatest, "":
		header, err = client.GetLatestBlockHeader(ctx)
	default:
		return nil, fmt.Errorf("invalid block finality: %s", f)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get %s head: %w", f, err)
	}
	if header == nil || header.Number == nil {
		return nil, fmt.Errorf("node returned no %s head", f)
	}

	return header, nil
}
