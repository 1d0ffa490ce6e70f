package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/goran-ethernal/ChainSync/internal/common"
	pkgconfig "github.com/goran-ethernal/ChainSync/pkg/config"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHAINSYNC_"

const (
	EnvNetworkID         = EnvPrefix + "NETWORK_ID"
	EnvRPCURL            = EnvPrefix + "RPC_URL"
	EnvDefaultStartBlock = EnvPrefix + "DEFAULT_START_BLOCK"
	EnvConfirmationDepth = EnvPrefix + "CONFIRMATION_DEPTH"
	EnvChunkSize         = EnvPrefix + "CHUNK_SIZE"
	EnvABIFile           = EnvPrefix + "ABI_FILE"
	EnvContracts         = EnvPrefix + "CONTRACTS"
	EnvTrackedUsers      = EnvPrefix + "TRACKED_USERS"
	EnvDBPath            = EnvPrefix + "DB_PATH"
	EnvMaxRestarts       = EnvPrefix + "MAX_RESTARTS"
	EnvRedisURL          = EnvPrefix + "REDIS_URL"
)

// LoadDotEnv loads variables from the given .env files into the process environment.
// Missing files are ignored; variables already set are never overwritten.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return nil
}

// ApplyEnv overrides configuration fields with CHAINSYNC_* environment variables.
func ApplyEnv(cfg *pkgconfig.Config) error {
	if v, ok := os.LookupEnv(EnvNetworkID); ok {
		cfg.Network.ID = v
	}
	if v, ok := os.LookupEnv(EnvRPCURL); ok {
		cfg.Network.RPCURL = v
	}
	if v, ok := os.LookupEnv(EnvABIFile); ok {
		cfg.Network.ABIFile = v
	}
	if v, ok := os.LookupEnv(EnvContracts); ok {
		cfg.Network.Contracts = common.SplitAndTrim(v)
	}
	if v, ok := os.LookupEnv(EnvTrackedUsers); ok {
		cfg.Network.TrackedUsers = common.SplitAndTrim(v)
	}
	if v, ok := os.LookupEnv(EnvDBPath); ok {
		cfg.DB.Path = v
	}

	uints := []struct {
		key string
		dst *uint64
	}{
		{EnvDefaultStartBlock, &cfg.Network.DefaultStartBlock},
		{EnvConfirmationDepth, &cfg.Network.ConfirmationDepth},
		{EnvChunkSize, &cfg.Network.ChunkSize},
	}
	for _, u := range uints {
		v, ok := os.LookupEnv(u.key)
		if !ok {
			continue
		}
		n, err := common.ParseUint64orHex(&v)
		if err != nil {
			return fmt.Errorf("%s: %w", u.key, err)
		}
		*u.dst = n
	}

	if v, ok := os.LookupEnv(EnvMaxRestarts); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRestarts, err)
		}
		cfg.Sync.MaxRestarts = n
	}

	if v, ok := os.LookupEnv(EnvRedisURL); ok {
		if cfg.DeadLetter == nil {
			cfg.DeadLetter = &pkgconfig.DeadLetterConfig{}
		}
		cfg.DeadLetter.RedisURL = v
		cfg.DeadLetter.Enabled = v != ""
	}

	return nil
}
