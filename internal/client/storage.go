package client

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/TheMichaelB/vaultkeys/internal/config"
	"github.com/TheMichaelB/vaultkeys/internal/events"
	"github.com/TheMichaelB/vaultkeys/internal/state"
)

// SQLiteFile is the database name used by the sqlite backend.
const SQLiteFile = "vault.db"

// OpenStorage opens the persistent store selected by cfg.Vault.Storage.
func OpenStorage(ctx context.Context, cfg *config.Config, logger *events.Logger) (state.Store, error) {
	switch cfg.Vault.Storage {
	case config.StorageMemory:
		return state.NewMemoryStore(), nil
	case config.StorageJSON:
		return state.NewJSONStore(cfg.Vault.DataDir, logger)
	case config.StorageSQLite:
		return state.NewSQLiteStore(filepath.Join(cfg.Vault.DataDir, SQLiteFile), logger)
	case config.StorageS3:
		return state.NewS3StoreFromEnv(ctx, cfg.AWS.Region, cfg.AWS.Bucket, cfg.AWS.Prefix, logger)
	case config.StorageDynamoDB:
		return state.NewDynamoDBStoreFromEnv(ctx, cfg.AWS.Region, cfg.AWS.Table, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Vault.Storage)
	}
}
