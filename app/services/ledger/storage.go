package main

import (
	"errors"
	"fmt"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/storage/badger"
	"github.com/ardanlabs/coopledger/foundation/blockchain/storage/memory"
	"github.com/ardanlabs/coopledger/foundation/blockchain/storage/postgres"
	"go.uber.org/zap"
)

// Set of storage engines the service can run against.
const (
	engineMemory   = "memory"
	engineBadger   = "badger"
	enginePostgres = "postgres"
)

// storageConfig represents the storage settings from the configuration.
type storageConfig struct {
	Engine     string
	BadgerPath string
	SyncWrites bool
	DSN        string
}

// openStorage constructs the storage engine named in the configuration.
func openStorage(log *zap.SugaredLogger, cfg storageConfig) (database.Storage, error) {
	switch cfg.Engine {
	case engineMemory:
		return memory.New()

	case engineBadger:
		storage, err := badger.New(badger.Config{
			Path:       cfg.BadgerPath,
			SyncWrites: cfg.SyncWrites,
			Log:        log,
		})
		if err != nil {
			return nil, fmt.Errorf("opening badger storage: %w", err)
		}
		return storage, nil

	case enginePostgres:
		if cfg.DSN == "" {
			return nil, errors.New("postgres storage requires a DSN")
		}
		storage, err := postgres.New(postgres.Config{
			DSN:          cfg.DSN,
			MaxIdleConns: 2,
			MaxOpenConns: 10,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres storage: %w", err)
		}
		return storage, nil
	}

	return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
}
