// Package postgres implements the ability to read and write blocks and
// transaction records to a Postgres database through gorm.
package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/hasher"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// pgErrUniqueViolation is raised when a second block claims the same number.
const pgErrUniqueViolation = "23505"

// headID is the primary key of the single head row.
const headID = 1

// Config represents the settings for connecting to Postgres.
type Config struct {
	DSN          string
	MaxIdleConns int
	MaxOpenConns int
}

// =============================================================================

// blockRow is the persisted form of a block.
type blockRow struct {
	Number        uint64    `gorm:"column:number;primaryKey;autoIncrement:false"`
	Hash          string    `gorm:"column:hash;type:char(64);uniqueIndex;not null"`
	PrevBlockHash string    `gorm:"column:prev_block_hash;type:char(64);not null"`
	Data          []byte    `gorm:"column:data;type:jsonb;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (blockRow) TableName() string { return "ledger_blocks" }

// txRow is the persisted form of a transaction record.
type txRow struct {
	ID      string    `gorm:"column:tx_id;primaryKey;type:varchar(64)"`
	Status  string    `gorm:"column:status;type:varchar(16);index:idx_pending,priority:1;not null"`
	Created time.Time `gorm:"column:created;index:idx_pending,priority:2;not null"`
	Data    []byte    `gorm:"column:data;type:jsonb;not null"`
}

func (txRow) TableName() string { return "ledger_transactions" }

// headRow is a single row locked by every append so appends are serialized.
type headRow struct {
	ID     int    `gorm:"column:id;primaryKey;autoIncrement:false"`
	Number int64  `gorm:"column:number;not null"`
	Hash   string `gorm:"column:hash;type:char(64);not null"`
}

func (headRow) TableName() string { return "ledger_head" }

// =============================================================================

// Postgres represents the serialization implementation for reading and
// storing blocks in Postgres. This implements the database.Storage interface.
type Postgres struct {
	db *gorm.DB
}

// New opens the connection pool and migrates the ledger tables.
func New(cfg Config) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting connection pool: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(&blockRow{}, &txRow{}, &headRow{}); err != nil {
		return nil, fmt.Errorf("migrating: %w", err)
	}

	head := headRow{ID: headID, Number: -1, Hash: hasher.ZeroHash}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&head).Error; err != nil {
		return nil, fmt.Errorf("creating head: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Reset removes every block and transaction record.
func (p *Postgres) Reset() error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&blockRow{}).Error; err != nil {
			return err
		}

		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&txRow{}).Error; err != nil {
			return err
		}

		return tx.Model(&headRow{}).Where("id = ?", headID).Updates(map[string]any{"number": -1, "hash": hasher.ZeroHash}).Error
	})
}

// AppendBlock writes the block and confirms its transactions in a single
// database transaction while holding a lock on the head row.
func (p *Postgres) AppendBlock(block database.Block) error {
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var head headRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&head, headID).Error; err != nil {
			return fmt.Errorf("locking head: %w", err)
		}

		if int64(block.Header.Number) != head.Number+1 || block.Header.PrevBlockHash != head.Hash {
			return database.ErrStaleHead
		}

		for _, id := range block.TxIDs {
			var row txRow
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "tx_id = ?", id).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("transaction %s: %w", id, database.ErrNotFound)
				}
				return err
			}

			var rec database.Tx
			if err := json.Unmarshal(row.Data, &rec); err != nil {
				return fmt.Errorf("decoding transaction %s: %w", id, err)
			}

			if rec.Status != database.TxStatusPending {
				return fmt.Errorf("transaction %s is %s: %w", id, rec.Status, database.ErrTxNotPending)
			}

			confirmed, err := toTxRow(rec.Confirm(block))
			if err != nil {
				return err
			}

			if err := tx.Save(&confirmed).Error; err != nil {
				return err
			}
		}

		data, err := json.Marshal(block)
		if err != nil {
			return err
		}

		row := blockRow{
			Number:        block.Header.Number,
			Hash:          block.Hash,
			PrevBlockHash: block.Header.PrevBlockHash,
			Data:          data,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		head.Number = int64(block.Header.Number)
		head.Hash = block.Hash

		return tx.Save(&head).Error
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
		return database.ErrStaleHead
	}

	return err
}

// GetBlock returns the block for the specified number.
func (p *Postgres) GetBlock(num uint64) (database.Block, error) {
	var row blockRow
	if err := p.db.First(&row, "number = ?", num).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Block{}, database.ErrNotFound
		}
		return database.Block{}, err
	}

	var block database.Block
	if err := json.Unmarshal(row.Data, &block); err != nil {
		return database.Block{}, fmt.Errorf("decoding block %d: %w", num, err)
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with the genesis block.
func (p *Postgres) ForEach() database.Iterator {
	return &postgresIterator{storage: p}
}

// SaveTx inserts or replaces the transaction record.
func (p *Postgres) SaveTx(tx database.Tx) error {
	row, err := toTxRow(tx)
	if err != nil {
		return err
	}

	return p.db.Save(&row).Error
}

// GetTx returns the transaction record for the id.
func (p *Postgres) GetTx(id string) (database.Tx, error) {
	var row txRow
	if err := p.db.First(&row, "tx_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.Tx{}, database.ErrNotFound
		}
		return database.Tx{}, err
	}

	return fromTxRow(row)
}

// FailTx marks a pending transaction record as failed while holding a lock
// on its row, the same lock AppendBlock takes to confirm it.
func (p *Postgres) FailTx(id string, reason string) (database.Tx, error) {
	var rec database.Tx
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var row txRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "tx_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return database.ErrNotFound
			}
			return err
		}

		var err error
		if rec, err = fromTxRow(row); err != nil {
			return err
		}

		if rec.Status != database.TxStatusPending {
			return fmt.Errorf("transaction is %s: %w", rec.Status, database.ErrTxNotPending)
		}

		rec.Status = database.TxStatusFailed
		rec.Reason = reason

		failed, err := toTxRow(rec)
		if err != nil {
			return err
		}

		return tx.Save(&failed).Error
	})
	if err != nil {
		return database.Tx{}, err
	}

	return rec, nil
}

// PendingTxs returns the pending transactions, oldest first.
func (p *Postgres) PendingTxs() ([]database.Tx, error) {
	var rows []txRow
	err := p.db.
		Where("status = ?", string(database.TxStatusPending)).
		Order("created ASC").
		Order("tx_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	pending := make([]database.Tx, 0, len(rows))
	for _, row := range rows {
		tx, err := fromTxRow(row)
		if err != nil {
			return nil, err
		}
		pending = append(pending, tx)
	}

	return pending, nil
}

// CountTxs returns the number of transaction records.
func (p *Postgres) CountTxs() (int, error) {
	var count int64
	if err := p.db.Model(&txRow{}).Count(&count).Error; err != nil {
		return 0, err
	}

	return int(count), nil
}

// =============================================================================

// postgresIterator represents the iteration implementation for walking
// through and reading blocks in the database. This implements the database
// Iterator interface.
type postgresIterator struct {
	storage *Postgres // Access to the storage API.
	current uint64    // Current block number being iterated over.
	eoc     bool      // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from the database. A read error other than
// reaching the end of the chain is returned without ending the iteration.
func (pi *postgresIterator) Next() (database.Block, error) {
	if pi.eoc {
		return database.Block{}, database.ErrNotFound
	}

	block, err := pi.storage.GetBlock(pi.current)
	switch {
	case errors.Is(err, database.ErrNotFound):
		pi.eoc = true
		return database.Block{}, err
	case err != nil:
		return database.Block{}, fmt.Errorf("block %d: %w", pi.current, err)
	}

	pi.current++

	return block, nil
}

// Done returns the end of chain value.
func (pi *postgresIterator) Done() bool {
	return pi.eoc
}

// =============================================================================

func toTxRow(tx database.Tx) (txRow, error) {
	data, err := json.Marshal(tx)
	if err != nil {
		return txRow{}, fmt.Errorf("encoding transaction %s: %w", tx.ID, err)
	}

	return txRow{
		ID:      tx.ID,
		Status:  string(tx.Status),
		Created: tx.Created,
		Data:    data,
	}, nil
}

func fromTxRow(row txRow) (database.Tx, error) {
	var tx database.Tx
	if err := json.Unmarshal(row.Data, &tx); err != nil {
		return database.Tx{}, fmt.Errorf("decoding transaction %s: %w", row.ID, err)
	}

	return tx, nil
}
