// Package indexer persists committed blocks, receipts and events to a SQL
// database for historical queries.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"stakechain/core/runtime"
	"stakechain/core/types"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultListLimit = 100
	maxListLimit     = 1000
	queueSize        = 256
)

// ErrQueueFull is logged when blocks arrive faster than they can be written.
var ErrQueueFull = errors.New("indexer: queue full")

// Indexer writes block results to the database. OnBlock only enqueues, so the
// runtime never waits on the database; Run drains the queue.
type Indexer struct {
	db     *gorm.DB
	queue  chan *runtime.BlockResult
	logger *slog.Logger
}

var _ runtime.BlockListener = (*Indexer)(nil)

// Open connects to driver (sqlite or postgres) at dsn and migrates the schema.
func Open(driver, dsn string, log *slog.Logger) (*Indexer, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open %s: %w", driver, err)
	}
	return New(db, log)
}

// New wraps an existing connection.
func New(db *gorm.DB, log *slog.Logger) (*Indexer, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := db.AutoMigrate(&Block{}, &EventRecord{}, &Receipt{}); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return &Indexer{db: db, queue: make(chan *runtime.BlockResult, queueSize), logger: log}, nil
}

// Close releases the database connection.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// OnBlock implements runtime.BlockListener.
func (ix *Indexer) OnBlock(result *runtime.BlockResult) {
	select {
	case ix.queue <- result:
	default:
		ix.logger.Error("indexer: dropping block", slog.Uint64("height", result.Number), slog.Any("error", ErrQueueFull))
	}
}

// Run writes queued blocks until ctx is cancelled, then flushes what is left.
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case result := <-ix.queue:
					ix.record(result)
				default:
					return ctx.Err()
				}
			}
		case result := <-ix.queue:
			ix.record(result)
		}
	}
}

func (ix *Indexer) record(result *runtime.BlockResult) {
	if err := ix.Record(result); err != nil {
		ix.logger.Error("indexer: record block", slog.Uint64("height", result.Number), slog.Any("error", err))
	}
}

// Record stores result in one transaction. Recording a height twice is an
// error.
func (ix *Indexer) Record(result *runtime.BlockResult) error {
	now := time.Now().UTC()
	block := Block{
		Height:       result.Number,
		Hash:         fmt.Sprintf("0x%x", result.Hash),
		Timestamp:    result.Header.Timestamp,
		StateDigest:  fmt.Sprintf("0x%x", result.StateDigest),
		ReceiptsRoot: fmt.Sprintf("0x%x", result.Header.ReceiptsRoot),
		Calls:        len(result.Receipts),
		Expired:      result.Expired,
		CreatedAt:    now,
	}
	if !result.Header.Author.IsZero() {
		block.Author = result.Header.Author.String()
	}
	if result.Session != nil {
		session := uint64(result.Session.Session)
		block.Session = &session
	}
	if result.NewEra != nil {
		era := uint64(*result.NewEra)
		block.Era = &era
	}

	receipts := make([]Receipt, 0, len(result.Receipts))
	for _, r := range result.Receipts {
		if !r.Success() {
			block.FailedCalls++
		}
		fee := "0"
		if r.Fee != nil {
			fee = r.Fee.Dec()
		}
		receipts = append(receipts, Receipt{
			ID:        uuid.New(),
			Height:    result.Number,
			Position:  r.Index,
			Call:      r.Call,
			Origin:    r.Origin,
			Fee:       fee,
			Error:     r.Error,
			CreatedAt: now,
		})
	}

	records := make([]EventRecord, 0, len(result.Events))
	for i, evt := range result.Events {
		attrs, err := json.Marshal(evt.Attributes)
		if err != nil {
			return err
		}
		records = append(records, EventRecord{
			ID:         uuid.New(),
			Height:     result.Number,
			Position:   i,
			Type:       evt.Type,
			Attributes: string(attrs),
			CreatedAt:  now,
		})
	}

	return ix.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&block).Error; err != nil {
			return err
		}
		if len(receipts) > 0 {
			if err := tx.Create(&receipts).Error; err != nil {
				return err
			}
		}
		if len(records) > 0 {
			if err := tx.Create(&records).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	Type       string
	FromHeight uint64
	ToHeight   uint64
	Limit      int
}

// Event is an EventRecord with decoded attributes.
type Event struct {
	Height uint64 `json:"height"`
	types.Event
}

// List returns events in chain order.
func (ix *Indexer) List(ctx context.Context, filter Filter) ([]Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := ix.db.WithContext(ctx).Model(&EventRecord{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.FromHeight > 0 {
		query = query.Where("height >= ?", filter.FromHeight)
	}
	if filter.ToHeight > 0 {
		query = query.Where("height <= ?", filter.ToHeight)
	}
	var rows []EventRecord
	if err := query.Order("height ASC").Order("position ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		evt := Event{Height: row.Height, Event: types.Event{Type: row.Type}}
		if row.Attributes != "" {
			if err := json.Unmarshal([]byte(row.Attributes), &evt.Attributes); err != nil {
				return nil, fmt.Errorf("indexer: decode event %s: %w", row.ID, err)
			}
		}
		out = append(out, evt)
	}
	return out, nil
}

// Block returns the indexed block at height.
func (ix *Indexer) Block(ctx context.Context, height uint64) (*Block, bool, error) {
	var block Block
	err := ix.db.WithContext(ctx).Where("height = ?", height).Take(&block).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &block, true, nil
}

// Receipts returns the receipts recorded at height.
func (ix *Indexer) Receipts(ctx context.Context, height uint64) ([]Receipt, error) {
	var rows []Receipt
	err := ix.db.WithContext(ctx).Where("height = ?", height).Order("position ASC").Find(&rows).Error
	return rows, err
}
