// Package pgstore is the relational reference backend of the catalog store.
// GORM maps the row types in models.go onto PostgreSQL, including the
// FOR UPDATE SKIP LOCKED task pick; a pgx connection pool on the write DSN
// is held alongside and serves HeartbeatFast.
//
// Connection management splits one pool for writes from one for reads.
// Both take the same pool limits from Config; when the read DSN is empty
// or equal to the write DSN, reads share the write pool.
package pgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"catalog.evalgo.org/internal/store"
)

var readOnlyTxOptions = sql.TxOptions{ReadOnly: true}

var (
	_ store.Store   = (*Backend)(nil)
	_ store.ReadTx  = (*pgReadTx)(nil)
	_ store.WriteTx = (*pgWriteTx)(nil)
)

// Config carries the connection settings for both pools.
type Config struct {
	// WriteDSN is the primary connection string (keyword/value or URL form).
	WriteDSN string
	// ReadDSN optionally points reads at a replica; empty falls back to
	// WriteDSN.
	ReadDSN string

	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ReadDSN == "" {
		out.ReadDSN = out.WriteDSN
	}
	if out.MaxIdleConns == 0 {
		out.MaxIdleConns = 10
	}
	if out.MaxOpenConns == 0 {
		out.MaxOpenConns = 100
	}
	if out.ConnMaxLifetime == 0 {
		out.ConnMaxLifetime = time.Hour
	}
	return out
}

// Backend implements store.Store over PostgreSQL.
type Backend struct {
	store.Reads

	write *gorm.DB
	read  *gorm.DB
	pool  *pgxpool.Pool
	clock func() time.Time
}

// Open connects both pools and pings the database.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	cfg = cfg.withDefaults()

	write, err := openGorm(cfg.WriteDSN, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open write pool: %w", err)
	}
	read := write
	if cfg.ReadDSN != cfg.WriteDSN {
		read, err = openGorm(cfg.ReadDSN, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open read pool: %w", err)
		}
	}

	pool, err := pgxpool.New(ctx, cfg.WriteDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	b := &Backend{
		write: write,
		read:  read,
		pool:  pool,
		clock: time.Now,
	}
	b.Reads = ops{db: read, clock: b.now}
	return b, nil
}

func openGorm(dsn string, cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// Migrate creates or updates every catalog table.
func (b *Backend) Migrate() error {
	if err := b.write.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	return nil
}

// Close releases both pools.
func (b *Backend) Close() error {
	b.pool.Close()
	sqlDB, err := b.write.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}
	if b.read != b.write {
		readDB, err := b.read.DB()
		if err != nil {
			return err
		}
		return readDB.Close()
	}
	return nil
}

// Pool exposes the pgx pool for callers that need single-statement
// operations outside GORM.
func (b *Backend) Pool() *pgxpool.Pool {
	return b.pool
}

// HeartbeatFast is the worker loop's hot path: one atomic statement over
// the pgx pool instead of a full GORM transaction. The returned state
// mirrors store.TaskWrites.CheckAndHeartbeatTask.
func (b *Backend) HeartbeatFast(ctx context.Context, id uuid.UUID, progress float64, executionDetails []byte) (string, error) {
	now := b.now()
	var status string
	err := b.pool.QueryRow(ctx,
		`UPDATE task
		 SET last_heartbeat_at = $2, progress = $3,
		     execution_details = COALESCE($4, execution_details), updated_at = $2
		 WHERE task_id = $1 AND status IN ('RUNNING', 'STOPPING')
		 RETURNING status`,
		id, now, progress, executionDetails).Scan(&status)
	if err != nil {
		return "", err
	}
	return status, nil
}

func (b *Backend) now() time.Time {
	return b.clock().UTC()
}

// BeginRead opens a read-only transaction on the read pool.
func (b *Backend) BeginRead(ctx context.Context) (store.ReadTx, error) {
	tx := b.read.WithContext(ctx).Begin(&readOnlyTxOptions)
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", tx.Error)
	}
	return &pgReadTx{Reads: ops{db: tx, clock: b.now}, tx: tx}, nil
}

// BeginWrite opens a read-write transaction on the write pool.
func (b *Backend) BeginWrite(ctx context.Context) (store.WriteTx, error) {
	tx := b.write.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin write transaction: %w", tx.Error)
	}
	return &pgWriteTx{ops: ops{db: tx, clock: b.now}, tx: tx}, nil
}

type pgReadTx struct {
	store.Reads

	tx   *gorm.DB
	done bool
}

func (t *pgReadTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback().Error
}

type pgWriteTx struct {
	ops

	tx   *gorm.DB
	done bool
}

func (t *pgWriteTx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *pgWriteTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback().Error
}

// ops carries every read and write implementation over one *gorm.DB, which
// is either a pool handle or an open transaction.
type ops struct {
	db    *gorm.DB
	clock func() time.Time
}

func foldName(s string) string {
	return strings.ToLower(s)
}
