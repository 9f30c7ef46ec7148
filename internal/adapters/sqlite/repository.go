package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// Repository implements ports.PositionStore using SQLite.
// All writes go through writeMu so the store has exactly one writer at a time.
type Repository struct {
	db      *sql.DB
	logger  ports.Logger
	writeMu sync.Mutex
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance and bootstraps its schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/spot_bot.db" // Default path
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL keeps readers off the writer's back; synchronous=FULL makes an acknowledged commit durable.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL&_txlock=immediate")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// NewWithDB wraps an already opened database without touching its schema.
func NewWithDB(db *sql.DB, logger ports.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// initializeSchema creates tables if they don't exist.
// Timestamps are stored as unix nanoseconds so restored values compare equal to saved ones.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		entry_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		take_profit REAL NOT NULL,
		trailing_stop_price REAL NOT NULL DEFAULT 0,
		opened_at INTEGER NOT NULL,
		last_updated_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		entry_order_key TEXT NOT NULL DEFAULT '',
		exit_price REAL NOT NULL DEFAULT 0,
		closed_at INTEGER NOT NULL DEFAULT 0,
		pnl REAL NOT NULL DEFAULT 0,
		close_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_one_open_per_symbol ON positions (symbol) WHERE status = 'open';

	CREATE TABLE IF NOT EXISTS orders (
		idempotency_key TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		limit_price REAL NOT NULL DEFAULT 0,
		stop_loss REAL NOT NULL DEFAULT 0,
		take_profit REAL NOT NULL DEFAULT 0,
		close_reason TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		exchange_order_id INTEGER NOT NULL DEFAULT 0,
		filled_qty REAL NOT NULL DEFAULT 0,
		avg_price REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_orders_state ON orders (state);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		profit REAL NOT NULL DEFAULT 0,
		order_key TEXT NOT NULL DEFAULT '',
		close_reason TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades (ts);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_trades_order_key ON trades (order_key) WHERE order_key != '';
	CREATE TRIGGER IF NOT EXISTS trades_append_only_update BEFORE UPDATE ON trades
	BEGIN SELECT RAISE(ABORT, 'trades are append-only'); END;
	CREATE TRIGGER IF NOT EXISTS trades_append_only_delete BEFORE DELETE ON trades
	BEGIN SELECT RAISE(ABORT, 'trades are append-only'); END;

	CREATE TABLE IF NOT EXISTS exposure (
		symbol TEXT PRIMARY KEY,
		committed_notional REAL NOT NULL
	);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// Ping checks that the database is reachable.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return storageErr("Ping", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s failed: %w: %w", op, ports.ErrStorage, err)
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// --- Positions ---

// SavePosition inserts a new position (ID == 0) or updates an existing one.
func (r *Repository) SavePosition(ctx context.Context, pos *domain.Position) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := savePosition(ctx, r.db, pos); err != nil {
		return storageErr("SavePosition", err)
	}
	r.logger.Debug(ctx, "Position saved", map[string]interface{}{"positionID": pos.ID, "symbol": pos.Symbol, "status": pos.Status})
	return nil
}

func savePosition(ctx context.Context, ex execer, pos *domain.Position) error {
	if pos.ID == 0 {
		const query = `
		INSERT INTO positions (symbol, side, quantity, entry_price, stop_loss, take_profit, trailing_stop_price,
		                       opened_at, last_updated_at, status, entry_order_key, exit_price, closed_at, pnl, close_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		result, err := ex.ExecContext(ctx, query,
			pos.Symbol, pos.Side, pos.Quantity, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.TrailingStopPrice,
			toNanos(pos.OpenedAt), toNanos(pos.LastUpdatedAt), pos.Status, pos.EntryOrderKey,
			pos.ExitPrice, toNanos(pos.ClosedAt), pos.PNL, pos.CloseReason)
		if err != nil {
			return fmt.Errorf("insert position for symbol %s: %w", pos.Symbol, err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert ID for position %s: %w", pos.Symbol, err)
		}
		pos.ID = id
		return nil
	}

	const query = `
	UPDATE positions
	SET quantity = ?, entry_price = ?, stop_loss = ?, take_profit = ?, trailing_stop_price = ?,
	    last_updated_at = ?, status = ?, exit_price = ?, closed_at = ?, pnl = ?, close_reason = ?
	WHERE id = ?`
	result, err := ex.ExecContext(ctx, query,
		pos.Quantity, pos.EntryPrice, pos.StopLoss, pos.TakeProfit, pos.TrailingStopPrice,
		toNanos(pos.LastUpdatedAt), pos.Status, pos.ExitPrice, toNanos(pos.ClosedAt), pos.PNL, pos.CloseReason,
		pos.ID)
	if err != nil {
		return fmt.Errorf("update position ID %d: %w", pos.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d: %w", pos.ID, ports.ErrNotFound)
	}
	return nil
}

const positionColumns = `id, symbol, side, quantity, entry_price, stop_loss, take_profit, trailing_stop_price,
	opened_at, last_updated_at, status, entry_order_key, exit_price, closed_at, pnl, close_reason`

// LoadOpenPositions returns every open position ordered by symbol.
func (r *Repository) LoadOpenPositions(ctx context.Context) ([]*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE status = ? ORDER BY symbol`
	rows, err := r.db.QueryContext(ctx, query, domain.StatusOpen)
	if err != nil {
		return nil, storageErr("LoadOpenPositions", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, storageErr("LoadOpenPositions", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("LoadOpenPositions", err)
	}
	return positions, nil
}

// FindPositionByID retrieves a position by ID. Returns nil, nil if not found.
func (r *Repository) FindPositionByID(ctx context.Context, id int64) (*domain.Position, error) {
	query := `SELECT ` + positionColumns + ` FROM positions WHERE id = ?`
	pos, err := scanPosition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("FindPositionByID", err)
	}
	return pos, nil
}

// --- Orders ---

// SaveOrder inserts an order record or updates its execution fields.
func (r *Repository) SaveOrder(ctx context.Context, rec *domain.OrderRecord) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := saveOrder(ctx, r.db, rec); err != nil {
		return storageErr("SaveOrder", err)
	}
	return nil
}

func saveOrder(ctx context.Context, ex execer, rec *domain.OrderRecord) error {
	const query = `
	INSERT INTO orders (idempotency_key, symbol, side, quantity, limit_price, stop_loss, take_profit, close_reason,
	                    state, exchange_order_id, filled_qty, avg_price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(idempotency_key) DO UPDATE SET
		state = excluded.state,
		exchange_order_id = excluded.exchange_order_id,
		filled_qty = excluded.filled_qty,
		avg_price = excluded.avg_price,
		updated_at = excluded.updated_at`
	req := rec.Request
	_, err := ex.ExecContext(ctx, query,
		req.IdempotencyKey, req.Symbol, req.Side, req.Quantity, req.LimitPrice, req.StopLoss, req.TakeProfit, req.CloseReason,
		rec.State, rec.ExchangeOrderID, rec.FilledQty, rec.AvgPrice, toNanos(req.CreatedAt), toNanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert order %s: %w", req.IdempotencyKey, err)
	}
	return nil
}

const orderColumns = `idempotency_key, symbol, side, quantity, limit_price, stop_loss, take_profit, close_reason,
	state, exchange_order_id, filled_qty, avg_price, created_at, updated_at`

// FindOrder returns the order with the given key. Returns nil, nil if not found.
func (r *Repository) FindOrder(ctx context.Context, key string) (*domain.OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE idempotency_key = ?`
	rec, err := scanOrder(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storageErr("FindOrder", err)
	}
	return rec, nil
}

// UpdateStatus moves an order to status; a no-op when it is already there.
func (r *Repository) UpdateStatus(ctx context.Context, key string, status domain.OrderState) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	const query = `UPDATE orders SET state = ?, updated_at = ? WHERE idempotency_key = ? AND state != ?`
	result, err := r.db.ExecContext(ctx, query, status, time.Now().UnixNano(), key, status)
	if err != nil {
		return storageErr("UpdateStatus", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return storageErr("UpdateStatus", err)
	}
	if n > 0 {
		r.logger.Debug(ctx, "Order status updated", map[string]interface{}{"key": key, "status": status})
		return nil
	}

	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE idempotency_key = ?`, key).Scan(&exists); err != nil {
		return storageErr("UpdateStatus", err)
	}
	if exists == 0 {
		return storageErr("UpdateStatus", fmt.Errorf("order %s: %w", key, ports.ErrNotFound))
	}
	return nil
}

// LoadInFlightOrders returns orders that have not reached a terminal state, oldest first.
func (r *Repository) LoadInFlightOrders(ctx context.Context) ([]*domain.OrderRecord, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE state IN (?, ?) ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, domain.OrderValidated, domain.OrderSubmitted)
	if err != nil {
		return nil, storageErr("LoadInFlightOrders", err)
	}
	defer rows.Close()

	out := make([]*domain.OrderRecord, 0)
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, storageErr("LoadInFlightOrders", err)
		}
		out = append(out, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("LoadInFlightOrders", err)
	}
	return out, nil
}

// --- Trades ---

// AppendTrade adds a record to the append-only trade log.
func (r *Repository) AppendTrade(ctx context.Context, rec *domain.TradeRecord) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := appendTrade(ctx, r.db, rec); err != nil {
		return storageErr("AppendTrade", err)
	}
	r.logger.Debug(ctx, "Trade appended", map[string]interface{}{"tradeID": rec.ID, "symbol": rec.Symbol, "profit": rec.Profit})
	return nil
}

func appendTrade(ctx context.Context, ex execer, rec *domain.TradeRecord) error {
	const query = `
	INSERT INTO trades (ts, symbol, side, quantity, price, profit, order_key, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := ex.ExecContext(ctx, query,
		toNanos(rec.Timestamp), rec.Symbol, rec.Side, rec.Quantity, rec.Price, rec.Profit, rec.OrderKey, rec.CloseReason)
	if err != nil {
		return fmt.Errorf("insert trade for symbol %s: %w", rec.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert ID for trade %s: %w", rec.Symbol, err)
	}
	rec.ID = id
	return nil
}

// TradesSince returns trade records at or after since, oldest first.
func (r *Repository) TradesSince(ctx context.Context, since time.Time) ([]domain.TradeRecord, error) {
	const query = `
	SELECT id, ts, symbol, side, quantity, price, profit, order_key, close_reason
	FROM trades WHERE ts >= ? ORDER BY ts, id`
	rows, err := r.db.QueryContext(ctx, query, toNanos(since))
	if err != nil {
		return nil, storageErr("TradesSince", err)
	}
	defer rows.Close()

	trades := make([]domain.TradeRecord, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, storageErr("TradesSince", err)
		}
		trades = append(trades, *t)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("TradesSince", err)
	}
	return trades, nil
}

// --- Exposure ---

// LoadExposure returns the persisted exposure ledger snapshot.
func (r *Repository) LoadExposure(ctx context.Context) (domain.ExposureLedger, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT symbol, committed_notional FROM exposure`)
	if err != nil {
		return nil, storageErr("LoadExposure", err)
	}
	defer rows.Close()

	ledger := make(domain.ExposureLedger)
	for rows.Next() {
		var symbol string
		var notional float64
		if err := rows.Scan(&symbol, &notional); err != nil {
			return nil, storageErr("LoadExposure", err)
		}
		ledger[symbol] = notional
	}
	if err = rows.Err(); err != nil {
		return nil, storageErr("LoadExposure", err)
	}
	return ledger, nil
}

func replaceExposure(ctx context.Context, ex execer, ledger domain.ExposureLedger) error {
	if _, err := ex.ExecContext(ctx, `DELETE FROM exposure`); err != nil {
		return fmt.Errorf("clear exposure: %w", err)
	}
	for symbol, notional := range ledger {
		if _, err := ex.ExecContext(ctx, `INSERT INTO exposure (symbol, committed_notional) VALUES (?, ?)`, symbol, notional); err != nil {
			return fmt.Errorf("insert exposure for %s: %w", symbol, err)
		}
	}
	return nil
}

// ApplyFill persists the order, position, trade and exposure ledger of a fill in one transaction.
func (r *Repository) ApplyFill(ctx context.Context, fill *ports.Fill) (err error) {
	op := "ApplyFill"
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(op, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				r.logger.Error(ctx, rbErr, "Rollback failed", map[string]interface{}{"key": fill.Order.Request.IdempotencyKey})
			}
		}
	}()

	if err = saveOrder(ctx, tx, &fill.Order); err != nil {
		return storageErr(op, err)
	}
	if fill.Position != nil {
		if err = savePosition(ctx, tx, fill.Position); err != nil {
			return storageErr(op, err)
		}
	}
	if err = appendTrade(ctx, tx, &fill.Trade); err != nil {
		return storageErr(op, err)
	}
	if err = replaceExposure(ctx, tx, fill.Exposure); err != nil {
		return storageErr(op, err)
	}
	if err = tx.Commit(); err != nil {
		return storageErr(op, err)
	}

	r.logger.Info(ctx, "Fill persisted", map[string]interface{}{
		"key": fill.Order.Request.IdempotencyKey, "symbol": fill.Trade.Symbol, "side": fill.Trade.Side,
		"qty": fill.Trade.Quantity, "price": fill.Trade.Price, "profit": fill.Trade.Profit,
	})
	return nil
}

// Flush checkpoints the write-ahead log into the main database file.
func (r *Repository) Flush(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, err := r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return storageErr("Flush", err)
	}
	return nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var side, status, reason string
	var openedAt, updatedAt, closedAt int64
	err := s.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.EntryPrice, &p.StopLoss, &p.TakeProfit, &p.TrailingStopPrice,
		&openedAt, &updatedAt, &status, &p.EntryOrderKey, &p.ExitPrice, &closedAt, &p.PNL, &reason)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	p.Side = domain.OrderSide(side)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	p.OpenedAt = fromNanos(openedAt)
	p.LastUpdatedAt = fromNanos(updatedAt)
	p.ClosedAt = fromNanos(closedAt)
	return p, nil
}

func scanOrder(s scanner) (*domain.OrderRecord, error) {
	rec := &domain.OrderRecord{}
	var side, reason, state string
	var createdAt, updatedAt int64
	req := &rec.Request
	err := s.Scan(
		&req.IdempotencyKey, &req.Symbol, &side, &req.Quantity, &req.LimitPrice, &req.StopLoss, &req.TakeProfit, &reason,
		&state, &rec.ExchangeOrderID, &rec.FilledQty, &rec.AvgPrice, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	req.Side = domain.OrderSide(side)
	req.CloseReason = domain.CloseReason(reason)
	req.CreatedAt = fromNanos(createdAt)
	rec.State = domain.OrderState(state)
	rec.UpdatedAt = fromNanos(updatedAt)
	return rec, nil
}

func scanTrade(s scanner) (*domain.TradeRecord, error) {
	t := &domain.TradeRecord{}
	var side, reason string
	var ts int64
	err := s.Scan(&t.ID, &ts, &t.Symbol, &side, &t.Quantity, &t.Price, &t.Profit, &t.OrderKey, &reason)
	if err != nil {
		return nil, err
	}
	t.Timestamp = fromNanos(ts)
	t.Side = domain.OrderSide(side)
	t.CloseReason = domain.CloseReason(reason)
	return t, nil
}
