package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"positionCore/internal/domain"
	"positionCore/internal/ports"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// Store implements the ports.PositionStore interface using SQLite.
//
// The database runs in WAL journal mode with synchronous=FULL so an accepted
// write is durable before the call returns. Open positions live in the
// point-updatable positions table guarded by a version column; closed
// positions are appended to closed_positions and never rewritten. Money
// columns hold integer minor units (domain.MoneyScale), never floating point.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore creates a new SQLite store instance.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/positions.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// WAL mode for concurrent readers, synchronous=FULL so commits survive a crash.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// Single writer discipline: the Go driver funnels all access through one
	// connection, which also keeps Compact exclusive with mutations.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, logger: cfg.Logger}
	if err := s.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite store initialized", map[string]interface{}{"path": dbPath})
	return s, nil
}

func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		position_id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price INTEGER NOT NULL,
		current_price INTEGER NOT NULL,
		cost_basis INTEGER NOT NULL,
		market_value INTEGER NOT NULL,
		unrealized_pnl INTEGER NOT NULL,
		unrealized_pnl_pct INTEGER NOT NULL,
		stop_loss_price INTEGER DEFAULT NULL,
		take_profit_price INTEGER DEFAULT NULL,
		opened_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		entry_order_id TEXT NOT NULL DEFAULT '',
		signal_id TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS closed_positions (
		position_id TEXT PRIMARY KEY,
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price INTEGER NOT NULL,
		current_price INTEGER NOT NULL,
		cost_basis INTEGER NOT NULL,
		market_value INTEGER NOT NULL,
		unrealized_pnl INTEGER NOT NULL,
		unrealized_pnl_pct INTEGER NOT NULL,
		stop_loss_price INTEGER DEFAULT NULL,
		take_profit_price INTEGER DEFAULT NULL,
		opened_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		entry_order_id TEXT NOT NULL DEFAULT '',
		signal_id TEXT NOT NULL DEFAULT '',
		strategy TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		exit_price INTEGER NOT NULL,
		exit_reason TEXT NOT NULL,
		exit_order_id TEXT NOT NULL DEFAULT '',
		closed_at INTEGER NOT NULL,
		hold_duration_ns INTEGER NOT NULL,
		realized_pnl INTEGER NOT NULL,
		realized_pnl_pct INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_positions_ticker ON positions (ticker);
	CREATE INDEX IF NOT EXISTS idx_closed_positions_ticker ON closed_positions (ticker, closed_at);
	CREATE INDEX IF NOT EXISTS idx_closed_positions_strategy ON closed_positions (strategy, closed_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite store")
		return s.db.Close()
	}
	return nil
}

// persistErr tags an infrastructure failure with the ErrPersistence sentinel
// while keeping the driver error visible.
func persistErr(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %v: %w", fmt.Sprintf(format, args...), err, ports.ErrPersistence)
}

func isConstraintErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// --- Open positions ---

const positionColumns = `position_id, ticker, side, quantity, entry_price, current_price,
	cost_basis, market_value, unrealized_pnl, unrealized_pnl_pct,
	stop_loss_price, take_profit_price, opened_at, updated_at,
	entry_order_id, signal_id, strategy, version, metadata`

// PutOpen persists a new open position.
func (s *Store) PutOpen(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (` + positionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	args, err := positionArgs(pos)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("position %s already exists: %w", pos.ID, ports.ErrDuplicateEntry)
		}
		return persistErr(err, "failed to insert position %s", pos.ID)
	}
	s.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": pos.ID, "ticker": pos.Ticker})
	return nil
}

// GetOpen retrieves an open position by id.
func (s *Store) GetOpen(ctx context.Context, id string) (*domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE position_id = ?`

	pos, err := scanPosition(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("open position %s: %w", id, ports.ErrNotFound)
		}
		return nil, persistErr(err, "failed to query open position %s", id)
	}
	return pos, nil
}

// GetOpenByTicker retrieves all open positions for a ticker.
func (s *Store) GetOpenByTicker(ctx context.Context, ticker string) ([]*domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions WHERE ticker = ? ORDER BY opened_at`
	return s.queryPositions(ctx, query, ticker)
}

// ListOpen returns a snapshot of every open position.
func (s *Store) ListOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = `SELECT ` + positionColumns + ` FROM positions ORDER BY opened_at`
	return s.queryPositions(ctx, query)
}

func (s *Store) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "failed to query open positions")
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, persistErr(err, "failed to scan open position row")
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "error iterating open position rows")
	}
	return positions, nil
}

// UpdateOpen overwrites the mutable fields of an open position iff the stored
// version matches expectedVersion. The entry-time columns (ticker, side,
// quantity, entry price, cost basis, opened_at, entry/signal/strategy ids) are
// never rewritten, so a caller cannot alter them even by accident.
func (s *Store) UpdateOpen(ctx context.Context, pos *domain.Position, expectedVersion int64) error {
	const query = `
	UPDATE positions
	SET current_price = ?, market_value = ?, unrealized_pnl = ?, unrealized_pnl_pct = ?,
	    stop_loss_price = ?, take_profit_price = ?, updated_at = ?, version = ?, metadata = ?
	WHERE position_id = ? AND version = ?`

	meta, err := json.Marshal(metaOrEmpty(pos.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata for position %s: %w", pos.ID, err)
	}
	c := &minorConv{id: pos.ID}
	args := []interface{}{
		c.units("current price", pos.CurrentPrice), c.units("market value", pos.MarketValue),
		c.units("unrealized pnl", pos.UnrealizedPnL), c.units("unrealized pnl pct", pos.UnrealizedPnLPct),
		c.optUnits("stop loss price", pos.StopLossPrice), c.optUnits("take profit price", pos.TakeProfitPrice),
		pos.UpdatedAt.UnixNano(), pos.Version, string(meta),
		pos.ID, expectedVersion,
	}
	if c.err != nil {
		return c.err
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistErr(err, "failed to update position %s", pos.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistErr(err, "failed to get rows affected for position %s", pos.ID)
	}
	if affected == 0 {
		return classifyMissedWrite(ctx, s.db, pos.ID, expectedVersion)
	}
	s.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "version": pos.Version})
	return nil
}

// RemoveOpen deletes an open position under the same version guard as UpdateOpen.
func (s *Store) RemoveOpen(ctx context.Context, id string, expectedVersion int64) error {
	const query = `DELETE FROM positions WHERE position_id = ? AND version = ?`

	result, err := s.db.ExecContext(ctx, query, id, expectedVersion)
	if err != nil {
		return persistErr(err, "failed to delete position %s", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistErr(err, "failed to get rows affected for position %s", id)
	}
	if affected == 0 {
		return classifyMissedWrite(ctx, s.db, id, expectedVersion)
	}
	s.logger.Debug(ctx, "Position removed", map[string]interface{}{"positionID": id})
	return nil
}

// querier covers *sql.DB and *sql.Tx so missed writes inside a transaction can
// be classified on the transaction's own connection.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// classifyMissedWrite distinguishes a stale version from a missing row after a
// guarded write touched nothing.
func classifyMissedWrite(ctx context.Context, q querier, id string, expectedVersion int64) error {
	var stored int64
	err := q.QueryRowContext(ctx, `SELECT version FROM positions WHERE position_id = ?`, id).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("open position %s: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return persistErr(err, "failed to re-query position %s", id)
	}
	return fmt.Errorf("position %s expected version %d, stored %d: %w", id, expectedVersion, stored, ports.ErrConflict)
}

// --- Closed positions ---

const closedColumns = positionColumns + `,
	exit_price, exit_reason, exit_order_id, closed_at, hold_duration_ns, realized_pnl, realized_pnl_pct`

const insertClosedQuery = `
	INSERT INTO closed_positions (` + closedColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// AppendClosed appends a closed-position audit record.
func (s *Store) AppendClosed(ctx context.Context, cp *domain.ClosedPosition) error {
	args, err := closedArgs(cp)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertClosedQuery, args...); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("closed position %s already recorded: %w", cp.ID, ports.ErrDuplicateEntry)
		}
		return persistErr(err, "failed to insert closed position %s", cp.ID)
	}
	s.logger.Debug(ctx, "Closed position appended", map[string]interface{}{"positionID": cp.ID, "reason": cp.ExitReason})
	return nil
}

// MoveToClosed atomically removes the open record and appends the closed
// record in a single transaction, guarded by expectedVersion.
func (s *Store) MoveToClosed(ctx context.Context, cp *domain.ClosedPosition, expectedVersion int64) error {
	args, err := closedArgs(cp)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr(err, "failed to begin close transaction for %s", cp.ID)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE position_id = ? AND version = ?`, cp.ID, expectedVersion)
	if err != nil {
		return persistErr(err, "failed to delete open position %s during close", cp.ID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return persistErr(err, "failed to get rows affected closing %s", cp.ID)
	}
	if affected == 0 {
		return classifyMissedWrite(ctx, tx, cp.ID, expectedVersion)
	}

	if _, err := tx.ExecContext(ctx, insertClosedQuery, args...); err != nil {
		if isConstraintErr(err) {
			return fmt.Errorf("closed position %s already recorded: %w", cp.ID, ports.ErrDuplicateEntry)
		}
		return persistErr(err, "failed to insert closed position %s", cp.ID)
	}
	if err := tx.Commit(); err != nil {
		return persistErr(err, "failed to commit close of %s", cp.ID)
	}
	s.logger.Debug(ctx, "Position moved to closed", map[string]interface{}{"positionID": cp.ID, "reason": cp.ExitReason})
	return nil
}

// GetClosedByID retrieves a closed position by id.
func (s *Store) GetClosedByID(ctx context.Context, id string) (*domain.ClosedPosition, error) {
	const query = `SELECT ` + closedColumns + ` FROM closed_positions WHERE position_id = ?`

	cp, err := scanClosed(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("closed position %s: %w", id, ports.ErrNotFound)
		}
		return nil, persistErr(err, "failed to query closed position %s", id)
	}
	return cp, nil
}

// GetClosed retrieves closed positions matching the filter, most recent first.
func (s *Store) GetClosed(ctx context.Context, filter ports.ClosedFilter) ([]*domain.ClosedPosition, error) {
	query := `SELECT ` + closedColumns + ` FROM closed_positions`
	var (
		conds []string
		args  []interface{}
	)
	if filter.Ticker != "" {
		conds = append(conds, "ticker = ?")
		args = append(args, filter.Ticker)
	}
	if filter.Strategy != "" {
		conds = append(conds, "strategy = ?")
		args = append(args, filter.Strategy)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY closed_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "failed to query closed positions")
	}
	defer rows.Close()

	closed := make([]*domain.ClosedPosition, 0)
	for rows.Next() {
		cp, err := scanClosed(rows)
		if err != nil {
			return nil, persistErr(err, "failed to scan closed position row")
		}
		closed = append(closed, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "error iterating closed position rows")
	}
	return closed, nil
}

// Compact truncates the write-ahead log so its size stays bounded relative to
// live data. Callers must not run it concurrently with writers.
func (s *Store) Compact(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`).Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return persistErr(err, "failed to checkpoint write-ahead log")
	}
	if busy != 0 {
		return fmt.Errorf("wal checkpoint blocked by active writer: %w", ports.ErrConflict)
	}
	s.logger.Debug(ctx, "Write-ahead log compacted", map[string]interface{}{"logFrames": logFrames, "checkpointed": checkpointed})
	return nil
}

// --- Row binding helpers ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// minorConv converts decimal money fields to minor units, carrying the first
// conversion failure so a batch of conversions reads flat.
type minorConv struct {
	id  string
	err error
}

func (c *minorConv) units(field string, d decimal.Decimal) int64 {
	if c.err != nil {
		return 0
	}
	u, err := domain.ToMinorUnits(d)
	if err != nil {
		c.err = fmt.Errorf("position %s %s: %v: %w", c.id, field, err, ports.ErrValidation)
	}
	return u
}

func (c *minorConv) optUnits(field string, d *decimal.Decimal) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: c.units(field, *d), Valid: true}
}

func positionArgs(pos *domain.Position) ([]interface{}, error) {
	meta, err := json.Marshal(metaOrEmpty(pos.Metadata))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata for position %s: %w", pos.ID, err)
	}
	c := &minorConv{id: pos.ID}
	args := []interface{}{
		pos.ID, pos.Ticker, string(pos.Side), pos.Quantity,
		c.units("entry price", pos.EntryPrice), c.units("current price", pos.CurrentPrice),
		c.units("cost basis", pos.CostBasis), c.units("market value", pos.MarketValue),
		c.units("unrealized pnl", pos.UnrealizedPnL), c.units("unrealized pnl pct", pos.UnrealizedPnLPct),
		c.optUnits("stop loss price", pos.StopLossPrice), c.optUnits("take profit price", pos.TakeProfitPrice),
		pos.OpenedAt.UnixNano(), pos.UpdatedAt.UnixNano(),
		pos.EntryOrderID, pos.SignalID, pos.Strategy, pos.Version, string(meta),
	}
	if c.err != nil {
		return nil, c.err
	}
	return args, nil
}

func closedArgs(cp *domain.ClosedPosition) ([]interface{}, error) {
	args, err := positionArgs(&cp.Position)
	if err != nil {
		return nil, err
	}
	c := &minorConv{id: cp.ID}
	args = append(args,
		c.units("exit price", cp.ExitPrice), string(cp.ExitReason), cp.ExitOrderID,
		cp.ClosedAt.UnixNano(), int64(cp.HoldDuration),
		c.units("realized pnl", cp.RealizedPnL), c.units("realized pnl pct", cp.RealizedPnLPct),
	)
	if c.err != nil {
		return nil, c.err
	}
	return args, nil
}

func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var dest = positionDest(p)
	if err := s.Scan(dest.fields...); err != nil {
		return nil, err
	}
	if err := dest.bind(p); err != nil {
		return nil, err
	}
	return p, nil
}

func scanClosed(s scanner) (*domain.ClosedPosition, error) {
	cp := &domain.ClosedPosition{}
	dest := positionDest(&cp.Position)
	var (
		exitPrice, closedAt, holdNs, realized, realizedPct int64
		exitReason, exitOrderID                            string
	)
	fields := append(dest.fields, &exitPrice, &exitReason, &exitOrderID, &closedAt, &holdNs, &realized, &realizedPct)
	if err := s.Scan(fields...); err != nil {
		return nil, err
	}
	if err := dest.bind(&cp.Position); err != nil {
		return nil, err
	}
	cp.ExitPrice = domain.FromMinorUnits(exitPrice)
	cp.ExitReason = domain.ExitReason(exitReason)
	cp.ExitOrderID = exitOrderID
	cp.ClosedAt = time.Unix(0, closedAt).UTC()
	cp.HoldDuration = time.Duration(holdNs)
	cp.RealizedPnL = domain.FromMinorUnits(realized)
	cp.RealizedPnLPct = domain.FromMinorUnits(realizedPct)
	return cp, nil
}

// positionScan carries the raw column values of a position row until bind
// converts them into domain types.
type positionScan struct {
	side                                                string
	entry, current, costBasis, marketValue, pnl, pnlPct int64
	stopLoss, takeProfit                                sql.NullInt64
	openedAt, updatedAt                                 int64
	metadata                                            string
	fields                                              []interface{}
}

func positionDest(p *domain.Position) *positionScan {
	d := &positionScan{}
	d.fields = []interface{}{
		&p.ID, &p.Ticker, &d.side, &p.Quantity,
		&d.entry, &d.current, &d.costBasis, &d.marketValue, &d.pnl, &d.pnlPct,
		&d.stopLoss, &d.takeProfit, &d.openedAt, &d.updatedAt,
		&p.EntryOrderID, &p.SignalID, &p.Strategy, &p.Version, &d.metadata,
	}
	return d
}

func (d *positionScan) bind(p *domain.Position) error {
	p.Side = domain.Side(d.side)
	p.EntryPrice = domain.FromMinorUnits(d.entry)
	p.CurrentPrice = domain.FromMinorUnits(d.current)
	p.CostBasis = domain.FromMinorUnits(d.costBasis)
	p.MarketValue = domain.FromMinorUnits(d.marketValue)
	p.UnrealizedPnL = domain.FromMinorUnits(d.pnl)
	p.UnrealizedPnLPct = domain.FromMinorUnits(d.pnlPct)
	if d.stopLoss.Valid {
		sl := domain.FromMinorUnits(d.stopLoss.Int64)
		p.StopLossPrice = &sl
	}
	if d.takeProfit.Valid {
		tp := domain.FromMinorUnits(d.takeProfit.Int64)
		p.TakeProfitPrice = &tp
	}
	p.OpenedAt = time.Unix(0, d.openedAt).UTC()
	p.UpdatedAt = time.Unix(0, d.updatedAt).UTC()
	if err := json.Unmarshal([]byte(d.metadata), &p.Metadata); err != nil {
		return fmt.Errorf("failed to unmarshal metadata for position %s: %w", p.ID, err)
	}
	return nil
}

func metaOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
