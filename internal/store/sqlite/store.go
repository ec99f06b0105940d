package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"turtle-trader/internal/model"
	"turtle-trader/pkg/ta"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// kindTrueRange 真实波幅单独存储，窗口记为 0
const kindTrueRange ta.Kind = "true_range"

// Store 本地 sqlite 存储: 日线价格和计算后的指标
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open 打开 (或创建) 数据库并初始化表结构
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 单写连接
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", dbPath))
	return &Store{db: db, logger: logger}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS price_data (
			symbol TEXT    NOT NULL,
			date   TEXT    NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume INTEGER NOT NULL,
			PRIMARY KEY (symbol, date)
		);

		CREATE TABLE IF NOT EXISTS indicator_values (
			symbol TEXT    NOT NULL,
			date   TEXT    NOT NULL,
			kind   TEXT    NOT NULL,
			win    INTEGER NOT NULL,
			value  REAL,
			PRIMARY KEY (symbol, kind, win, date)
		);
	`)
	return err
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

// SavePrices 按 (symbol, date) 覆盖写入整段序列
func (s *Store) SavePrices(ctx context.Context, series model.PriceSeries) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO price_data (symbol, date, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, b := range series.Bars {
		if _, err := stmt.ExecContext(ctx, series.Symbol, b.Timestamp.Format(model.DateLayout),
			b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
			return fmt.Errorf("insert %s %s: %w", series.Symbol, b.Timestamp.Format(model.DateLayout), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("Prices saved", zap.String("symbol", series.Symbol), zap.Int("bars", len(series.Bars)))
	return nil
}

// LoadPrices 读取 [start, end] 范围内的日线，零值表示不限
func (s *Store) LoadPrices(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	query := `SELECT date, open, high, low, close, volume FROM price_data WHERE symbol = ?`
	args := []any{symbol}
	if !start.IsZero() {
		query += ` AND date >= ?`
		args = append(args, start.Format(model.DateLayout))
	}
	if !end.IsZero() {
		query += ` AND date <= ?`
		args = append(args, end.Format(model.DateLayout))
	}
	query += ` ORDER BY date ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return model.PriceSeries{}, fmt.Errorf("query prices %s: %w", symbol, err)
	}
	defer rows.Close()

	series := model.PriceSeries{Symbol: symbol}
	for rows.Next() {
		var (
			date string
			b    model.PriceBar
		)
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return model.PriceSeries{}, fmt.Errorf("scan price row: %w", err)
		}
		if b.Timestamp, err = time.ParseInLocation(model.DateLayout, date, time.UTC); err != nil {
			return model.PriceSeries{}, fmt.Errorf("parse date %q: %w", date, err)
		}
		series.Bars = append(series.Bars, b)
	}
	return series, rows.Err()
}

// SaveIndicators 写入全部指标列。未定义的值存为 NULL，不用任何哨兵数字
func (s *Store) SaveIndicators(ctx context.Context, ind *ta.IndicatorSeries) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO indicator_values (symbol, date, kind, win, value)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	write := func(kind ta.Kind, window int, col []ta.Value) error {
		for i, v := range col {
			value := sql.NullFloat64{Float64: v.Float64, Valid: v.Valid}
			date := ind.Bar(i).Timestamp.Format(model.DateLayout)
			if _, err := stmt.ExecContext(ctx, ind.Symbol(), date, string(kind), window, value); err != nil {
				return fmt.Errorf("insert %s %s_%d: %w", ind.Symbol(), kind, window, err)
			}
		}
		return nil
	}

	if err := write(kindTrueRange, 0, ind.TrueRange()); err != nil {
		return err
	}
	for _, key := range ind.Keys() {
		col, err := ind.Column(key.Kind, key.Window)
		if err != nil {
			return err
		}
		if err := write(key.Kind, key.Window, col); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// IndicatorPoint 是存储中的一个指标值
type IndicatorPoint struct {
	Date  time.Time
	Value ta.Value
}

// LoadIndicator 读取一列指标，按日期升序
func (s *Store) LoadIndicator(ctx context.Context, symbol string, kind ta.Kind, window int) ([]IndicatorPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, value FROM indicator_values
		WHERE symbol = ? AND kind = ? AND win = ?
		ORDER BY date ASC`, symbol, string(kind), window)
	if err != nil {
		return nil, fmt.Errorf("query indicator %s %s_%d: %w", symbol, kind, window, err)
	}
	defer rows.Close()

	var out []IndicatorPoint
	for rows.Next() {
		var (
			date  string
			value sql.NullFloat64
		)
		if err := rows.Scan(&date, &value); err != nil {
			return nil, fmt.Errorf("scan indicator row: %w", err)
		}
		t, err := time.ParseInLocation(model.DateLayout, date, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", date, err)
		}
		out = append(out, IndicatorPoint{Date: t, Value: ta.Value{Float64: value.Float64, Valid: value.Valid}})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s_%d not stored for %s", model.ErrMissingIndicator, kind, window, symbol)
	}
	return out, nil
}

// Stats 存储概况
type Stats struct {
	Symbols   int
	PriceRows int
	FirstDate time.Time
	LastDate  time.Time
}

// Stats 统计价格表
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var (
		st          Stats
		first, last sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT symbol), COUNT(*), MIN(date), MAX(date) FROM price_data`).
		Scan(&st.Symbols, &st.PriceRows, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if first.Valid {
		st.FirstDate, _ = time.ParseInLocation(model.DateLayout, first.String, time.UTC)
	}
	if last.Valid {
		st.LastDate, _ = time.ParseInLocation(model.DateLayout, last.String, time.UTC)
	}
	return st, nil
}

// Symbols 返回已存储的全部代码
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM price_data ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query symbols: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}
