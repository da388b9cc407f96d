package repository

import (
	"context"
	"database/sql"
	"fmt"

	"KHunter/internal/domain/models"
	drepo "KHunter/internal/domain/repository"
	"KHunter/pkg/clickhouse"
)

const (
	signalsTable = "khunter_signals"
	tradesTable  = "khunter_trades"
)

// Schema holds the DDL applied at startup.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + signalsTable + ` (
		ts            DateTime,
		stock_code    String,
		condition     String,
		quantity      Int64
	) ENGINE = MergeTree() ORDER BY (ts, stock_code)`,
	`CREATE TABLE IF NOT EXISTS ` + tradesTable + ` (
		ts            DateTime,
		order_id      String,
		side          String,
		stock_code    String,
		stock_name    String,
		quantity      Int64,
		price         Int64,
		reason        String
	) ENGINE = MergeTree() ORDER BY (ts, stock_code)`,
}

// ClickHouseRecorder persists accepted signals and confirmed trades. Writes
// are best-effort analytics; a failed insert never touches trading state.
type ClickHouseRecorder struct {
	client *clickhouse.Client
	db     *sql.DB
}

// NewClickHouseRecorder creates the recorder and applies the schema.
func NewClickHouseRecorder(ctx context.Context, client *clickhouse.Client) (drepo.Recorder, error) {
	if err := client.InitSchema(ctx, Schema); err != nil {
		return nil, fmt.Errorf("recorder schema: %w", err)
	}
	return &ClickHouseRecorder{client: client, db: client.DB()}, nil
}

func (r *ClickHouseRecorder) RecordSignal(ctx context.Context, s *models.SignalRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, stock_code, condition, quantity) VALUES (?, ?, ?, ?)", signalsTable)
	_, err := r.db.ExecContext(ctx, q, s.At, s.StockCode, s.ConditionName, s.Quantity)
	return err
}

func (r *ClickHouseRecorder) RecordTrade(ctx context.Context, t *models.TradeRecord) error {
	q := fmt.Sprintf("INSERT INTO %s (ts, order_id, side, stock_code, stock_name, quantity, price, reason) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", tradesTable)
	_, err := r.db.ExecContext(ctx, q, t.At, t.OrderID, string(t.Side), t.StockCode, t.StockName, t.Quantity, t.Price, t.Reason)
	return err
}

func (r *ClickHouseRecorder) Health(ctx context.Context) error {
	return r.client.Health(ctx)
}

func (r *ClickHouseRecorder) Close() error {
	return r.client.Close()
}
