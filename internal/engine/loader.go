package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/newbee0315/btc-quant-tool-sub000/internal/model"
)

// BarLoader reads historical OHLCV bars for backtesting out of TimescaleDB.
type BarLoader struct {
	pool *pgxpool.Pool
}

// NewBarLoader wraps a pgx pool.
func NewBarLoader(pool *pgxpool.Pool) *BarLoader {
	return &BarLoader{pool: pool}
}

// LoadBars returns the bars for one symbol and timeframe over [start, end],
// oldest first.
func (l *BarLoader) LoadBars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]model.Bar, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT time, symbol, period, open, high, low, close, volume
		FROM market_bars
		WHERE symbol = $1 AND period = $2 AND time >= $3 AND time <= $4
		ORDER BY time ASC`,
		symbol, timeframe, start, end)
	if err != nil {
		return nil, fmt.Errorf("load bars %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		if err := rows.Scan(&b.Timestamp, &b.Symbol, &b.Timeframe, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load bars %s %s: %w", symbol, timeframe, err)
	}
	return bars, nil
}
