package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	pkgch "TradeCore/pkg/clickhouse"
)

const priceTable = "price_samples"

var PriceSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + priceTable + ` (
		observed_at  DateTime64(3),
		token        LowCardinality(String),
		price        Float64,
		volume       Float64
	) ENGINE = ReplacingMergeTree
	ORDER BY (token, observed_at)`,
}

// CHPriceArchive stores accepted samples. Rows are keyed by (token,
// observed_at) so replays after a failed flush collapse on merge.
type CHPriceArchive struct {
	db *sql.DB
}

var _ repository.PriceArchive = (*CHPriceArchive)(nil)

func NewCHPriceArchive(ch *pkgch.Client) *CHPriceArchive {
	return &CHPriceArchive{db: ch.DB()}
}

func (s *CHPriceArchive) StoreBatch(ctx context.Context, samples []models.PriceSample) error {
	const chunkSize = 2000
	for start := 0; start < len(samples); start += chunkSize {
		end := start + chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*4)
		for _, smp := range samples[start:end] {
			if !smp.Valid() {
				continue
			}
			values = append(values, "(?, ?, ?, ?)")
			args = append(args, smp.ObservedAt, smp.Token, smp.Price, smp.Volume)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (observed_at, token, price, volume) VALUES %s", priceTable, strings.Join(values, ","))
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("store price batch: %w", err)
		}
	}
	return nil
}
