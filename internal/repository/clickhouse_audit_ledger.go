package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	pkgch "TradeCore/pkg/clickhouse"
	applogger "TradeCore/pkg/logger"
)

const auditTable = "decision_audit"

// AuditSchema creates the append-only decision ledger.
var AuditSchema = []string{
	`CREATE TABLE IF NOT EXISTS ` + auditTable + ` (
		recorded_at      DateTime64(3),
		decision_id      String,
		user_id          String,
		token            String,
		action           LowCardinality(String),
		source           LowCardinality(String),
		outcome          LowCardinality(String),
		reason_code      LowCardinality(String),
		confidence       Float64,
		amount           Float64,
		quantity         Float64,
		reference_price  Float64,
		fill_price       Float64,
		latency_ms       Int64,
		pnl_pct          Float64,
		payload          String
	) ENGINE = MergeTree
	ORDER BY (token, user_id, recorded_at)`,
}

// CHAuditLedger appends one row per audited decision. The full record is
// kept as JSON next to the columns used for filtering.
type CHAuditLedger struct {
	db *sql.DB
	l  *applogger.Logger
}

var _ repository.AuditLedger = (*CHAuditLedger)(nil)

func NewCHAuditLedger(ch *pkgch.Client, l *applogger.Logger) *CHAuditLedger {
	return &CHAuditLedger{db: ch.DB(), l: l.With(applogger.String("component", "audit_ledger"))}
}

func (s *CHAuditLedger) Append(ctx context.Context, rec models.AuditRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	var fillPrice float64
	var latency time.Duration
	if rec.Result != nil {
		fillPrice = rec.Result.FillPrice
		latency = rec.Result.Latency
	}
	d := rec.Decision
	const q = `INSERT INTO ` + auditTable + ` (recorded_at, decision_id, user_id, token, action, source, outcome,
		reason_code, confidence, amount, quantity, reference_price, fill_price, latency_ms, pnl_pct, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		rec.RecordedAt, d.ID, d.UserID, d.Token, string(d.Action), string(d.Source), string(rec.Outcome),
		rec.ReasonCode, d.Confidence, d.Amount, d.Quantity, d.ReferencePrice, fillPrice,
		latency.Milliseconds(), rec.PnLPct, string(payload),
	)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", d.ID, err)
	}
	return nil
}

func (s *CHAuditLedger) Recent(ctx context.Context, q models.AuditQuery) ([]models.AuditRecord, error) {
	start := time.Now()
	var (
		where []string
		args  []interface{}
	)
	if q.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Token != "" {
		where = append(where, "token = ?")
		args = append(args, q.Token)
	}
	if !q.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, q.Since)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	stmt := "SELECT payload FROM " + auditTable
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY recorded_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		s.l.Error("clickhouse recent_audit query error", applogger.String("token", q.Token), applogger.Error(err))
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()

	out := make([]models.AuditRecord, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var rec models.AuditRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			s.l.Warn("skipping undecodable audit row", applogger.Error(err))
			continue
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	s.l.Debug("clickhouse recent_audit ok",
		applogger.String("user_id", q.UserID), applogger.String("token", q.Token),
		applogger.Int("rows", len(out)), applogger.Duration("duration_ms", time.Since(start)))
	return out, nil
}
