package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	pkgpg "TradeCore/pkg/postgres"
)

// PositionSchema creates the position, transition and risk config tables.
var PositionSchema = []string{
	`CREATE TABLE IF NOT EXISTS positions (
		user_id            TEXT NOT NULL,
		token              TEXT NOT NULL,
		entry_price        DOUBLE PRECISION NOT NULL,
		quantity           DOUBLE PRECISION NOT NULL,
		initial_quantity   DOUBLE PRECISION NOT NULL,
		opened_at          TIMESTAMPTZ NOT NULL,
		highest_price      DOUBLE PRECISION NOT NULL,
		state              TEXT NOT NULL,
		close_reason       TEXT NOT NULL DEFAULT '',
		closed_at          TIMESTAMPTZ,
		fired_stop_loss    BOOLEAN NOT NULL DEFAULT FALSE,
		fired_trailing     BOOLEAN NOT NULL DEFAULT FALSE,
		fired_emergency    BOOLEAN NOT NULL DEFAULT FALSE,
		fired_take_profit  BIGINT NOT NULL DEFAULT 0,
		fired_fomo_profit  BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at         TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (user_id, token)
	)`,
	`ALTER TABLE positions ADD COLUMN IF NOT EXISTS fired_fomo_profit BOOLEAN NOT NULL DEFAULT FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_positions_state ON positions(state)`,
	`CREATE TABLE IF NOT EXISTS position_transitions (
		id        BIGSERIAL PRIMARY KEY,
		user_id   TEXT NOT NULL,
		token     TEXT NOT NULL,
		kind      TEXT NOT NULL,
		state     TEXT NOT NULL,
		quantity  DOUBLE PRECISION NOT NULL,
		reason    TEXT NOT NULL DEFAULT '',
		at        TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_position_transitions_key ON position_transitions(user_id, token, at)`,
	`CREATE TABLE IF NOT EXISTS risk_configs (
		user_id                   TEXT PRIMARY KEY,
		stop_loss_pct             DOUBLE PRECISION NOT NULL,
		trailing_stop_pct         DOUBLE PRECISION NOT NULL,
		trailing_activation_pct   DOUBLE PRECISION NOT NULL,
		take_profit_levels        DOUBLE PRECISION[] NOT NULL,
		take_profit_fraction      DOUBLE PRECISION NOT NULL,
		emergency_exit_threshold  DOUBLE PRECISION NOT NULL,
		fomo_profit_pct           DOUBLE PRECISION NOT NULL DEFAULT 0.20,
		fomo_profit_fraction      DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		max_position_ndollar      DOUBLE PRECISION NOT NULL,
		deployable_capital        DOUBLE PRECISION NOT NULL,
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`ALTER TABLE risk_configs ADD COLUMN IF NOT EXISTS fomo_profit_pct DOUBLE PRECISION NOT NULL DEFAULT 0.20`,
	`ALTER TABLE risk_configs ADD COLUMN IF NOT EXISTS fomo_profit_fraction DOUBLE PRECISION NOT NULL DEFAULT 0.5`,
}

// PostgresPositionStore persists the book's write-through transitions.
type PostgresPositionStore struct {
	pool *pgxpool.Pool
}

var _ repository.PositionStore = (*PostgresPositionStore)(nil)

func NewPostgresPositionStore(client *pkgpg.Client) *PostgresPositionStore {
	return &PostgresPositionStore{pool: client.Pool()}
}

const positionColumns = `user_id, token, entry_price, quantity, initial_quantity, opened_at, highest_price,
	state, close_reason, closed_at, fired_stop_loss, fired_trailing, fired_emergency, fired_take_profit, fired_fomo_profit, updated_at`

func (s *PostgresPositionStore) LoadOpen(ctx context.Context) ([]models.Position, error) {
	q := `SELECT ` + positionColumns + ` FROM positions WHERE state = ANY($1) ORDER BY user_id, token`
	states := []string{
		string(models.PositionOpen),
		string(models.PositionTrailingActive),
		string(models.PositionExitFailed),
	}
	rows, err := s.pool.Query(ctx, q, states)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var out []models.Position
	for rows.Next() {
		var (
			p        models.Position
			state    string
			reason   string
			closedAt *time.Time
			tiers    int64
		)
		if err := rows.Scan(&p.UserID, &p.Token, &p.EntryPrice, &p.Quantity, &p.InitialQuantity, &p.OpenedAt,
			&p.HighestPrice, &state, &reason, &closedAt, &p.Fired.StopLoss, &p.Fired.Trailing,
			&p.Fired.Emergency, &tiers, &p.Fired.FomoProfit, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.State = models.PositionState(state)
		p.CloseReason = models.CloseReason(reason)
		p.Fired.TakeProfit = uint32(tiers)
		if closedAt != nil {
			p.ClosedAt = *closedAt
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresPositionStore) RiskConfig(ctx context.Context, userID string) (models.RiskConfig, error) {
	const q = `SELECT stop_loss_pct, trailing_stop_pct, trailing_activation_pct, take_profit_levels,
		take_profit_fraction, emergency_exit_threshold, fomo_profit_pct, fomo_profit_fraction,
		max_position_ndollar, deployable_capital
		FROM risk_configs WHERE user_id = $1`
	c := models.RiskConfig{UserID: userID}
	err := s.pool.QueryRow(ctx, q, userID).Scan(&c.StopLossPct, &c.TrailingStopPct, &c.TrailingActivationPct,
		&c.TakeProfitLevels, &c.TakeProfitFraction, &c.EmergencyExitThreshold, &c.FomoProfitPct,
		&c.FomoProfitFraction, &c.MaxPositionNdollar, &c.DeployableCapital)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RiskConfig{}, models.ErrNotFound
	}
	if err != nil {
		return models.RiskConfig{}, fmt.Errorf("risk config %s: %w", userID, err)
	}
	return c, nil
}

func (s *PostgresPositionStore) UpdateDeployable(ctx context.Context, userID string, delta float64) error {
	const q = `UPDATE risk_configs
		SET deployable_capital = GREATEST(deployable_capital + $2, 0), updated_at = NOW()
		WHERE user_id = $1`
	if _, err := s.pool.Exec(ctx, q, userID, delta); err != nil {
		return fmt.Errorf("update deployable %s: %w", userID, err)
	}
	return nil
}

// SaveTransition upserts the position row and appends the transition in one
// transaction.
func (s *PostgresPositionStore) SaveTransition(ctx context.Context, t models.PositionTransition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p := t.Position
	var closedAt *time.Time
	if !p.ClosedAt.IsZero() {
		closedAt = &p.ClosedAt
	}
	const upsert = `INSERT INTO positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (user_id, token) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			quantity = EXCLUDED.quantity,
			initial_quantity = EXCLUDED.initial_quantity,
			opened_at = EXCLUDED.opened_at,
			highest_price = EXCLUDED.highest_price,
			state = EXCLUDED.state,
			close_reason = EXCLUDED.close_reason,
			closed_at = EXCLUDED.closed_at,
			fired_stop_loss = EXCLUDED.fired_stop_loss,
			fired_trailing = EXCLUDED.fired_trailing,
			fired_emergency = EXCLUDED.fired_emergency,
			fired_take_profit = EXCLUDED.fired_take_profit,
			fired_fomo_profit = EXCLUDED.fired_fomo_profit,
			updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsert, p.UserID, p.Token, p.EntryPrice, p.Quantity, p.InitialQuantity, p.OpenedAt,
		p.HighestPrice, string(p.State), string(p.CloseReason), closedAt, p.Fired.StopLoss, p.Fired.Trailing,
		p.Fired.Emergency, int64(p.Fired.TakeProfit), p.Fired.FomoProfit, p.UpdatedAt); err != nil {
		return fmt.Errorf("upsert position %s: %w", p.Key(), err)
	}

	const insert = `INSERT INTO position_transitions (user_id, token, kind, state, quantity, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.Exec(ctx, insert, p.UserID, p.Token, string(t.Kind), string(p.State), p.Quantity, t.Reason, t.At); err != nil {
		return fmt.Errorf("insert transition %s: %w", p.Key(), err)
	}
	return tx.Commit(ctx)
}
