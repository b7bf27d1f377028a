package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/config"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/domain"
	"github.com/MOODMNKY-LLC/mood-mnky-command-sub007/internal/tiers"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations; the ledger's idempotence rests on it.
const uniqueViolation = "23505"

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		// Subscription state is owned by the accounts collaborator; the
		// ledger only ever reads this table.
		`CREATE TABLE IF NOT EXISTS profiles (
			profile_id VARCHAR(64) PRIMARY KEY,
			subscription_tier VARCHAR(16) NOT NULL DEFAULT 'none',
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reward_events (
			id UUID PRIMARY KEY,
			profile_id VARCHAR(64) NOT NULL,
			source VARCHAR(32) NOT NULL,
			source_ref VARCHAR(128),
			xp_delta BIGINT NOT NULL,
			reason TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		// The sole idempotency mechanism: (source, source_ref) is unique
		// whenever source_ref is present.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_reward_events_dedup
			ON reward_events(source, source_ref) WHERE source_ref IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_reward_events_profile
			ON reward_events(profile_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS xp_profiles (
			profile_id VARCHAR(64) PRIMARY KEY,
			display_name VARCHAR(128),
			xp_total BIGINT NOT NULL DEFAULT 0,
			level INT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_profiles_total
			ON xp_profiles(xp_total DESC, profile_id ASC)`,
		`CREATE TABLE IF NOT EXISTS referral_codes (
			profile_id VARCHAR(64) PRIMARY KEY,
			code VARCHAR(32) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS referral_events (
			id BIGSERIAL PRIMARY KEY,
			referrer_id VARCHAR(64) NOT NULL,
			referee_id VARCHAR(64) NOT NULL,
			code_used VARCHAR(32) NOT NULL,
			event_type VARCHAR(32) NOT NULL,
			source_ref VARCHAR(128) NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_referral_events_referrer
			ON referral_events(referrer_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS reward_tier_configs (
			id BIGSERIAL PRIMARY KEY,
			tiers JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// SubscriptionTier returns the subscription tier stored for a profile.
func (r *Repository) SubscriptionTier(ctx context.Context, profileID string) (domain.Tier, error) {
	query := `SELECT subscription_tier FROM profiles WHERE profile_id = $1`
	var tier string
	err := r.pool.QueryRow(ctx, query, profileID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TierNone, domain.ErrProfileNotFound
		}
		return domain.TierNone, fmt.Errorf("getting subscription tier: %w", err)
	}
	return domain.Tier(tier), nil
}

// ApplyEvent writes a reward event and updates the profile's aggregate XP
// in one transaction. The event insert is guarded by the partial unique
// index on (source, source_ref); a conflicting insert writes nothing and
// returns domain.ErrDuplicateEvent. The aggregate increment happens
// database-side under the row lock, so concurrent awards for the same
// profile cannot lose updates.
func (r *Repository) ApplyEvent(ctx context.Context, event domain.RewardEvent, displayName string, levelFor func(int64) int) (*domain.Progress, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var sourceRef any
	if event.SourceRef != "" {
		sourceRef = event.SourceRef
	}

	insertEvent := `
		INSERT INTO reward_events (id, profile_id, source, source_ref, xp_delta, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		ON CONFLICT (source, source_ref) WHERE source_ref IS NOT NULL DO NOTHING
	`
	tag, err := tx.Exec(ctx, insertEvent,
		event.ID,
		event.ProfileID,
		string(event.Source),
		sourceRef,
		event.XPDelta,
		event.Reason,
		event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting reward event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrDuplicateEvent
	}

	upsertAggregate := `
		INSERT INTO xp_profiles (profile_id, display_name, xp_total, level, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, 1, $4)
		ON CONFLICT (profile_id) DO UPDATE SET
			xp_total = xp_profiles.xp_total + $3,
			display_name = COALESCE(NULLIF($2, ''), xp_profiles.display_name),
			updated_at = $4
		RETURNING xp_total, COALESCE(display_name, '')
	`
	now := time.Now().UTC()
	var (
		xpTotal int64
		name    string
	)
	err = tx.QueryRow(ctx, upsertAggregate, event.ProfileID, displayName, event.XPDelta, now).Scan(&xpTotal, &name)
	if err != nil {
		return nil, fmt.Errorf("updating xp aggregate: %w", err)
	}

	level := levelFor(xpTotal)
	if _, err := tx.Exec(ctx, `UPDATE xp_profiles SET level = $2 WHERE profile_id = $1`, event.ProfileID, level); err != nil {
		return nil, fmt.Errorf("updating level: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing reward event: %w", err)
	}

	return &domain.Progress{
		ProfileID:   event.ProfileID,
		DisplayName: name,
		XPTotal:     xpTotal,
		Level:       level,
		UpdatedAt:   now,
	}, nil
}

// Progress retrieves a profile's aggregate XP state.
func (r *Repository) Progress(ctx context.Context, profileID string) (*domain.Progress, error) {
	query := `
		SELECT profile_id, COALESCE(display_name, ''), xp_total, level, updated_at
		FROM xp_profiles
		WHERE profile_id = $1
	`
	var progress domain.Progress
	err := r.pool.QueryRow(ctx, query, profileID).Scan(
		&progress.ProfileID,
		&progress.DisplayName,
		&progress.XPTotal,
		&progress.Level,
		&progress.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting progress: %w", err)
	}
	return &progress, nil
}

// TopProfiles returns profiles ordered by XP total descending, ties
// broken by profile ID ascending.
func (r *Repository) TopProfiles(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error) {
	query := `
		SELECT profile_id, COALESCE(display_name, ''), xp_total, level
		FROM xp_profiles
		ORDER BY xp_total DESC, profile_id ASC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("getting top profiles: %w", err)
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var entry domain.LeaderboardEntry
		if err := rows.Scan(&entry.ProfileID, &entry.DisplayName, &entry.XPTotal, &entry.Level); err != nil {
			return nil, fmt.Errorf("scanning leaderboard entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AllTotals returns every profile's XP total, for cache reconciliation.
func (r *Repository) AllTotals(ctx context.Context) (map[string]int64, error) {
	query := `SELECT profile_id, xp_total FROM xp_profiles`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("getting all totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[string]int64)
	for rows.Next() {
		var profileID string
		var total int64
		if err := rows.Scan(&profileID, &total); err != nil {
			return nil, fmt.Errorf("scanning total: %w", err)
		}
		totals[profileID] = total
	}
	return totals, rows.Err()
}

// CodeByProfile retrieves the referral code owned by a profile.
func (r *Repository) CodeByProfile(ctx context.Context, profileID string) (*domain.ReferralCode, error) {
	query := `SELECT profile_id, code, created_at FROM referral_codes WHERE profile_id = $1`
	return r.scanCode(r.pool.QueryRow(ctx, query, profileID))
}

// CodeByValue retrieves a referral code row by its code value.
func (r *Repository) CodeByValue(ctx context.Context, code string) (*domain.ReferralCode, error) {
	query := `SELECT profile_id, code, created_at FROM referral_codes WHERE code = $1`
	return r.scanCode(r.pool.QueryRow(ctx, query, code))
}

func (r *Repository) scanCode(row pgx.Row) (*domain.ReferralCode, error) {
	var code domain.ReferralCode
	err := row.Scan(&code.ProfileID, &code.Code, &code.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrReferralNotFound
		}
		return nil, fmt.Errorf("getting referral code: %w", err)
	}
	return &code, nil
}

// InsertCode stores a referral code under the per-profile and per-code
// uniqueness constraints; a conflict on either surfaces as
// domain.ErrDuplicateCode.
func (r *Repository) InsertCode(ctx context.Context, code domain.ReferralCode) error {
	query := `INSERT INTO referral_codes (profile_id, code, created_at) VALUES ($1, $2, $3)`
	_, err := r.pool.Exec(ctx, query, code.ProfileID, code.Code, code.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateCode
		}
		return fmt.Errorf("inserting referral code: %w", err)
	}
	return nil
}

// InsertEvent stores a referral attribution event; a source_ref conflict
// surfaces as domain.ErrDuplicateEvent.
func (r *Repository) InsertEvent(ctx context.Context, event domain.ReferralEvent) error {
	query := `
		INSERT INTO referral_events (referrer_id, referee_id, code_used, event_type, source_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		event.ReferrerID,
		event.RefereeID,
		event.CodeUsed,
		string(event.EventType),
		event.SourceRef,
		event.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("inserting referral event: %w", err)
	}
	return nil
}

// PurchaseTierSnapshot returns the latest stored purchase tier schedule.
func (r *Repository) PurchaseTierSnapshot(ctx context.Context) (*domain.PurchaseTierConfig, error) {
	query := `SELECT id, tiers FROM reward_tier_configs ORDER BY id DESC LIMIT 1`
	var (
		version   int
		tiersJSON []byte
	)
	err := r.pool.QueryRow(ctx, query).Scan(&version, &tiersJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tiers.ErrNoSnapshot
		}
		return nil, fmt.Errorf("getting tier snapshot: %w", err)
	}

	var schedule []domain.PurchaseTier
	if err := json.Unmarshal(tiersJSON, &schedule); err != nil {
		return nil, fmt.Errorf("unmarshaling tier snapshot: %w", err)
	}
	return &domain.PurchaseTierConfig{Version: version, Tiers: schedule}, nil
}

// SavePurchaseTiers stores a new tier schedule version and returns it.
func (r *Repository) SavePurchaseTiers(ctx context.Context, schedule []domain.PurchaseTier) (*domain.PurchaseTierConfig, error) {
	tiersJSON, err := json.Marshal(schedule)
	if err != nil {
		return nil, fmt.Errorf("marshaling tier schedule: %w", err)
	}

	query := `INSERT INTO reward_tier_configs (tiers) VALUES ($1) RETURNING id`
	var version int
	if err := r.pool.QueryRow(ctx, query, tiersJSON).Scan(&version); err != nil {
		return nil, fmt.Errorf("saving tier schedule: %w", err)
	}
	return &domain.PurchaseTierConfig{Version: version, Tiers: schedule}, nil
}
