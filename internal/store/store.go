package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/postforge/autopost/internal/models"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrAlreadyClaimed is returned by ClaimRuleForDispatch when the rule's
	// last_run_at moved since it was selected, meaning an overlapping run
	// already owns this dispatch cycle.
	ErrAlreadyClaimed = errors.New("rule already claimed")
)

// Store is the persistence abstraction over rules, runs, and the
// append-only dispatch result ledger.
type Store interface {
	CreateRule(ctx context.Context, in RuleInput) (models.Rule, error)
	GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error)
	ListRules(ctx context.Context) ([]models.Rule, error)
	ListRulesByUser(ctx context.Context, userID uuid.UUID) ([]models.Rule, error)

	SetApproved(ctx context.Context, id uuid.UUID, approvedAt, nextRunAt time.Time) (models.Rule, error)
	SetPaused(ctx context.Context, id uuid.UUID, pausedAt *time.Time) (models.Rule, error)
	SetRevoked(ctx context.Context, id uuid.UUID, revokedAt time.Time) (models.Rule, error)

	// ClaimRuleForDispatch atomically advances a rule's scheduling fields,
	// conditional on last_run_at being unchanged since selection. Returns
	// ErrAlreadyClaimed when the conditional write matches no row.
	ClaimRuleForDispatch(ctx context.Context, id uuid.UUID, seenLastRunAt *time.Time, lastRunAt, nextRunAt time.Time) error

	CreateRun(ctx context.Context, in RunInput) (models.Run, error)
	FinishRun(ctx context.Context, in FinishRunInput) (models.Run, error)
	GetRun(ctx context.Context, id uuid.UUID) (models.Run, error)

	// InsertDispatchResult appends one ledger row. The ledger is keyed on
	// (run_id, rule_id, platform); replaying the same write returns the
	// existing row instead of erroring or duplicating.
	InsertDispatchResult(ctx context.Context, in DispatchResultInput) (models.DispatchResult, error)
	ListDispatchResultsByRun(ctx context.Context, runID uuid.UUID) ([]models.DispatchResult, error)

	FetchPendingResultsForStreaming(ctx context.Context, limit int) ([]models.DispatchResult, error)
	MarkResultStreamResult(ctx context.Context, id uuid.UUID, streamed bool, archivedKey *string, errMsg string) error

	Ping(ctx context.Context) error
}

type RuleInput struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Platforms       []string
	Intensity       int
	Tones           []string
	Cadence         string
	Timezone        string
	TimeSlots       []string
	PostsPerDay     int
	RevenueSplit    json.RawMessage
	Enabled         bool
	AdmissionState  string
	AdmissionReason string
}

type RunInput struct {
	ID        uuid.UUID
	Trigger   string
	DryRun    bool
	StartedAt time.Time
}

type FinishRunInput struct {
	ID            uuid.UUID
	RulesScanned  int
	RulesEligible int
	Dispatched    int
	Succeeded     int
	Failed        int
	FinishedAt    time.Time
}

type DispatchResultInput struct {
	ID             uuid.UUID
	RunID          uuid.UUID
	RuleID         uuid.UUID
	UserID         uuid.UUID
	Platform       string
	Success        bool
	PlatformPostID string
	ErrorCode      string
	ErrorMessage   string
}

type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const ruleColumns = `id, user_id, platforms, intensity, tones, cadence, timezone, time_slots, posts_per_day,
	revenue_split, enabled, approval_state, approved_at, paused_at, revoked_at, last_run_at, next_run_at,
	admission_state, admission_reason, created_at, updated_at`

func scanRule(row rowScanner) (models.Rule, error) {
	var (
		rule     models.Rule
		split    []byte
		approved sql.NullTime
		paused   sql.NullTime
		revoked  sql.NullTime
		lastRun  sql.NullTime
		nextRun  sql.NullTime
	)
	if err := row.Scan(
		&rule.ID,
		&rule.UserID,
		&rule.Platforms,
		&rule.Intensity,
		&rule.Tones,
		&rule.Cadence,
		&rule.Timezone,
		&rule.TimeSlots,
		&rule.PostsPerDay,
		&split,
		&rule.Enabled,
		&rule.ApprovalState,
		&approved,
		&paused,
		&revoked,
		&lastRun,
		&nextRun,
		&rule.AdmissionState,
		&rule.AdmissionReason,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return models.Rule{}, err
	}
	if len(split) > 0 {
		rule.RevenueSplit = append(json.RawMessage(nil), split...)
	}
	rule.ApprovedAt = nullableTime(approved)
	rule.PausedAt = nullableTime(paused)
	rule.RevokedAt = nullableTime(revoked)
	rule.LastRunAt = nullableTime(lastRun)
	rule.NextRunAt = nullableTime(nextRun)
	return rule, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func ensureJSON(raw json.RawMessage, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return raw
}

func (s *PGStore) CreateRule(ctx context.Context, in RuleInput) (models.Rule, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO rules (id, user_id, platforms, intensity, tones, cadence, timezone, time_slots,
			posts_per_day, revenue_split, enabled, approval_state, admission_state, admission_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING ` + ruleColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.UserID, pq.Array(in.Platforms), in.Intensity, pq.Array(in.Tones), in.Cadence,
		in.Timezone, pq.Array(in.TimeSlots), in.PostsPerDay, ensureJSON(in.RevenueSplit, "{}"),
		in.Enabled, models.ApprovalDraft, in.AdmissionState, in.AdmissionReason)
	rule, err := scanRule(row)
	if err != nil {
		return models.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id=$1`
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) ListRules(ctx context.Context) ([]models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at`
	return s.queryRules(ctx, query)
}

func (s *PGStore) ListRulesByUser(ctx context.Context, userID uuid.UUID) ([]models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE user_id=$1 ORDER BY created_at`
	return s.queryRules(ctx, query, userID)
}

func (s *PGStore) queryRules(ctx context.Context, query string, args ...interface{}) ([]models.Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (s *PGStore) SetApproved(ctx context.Context, id uuid.UUID, approvedAt, nextRunAt time.Time) (models.Rule, error) {
	query := `
		UPDATE rules
		SET approval_state=$2, approved_at=$3, next_run_at=COALESCE(next_run_at, $4), updated_at=NOW()
		WHERE id=$1
		RETURNING ` + ruleColumns
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id, models.ApprovalApproved, approvedAt, nextRunAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("approve rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) SetPaused(ctx context.Context, id uuid.UUID, pausedAt *time.Time) (models.Rule, error) {
	query := `
		UPDATE rules
		SET paused_at=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + ruleColumns
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id, pausedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("pause rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) SetRevoked(ctx context.Context, id uuid.UUID, revokedAt time.Time) (models.Rule, error) {
	query := `
		UPDATE rules
		SET approval_state=$2, revoked_at=$3, updated_at=NOW()
		WHERE id=$1
		RETURNING ` + ruleColumns
	rule, err := scanRule(s.db.QueryRowContext(ctx, query, id, models.ApprovalRevoked, revokedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Rule{}, ErrNotFound
		}
		return models.Rule{}, fmt.Errorf("revoke rule: %w", err)
	}
	return rule, nil
}

func (s *PGStore) ClaimRuleForDispatch(ctx context.Context, id uuid.UUID, seenLastRunAt *time.Time, lastRunAt, nextRunAt time.Time) error {
	query := `
		UPDATE rules
		SET last_run_at=$2, next_run_at=$3, updated_at=NOW()
		WHERE id=$1 AND last_run_at IS NOT DISTINCT FROM $4
	`
	res, err := s.db.ExecContext(ctx, query, id, lastRunAt, nextRunAt, seenLastRunAt)
	if err != nil {
		return fmt.Errorf("claim rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim rule rows affected: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyClaimed
	}
	return nil
}

const runColumns = `id, trigger_source, dry_run, rules_scanned, rules_eligible, dispatched, succeeded, failed, started_at, finished_at`

func scanRun(row rowScanner) (models.Run, error) {
	var (
		run      models.Run
		finished sql.NullTime
	)
	if err := row.Scan(
		&run.ID,
		&run.Trigger,
		&run.DryRun,
		&run.RulesScanned,
		&run.RulesEligible,
		&run.Dispatched,
		&run.Succeeded,
		&run.Failed,
		&run.StartedAt,
		&finished,
	); err != nil {
		return models.Run{}, err
	}
	run.FinishedAt = nullableTime(finished)
	return run, nil
}

func (s *PGStore) CreateRun(ctx context.Context, in RunInput) (models.Run, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO runs (id, trigger_source, dry_run, started_at)
		VALUES ($1,$2,$3,$4)
		RETURNING ` + runColumns
	run, err := scanRun(s.db.QueryRowContext(ctx, query, in.ID, in.Trigger, in.DryRun, in.StartedAt))
	if err != nil {
		return models.Run{}, fmt.Errorf("insert run: %w", err)
	}
	return run, nil
}

func (s *PGStore) FinishRun(ctx context.Context, in FinishRunInput) (models.Run, error) {
	query := `
		UPDATE runs
		SET rules_scanned=$2, rules_eligible=$3, dispatched=$4, succeeded=$5, failed=$6, finished_at=$7
		WHERE id=$1
		RETURNING ` + runColumns
	run, err := scanRun(s.db.QueryRowContext(ctx, query,
		in.ID, in.RulesScanned, in.RulesEligible, in.Dispatched, in.Succeeded, in.Failed, in.FinishedAt))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, fmt.Errorf("finish run: %w", err)
	}
	return run, nil
}

func (s *PGStore) GetRun(ctx context.Context, id uuid.UUID) (models.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id=$1`
	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Run{}, ErrNotFound
		}
		return models.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

const resultColumns = `id, run_id, rule_id, user_id, platform, success, platform_post_id, error_code, error_message,
	created_at, stream_status, stream_attempts, streamed_at, archived_key`

func scanResult(row rowScanner) (models.DispatchResult, error) {
	var (
		res      models.DispatchResult
		streamed sql.NullTime
		archived sql.NullString
	)
	if err := row.Scan(
		&res.ID,
		&res.RunID,
		&res.RuleID,
		&res.UserID,
		&res.Platform,
		&res.Success,
		&res.PlatformPostID,
		&res.ErrorCode,
		&res.ErrorMessage,
		&res.CreatedAt,
		&res.StreamStatus,
		&res.StreamAttempts,
		&streamed,
		&archived,
	); err != nil {
		return models.DispatchResult{}, err
	}
	res.StreamedAt = nullableTime(streamed)
	if archived.Valid {
		v := archived.String
		res.ArchivedKey = &v
	}
	return res, nil
}

func (s *PGStore) InsertDispatchResult(ctx context.Context, in DispatchResultInput) (models.DispatchResult, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	query := `
		INSERT INTO dispatch_results (id, run_id, rule_id, user_id, platform, success, platform_post_id,
			error_code, error_message, stream_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (run_id, rule_id, platform) DO NOTHING
		RETURNING ` + resultColumns
	row := s.db.QueryRowContext(ctx, query,
		in.ID, in.RunID, in.RuleID, in.UserID, in.Platform, in.Success,
		in.PlatformPostID, in.ErrorCode, in.ErrorMessage, models.StreamPending)
	res, err := scanResult(row)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.DispatchResult{}, fmt.Errorf("insert dispatch result: %w", err)
	}
	// Conflict: the attempt was already recorded; return the existing row.
	existing := `
		SELECT ` + resultColumns + `
		FROM dispatch_results
		WHERE run_id=$1 AND rule_id=$2 AND platform=$3
	`
	res, err = scanResult(s.db.QueryRowContext(ctx, existing, in.RunID, in.RuleID, in.Platform))
	if err != nil {
		return models.DispatchResult{}, fmt.Errorf("fetch existing dispatch result: %w", err)
	}
	return res, nil
}

func (s *PGStore) ListDispatchResultsByRun(ctx context.Context, runID uuid.UUID) ([]models.DispatchResult, error) {
	query := `SELECT ` + resultColumns + ` FROM dispatch_results WHERE run_id=$1 ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list dispatch results: %w", err)
	}
	defer rows.Close()

	var results []models.DispatchResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch result: %w", err)
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatch results: %w", err)
	}
	return results, nil
}

// FetchPendingResultsForStreaming claims up to limit pending ledger rows for
// the streamer, flipping them to in_progress so concurrent streamers skip
// each other's work.
func (s *PGStore) FetchPendingResultsForStreaming(ctx context.Context, limit int) ([]models.DispatchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	selectPending := `
		SELECT id FROM dispatch_results
		WHERE stream_status=$1
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT $2
	`
	rows, err := tx.QueryContext(ctx, selectPending, models.StreamPending, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending results: %w", err)
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate pending ids: %w", err)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	claim := `
		UPDATE dispatch_results
		SET stream_status=$1, stream_attempts=stream_attempts+1
		WHERE id = ANY($2)
		RETURNING ` + resultColumns
	claimed, err := tx.QueryContext(ctx, claim, models.StreamInProgress, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("claim pending results: %w", err)
	}
	defer claimed.Close()

	var results []models.DispatchResult
	for claimed.Next() {
		res, err := scanResult(claimed)
		if err != nil {
			return nil, fmt.Errorf("scan claimed result: %w", err)
		}
		results = append(results, res)
	}
	if err := claimed.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed results: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return results, nil
}

func (s *PGStore) MarkResultStreamResult(ctx context.Context, id uuid.UUID, streamed bool, archivedKey *string, errMsg string) error {
	status := models.StreamStreamed
	if !streamed {
		status = models.StreamFailed
	}
	query := `
		UPDATE dispatch_results
		SET stream_status=$2, streamed_at=CASE WHEN $3 THEN NOW() ELSE streamed_at END,
		    archived_key=COALESCE($4, archived_key), stream_error=$5
		WHERE id=$1
	`
	if _, err := s.db.ExecContext(ctx, query, id, status, streamed, archivedKey, errMsg); err != nil {
		return fmt.Errorf("mark stream result: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
