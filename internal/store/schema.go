package store

import (
	"context"
	"fmt"
)

// EnsureSchema creates the tables and indexes the store relies on. Safe to
// run on every startup.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	const q = `
CREATE TABLE IF NOT EXISTS rules (
  id uuid PRIMARY KEY,
  user_id uuid NOT NULL,
  platforms text[] NOT NULL DEFAULT '{}',
  intensity int NOT NULL DEFAULT 0,
  tones text[] NOT NULL DEFAULT '{}',
  cadence text NOT NULL DEFAULT '',
  timezone text NOT NULL DEFAULT '',
  time_slots text[] NOT NULL DEFAULT '{}',
  posts_per_day int NOT NULL DEFAULT 0,
  revenue_split jsonb NOT NULL DEFAULT '{}',
  enabled boolean NOT NULL DEFAULT false,
  approval_state text NOT NULL DEFAULT 'draft',
  approved_at timestamptz,
  paused_at timestamptz,
  revoked_at timestamptz,
  last_run_at timestamptz,
  next_run_at timestamptz,
  admission_state text NOT NULL DEFAULT '',
  admission_reason text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now(),
  updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_rules_user ON rules (user_id);
CREATE INDEX IF NOT EXISTS idx_rules_next_run ON rules (next_run_at) WHERE next_run_at IS NOT NULL;

CREATE TABLE IF NOT EXISTS runs (
  id uuid PRIMARY KEY,
  trigger_source text NOT NULL DEFAULT '',
  dry_run boolean NOT NULL DEFAULT false,
  rules_scanned int NOT NULL DEFAULT 0,
  rules_eligible int NOT NULL DEFAULT 0,
  dispatched int NOT NULL DEFAULT 0,
  succeeded int NOT NULL DEFAULT 0,
  failed int NOT NULL DEFAULT 0,
  started_at timestamptz NOT NULL DEFAULT now(),
  finished_at timestamptz
);

CREATE TABLE IF NOT EXISTS dispatch_results (
  id uuid PRIMARY KEY,
  run_id uuid NOT NULL,
  rule_id uuid NOT NULL,
  user_id uuid NOT NULL,
  platform text NOT NULL,
  success boolean NOT NULL DEFAULT false,
  platform_post_id text NOT NULL DEFAULT '',
  error_code text NOT NULL DEFAULT '',
  error_message text NOT NULL DEFAULT '',
  created_at timestamptz NOT NULL DEFAULT now(),
  stream_status text NOT NULL DEFAULT 'pending',
  stream_attempts int NOT NULL DEFAULT 0,
  streamed_at timestamptz,
  archived_key text,
  stream_error text NOT NULL DEFAULT '',
  UNIQUE (run_id, rule_id, platform)
);
CREATE INDEX IF NOT EXISTS idx_results_run ON dispatch_results (run_id);
CREATE INDEX IF NOT EXISTS idx_results_stream_status ON dispatch_results (stream_status, created_at);
`
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
