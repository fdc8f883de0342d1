package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"vitalguard/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/vitalguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			tier INTEGER NOT NULL,
			severity TEXT NOT NULL,
			state TEXT NOT NULL,
			score INTEGER NOT NULL,
			urgency INTEGER NOT NULL,
			title TEXT NOT NULL,
			message TEXT NOT NULL,
			flagged_json JSONB,
			contributors_json JSONB,
			fired_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ,
			resolution_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id BIGSERIAL PRIMARY KEY,
			alert_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			note TEXT,
			ts TIMESTAMPTZ NOT NULL,
			response_ms BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_subject ON audit_entries(subject_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	var resolvedAt any
	if alert.ResolvedAt != nil {
		resolvedAt = alert.ResolvedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, subject_id, tier, severity, state, score, urgency, title, message, flagged_json, contributors_json, fired_at, resolved_at, resolution_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			urgency = EXCLUDED.urgency,
			score = EXCLUDED.score,
			resolved_at = EXCLUDED.resolved_at,
			resolution_reason = EXCLUDED.resolution_reason`,
		alert.ID,
		alert.SubjectID,
		int(alert.Tier),
		alert.Severity,
		string(alert.State),
		alert.Score,
		alert.Urgency,
		alert.Title,
		alert.Message,
		encodeJSON(alert.FlaggedVitals),
		encodeJSON(alert.TopContributors),
		alert.FiredAt.UTC(),
		resolvedAt,
		alert.ResolutionReason,
	)
	return err
}

func (s *postgresStore) SaveAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (alert_id, subject_id, actor_id, actor_role, action, note, ts, response_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.AlertID,
		entry.SubjectID,
		entry.ActorID,
		string(entry.ActorRole),
		string(entry.Action),
		entry.Note,
		entry.Timestamp.UTC(),
		entry.ResponseTimeMs,
	)
	return err
}
