package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"vitalguard/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:vitalguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
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
			flagged_json TEXT,
			contributors_json TEXT,
			fired_at TEXT NOT NULL,
			resolved_at TEXT,
			resolution_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_subject ON alerts(subject_id)`,
		`CREATE TABLE IF NOT EXISTS audit_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT NOT NULL,
			subject_id TEXT NOT NULL,
			actor_id TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			note TEXT,
			ts TEXT NOT NULL,
			response_ms INTEGER NOT NULL
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

func (s *sqliteStore) SaveAlert(ctx context.Context, alert model.Alert) error {
	if s.db == nil {
		return nil
	}
	var resolvedAt any
	if alert.ResolvedAt != nil {
		resolvedAt = alert.ResolvedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, subject_id, tier, severity, state, score, urgency, title, message, flagged_json, contributors_json, fired_at, resolved_at, resolution_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			urgency = excluded.urgency,
			score = excluded.score,
			resolved_at = excluded.resolved_at,
			resolution_reason = excluded.resolution_reason`,
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

func (s *sqliteStore) SaveAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (alert_id, subject_id, actor_id, actor_role, action, note, ts, response_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
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
