package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"vitalguard/internal/config"
	"vitalguard/internal/model"
)

// Store is the optional durable sink behind the in-memory state:
// resolved alerts and audit entries are written through for later
// review. A nil Store disables persistence.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveAlert(ctx context.Context, alert model.Alert) error
	SaveAuditEntry(ctx context.Context, entry model.AuditEntry) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
