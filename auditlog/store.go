package auditlog

import (
	"context"
	"fmt"

	"github.com/hosseinskia/imageflow/config"
	"go.uber.org/zap"
)

// Store persists audit records.
type Store interface {
	Append(ctx context.Context, r Record) error
	// ReadAll returns every record, newest first.
	ReadAll(ctx context.Context) ([]Record, error)
	// FindByImageLink returns the records for link, oldest first.
	FindByImageLink(ctx context.Context, link string) ([]Record, error)
	Close() error
}

// Open returns the store selected by cfg.LogBackend.
func Open(cfg *config.Config, logger *zap.Logger) (Store, error) {
	switch cfg.LogBackend {
	case config.LogBackendSQLite:
		return OpenSQLite(cfg.AuditLogPath())
	case config.LogBackendFile, "":
		return OpenFile(cfg.AuditLogPath(), logger)
	default:
		return nil, fmt.Errorf("unknown log backend %q", cfg.LogBackend)
	}
}

func reverse(records []Record) {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
}
