// Package storage provides the persistence backends for guardian signing
// state: a Postgres implementation for deployments and an in-memory
// implementation for tests and local development.
package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/OV1-Kenobi/satnam-pub-sub020/interfaces"
)

// StoreFactory creates persistence backends from DSN strings.
type StoreFactory struct {
	log *slog.Logger
}

// NewStoreFactory creates a new factory instance.
func NewStoreFactory(logger *slog.Logger) *StoreFactory {
	return &StoreFactory{log: logger}
}

// StoreFor creates a persistence backend from a DSN.
//
// Supported schemes:
//   - postgres:// - Postgres via gorm, schema migrated on connect
//   - memory://   - process-local store, state lost on restart
//
// Returns an error if the DSN is invalid or the scheme is unsupported.
func (sf *StoreFactory) StoreFor(dsn string) (interfaces.Store, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid store DSN: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		sf.log.Debug("Creating postgres store", slog.String("host", u.Host))
		return NewGormStore(dsn)
	case "memory":
		sf.log.Debug("Creating in-memory store")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store scheme: %s", u.Scheme)
	}
}
