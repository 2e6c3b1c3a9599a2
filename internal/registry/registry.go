// Package registry implements the adapter trust registry: a fail-closed
// allow-list of venue adapter identities, mutated only by the
// administrator.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"liquidity-router/internal/domain"
)

// Registry errors
var (
	ErrNotFound      = errors.New("registry: adapter not found")
	ErrNotAuthorized = errors.New("registry: caller is not the administrator")
)

// Store persists adapter records.
type Store interface {
	// Put inserts or replaces a record.
	Put(ctx context.Context, rec *domain.AdapterRecord) error

	// Get retrieves a record by adapter ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, adapterID string) (*domain.AdapterRecord, error)

	// Delete removes a record. Returns ErrNotFound if absent.
	Delete(ctx context.Context, adapterID string) error

	// List returns all records.
	List(ctx context.Context) ([]*domain.AdapterRecord, error)
}

// Registry gates mutations behind the administrator account and answers
// whitelist queries. Unknown adapters are rejected, never assumed.
type Registry struct {
	store  Store
	admin  string
	logger *zerolog.Logger
	now    func() time.Time
}

// New creates a registry administered by the given account. A nil
// logger disables logging.
func New(store Store, admin string, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{store: store, admin: admin, logger: logger, now: time.Now}
}

// Add whitelists an adapter identity. Administrator only.
func (r *Registry) Add(ctx context.Context, caller, adapterID string) error {
	if caller != r.admin {
		return ErrNotAuthorized
	}
	if err := domain.ValidateAddress(adapterID); err != nil {
		return fmt.Errorf("adapter id: %w", err)
	}

	rec := &domain.AdapterRecord{
		AdapterID:   adapterID,
		Whitelisted: true,
		AddedAt:     r.now().UnixMilli(),
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return err
	}
	r.logger.Info().Str("adapter", adapterID).Msg("adapter whitelisted")
	return nil
}

// Remove revokes an adapter identity. Administrator only.
func (r *Registry) Remove(ctx context.Context, caller, adapterID string) error {
	if caller != r.admin {
		return ErrNotAuthorized
	}
	if err := r.store.Delete(ctx, adapterID); err != nil {
		return err
	}
	r.logger.Info().Str("adapter", adapterID).Msg("adapter removed from whitelist")
	return nil
}

// IsWhitelisted reports whether the adapter may be routed to.
// Default-deny: an unknown adapter is not whitelisted.
func (r *Registry) IsWhitelisted(ctx context.Context, adapterID string) (bool, error) {
	rec, err := r.store.Get(ctx, adapterID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Whitelisted, nil
}

// List returns all registered adapter records.
func (r *Registry) List(ctx context.Context) ([]*domain.AdapterRecord, error) {
	return r.store.List(ctx)
}
