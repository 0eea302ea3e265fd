// Package services – SessionService
//
// This file implements the SessionService, which manages the lifecycle of
// saved browser sessions: importing cookie material into the vault, probing
// whether a session is still signed in, and invalidating dead sessions.
// Session values never appear in logs or traces; only lengths and digest
// prefixes are recorded, and that redaction happens in the vault layer.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vintaloop/go-listing-backend/internal/browser"
	"github.com/vintaloop/go-listing-backend/internal/lock"
	"github.com/vintaloop/go-listing-backend/internal/vault"
)

// SessionService imports, verifies, and revokes per-owner browser sessions.
type SessionService struct {
	// Vault stores sessions encrypted at rest.
	Vault *vault.Vault
	// Locks serializes browser use per owner across instances.
	Locks lock.Manager
	// Browser opens an isolated driver carrying the owner's session.
	Browser browser.Factory
	// Exec drives the marketplace pages.
	Exec *browser.Executor

	// LockTTL bounds how long a verification holds the owner's browser lease.
	LockTTL time.Duration
}

// NewSessionService constructs a SessionService.
func NewSessionService(v *vault.Vault, locks lock.Manager, factory browser.Factory, exec *browser.Executor, lockTTL time.Duration) *SessionService {
	return &SessionService{Vault: v, Locks: locks, Browser: factory, Exec: exec, LockTTL: lockTTL}
}

// Save imports a session for an owner, replacing any existing one.
func (s *SessionService) Save(ctx context.Context, ownerID, cookie, userAgent string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Save",
		trace.WithAttributes(attribute.String("owner.id", ownerID)),
	)
	defer span.End()

	return s.Vault.Save(ctx, ownerID, cookie, userAgent)
}

// Check verifies the owner's saved session against the live site and returns
// the signed-in identity. A session the site no longer accepts is removed
// from the vault so later calls fail fast with ErrUnauthenticated.
func (s *SessionService) Check(ctx context.Context, ownerID string) (identity string, ok bool, err error) {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Check",
		trace.WithAttributes(attribute.String("owner.id", ownerID)),
	)
	defer span.End()

	sess, err := s.Vault.Load(ctx, ownerID)
	if err != nil {
		return "", false, err
	}

	lease, err := s.Locks.Acquire(ctx, "session:"+ownerID, s.LockTTL)
	if err != nil {
		return "", false, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			log.Warn().Err(rerr).Msg("failed to release session lease")
		}
	}()

	d, err := s.Browser.NewDriver(ctx, sess)
	if err != nil {
		return "", false, err
	}
	defer d.Close()

	identity, ok, err = s.Exec.CheckAuth(ctx, d)
	if err != nil {
		return "", false, err
	}
	if !ok {
		log.Info().Str("owner_id", ownerID).Msg("saved session rejected by site, invalidating")
		if ierr := s.Vault.Invalidate(ctx, ownerID); ierr != nil {
			log.Warn().Err(ierr).Str("owner_id", ownerID).Msg("failed to invalidate dead session")
		}
		return "", false, nil
	}
	return identity, true, nil
}

// Invalidate removes the owner's saved session.
func (s *SessionService) Invalidate(ctx context.Context, ownerID string) error {
	tr := otel.Tracer("services/SessionService")
	ctx, span := tr.Start(ctx, "Invalidate",
		trace.WithAttributes(attribute.String("owner.id", ownerID)),
	)
	defer span.End()

	return s.Vault.Invalidate(ctx, ownerID)
}
