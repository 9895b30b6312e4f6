// Package identity resolves the stable visitor identity (Instance) behind each request cycle.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/norns/internal/session"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/validation"
)

// TokenLength is the number of hex characters in a synthesized token.
const TokenLength = 32

// ErrIdentityResolution wraps every failure to obtain or persist an identity.
var ErrIdentityResolution = errors.New("identity: resolution failed")

// PrincipalBinder looks up the identity token bound to an authenticated principal.
type PrincipalBinder interface {
	BoundToken(ctx context.Context, principalID string) (string, bool, error)
}

// Resolver ensures every cycle has exactly one Instance.
type Resolver struct {
	repo   store.Repository
	binder PrincipalBinder
	logger *slog.Logger
	now    func() time.Time
}

// NewResolver creates a resolver. binder may be nil when principal bindings are disabled.
func NewResolver(repo store.Repository, binder PrincipalBinder, log *slog.Logger) *Resolver {
	validation.AssertImplemented(repo, "identity: record store")
	if log == nil {
		log = slog.Default()
	}
	if validation.IsNil(binder) {
		binder = nil
	}
	return &Resolver{repo: repo, binder: binder, logger: log, now: time.Now}
}

// EnsureIdentity returns the cycle's Instance, resolving and caching it on first use.
// With forceNew the cached Instance and the presented token are ignored and a new
// identity is minted, unless the principal is bound to one.
func (r *Resolver) EnsureIdentity(ctx context.Context, cycle *session.Cycle, forceNew bool) (*store.Instance, error) {
	if inst := cycle.Instance(); inst != nil && !forceNew {
		return inst, nil
	}

	token, err := r.candidateToken(ctx, cycle, forceNew)
	if err != nil {
		return nil, err
	}

	inst, err := r.repo.FindOrCreateInstance(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIdentityResolution, err)
	}

	if addr := cycle.ClientAddress(); addr != "" && inst.ClientAddress != addr {
		if err := r.repo.UpdateInstanceAddress(ctx, inst.ID, addr); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIdentityResolution, err)
		}
		inst.ClientAddress = addr
	}

	cycle.SetInstance(inst)
	r.logger.DebugContext(ctx, "identity resolved",
		slog.Int64("instance_id", inst.ID),
		slog.Bool("force_new", forceNew),
	)
	return inst, nil
}

// candidateToken picks the token to find-or-create: principal binding first,
// then the presented token, then a freshly synthesized one.
func (r *Resolver) candidateToken(ctx context.Context, cycle *session.Cycle, forceNew bool) (string, error) {
	if r.binder != nil && cycle.PrincipalID() != "" {
		bound, ok, err := r.binder.BoundToken(ctx, cycle.PrincipalID())
		if err != nil {
			return "", fmt.Errorf("%w: principal lookup: %w", ErrIdentityResolution, err)
		}
		if ok && bound != "" {
			return bound, nil
		}
	}

	if !forceNew && cycle.ExistingToken() != "" {
		return cycle.ExistingToken(), nil
	}

	return r.newToken(cycle.ClientAddress())
}

// newToken hashes random bits, the current time and the client address.
func (r *Resolver) newToken(clientAddress string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%w: entropy: %w", ErrIdentityResolution, err)
	}

	h := sha256.New()
	h.Write(id[:])
	h.Write([]byte(strconv.FormatInt(r.now().UnixNano(), 10)))
	h.Write([]byte(clientAddress))

	return hex.EncodeToString(h.Sum(nil))[:TokenLength], nil
}
