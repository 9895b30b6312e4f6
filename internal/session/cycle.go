// Package session holds the per-request accumulation of experiment decisions.
//
// A Cycle is created at the start of a request, collects every decision the request
// makes, and is flushed to the record store exactly once before the response is written.
// Cycles are not safe for concurrent use; one request owns one cycle.
package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rafaeljc/norns/internal/store"
)

// Source describes how a decision's value was obtained.
type Source string

const (
	// SourceReplay is a value loaded from a previously stored event.
	SourceReplay Source = "replay"
	// SourcePending is a value reused from an earlier decision in the same cycle.
	SourcePending Source = "pending"
	// SourceSticky is a value forced by an identity tag.
	SourceSticky Source = "sticky"
	// SourceCorrective is the least-used value chosen to correct a skewed distribution.
	SourceCorrective Source = "corrective"
	// SourceRandom is a uniform draw over the weighted pool.
	SourceRandom Source = "random"
	// SourceSeeded is a value supplied directly by the caller.
	SourceSeeded Source = "seeded"
)

// Decision is one experiment outcome, tracked in the cycle until flushed.
type Decision struct {
	Experiment string `json:"experiment"`
	Goal       string `json:"goal"`
	Value      string `json:"value"`
	Source     Source `json:"source"`
}

// Cycle is the explicit per-request context.
type Cycle struct {
	existingToken string
	clientAddress string
	principalID   string

	instance *store.Instance

	// pending is keyed by experiment name; order keeps first registration order.
	pending map[string]Decision
	order   []string
}

// NewCycle creates a cycle for one request.
// existingToken is the identity token presented by the client, if any.
func NewCycle(existingToken, clientAddress, principalID string) *Cycle {
	return &Cycle{
		existingToken: existingToken,
		clientAddress: clientAddress,
		principalID:   principalID,
		pending:       make(map[string]Decision),
	}
}

// ExistingToken returns the token the client presented.
func (c *Cycle) ExistingToken() string { return c.existingToken }

// ClientAddress returns the client network address for this request.
func (c *Cycle) ClientAddress() string { return c.clientAddress }

// PrincipalID returns the authenticated principal, or "" for anonymous requests.
func (c *Cycle) PrincipalID() string { return c.principalID }

// Instance returns the identity resolved for this cycle, or nil if none was resolved yet.
func (c *Cycle) Instance() *store.Instance { return c.instance }

// SetInstance caches the resolved identity.
func (c *Cycle) SetInstance(inst *store.Instance) { c.instance = inst }

// Token returns the token of the resolved identity, or "" when none was resolved.
func (c *Cycle) Token() string {
	if c.instance == nil {
		return ""
	}
	return c.instance.Token
}

// Record registers a decision. A later decision for the same experiment replaces
// the earlier one but keeps its position.
func (c *Cycle) Record(d Decision) {
	if _, ok := c.pending[d.Experiment]; !ok {
		c.order = append(c.order, d.Experiment)
	}
	c.pending[d.Experiment] = d
}

// Pending returns the decision recorded for an experiment.
func (c *Cycle) Pending(experiment string) (Decision, bool) {
	d, ok := c.pending[experiment]
	return d, ok
}

// Decisions returns every recorded decision in first-registration order.
func (c *Cycle) Decisions() []Decision {
	out := make([]Decision, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.pending[name])
	}
	return out
}

// Discard drops every pending decision without writing it.
func (c *Cycle) Discard() {
	c.pending = make(map[string]Decision)
	c.order = nil
}

// FlushResult reports what a Flush wrote.
type FlushResult struct {
	Token     string
	Written   int
	Conflicts int
	Skipped   int

	// Adopted holds the stored outcome of every decision that lost a concurrent write.
	Adopted []Decision
}

// Flush writes every pending decision as an event of the cycle's instance and clears
// the pending set. Decisions replayed from storage are skipped. A concurrent write of the
// same (instance, experiment) is adopted: the stored value replaces the pending one.
//
// On error the pending set is left intact so the caller may log what was lost.
func (c *Cycle) Flush(ctx context.Context, repo store.Repository) (FlushResult, error) {
	res := FlushResult{Token: c.Token()}
	if len(c.order) == 0 {
		return res, nil
	}
	if c.instance == nil {
		return res, fmt.Errorf("session: cannot flush %d decisions without an identity", len(c.order))
	}

	for _, name := range c.order {
		d := c.pending[name]
		if d.Source == SourceReplay {
			res.Skipped++
			continue
		}

		x, err := repo.FindOrCreateExperiment(ctx, d.Experiment, d.Goal)
		if err != nil {
			return res, fmt.Errorf("session: flush experiment %q: %w", d.Experiment, err)
		}

		err = repo.CreateEvent(ctx, &store.Event{
			InstanceID:   c.instance.ID,
			ExperimentID: x.ID,
			Name:         d.Experiment,
			Value:        d.Value,
		})
		switch {
		case err == nil:
			res.Written++
		case errors.Is(err, store.ErrDuplicateEvent):
			existing, found, lookupErr := repo.FindInstanceEvent(ctx, c.instance.ID, d.Experiment)
			if lookupErr != nil {
				return res, fmt.Errorf("session: reload conflicting event %q: %w", d.Experiment, lookupErr)
			}
			if found {
				d.Value = existing.Value
				d.Source = SourceReplay
				res.Adopted = append(res.Adopted, d)
			}
			res.Conflicts++
		default:
			return res, fmt.Errorf("session: flush event %q: %w", d.Experiment, err)
		}
	}

	c.Discard()
	return res, nil
}

type ctxKey struct{}

// WithCycle returns a copy of ctx carrying the cycle.
func WithCycle(ctx context.Context, c *Cycle) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the cycle stored in ctx, if any.
func FromContext(ctx context.Context) (*Cycle, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Cycle)
	return c, ok && c != nil
}
