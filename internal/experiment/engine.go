// Package experiment implements variant assignment for A/B experiments.
//
// A decision is resolved in strict precedence: a stored event for the identity is
// replayed, then an earlier decision of the same cycle, then a sticky tag, then a
// corrective pick when the historical distribution is skewed, and finally a uniform
// draw over the weighted candidate pool.
package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/rafaeljc/norns/internal/identity"
	"github.com/rafaeljc/norns/internal/observability"
	"github.com/rafaeljc/norns/internal/session"
	"github.com/rafaeljc/norns/internal/store"
	"github.com/rafaeljc/norns/internal/validation"
)

// DefaultSkewThreshold is the tolerated difference between the most and least fired values.
const DefaultSkewThreshold = 3

// Tagger reports whether an identity carries a sticky tag.
// Tags have the form "[experiment]condition".
type Tagger interface {
	IsTagged(ctx context.Context, token, tag string) (bool, error)
}

// StickyTag builds the tag that forces condition for experiment.
func StickyTag(experiment, condition string) string {
	return "[" + experiment + "]" + condition
}

// Request describes one decision.
type Request struct {
	Experiment string
	Goal       string
	Conditions []string
}

// Options tunes an Engine.
type Options struct {
	// SkewThreshold is the count difference above which the least-used value is forced.
	// Negative values select DefaultSkewThreshold.
	SkewThreshold int

	// Rand overrides the random source. It is guarded by the engine, so it may be shared.
	Rand *rand.Rand
}

// Engine decides which condition an identity sees for each experiment.
type Engine struct {
	repo     store.Repository
	resolver *identity.Resolver
	tagger   Tagger
	skew     int
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an Engine. tagger may be nil when sticky tags are disabled.
// If logger is nil, it defaults to slog.Default().
func NewEngine(repo store.Repository, resolver *identity.Resolver, tagger Tagger, opts Options, logger *slog.Logger) *Engine {
	validation.AssertImplemented(repo, "experiment: record store")
	validation.AssertNotNil(resolver, "experiment: identity resolver")
	if logger == nil {
		logger = slog.Default()
	}
	if validation.IsNil(tagger) {
		tagger = nil
	}
	if opts.SkewThreshold < 0 {
		opts.SkewThreshold = DefaultSkewThreshold
	}

	return &Engine{
		repo:     repo,
		resolver: resolver,
		tagger:   tagger,
		skew:     opts.SkewThreshold,
		logger:   logger,
		rng:      opts.Rand,
	}
}

// Decide returns the condition the cycle's identity sees for the experiment and
// records the decision in the cycle.
func (e *Engine) Decide(ctx context.Context, cycle *session.Cycle, req Request) (session.Decision, error) {
	if req.Experiment == "" {
		return session.Decision{}, fmt.Errorf("%w: experiment name cannot be empty", ErrInvalidArgument)
	}
	cands, err := expand(req.Conditions)
	if err != nil {
		return session.Decision{}, err
	}

	inst, err := e.resolver.EnsureIdentity(ctx, cycle, false)
	if err != nil {
		return session.Decision{}, err
	}

	value, source, err := e.choose(ctx, cycle, inst, req, cands)
	if err != nil {
		return session.Decision{}, fmt.Errorf("experiment: decide %q: %w", req.Experiment, err)
	}

	d := session.Decision{
		Experiment: req.Experiment,
		Goal:       req.Goal,
		Value:      value,
		Source:     source,
	}
	cycle.Record(d)
	observability.DecisionsTotal.WithLabelValues(string(source)).Inc()

	e.logger.DebugContext(ctx, "experiment decided",
		slog.String("experiment", req.Experiment),
		slog.String("value", value),
		slog.String("source", string(source)),
		slog.Int64("instance_id", inst.ID),
	)
	return d, nil
}

// choose applies the precedence chain.
func (e *Engine) choose(ctx context.Context, cycle *session.Cycle, inst *store.Instance, req Request, c candidates) (string, session.Source, error) {
	// 1. Replay a stored event.
	stored, found, err := e.repo.FindInstanceEvent(ctx, inst.ID, req.Experiment)
	if err != nil {
		return "", "", err
	}
	if found {
		return stored.Value, session.SourceReplay, nil
	}

	// 2. Replay an earlier decision of this cycle.
	if pending, ok := cycle.Pending(req.Experiment); ok && c.set[pending.Value] {
		return pending.Value, session.SourcePending, nil
	}

	// 3. Sticky tags, in candidate order.
	if e.tagger != nil {
		for _, key := range c.keys {
			tagged, err := e.tagger.IsTagged(ctx, inst.Token, StickyTag(req.Experiment, key))
			if err != nil {
				return "", "", fmt.Errorf("%w: %w", ErrTagLookup, err)
			}
			if tagged {
				return key, session.SourceSticky, nil
			}
		}
	}

	// 4. Corrective pick on a skewed distribution.
	x, exists, err := e.repo.FindExperiment(ctx, req.Experiment, req.Goal)
	if err != nil {
		return "", "", err
	}
	if exists {
		counts, err := e.repo.CountExperimentValues(ctx, x.ID)
		if err != nil {
			return "", "", err
		}
		if v, ok := leastUsed(counts, c, e.skew); ok {
			return v, session.SourceCorrective, nil
		}
	}

	// 5. Uniform draw over the weighted pool.
	return c.pool[e.intN(len(c.pool))], session.SourceRandom, nil
}

func (e *Engine) intN(n int) int {
	if e.rng == nil {
		return rand.IntN(n)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.IntN(n)
}

// Setup seeds tracked key/value pairs as decisions without balancing.
// Decisions are recorded in key order.
func (e *Engine) Setup(ctx context.Context, cycle *session.Cycle, values map[string]string) ([]session.Decision, error) {
	names := make([]string, 0, len(values))
	for name, value := range values {
		if name == "" || value == "" {
			return nil, fmt.Errorf("%w: seeded experiments need a name and a value", ErrInvalidArgument)
		}
		names = append(names, name)
	}
	slices.Sort(names)

	if _, err := e.resolver.EnsureIdentity(ctx, cycle, false); err != nil {
		return nil, err
	}

	seeded := make([]session.Decision, 0, len(names))
	for _, name := range names {
		d := session.Decision{Experiment: name, Value: values[name], Source: session.SourceSeeded}
		cycle.Record(d)
		seeded = append(seeded, d)
	}
	observability.DecisionsTotal.WithLabelValues(string(session.SourceSeeded)).Add(float64(len(seeded)))
	return seeded, nil
}

// RecordGoal appends a goal for the cycle's identity. value is optional.
func (e *Engine) RecordGoal(ctx context.Context, cycle *session.Cycle, goal string, value *string) (*store.Goal, error) {
	if goal == "" {
		return nil, fmt.Errorf("%w: goal name cannot be empty", ErrInvalidArgument)
	}

	inst, err := e.resolver.EnsureIdentity(ctx, cycle, false)
	if err != nil {
		return nil, err
	}

	g := &store.Goal{InstanceID: inst.ID, Goal: goal, Value: value}
	if err := e.repo.CreateGoal(ctx, g); err != nil {
		return nil, fmt.Errorf("experiment: record goal %q: %w", goal, err)
	}
	observability.GoalsTotal.Inc()
	return g, nil
}

// Identity resolves the cycle's identity without deciding anything.
func (e *Engine) Identity(ctx context.Context, cycle *session.Cycle) (*store.Instance, error) {
	return e.resolver.EnsureIdentity(ctx, cycle, false)
}

// Reset drops the cycle's pending decisions and binds it to a new identity.
func (e *Engine) Reset(ctx context.Context, cycle *session.Cycle) (*store.Instance, error) {
	cycle.Discard()
	return e.resolver.EnsureIdentity(ctx, cycle, true)
}

// History lists the stored events and goals of the cycle's identity.
func (e *Engine) History(ctx context.Context, cycle *session.Cycle) ([]*store.Event, []*store.Goal, error) {
	inst, err := e.resolver.EnsureIdentity(ctx, cycle, false)
	if err != nil {
		return nil, nil, err
	}

	events, err := e.repo.ListInstanceEvents(ctx, inst.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: history events: %w", err)
	}
	goals, err := e.repo.ListInstanceGoals(ctx, inst.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: history goals: %w", err)
	}
	return events, goals, nil
}

// Counts returns the fired value distribution of an experiment.
// found=false means the experiment has never been flushed.
func (e *Engine) Counts(ctx context.Context, name, goal string) ([]store.ValueCount, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("%w: experiment name cannot be empty", ErrInvalidArgument)
	}

	x, found, err := e.repo.FindExperiment(ctx, name, goal)
	if err != nil || !found {
		return nil, found, err
	}

	counts, err := e.repo.CountExperimentValues(ctx, x.ID)
	if err != nil {
		return nil, true, err
	}
	return counts, true, nil
}
