// Package resolver selects, for each logical name, the highest-priority
// candidate whose license state admits it, recording the reason for every
// rejection along the way.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gantryproject/gantry/internal/discovery"
	"github.com/gantryproject/gantry/internal/license"
	"github.com/gantryproject/gantry/internal/metrics"
)

// DefaultWorkers bounds concurrent license validations (and hence key
// fetches) during a resolve run.
const DefaultWorkers = 4

// Validator computes a validation state for a raw token.
type Validator interface {
	Validate(ctx context.Context, raw string, asOf time.Time) license.State
}

// Rejection records one candidate that was not admitted and why. The reason
// is the validation state's text, verbatim.
type Rejection struct {
	Component discovery.Component `json:"component"`
	Reason    string              `json:"reason"`
}

// LoadDecision is the audit record for one logical name. Admitted is nil
// when every candidate was rejected; that is an unresolved name, not an
// error. Decisions are immutable once returned.
type LoadDecision struct {
	LogicalName string               `json:"logical_name"`
	Admitted    *discovery.Component `json:"admitted,omitempty"`
	// State is set for admitted registry/pack candidates.
	State *license.State `json:"state,omitempty"`
	// Warning is set when the admitted candidate loads under grace.
	Warning  string      `json:"warning,omitempty"`
	Rejected []Rejection `json:"rejected,omitempty"`
}

// Resolver applies the fixed priority walk over grouped candidates.
type Resolver struct {
	validator Validator
	workers   int
	metrics   *metrics.Collector
	logger    zerolog.Logger
	now       func() time.Time
}

// Options configures a Resolver.
type Options struct {
	Validator Validator
	// Workers bounds concurrent validations (default: 4).
	Workers int
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// New creates a Resolver.
func New(opts Options) *Resolver {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Resolver{
		validator: opts.Validator,
		workers:   opts.Workers,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With().Str("component", "resolver").Logger(),
		now:       time.Now,
	}
}

// Resolve produces one LoadDecision per logical name.
//
// All registry/pack candidates are validated first, concurrently but
// bounded by the worker pool, and only then is the per-name priority walk
// applied. That split is what keeps the output deterministic: fetch
// completion order can never influence which candidate wins.
//
// The only error condition is a contract violation in the input (a name
// with an empty candidate list); license problems never fail the run.
func (r *Resolver) Resolve(ctx context.Context, candidates map[string][]discovery.Component) (map[string]*LoadDecision, error) {
	for name, group := range candidates {
		if len(group) == 0 {
			return nil, fmt.Errorf("empty candidate list for %q", name)
		}
	}

	asOf := r.now().UTC()
	states, err := r.validateAll(ctx, candidates, asOf)
	if err != nil {
		return nil, err
	}

	decisions := make(map[string]*LoadDecision, len(candidates))
	for name, group := range candidates {
		ordered := make([]discovery.Component, len(group))
		copy(ordered, group)
		sortByPriority(ordered)

		decisions[name] = r.decide(name, ordered, states)
	}

	return decisions, nil
}

// validateAll computes the state of every registry/pack candidate up front.
// Results are keyed by candidate identity (source tier + path), which is
// unique within a run.
func (r *Resolver) validateAll(ctx context.Context, candidates map[string][]discovery.Component, asOf time.Time) (map[string]license.State, error) {
	type job struct {
		key   string
		token string
	}

	var jobs []job
	for _, group := range candidates {
		for _, comp := range group {
			if comp.Source.Trusted() {
				continue
			}
			jobs = append(jobs, job{key: candidateKey(comp), token: comp.LicenseToken})
		}
	}

	states := make(map[string]license.State, len(jobs))
	if len(jobs) == 0 {
		return states, nil
	}

	results := make([]license.State, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for i, j := range jobs {
		i, j := i, j
		g.Go(func() error {
			results[i] = r.validator.Validate(gctx, j.token, asOf)
			return nil
		})
	}
	// Workers only record states; they never return errors.
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, j := range jobs {
		states[j.key] = results[i]
		r.metrics.Validation(string(results[i].Kind))
	}

	return states, nil
}

// decide walks one name's ordered candidates and commits its decision.
func (r *Resolver) decide(name string, ordered []discovery.Component, states map[string]license.State) *LoadDecision {
	decision := &LoadDecision{LogicalName: name}

	for _, comp := range ordered {
		if comp.Source.Trusted() {
			// Trusted by construction: no validation call, ever.
			decision.Admitted = &comp
			break
		}

		state := states[candidateKey(comp)]
		if state.Admissible() {
			decision.Admitted = &comp
			stateCopy := state
			decision.State = &stateCopy
			if state.Kind == license.StateGrace {
				decision.Warning = fmt.Sprintf("license entering grace period (%s remaining)", state.Remaining)
				r.logger.Warn().Str("name", name).Str("path", comp.Path).
					Dur("remaining", state.Remaining).Msg("construct admitted under grace")
			}
			break
		}

		decision.Rejected = append(decision.Rejected, Rejection{
			Component: comp,
			Reason:    state.String(),
		})
	}

	if decision.Admitted != nil {
		r.metrics.Decision("admitted")
		r.logger.Debug().Str("name", name).Str("source", string(decision.Admitted.Source)).Msg("construct admitted")
	} else {
		r.metrics.Decision("unresolved")
		r.logger.Warn().Str("name", name).Int("rejected", len(decision.Rejected)).Msg("no admissible candidate")
	}

	return decision
}

// candidateKey identifies a candidate within one resolve run.
func candidateKey(c discovery.Component) string {
	return string(c.Source) + ":" + c.Path
}

// sortByPriority orders candidates highest trust first, path as tiebreak.
func sortByPriority(candidates []discovery.Component) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Source.Priority() != candidates[j].Source.Priority() {
			return candidates[i].Source.Priority() < candidates[j].Source.Priority()
		}
		return candidates[i].Path < candidates[j].Path
	})
}
