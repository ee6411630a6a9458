// Package dispatch routes free text to the platform rule that owns the first
// link found in it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/mediaparse/internal/artifact"
	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/metrics"
)

// MaxDepth bounds how many times one input may be redispatched after
// short-link resolution.
const MaxDepth = 3

var (
	// ErrNotMatched means no registered rule recognizes the input.
	ErrNotMatched = errors.New("no rule matches input")
	// ErrRedirectLoop means redispatching exceeded MaxDepth.
	ErrRedirectLoop = errors.New("too many redispatches")
)

// Handler resolves one matched input.
type Handler func(ctx context.Context, req *Request) (*content.Result, error)

// Rule pairs a coarse host fragment with a pattern. Host is checked with a
// substring test before the pattern runs; an empty Host always passes.
type Rule struct {
	Platform string
	Name     string
	Host     string
	Pattern  *regexp.Regexp
	Handler  Handler
}

// Match is the outcome of a successful rule lookup.
type Match struct {
	Rule   *Rule
	Text   string
	Groups map[string]string
}

// Group returns a named capture, or "" when absent.
func (m Match) Group(name string) string { return m.Groups[name] }

// Request is handed to a Handler. Artifacts is the per-request tracker all
// temporary files must be created through.
type Request struct {
	Input     string
	Match     Match
	Artifacts *artifact.Tracker

	registry *Registry
	depth    int
}

// Redispatch routes input through the same registry, as happens after a
// short link was resolved to its target.
func (r *Request) Redispatch(ctx context.Context, input string) (*content.Result, error) {
	if r.depth+1 > MaxDepth {
		return nil, fmt.Errorf("%w: %s", ErrRedirectLoop, input)
	}
	return r.registry.dispatch(ctx, input, r.Artifacts, r.depth+1)
}

// Registry is an ordered, immutable rule list. It is safe for concurrent use.
type Registry struct {
	rules   []Rule
	metrics *metrics.Metrics
}

// NewRegistry copies rules in registration order. It panics on a rule with no
// pattern or handler, rules are assembled at start-up.
func NewRegistry(rules ...Rule) *Registry {
	for i, r := range rules {
		if r.Pattern == nil || r.Handler == nil {
			panic(fmt.Sprintf("dispatch: rule %d (%s) needs a pattern and a handler", i, r.Name))
		}
	}
	return &Registry{rules: append([]Rule(nil), rules...)}
}

// WithMetrics returns a registry sharing r's rules that counts dispatches.
func (r *Registry) WithMetrics(m *metrics.Metrics) *Registry {
	return &Registry{rules: r.rules, metrics: m}
}

// Rules returns a copy of the registered rules.
func (r *Registry) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Match returns the first rule, in registration order, matching input.
func (r *Registry) Match(input string) (Match, error) {
	for i := range r.rules {
		rule := &r.rules[i]
		if rule.Host != "" && !strings.Contains(input, rule.Host) {
			continue
		}
		sub := rule.Pattern.FindStringSubmatch(input)
		if sub == nil {
			continue
		}
		groups := make(map[string]string)
		for j, name := range rule.Pattern.SubexpNames() {
			if name != "" && j < len(sub) {
				groups[name] = sub[j]
			}
		}
		return Match{Rule: rule, Text: sub[0], Groups: groups}, nil
	}
	return Match{}, ErrNotMatched
}

// Dispatch matches input and runs the owning handler. tracker receives every
// temporary file the handler creates.
func (r *Registry) Dispatch(ctx context.Context, input string, tracker *artifact.Tracker) (*content.Result, error) {
	return r.dispatch(ctx, input, tracker, 0)
}

func (r *Registry) dispatch(ctx context.Context, input string, tracker *artifact.Tracker, depth int) (*content.Result, error) {
	m, err := r.Match(input)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("platform", m.Rule.Platform).Str("rule", m.Rule.Name).Str("match", m.Text).Int("depth", depth).Msg("dispatch")
	r.metrics.Dispatch(m.Rule.Platform)
	return m.Rule.Handler(ctx, &Request{
		Input:     input,
		Match:     m,
		Artifacts: tracker,
		registry:  r,
		depth:     depth,
	})
}
