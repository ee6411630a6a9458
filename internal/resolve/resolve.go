// Package resolve runs a platform's ordered resolution strategies and the
// short-link redirect stage that precedes redispatch.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/dispatch"
	"github.com/hyperifyio/mediaparse/internal/fetch"
	"github.com/hyperifyio/mediaparse/internal/metrics"
)

// Fetcher is the page fetcher surface resolvers depend on.
type Fetcher interface {
	Fetch(ctx context.Context, r fetch.Request) (*fetch.Response, error)
	Location(ctx context.Context, url string, p fetch.Profile) (string, error)
}

// Strategy is one way of producing a result, such as one mirror domain or
// one alternate endpoint.
type Strategy struct {
	Name    string
	Attempt func(ctx context.Context) (*content.Result, error)
}

// Attempt records why a strategy failed.
type Attempt struct {
	Strategy string
	Err      error
}

// AllStrategiesFailedError is returned once every strategy of a platform has
// been tried and failed.
type AllStrategiesFailedError struct {
	Platform string
	Attempts []Attempt
}

func (e *AllStrategiesFailedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: all %d strategies failed", e.Platform, len(e.Attempts))
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %v", a.Strategy, a.Err)
	}
	return b.String()
}

// Unwrap exposes every attempt error to errors.Is and errors.As.
func (e *AllStrategiesFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// Chain tries strategies strictly in order and returns the first success.
type Chain struct {
	Platform string
	Metrics  *metrics.Metrics
}

// Run attempts each strategy once. A failure is logged and the next strategy
// runs; after the last failure an *AllStrategiesFailedError carrying every
// attempt is returned. Context cancellation stops the chain at once.
func (c Chain) Run(ctx context.Context, strategies ...Strategy) (*content.Result, error) {
	failed := &AllStrategiesFailedError{Platform: c.Platform}
	for i, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Attempt(ctx)
		if err == nil && res == nil {
			err = content.ErrNoContent
		}
		if err == nil {
			c.Metrics.Attempt(c.Platform, true)
			log.Debug().Str("platform", c.Platform).Str("strategy", s.Name).Int("attempt", i+1).Msg("strategy succeeded")
			return res, nil
		}
		c.Metrics.Attempt(c.Platform, false)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Warn().Err(err).Str("platform", c.Platform).Str("strategy", s.Name).Int("attempt", i+1).Int("of", len(strategies)).Msg("strategy failed")
		failed.Attempts = append(failed.Attempts, Attempt{Strategy: s.Name, Err: err})
	}
	return nil, failed
}

// Redirect fetches rawURL without following redirects and returns the
// Location it points to. The *fetch.FetchError stays reachable through
// errors.As; this step is not retried by any chain.
func Redirect(ctx context.Context, f Fetcher, rawURL string, p fetch.Profile) (string, error) {
	loc, err := f.Location(ctx, rawURL, p)
	if err != nil {
		return "", fmt.Errorf("resolve short link: %w", err)
	}
	log.Debug().Str("url", rawURL).Str("location", loc).Msg("short link resolved")
	return loc, nil
}

// ShortLink is the handler of short-link rules: it resolves the matched link
// with p and dispatches the target again.
func ShortLink(f Fetcher, p fetch.Profile) dispatch.Handler {
	return func(ctx context.Context, req *dispatch.Request) (*content.Result, error) {
		target, err := Redirect(ctx, f, AbsURL(req.Match.Text), p)
		if err != nil {
			return nil, err
		}
		return req.Redispatch(ctx, target)
	}
}

// AbsURL prefixes https:// to a scheme-less match.
func AbsURL(s string) string {
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "https://" + s
}
