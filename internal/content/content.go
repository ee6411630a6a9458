// Package content defines the canonical parse result handed to the host and
// assembles it from platform-specific parts.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/hyperifyio/mediaparse/internal/artifact"
	"github.com/hyperifyio/mediaparse/internal/media"
)

// ErrNoContent means a page decoded fine but yielded no media.
var ErrNoContent = errors.New("no media content extracted")

type Kind string

const (
	KindVideo   Kind = "video"
	KindImage   Kind = "image"
	KindDynamic Kind = "dynamic"
)

// Content is one media item. A remote item carries only URL; a resolved item
// also carries a local Artifact. Transformed marks images converted by the
// media normalizer as opposed to passed through.
type Content struct {
	Kind        Kind               `json:"kind"`
	URL         string             `json:"url,omitempty"`
	CoverURL    string             `json:"cover_url,omitempty"`
	Duration    time.Duration      `json:"duration,omitempty"`
	Artifact    *artifact.Artifact `json:"artifact,omitempty"`
	Transformed bool               `json:"transformed,omitempty"`
}

// Local reports whether the item is backed by a local file.
func (c Content) Local() bool { return c.Artifact != nil }

type Author struct {
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Result is the canonical, platform independent parse result.
type Result struct {
	Platform  string     `json:"platform"`
	SourceURL string     `json:"source_url,omitempty"`
	Title     string     `json:"title"`
	Text      string     `json:"text,omitempty"`
	Author    Author     `json:"author"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Contents  []Content  `json:"contents"`
}

// Artifacts lists the local files referenced by the result, in content order.
func (r *Result) Artifacts() []*artifact.Artifact {
	var out []*artifact.Artifact
	for _, c := range r.Contents {
		if c.Artifact != nil {
			out = append(out, c.Artifact)
		}
	}
	return out
}

// Release removes the temporary files owned by the result. Files produced by
// a Downloader are left to it.
func (r *Result) Release() error {
	var errs []error
	for _, a := range r.Artifacts() {
		if !a.Temporary {
			continue
		}
		if err := a.Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Downloader materializes remote media into local files.
type Downloader interface {
	Download(ctx context.Context, url string, headers map[string]string) (*artifact.Artifact, error)
}

// Materialize hands every still-remote item to d. Items that fail stay
// remote; the joined errors are returned.
func (r *Result) Materialize(ctx context.Context, d Downloader, headers map[string]string, concurrency int) error {
	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	errs := make([]error, len(r.Contents))
	for i := range r.Contents {
		c := &r.Contents[i]
		if c.Local() || c.URL == "" {
			continue
		}
		g.Go(func() error {
			a, err := d.Download(ctx, c.URL, headers)
			if err != nil {
				errs[i] = fmt.Errorf("download %s #%d: %w", c.Kind, i, err)
				return nil
			}
			c.Artifact = a
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Video describes a resolved video stream.
type Video struct {
	URL      string
	CoverURL string
	Duration time.Duration
}

// Parts is everything a platform resolver extracted for one post.
type Parts struct {
	Platform  string
	SourceURL string
	Author    Author
	Title     string
	Text      string
	Timestamp *time.Time
	Video     *Video
	Images    []media.NormalizedImage
	Dynamic   []string
}

// Assemble builds the result. A video takes precedence over images; images
// are kept in input order; dynamic items follow. ErrNoContent is returned
// when nothing remains.
func Assemble(p Parts) (*Result, error) {
	r := &Result{
		Platform:  p.Platform,
		SourceURL: p.SourceURL,
		Title:     clean(p.Title),
		Text:      clean(p.Text),
		Author:    Author{Name: clean(p.Author.Name), AvatarURL: p.Author.AvatarURL},
		Timestamp: p.Timestamp,
	}
	if p.Video != nil && p.Video.URL != "" {
		r.Contents = append(r.Contents, Content{
			Kind:     KindVideo,
			URL:      p.Video.URL,
			CoverURL: p.Video.CoverURL,
			Duration: p.Video.Duration,
		})
	} else {
		for _, img := range p.Images {
			r.Contents = append(r.Contents, FromNormalized(img))
		}
	}
	for _, u := range p.Dynamic {
		if u != "" {
			r.Contents = append(r.Contents, Content{Kind: KindDynamic, URL: u})
		}
	}
	if len(r.Contents) == 0 {
		return nil, ErrNoContent
	}
	return r, nil
}

// FromNormalized maps a normalizer slot to an image item.
func FromNormalized(n media.NormalizedImage) Content {
	if n.Converted() {
		return Content{Kind: KindImage, URL: n.Source, Artifact: n.Artifact, Transformed: true}
	}
	return Content{Kind: KindImage, URL: n.Source}
}

// Unix converts upstream epoch seconds, treating non-positive values as absent.
func Unix(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
