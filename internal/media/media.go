// Package media converts remote images to a canonical JPEG form. Conversion
// is best effort per item: a failed item keeps its original URL.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/mediaparse/internal/artifact"
	"github.com/hyperifyio/mediaparse/internal/fetch"
	"github.com/hyperifyio/mediaparse/internal/metrics"
)

// DefaultQuality is the JPEG quality used when Normalizer.Quality is zero.
const DefaultQuality = 95

// ErrUnsupportedFormat is returned for payloads that are not a decodable image.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var decodable = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"}

// Fetcher is the subset of *fetch.Client the normalizer needs.
type Fetcher interface {
	Fetch(ctx context.Context, r fetch.Request) (*fetch.Response, error)
}

// NormalizedImage is the outcome for one input slot. Artifact is set when
// the image was converted; otherwise Source is passed through and Err says
// why.
type NormalizedImage struct {
	Index    int
	Source   string
	Artifact *artifact.Artifact
	Err      error
}

// Converted reports whether the slot holds a transformed artifact.
func (n NormalizedImage) Converted() bool { return n.Artifact != nil }

// Stats counts outcomes of one Normalize call.
type Stats struct {
	Converted int
	Failed    int
}

// Normalizer fetches and re-encodes images concurrently.
type Normalizer struct {
	Fetcher Fetcher
	// Concurrency bounds in-flight conversions. Zero runs one task per item.
	Concurrency int
	// Quality is the JPEG quality (1-100). Zero means DefaultQuality.
	Quality int
	Metrics *metrics.Metrics
}

// Normalize converts every source and returns exactly len(sources) results,
// element i always describing sources[i]. All tasks run to completion; an
// item failure never aborts the others. Converted files are owned by tr.
func (n *Normalizer) Normalize(ctx context.Context, tr *artifact.Tracker, sources []string, p fetch.Profile) ([]NormalizedImage, Stats) {
	out := make([]NormalizedImage, len(sources))
	var g errgroup.Group
	if n.Concurrency > 0 {
		g.SetLimit(n.Concurrency)
	}
	for i, src := range sources {
		g.Go(func() error {
			a, err := n.convert(ctx, tr, src, p)
			// slot i is written only by this task
			out[i] = NormalizedImage{Index: i, Source: src, Artifact: a, Err: err}
			n.Metrics.Conversion(err == nil)
			if err != nil {
				log.Warn().Err(err).Int("index", i).Str("url", shorten(src)).Msg("image conversion failed; keeping original url")
			} else {
				log.Debug().Int("index", i).Str("url", shorten(src)).Int64("bytes", a.Size).Msg("image converted")
			}
			return nil
		})
	}
	_ = g.Wait()

	var st Stats
	for _, r := range out {
		if r.Converted() {
			st.Converted++
		} else {
			st.Failed++
		}
	}
	if len(sources) > 0 {
		log.Info().Int("converted", st.Converted).Int("failed", st.Failed).Int("total", len(sources)).Msg("images normalized")
	}
	return out, st
}

func (n *Normalizer) convert(ctx context.Context, tr *artifact.Tracker, src string, p fetch.Profile) (*artifact.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := n.Fetcher.Fetch(ctx, fetch.Request{URL: src, Profile: p, FollowRedirects: true})
	if err != nil {
		return nil, err
	}
	jpg, err := ToJPEG(resp.Body, n.quality())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return tr.Create(jpg, ".jpg", "image/jpeg")
}

func (n *Normalizer) quality() int {
	if n.Quality <= 0 || n.Quality > 100 {
		return DefaultQuality
	}
	return n.Quality
}

// ToJPEG decodes data (JPEG, PNG, GIF, WebP or BMP), flattens any alpha
// channel onto white and re-encodes it as JPEG.
func ToJPEG(data []byte, quality int) ([]byte, error) {
	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), decodable...) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mt.String())
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mt.String(), err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flatten(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

func shorten(u string) string {
	if len(u) > 60 {
		return u[:60] + "..."
	}
	return u
}
