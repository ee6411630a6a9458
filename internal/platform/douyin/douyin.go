// Package douyin resolves Douyin share links: short links, video and note
// share pages served by several mirror domains, and the slides API.
package douyin

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/dispatch"
	"github.com/hyperifyio/mediaparse/internal/extract"
	"github.com/hyperifyio/mediaparse/internal/fetch"
	"github.com/hyperifyio/mediaparse/internal/media"
	"github.com/hyperifyio/mediaparse/internal/metrics"
	"github.com/hyperifyio/mediaparse/internal/resolve"
)

const Platform = "douyin"

// DefaultMirrors are tried in order for video and note pages.
var DefaultMirrors = []string{
	"https://m.douyin.com/share",
	"https://www.iesdouyin.com/share",
}

const DefaultSlidesAPI = "https://www.iesdouyin.com/web/api/v2/aweme/slidesinfo/"

var routerData = extract.NewMarker("_ROUTER_DATA", `window\._ROUTER_DATA\s*=\s*`)

// Resolver turns matched Douyin links into results.
type Resolver struct {
	Fetcher    resolve.Fetcher
	Normalizer *media.Normalizer
	Profiles   fetch.Profiles
	// Mirrors are share-page bases, "<base>/<type>/<id>". Empty means DefaultMirrors.
	Mirrors []string
	// SlidesAPI overrides DefaultSlidesAPI.
	SlidesAPI string
	Metrics   *metrics.Metrics
}

// Rules returns the Douyin routing rules in priority order.
func (r *Resolver) Rules() []dispatch.Rule {
	short := resolve.ShortLink(r.Fetcher, r.Profiles.IOS)
	return []dispatch.Rule{
		{Platform: Platform, Name: "v.douyin", Host: "v.douyin", Pattern: regexp.MustCompile(`v\.douyin\.com/[a-zA-Z0-9_\-]+`), Handler: short},
		{Platform: Platform, Name: "jx.douyin", Host: "jx.douyin", Pattern: regexp.MustCompile(`jx\.douyin\.com/[a-zA-Z0-9_\-]+`), Handler: short},
		{Platform: Platform, Name: "douyin", Host: "douyin", Pattern: regexp.MustCompile(`douyin\.com/(?P<ty>video|note)/(?P<vid>\d+)`), Handler: r.handle},
		{Platform: Platform, Name: "iesdouyin", Host: "iesdouyin", Pattern: regexp.MustCompile(`iesdouyin\.com/share/(?P<ty>slides|video|note)/(?P<vid>\d+)`), Handler: r.handle},
		{Platform: Platform, Name: "m.douyin", Host: "m.douyin", Pattern: regexp.MustCompile(`m\.douyin\.com/share/(?P<ty>slides|video|note)/(?P<vid>\d+)`), Handler: r.handle},
		{Platform: Platform, Name: "jingxuan.douyin", Host: "jingxuan.douyin", Pattern: regexp.MustCompile(`jingxuan\.douyin\.com/m/(?P<ty>slides|video|note)/(?P<vid>\d+)`), Handler: r.handle},
	}
}

func (r *Resolver) handle(ctx context.Context, req *dispatch.Request) (*content.Result, error) {
	ty, vid := req.Match.Group("ty"), req.Match.Group("vid")
	chain := resolve.Chain{Platform: Platform, Metrics: r.Metrics}
	if ty == "slides" {
		return chain.Run(ctx, resolve.Strategy{
			Name: "slides-api",
			Attempt: func(ctx context.Context) (*content.Result, error) {
				return r.parseSlides(ctx, req, vid)
			},
		})
	}
	var strategies []resolve.Strategy
	for _, base := range r.mirrors() {
		pageURL := fmt.Sprintf("%s/%s/%s", strings.TrimSuffix(base, "/"), ty, vid)
		strategies = append(strategies, resolve.Strategy{
			Name: pageURL,
			Attempt: func(ctx context.Context) (*content.Result, error) {
				return r.parsePage(ctx, req, pageURL)
			},
		})
	}
	return chain.Run(ctx, strategies...)
}

func (r *Resolver) mirrors() []string {
	if len(r.Mirrors) > 0 {
		return r.Mirrors
	}
	return DefaultMirrors
}

// parsePage reads one share page. Redirects are not followed: a mirror that
// bounces to a login or download page counts as failed.
func (r *Resolver) parsePage(ctx context.Context, req *dispatch.Request, pageURL string) (*content.Result, error) {
	resp, err := r.Fetcher.Fetch(ctx, fetch.Request{URL: pageURL, Profile: r.Profiles.IOS})
	if err != nil {
		return nil, err
	}
	var data RouterData
	if err := extract.ExtractInto(resp.Text(), routerData, &data); err != nil {
		return nil, err
	}
	item, ok := data.Item()
	if !ok {
		return nil, &extract.ExtractionError{Kind: extract.DecodeFailed, Marker: routerData.Name, Err: fmt.Errorf("no video or note item in loaderData")}
	}
	parts := r.parts(req, item)
	if v := item.VideoURL(); len(item.ImageURLs()) == 0 && v != "" {
		parts.Video = &content.Video{URL: v, CoverURL: item.CoverURL(), Duration: item.DurationValue()}
	} else {
		parts.Images, _ = r.normalize(ctx, req, item.ImageURLs())
	}
	return content.Assemble(parts)
}

func (r *Resolver) parseSlides(ctx context.Context, req *dispatch.Request, vid string) (*content.Result, error) {
	q := url.Values{}
	q.Set("aweme_ids", "["+vid+"]")
	q.Set("request_source", "200")
	resp, err := r.Fetcher.Fetch(ctx, fetch.Request{URL: r.slidesAPI(), Query: q, Profile: r.Profiles.Android, FollowRedirects: true})
	if err != nil {
		return nil, err
	}
	var info SlidesInfo
	if err := extract.Decode("slidesinfo", resp.Body, &info); err != nil {
		return nil, err
	}
	item := &info.AwemeDetails[0]
	parts := r.parts(req, item)
	parts.Images, _ = r.normalize(ctx, req, item.ImageURLs())
	parts.Dynamic = item.DynamicURLs()
	return content.Assemble(parts)
}

func (r *Resolver) slidesAPI() string {
	if r.SlidesAPI != "" {
		return r.SlidesAPI
	}
	return DefaultSlidesAPI
}

func (r *Resolver) parts(req *dispatch.Request, item *Item) content.Parts {
	return content.Parts{
		Platform:  Platform,
		SourceURL: resolve.AbsURL(req.Match.Text),
		Title:     item.Desc,
		Author:    content.Author{Name: item.Author.Nickname, AvatarURL: item.Author.AvatarURL()},
		Timestamp: content.Unix(item.CreateTime),
	}
}

func (r *Resolver) normalize(ctx context.Context, req *dispatch.Request, urls []string) ([]media.NormalizedImage, media.Stats) {
	if len(urls) == 0 {
		return nil, media.Stats{}
	}
	log.Info().Str("platform", Platform).Int("images", len(urls)).Msg("converting images")
	return r.Normalizer.Normalize(ctx, req.Artifacts, urls, r.Profiles.Android)
}
