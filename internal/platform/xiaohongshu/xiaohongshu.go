// Package xiaohongshu resolves Xiaohongshu share links: xhslink short links,
// desktop explore pages and mobile discovery pages.
package xiaohongshu

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperifyio/mediaparse/internal/content"
	"github.com/hyperifyio/mediaparse/internal/dispatch"
	"github.com/hyperifyio/mediaparse/internal/extract"
	"github.com/hyperifyio/mediaparse/internal/fetch"
	"github.com/hyperifyio/mediaparse/internal/media"
	"github.com/hyperifyio/mediaparse/internal/metrics"
	"github.com/hyperifyio/mediaparse/internal/resolve"
)

const Platform = "xiaohongshu"

const DefaultBaseURL = "https://www.xiaohongshu.com"

var initialState = extract.Marker{
	Name:    "__INITIAL_STATE__",
	Anchor:  regexp.MustCompile(`window\.__INITIAL_STATE__\s*=\s*`),
	Rewrite: extract.UndefinedAsNull,
}

var exploreHeaders = map[string]string{
	"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.7",
}

var discoveryHeaders = map[string]string{
	"Origin":           "https://www.xiaohongshu.com",
	"X-Requested-With": "XMLHttpRequest",
	"Sec-Fetch-Site":   "same-origin",
	"Sec-Fetch-Mode":   "cors",
	"Sec-Fetch-Dest":   "empty",
}

// Resolver turns matched Xiaohongshu links into results.
type Resolver struct {
	Fetcher    resolve.Fetcher
	Normalizer *media.Normalizer
	Profiles   fetch.Profiles
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
	Metrics *metrics.Metrics
}

// Rules returns the Xiaohongshu routing rules in priority order.
func (r *Resolver) Rules() []dispatch.Rule {
	return []dispatch.Rule{
		{Platform: Platform, Name: "xhslink", Host: "xhslink.com", Pattern: regexp.MustCompile(`xhslink\.com/[A-Za-z0-9._?%&+=/#@-]*`), Handler: resolve.ShortLink(r.Fetcher, r.discoveryProfile())},
		{Platform: Platform, Name: "explore", Host: "hongshu.com/explore", Pattern: regexp.MustCompile(`explore/(?P<xhs_id>[0-9a-zA-Z]+)\?[A-Za-z0-9._%&+=/#@-]*`), Handler: r.handleExplore},
		{Platform: Platform, Name: "discovery", Host: "hongshu.com/discovery/item/", Pattern: regexp.MustCompile(`discovery/item/(?P<xhs_id>[0-9a-zA-Z]+)\?[A-Za-z0-9._%&+=/#@-]*`), Handler: r.handleDiscovery},
	}
}

func (r *Resolver) base() string {
	if r.BaseURL != "" {
		return strings.TrimSuffix(r.BaseURL, "/")
	}
	return DefaultBaseURL
}

func (r *Resolver) exploreProfile() fetch.Profile   { return r.Profiles.Desktop.With(exploreHeaders) }
func (r *Resolver) discoveryProfile() fetch.Profile { return r.Profiles.IOS.With(discoveryHeaders) }

func (r *Resolver) handleExplore(ctx context.Context, req *dispatch.Request) (*content.Result, error) {
	pageURL := r.base() + "/" + req.Match.Text
	id := req.Match.Group("xhs_id")
	return resolve.Chain{Platform: Platform, Metrics: r.Metrics}.Run(ctx, r.exploreStrategy(req, pageURL, id))
}

// handleDiscovery tries the explore page of the same note first; the mobile
// discovery page is the fallback.
func (r *Resolver) handleDiscovery(ctx context.Context, req *dispatch.Request) (*content.Result, error) {
	route := req.Match.Text
	id := req.Match.Group("xhs_id")
	exploreURL := r.base() + "/" + strings.Replace(route, "discovery/item", "explore", 1)
	discoveryURL := r.base() + "/" + route
	return resolve.Chain{Platform: Platform, Metrics: r.Metrics}.Run(ctx,
		r.exploreStrategy(req, exploreURL, id),
		resolve.Strategy{Name: "discovery", Attempt: func(ctx context.Context) (*content.Result, error) {
			return r.parseDiscovery(ctx, req, discoveryURL)
		}},
	)
}

func (r *Resolver) exploreStrategy(req *dispatch.Request, pageURL, id string) resolve.Strategy {
	return resolve.Strategy{Name: "explore", Attempt: func(ctx context.Context) (*content.Result, error) {
		return r.parseExplore(ctx, req, pageURL, id)
	}}
}

func (r *Resolver) parseExplore(ctx context.Context, req *dispatch.Request, pageURL, id string) (*content.Result, error) {
	p := r.exploreProfile()
	resp, err := r.Fetcher.Fetch(ctx, fetch.Request{URL: pageURL, Profile: p})
	if err != nil {
		return nil, err
	}
	var state ExploreState
	if err := extract.ExtractInto(resp.Text(), initialState, &state); err != nil {
		return nil, err
	}
	raw, ok := state.Note.NoteDetailMap[id]
	if !ok {
		return nil, &extract.ExtractionError{Kind: extract.DecodeFailed, Marker: initialState.Name, Err: fmt.Errorf("note %s not in noteDetailMap", id)}
	}
	var entry exploreEntry
	if err := extract.Decode(initialState.Name, raw, &entry); err != nil {
		return nil, err
	}
	note := &entry.Note
	parts := content.Parts{
		Platform:  Platform,
		SourceURL: pageURL,
		Title:     note.Title,
		Text:      note.Desc,
		Author:    content.Author{Name: note.User.Nickname, AvatarURL: note.User.Avatar},
		Timestamp: content.Unix(note.Time / 1000),
	}
	images := note.ImageURLs()
	if v := note.VideoURL(); v != "" {
		parts.Video = &content.Video{URL: v, CoverURL: first(images)}
	} else if len(images) > 0 {
		parts.Images, _ = r.Normalizer.Normalize(ctx, req.Artifacts, images, p)
	}
	return content.Assemble(parts)
}

var errNoNoteData = errors.New("noteData missing")

func (r *Resolver) parseDiscovery(ctx context.Context, req *dispatch.Request, pageURL string) (*content.Result, error) {
	resp, err := r.Fetcher.Fetch(ctx, fetch.Request{URL: pageURL, Profile: r.discoveryProfile(), FollowRedirects: true})
	if err != nil {
		return nil, err
	}
	var state DiscoveryState
	if err := extract.ExtractInto(resp.Text(), initialState, &state); err != nil {
		return nil, err
	}
	if state.NoteData == nil || len(state.NoteData.Data.NoteData) == 0 || string(state.NoteData.Data.NoteData) == "null" {
		return nil, &extract.ExtractionError{Kind: extract.DecodeFailed, Marker: initialState.Name, Err: errNoNoteData}
	}
	var note DiscoveryNote
	if err := extract.Decode(initialState.Name, state.NoteData.Data.NoteData, &note); err != nil {
		return nil, err
	}
	parts := content.Parts{
		Platform:  Platform,
		SourceURL: pageURL,
		Title:     note.Title,
		Text:      note.Desc,
		Author:    content.Author{Name: note.User.NickName, AvatarURL: note.User.Avatar},
		Timestamp: content.Unix(note.Time / 1000),
	}
	if v := note.VideoURL(); v != "" {
		covers := state.NoteData.NormalNotePreloadData.ImageURLs()
		if len(covers) == 0 {
			covers = note.ImageURLs()
		}
		parts.Video = &content.Video{URL: v, CoverURL: first(covers)}
	} else if images := note.ImageURLs(); len(images) > 0 {
		parts.Images, _ = r.Normalizer.Normalize(ctx, req.Artifacts, images, r.exploreProfile())
	}
	return content.Assemble(parts)
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
