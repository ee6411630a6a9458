package douyin

import (
	"strings"
	"time"
)

// URLList is the `{"url_list": [...]}` shape used for every media address.
type URLList struct {
	URLList []string `json:"url_list"`
}

// First returns the first address or "".
func (u *URLList) First() string {
	if u == nil || len(u.URLList) == 0 {
		return ""
	}
	return u.URLList[0]
}

type Author struct {
	Nickname     string   `json:"nickname"`
	AvatarThumb  *URLList `json:"avatar_thumb"`
	AvatarMedium *URLList `json:"avatar_medium"`
}

// AvatarURL prefers the thumbnail.
func (a Author) AvatarURL() string {
	if u := a.AvatarThumb.First(); u != "" {
		return u
	}
	return a.AvatarMedium.First()
}

// Image is one picture of a note or slideshow. Video is set for live photos.
type Image struct {
	URLList []string `json:"url_list"`
	Video   *struct {
		PlayAddr URLList `json:"play_addr"`
	} `json:"video"`
}

type Video struct {
	PlayAddr URLList  `json:"play_addr"`
	Cover    *URLList `json:"cover"`
	// Duration is in milliseconds.
	Duration int64 `json:"duration"`
}

// Item is one aweme as returned by both the share page and the slides API.
type Item struct {
	CreateTime int64   `json:"create_time"`
	Desc       string  `json:"desc"`
	Author     Author  `json:"author"`
	Images     []Image `json:"images"`
	Video      *Video  `json:"video"`
}

// ImageURLs lists the first address of every image.
func (it *Item) ImageURLs() []string {
	var out []string
	for _, img := range it.Images {
		if len(img.URLList) > 0 && img.URLList[0] != "" {
			out = append(out, img.URLList[0])
		}
	}
	return out
}

// DynamicURLs lists the motion clips of live-photo images.
func (it *Item) DynamicURLs() []string {
	var out []string
	for _, img := range it.Images {
		if img.Video == nil {
			continue
		}
		if u := img.Video.PlayAddr.First(); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// VideoURL returns the watermark-free play address.
func (it *Item) VideoURL() string {
	if it.Video == nil {
		return ""
	}
	return strings.Replace(it.Video.PlayAddr.First(), "playwm", "play", 1)
}

func (it *Item) CoverURL() string {
	if it.Video == nil {
		return ""
	}
	return it.Video.Cover.First()
}

func (it *Item) DurationValue() time.Duration {
	if it.Video == nil {
		return 0
	}
	return time.Duration(it.Video.Duration) * time.Millisecond
}

// RouterData is the `window._ROUTER_DATA` blob of a share page. Pages are
// keyed like "video_(id)/page" or "note_(id)/page".
type RouterData struct {
	LoaderData map[string]*PageData `json:"loaderData" validate:"required"`
}

type PageData struct {
	VideoInfoRes struct {
		ItemList []Item `json:"item_list"`
	} `json:"videoInfoRes"`
}

// Item returns the first item of the first video or note page.
func (r *RouterData) Item() (*Item, bool) {
	for _, key := range []string{"video_(id)/page", "note_(id)/page"} {
		p := r.LoaderData[key]
		if p != nil && len(p.VideoInfoRes.ItemList) > 0 {
			return &p.VideoInfoRes.ItemList[0], true
		}
	}
	return nil, false
}

// SlidesInfo is the slides-info API response.
type SlidesInfo struct {
	AwemeDetails []Item `json:"aweme_details" validate:"required,min=1"`
}
