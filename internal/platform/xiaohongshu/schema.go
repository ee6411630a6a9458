package xiaohongshu

import "encoding/json"

type stream struct {
	MasterURL string `json:"masterUrl"`
}

// Video carries the encodings of a video note.
type Video struct {
	Media struct {
		Stream struct {
			H264 []stream `json:"h264"`
			H265 []stream `json:"h265"`
			AV1  []stream `json:"av1"`
			H266 []stream `json:"h266"`
		} `json:"stream"`
	} `json:"media"`
}

// URL picks the first master URL by codec preference. H.265 streams carry
// no watermark; H.264 ones do.
func (v *Video) URL() string {
	if v == nil {
		return ""
	}
	s := v.Media.Stream
	for _, list := range [][]stream{s.H265, s.H264, s.AV1, s.H266} {
		if len(list) > 0 && list[0].MasterURL != "" {
			return list[0].MasterURL
		}
	}
	return ""
}

// ExploreState is the part of the explore page's `window.__INITIAL_STATE__`
// that holds note details, keyed by note id.
type ExploreState struct {
	Note struct {
		NoteDetailMap map[string]json.RawMessage `json:"noteDetailMap"`
	} `json:"note"`
}

type exploreEntry struct {
	Note ExploreNote `json:"note" validate:"required"`
}

type ExploreNote struct {
	Type  string `json:"type" validate:"required"`
	Title string `json:"title"`
	Desc  string `json:"desc"`
	User  struct {
		Nickname string `json:"nickname"`
		Avatar   string `json:"avatar"`
	} `json:"user"`
	// Time is in milliseconds; absent on some pages.
	Time      int64 `json:"time"`
	ImageList []struct {
		URLDefault string `json:"urlDefault"`
	} `json:"imageList"`
	Video *Video `json:"video"`
}

func (n *ExploreNote) ImageURLs() []string {
	var out []string
	for _, img := range n.ImageList {
		if img.URLDefault != "" {
			out = append(out, img.URLDefault)
		}
	}
	return out
}

func (n *ExploreNote) VideoURL() string {
	if n.Type != "video" {
		return ""
	}
	return n.Video.URL()
}

// DiscoveryState is the `window.__INITIAL_STATE__` of the mobile discovery
// page.
type DiscoveryState struct {
	NoteData *struct {
		Data struct {
			NoteData json.RawMessage `json:"noteData"`
		} `json:"data"`
		NormalNotePreloadData *PreloadData `json:"normalNotePreloadData"`
	} `json:"noteData"`
}

type discoveryImage struct {
	URL          string `json:"url"`
	URLSizeLarge string `json:"urlSizeLarge"`
}

type DiscoveryNote struct {
	Type  string `json:"type" validate:"required"`
	Title string `json:"title"`
	Desc  string `json:"desc"`
	User  struct {
		NickName string `json:"nickName"`
		Avatar   string `json:"avatar"`
	} `json:"user"`
	// Time is in milliseconds.
	Time      int64            `json:"time"`
	ImageList []discoveryImage `json:"imageList"`
	Video     *Video           `json:"video"`
}

// ImageURLs returns the watermarked image addresses.
func (n *DiscoveryNote) ImageURLs() []string {
	var out []string
	for _, img := range n.ImageList {
		if img.URL != "" {
			out = append(out, img.URL)
		}
	}
	return out
}

func (n *DiscoveryNote) VideoURL() string {
	if n.Type != "video" {
		return ""
	}
	return n.Video.URL()
}

// PreloadData holds the watermark-free cover of a video note.
type PreloadData struct {
	ImagesList []discoveryImage `json:"imagesList"`
}

func (p *PreloadData) ImageURLs() []string {
	if p == nil {
		return nil
	}
	var out []string
	for _, img := range p.ImagesList {
		u := img.URLSizeLarge
		if u == "" {
			u = img.URL
		}
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}
