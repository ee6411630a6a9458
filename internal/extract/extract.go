// Package extract locates JSON state blobs embedded in fetched pages and
// decodes them permissively into typed schemas.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-playground/validator/v10"
)

// Kind classifies an extraction failure.
type Kind int

const (
	MarkerNotFound Kind = iota + 1
	DecodeFailed
)

func (k Kind) String() string {
	switch k {
	case MarkerNotFound:
		return "marker-not-found"
	case DecodeFailed:
		return "decode-failed"
	}
	return "unknown"
}

// Sentinels usable with errors.Is against an *ExtractionError.
var (
	ErrMarkerNotFound = errors.New("marker not found")
	ErrDecodeFailed   = errors.New("decode failed")
)

// ExtractionError reports a missing marker or an undecodable payload.
type ExtractionError struct {
	Kind   Kind
	Marker string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract %s: %s: %v", e.Marker, e.Kind, e.Err)
	}
	return fmt.Sprintf("extract %s: %s", e.Marker, e.Kind)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrMarkerNotFound:
		return e.Kind == MarkerNotFound
	case ErrDecodeFailed:
		return e.Kind == DecodeFailed
	}
	return false
}

// Marker identifies an embedded assignment such as
// `window._ROUTER_DATA = {...}</script>`. Anchor matches everything up to the
// start of the JSON payload.
type Marker struct {
	Name    string
	Anchor  *regexp.Regexp
	Rewrite func([]byte) []byte
}

// NewMarker compiles anchor. It panics on an invalid pattern, markers are
// package-level values.
func NewMarker(name, anchor string) Marker {
	return Marker{Name: name, Anchor: regexp.MustCompile(anchor)}
}

var undefinedRe = regexp.MustCompile(`\bundefined\b`)

// UndefinedAsNull rewrites bare JavaScript `undefined` tokens to JSON null.
func UndefinedAsNull(b []byte) []byte {
	return undefinedRe.ReplaceAll(b, []byte("null"))
}

// Extract returns the JSON payload following the first occurrence of the
// marker. <script> elements are searched first; the raw text is the fallback
// for bodies that are not well-formed HTML.
func Extract(body string, m Marker) ([]byte, error) {
	payload, ok := fromScripts(body, m)
	if !ok {
		payload, ok = fromRaw(body, m)
	}
	if !ok {
		return nil, &ExtractionError{Kind: MarkerNotFound, Marker: m.Name}
	}
	payload = strings.TrimSpace(payload)
	payload = strings.TrimSpace(strings.TrimSuffix(payload, ";"))
	if payload == "" {
		return nil, &ExtractionError{Kind: MarkerNotFound, Marker: m.Name, Err: errors.New("empty payload")}
	}
	b := []byte(payload)
	if m.Rewrite != nil {
		b = m.Rewrite(b)
	}
	return b, nil
}

func fromScripts(body string, m Marker) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", false
	}
	var payload string
	found := false
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		loc := m.Anchor.FindStringIndex(text)
		if loc == nil {
			return true
		}
		payload, found = text[loc[1]:], true
		return false
	})
	return payload, found
}

func fromRaw(body string, m Marker) (string, bool) {
	loc := m.Anchor.FindStringIndex(body)
	if loc == nil {
		return "", false
	}
	rest := body[loc[1]:]
	if end := strings.Index(rest, "</script>"); end >= 0 {
		rest = rest[:end]
	}
	return rest, true
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals payload into v. Unknown fields are ignored and absent
// optional fields keep their zero or pre-set defaults; fields tagged
// `validate:"required"` must be present. name labels errors.
func Decode(name string, payload []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &ExtractionError{Kind: DecodeFailed, Marker: name, Err: err}
	}
	if !isStructPtr(v) {
		return nil
	}
	if err := validate.Struct(v); err != nil {
		return &ExtractionError{Kind: DecodeFailed, Marker: name, Err: err}
	}
	return nil
}

// ExtractInto runs Extract then Decode.
func ExtractInto(body string, m Marker, v any) error {
	payload, err := Extract(body, m)
	if err != nil {
		return err
	}
	return Decode(m.Name, payload, v)
}

func isStructPtr(v any) bool {
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Kind() == reflect.Struct
}
