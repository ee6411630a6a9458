package fetch

import (
	"fmt"
	"net/http"
)

// FetchError reports a failed fetch. Status is set for HTTP-level failures,
// Err for transport failures (Status is zero then).
type FetchError struct {
	URL      string
	Status   int
	Location string
	Err      error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: transport: %v", e.URL, e.Err)
	}
	if e.Location != "" {
		return fmt.Sprintf("fetch %s: status %d (location %s)", e.URL, e.Status, e.Location)
	}
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Transport reports whether the failure happened below HTTP.
func (e *FetchError) Transport() bool { return e.Status == 0 }

// Redirect reports whether the response was a redirect that was not followed.
func (e *FetchError) Redirect() bool {
	switch e.Status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}
