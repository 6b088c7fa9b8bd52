package strava

import (
	"errors"
	"fmt"
)

// Fatal crawl errors. Once one of these surfaces the crawl cannot
// continue and the caller has to decide what to do with the session.
var (
	// login attempts exhausted, the session could not be created or
	// restored
	ErrSessionFailed = errors.New("unable to create or update strava session")
	// http 429: the site is rate limiting us, retrying only extends
	// the ban
	ErrTooManyRequests = errors.New("http 429: too many requests per time unit")
)

// StatusError reports a response status >= 400 that survived the
// transport guard's single blind retry.
type StatusError struct {
	Code int
}

func (e StatusError) Error() string {
	return fmt.Sprintf("server returned status %d", e.Code)
}

// DiscardReason explains why a feed entry was excluded from the crawl
// result instead of producing an Activity. Discards are per-entry and
// never fail the crawl.
type DiscardReason int

const (
	DiscardNone DiscardReason = iota
	// the detail page redirected to the dashboard, the activity has
	// been deleted
	DiscardNotFound
	// the entry's date does not match the active date filter
	DiscardFilteredOut
	// degenerate primary metrics, the entry is not a run
	DiscardNotARun
	// a mandatory section could not be parsed
	DiscardParseError
	// the detail page could not be fetched
	DiscardFetchFailed
)

func (r DiscardReason) String() string {
	switch r {
	case DiscardNone:
		return "none"
	case DiscardNotFound:
		return "not_found"
	case DiscardFilteredOut:
		return "filtered_out"
	case DiscardNotARun:
		return "not_a_run"
	case DiscardParseError:
		return "parse_error"
	case DiscardFetchFailed:
		return "fetch_failed"
	}
	return "unknown"
}
