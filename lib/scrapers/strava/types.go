package strava

import "time"

// ActivityInfo is the identity of a feed entry, known before (or
// without) fetching its detail page.
type ActivityInfo struct {
	// whether the entry carries a route map
	Routable bool
	Title    string
	// detail page reference, relative to the site root
	Href     string
	Nickname string
	// activity type label, e.g. "Run"
	Type string
	// calendar date in local time, no time component
	Date time.Time
}

// Gear is the equipment pair shown on a detail page. Both fields
// default to "-" when the section is absent.
type Gear struct {
	Name    string
	Mileage string
}

// ActivityMetrics holds everything extracted from the detail page
// itself.
type ActivityMetrics struct {
	// kilometers
	Distance float64
	// seconds
	MovingTime int
	// seconds per kilometer
	Pace int
	// meters, 0 when the page has no elevation block
	ElevationGain int
	Calories      int
	Device        string
	Gear          Gear
}

// Activity is one fully extracted record. It is assembled by exactly
// one extraction task and immutable afterwards.
type Activity struct {
	Info    ActivityInfo
	Metrics ActivityMetrics
}

// DateFilter restricts a crawl to entries on one calendar day,
// dropping everything else before its detail page is fetched.
type DateFilter struct {
	Year  int
	Month time.Month
	Day   int
}

func OnDay(t time.Time) *DateFilter {
	return &DateFilter{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Matches reports whether t falls on the filter's day. A nil filter
// matches everything.
func (f *DateFilter) Matches(t time.Time) bool {
	if f == nil {
		return true
	}
	return t.Year() == f.Year && t.Month() == f.Month && t.Day() == f.Day
}

// Feed entry stubs come in two shapes: a single-athlete entry and a
// group entry expanding to one stub per participant.
type singleStub struct {
	info ActivityInfo
}

type groupStub struct {
	entries []ActivityInfo
}
