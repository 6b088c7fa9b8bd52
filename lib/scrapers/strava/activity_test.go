package strava

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"testing"

	"stravacrawl/lib/telemetry"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func docFromString(t *testing.T, html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBufferString(html))
	require.NoError(t, err)
	return doc
}

const inlineStatsTemplate = `
<ul class="inline-stats section">
  <li><strong>%s</strong><div class="label">Distance</div></li>
  <li><strong>%s</strong><div class="label">Moving Time</div></li>
  <li><strong>%s</strong><div class="label">Pace</div></li>
</ul>`

func TestParseInlineStats(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/strava")
	defer cleanup()

	doc := docFromString(t, fmt.Sprintf(inlineStatsTemplate, "6.25 km", "1:18:53", "4:25/km"))
	stats, err := parseInlineStats(doc.Find("ul.inline-stats.section"))
	require.NoError(t, err)
	require.Equal(t, 6.25, stats.distance)
	require.Equal(t, 4733, stats.movingTime)
	require.Equal(t, 265, stats.pace)
}

func TestParseInlineStatsNotARun(t *testing.T) {
	// zero distance and pace mean a non-run misfiled into the feed
	doc := docFromString(t, fmt.Sprintf(inlineStatsTemplate, "0 km", "18:53", "0:00/km"))
	_, err := parseInlineStats(doc.Find("ul.inline-stats.section"))
	require.ErrorIs(t, err, errNotARun)
}

func TestParseInlineStatsMissingSection(t *testing.T) {
	doc := docFromString(t, `<div class="page"></div>`)
	_, err := parseInlineStats(doc.Find("ul.inline-stats.section"))
	require.Error(t, err)
	require.NotErrorIs(t, err, errNotARun)
}

func TestParseClock(t *testing.T) {
	testCases := []struct {
		text     string
		expected int
	}{
		{text: "1:18:53", expected: 4733},
		{text: "18:53", expected: 1133},
		{text: " 59:59 ", expected: 3599},
	}
	for _, test := range testCases {
		seconds, err := parseClock(test.text)
		require.NoError(t, err)
		require.Equal(t, test.expected, seconds)
	}

	_, err := parseClock("53")
	require.Error(t, err)
}

func TestParsePace(t *testing.T) {
	testCases := []struct {
		text     string
		expected int
	}{
		{text: "4:25/km", expected: 265},
		{text: "55s/km", expected: 55},
		{text: "7:18/km", expected: 438},
	}
	for _, test := range testCases {
		pace, err := parsePace(test.text)
		require.NoError(t, err)
		require.Equal(t, test.expected, pace)
	}
}

const moreStatsTemplate = `
<div class="section more-stats">
  <div class="row">
    <div class="spans3">%s</div><div class="spans5">Elevation</div>
    <div class="spans3">%s</div><div class="spans5">Calories</div>
  </div>
</div>`

func TestParseMoreStats(t *testing.T) {
	testCases := []struct {
		elevation string
		calories  string

		expectedElevation int
		expectedCalories  int
	}{
		{elevation: "129m\n", calories: "1,099", expectedElevation: 129, expectedCalories: 1099},
		{elevation: "\n42m\n", calories: "684", expectedElevation: 42, expectedCalories: 684},
		{elevation: "", calories: "—", expectedElevation: 0, expectedCalories: 0},
	}
	for _, test := range testCases {
		doc := docFromString(t, fmt.Sprintf(moreStatsTemplate, test.elevation, test.calories))
		elevation, calories, err := parseMoreStats(doc.Find("div.section.more-stats"))
		require.NoError(t, err)
		require.Equal(t, test.expectedElevation, elevation)
		require.Equal(t, test.expectedCalories, calories)
	}
}

func TestParseMoreStatsAbsent(t *testing.T) {
	doc := docFromString(t, `<div class="page"></div>`)
	elevation, calories, err := parseMoreStats(doc.Find("div.section.more-stats"))
	require.NoError(t, err)
	require.Equal(t, 0, elevation)
	require.Equal(t, 0, calories)
}

func TestParseDeviceSection(t *testing.T) {
	doc := docFromString(t, `
<div class="section device-section">
  <div class="device">Garmin Forerunner 245</div>
  <span class="gear-name">adidas Pulseboost HD
(2,441.7 km)</span>
</div>`)
	device, gear := parseDeviceSection(doc.Find("div.section.device-section"))
	require.Equal(t, "Garmin Forerunner 245", device)
	require.Equal(t, Gear{Name: "adidas Pulseboost HD", Mileage: "2,441.7 km"}, gear)
}

func TestParseDeviceSectionDefaults(t *testing.T) {
	doc := docFromString(t, `<div class="page"></div>`)
	device, gear := parseDeviceSection(doc.Find("div.section.device-section"))
	require.Equal(t, "-", device)
	require.Equal(t, Gear{Name: "-", Mileage: "-"}, gear)
}

func TestActivityByURL(t *testing.T) {
	site := newFakeSite(t)
	site.mux.HandleFunc("/activities/900", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, runDetailPage("6.25 km", "1:18:53", "4:25/km"))
	})

	c := site.newClient(t)
	ctx := context.Background()
	require.NoError(t, c.Login(ctx))

	// identity comes off the page itself, no feed stub involved
	activity, discard, err := c.ActivityByURL(ctx, "/activities/900", nil)
	require.NoError(t, err)
	require.Equal(t, DiscardNone, discard)
	require.Equal(t, "Alex", activity.Info.Nickname)
	require.Equal(t, "Morning Run", activity.Info.Title)
	require.Equal(t, "/activities/900", activity.Info.Href)
	require.Equal(t, 6.25, activity.Metrics.Distance)

	// the date filter applies at the identity stage
	_, discard, err = c.ActivityByURL(ctx, "/activities/900", &DateFilter{Year: 1999, Month: 1, Day: 1})
	require.NoError(t, err)
	require.Equal(t, DiscardFilteredOut, discard)
}

func TestParseIdentity(t *testing.T) {
	doc := docFromString(t, `
<html><body>
<span class="title"><a href="/athletes/1">Alex Mariev</a> – Run</span>
<h1 class="activity-name">Morning Run</h1>
<div class="details-container"><time datetime="2021-05-08T10:38:29Z"></time></div>
<div class="activity-map"></div>
</body></html>`)

	info, err := parseIdentity(doc, doc.Find("span.title").First())
	require.NoError(t, err)
	require.Equal(t, "Alex Mariev", info.Nickname)
	require.Equal(t, "Run", info.Type)
	require.Equal(t, "Morning Run", info.Title)
	require.True(t, info.Routable)
	require.Equal(t, 0, info.Date.Hour())
	require.False(t, info.Date.IsZero())
}
