package strava

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"stravacrawl/lib/htmlutil"
	"stravacrawl/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
)

// ActivityByURL fetches and extracts a single activity detail page
// without a feed stub, resolving identity from the page itself.
func (c *Client) ActivityByURL(ctx context.Context, href string, filter *DateFilter) (Activity, DiscardReason, error) {
	return c.extractActivity(ctx, href, nil, filter)
}

// extractActivity runs the staged extraction over an activity detail
// page and yields either a complete record or a discard reason, never
// a partial record. `known` carries identity already parsed from the
// feed; when nil the identity stage reads it off the page and applies
// the date filter there instead.
func (c *Client) extractActivity(
	ctx context.Context,
	href string,
	known *ActivityInfo,
	filter *DateFilter,
) (Activity, DiscardReason, error) {
	ctx, span := tracer.Start(ctx, "client:extractActivity")
	defer span.End()
	span.SetAttributes(attribute.String("href", href))

	res, err := c.get(ctx, href)
	if err != nil {
		if isFatal(err) {
			return Activity{}, DiscardNone, err
		}
		slog.InfoContext(ctx, "discarding entry: detail page fetch failed", "href", href, "err", err)
		return Activity{}, DiscardFetchFailed, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		slog.ErrorContext(ctx, "discarding entry: unparseable detail page", "href", href, "err", err)
		return Activity{}, DiscardParseError, nil
	}

	// a page without the title marker is the dashboard we were
	// redirected to, meaning the activity has been deleted
	titleBlock := doc.Find("span.title").First()
	if titleBlock.Length() == 0 {
		slog.InfoContext(ctx, "discarding entry: activity no longer exists", "href", href)
		return Activity{}, DiscardNotFound, nil
	}

	var info ActivityInfo
	if known != nil {
		info = *known
	} else {
		info, err = parseIdentity(doc, titleBlock)
		if err != nil {
			slog.ErrorContext(ctx, "discarding entry: identity block unreadable", "href", href, "err", err)
			return Activity{}, DiscardParseError, nil
		}
		info.Href = href
		if !filter.Matches(info.Date) {
			slog.DebugContext(ctx, "discarding entry: date filter mismatch", "href", href, "date", info.Date)
			return Activity{}, DiscardFilteredOut, nil
		}
	}

	inline, err := parseInlineStats(doc.Find("ul.inline-stats.section").First())
	if err != nil {
		if errors.Is(err, errNotARun) {
			slog.InfoContext(ctx, "discarding entry: not a run", "href", href)
			return Activity{}, DiscardNotARun, nil
		}
		slog.ErrorContext(ctx, "discarding entry: primary metrics unreadable", "href", href, "err", err)
		return Activity{}, DiscardParseError, nil
	}

	elevation, calories, err := parseMoreStats(doc.Find("div.section.more-stats").First())
	if err != nil {
		slog.ErrorContext(ctx, "discarding entry: secondary metrics unreadable", "href", href, "err", err)
		return Activity{}, DiscardParseError, nil
	}

	device, gear := parseDeviceSection(doc.Find("div.section.device-section").First())

	return Activity{
		Info: info,
		Metrics: ActivityMetrics{
			Distance:      inline.distance,
			MovingTime:    inline.movingTime,
			Pace:          inline.pace,
			ElevationGain: elevation,
			Calories:      calories,
			Device:        device,
			Gear:          gear,
		},
	}, DiscardNone, nil
}

// parseIdentity reads athlete, type, title and date off the detail
// page header, for activities reached without a feed stub.
func parseIdentity(doc *goquery.Document, titleBlock *goquery.Selection) (ActivityInfo, error) {
	var info ActivityInfo

	info.Nickname = cleanNickname(htmlutil.CleanText(titleBlock.Find("a").First()))
	if info.Nickname == "" {
		return info, errors.New("no athlete name in title block")
	}

	// the heading reads "<athlete> – <type>"
	heading := htmlutil.CleanText(titleBlock)
	if i := strings.LastIndex(heading, "–"); i != -1 {
		info.Type = strings.TrimSpace(heading[i+len("–"):])
	}

	info.Title = htmlutil.FirstText(doc.Selection, "h1.activity-name")
	if info.Title == "" {
		return info, errors.New("no activity title")
	}

	stamp := doc.Find("div.details-container time").First().AttrOr("datetime", "")
	parsed, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return info, fmt.Errorf("activity date: %w", err)
	}
	local := parsed.Local()
	info.Date = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)

	info.Routable = doc.Find("div.activity-map").Length() > 0
	return info, nil
}

var errNotARun = errors.New("degenerate metrics: not a run activity")

type inlineStats struct {
	distance   float64
	movingTime int
	pace       int
}

// parseInlineStats reads the mandatory distance / moving time / pace
// block. A run cannot exist with any of the three at zero, so
// all-zero values mean a non-run misfiled into the feed.
func parseInlineStats(section *goquery.Selection) (inlineStats, error) {
	var stats inlineStats
	if section.Length() == 0 {
		return stats, errors.New("missing inline stats section")
	}

	var parseErr error
	section.Find("li").Each(func(_ int, item *goquery.Selection) {
		label := strings.TrimSpace(item.Find("div.label").First().Text())
		value := item.Find("strong").First().Text()

		var err error
		switch label {
		case "Distance":
			stats.distance, err = textutil.ParseLeadingFloat(value)
		case "Moving Time", "Elapsed Time":
			stats.movingTime, err = parseClock(value)
		case "Pace":
			stats.pace, err = parsePace(value)
		}
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("%s %q: %w", label, value, err)
		}
	})
	if parseErr != nil {
		return stats, parseErr
	}

	if stats.distance == 0 || stats.movingTime == 0 || stats.pace == 0 {
		return stats, errNotARun
	}
	return stats, nil
}

// parseClock converts "1:18:53" or "18:53" into seconds.
func parseClock(raw string) (int, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("unexpected clock format %q", raw)
	}

	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, err
		}
		total = total*60 + n
	}
	return total, nil
}

// parsePace converts "4:25/km" or "55s/km" into seconds per km.
func parsePace(raw string) (int, error) {
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 1:
		sec, ok := textutil.FirstInt(parts[0])
		if !ok {
			return 0, fmt.Errorf("unexpected pace format %q", raw)
		}
		return sec, nil
	case 2:
		minutes, ok := textutil.FirstInt(parts[0])
		if !ok {
			return 0, fmt.Errorf("unexpected pace format %q", raw)
		}
		// trailing digits may be absent, "7:/km" still means 7 minutes
		sec, _ := textutil.FirstInt(parts[1])
		return minutes*60 + sec, nil
	}
	return 0, fmt.Errorf("unexpected pace format %q", raw)
}

// parseMoreStats reads the optional elevation / calories block. Its
// absence is not an error, both values default to zero.
func parseMoreStats(section *goquery.Selection) (elevation int, calories int, err error) {
	if section.Length() == 0 {
		return 0, 0, nil
	}

	section.Find("div.row").Each(func(_ int, row *goquery.Selection) {
		values := row.Find("div.spans3")
		row.Find("div.spans5").Each(func(i int, desc *goquery.Selection) {
			switch strings.TrimSpace(desc.Text()) {
			case "Elevation":
				// value arrives as "129m\n" or "\n129m\n"
				if n, ok := textutil.FirstInt(values.Eq(i).Text()); ok {
					elevation = n
				}
			case "Calories":
				// "—" means none burned or not recorded, "1,099"
				// carries a thousands separator
				raw := strings.TrimSpace(values.Eq(i).Text())
				if raw == "" || raw == "—" {
					return
				}
				n, perr := textutil.ParseGroupedInt(raw)
				if perr != nil {
					if err == nil {
						err = fmt.Errorf("calories %q: %w", raw, perr)
					}
					return
				}
				calories = n
			}
		})
	})
	return elevation, calories, err
}

// parseDeviceSection reads the optional device / gear block, both
// values default to the "-" sentinel.
func parseDeviceSection(section *goquery.Selection) (string, Gear) {
	device := "-"
	gear := Gear{Name: "-", Mileage: "-"}
	if section.Length() == 0 {
		return device, gear
	}

	if d := section.Find("div.device").First(); d.Length() > 0 {
		device = htmlutil.CleanText(d)
	}

	if g := section.Find("span.gear-name").First(); g.Length() > 0 {
		// arrives as "adidas Pulseboost HD\n(2,441.7 km)"
		raw := strings.TrimSpace(g.Text())
		parts := strings.SplitN(raw, "\n", 2)
		gear.Name = strings.TrimSpace(parts[0])
		if len(parts) == 2 {
			mileage := strings.TrimSpace(parts[1])
			if len(mileage) > 2 {
				gear.Mileage = strings.Trim(mileage, "()")
			}
		}
	}
	return device, gear
}
