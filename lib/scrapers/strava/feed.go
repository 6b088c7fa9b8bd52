package strava

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"stravacrawl/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ClubActivities crawls the recent-activity feed of a club. Feed pages
// are fetched strictly in sequence while every entry's detail page is
// fetched and extracted concurrently; the call returns once pagination
// has terminated and every dispatched extraction has completed.
//
// Entries rejected by the filter never cost a detail fetch. Entries
// whose extraction is discarded (deleted activity, non-run, parse
// failure) are absent from the result, the collection is never
// padded with partial records. Result order is completion order.
//
// A page-level server error ends pagination early but keeps whatever
// the already-dispatched tasks produce. ErrSessionFailed and
// ErrTooManyRequests are fatal and returned after in-flight tasks
// have drained.
func (c *Client) ClubActivities(ctx context.Context, clubID int64, filter *DateFilter) ([]Activity, error) {
	ctx, span := tracer.Start(ctx, "client:ClubActivities")
	defer span.End()
	span.SetAttributes(attribute.Int64("club_id", clubID))

	feedUrl := fmt.Sprintf("/clubs/%d/feed?feed_type=club", clubID)

	tasks := &taskSet{}
	// the min-of-streams cursor has no hard non-skip guarantee when
	// pages overlap, the seen set makes a double-dispatch harmless
	seen := map[string]bool{}

	var pageErr error
	pageUrl := feedUrl
	for {
		page, err := c.fetchFeedPage(ctx, pageUrl)
		if err != nil {
			pageErr = err
			break
		}
		if len(page.singles) == 0 && len(page.groups) == 0 {
			// the last page has been reached
			break
		}

		for _, stub := range page.singles {
			c.dispatchStub(ctx, tasks, seen, stub.info, filter)
		}
		for _, group := range page.groups {
			for _, info := range group.entries {
				c.dispatchStub(ctx, tasks, seen, info, filter)
			}
		}

		pageUrl = fmt.Sprintf("%s&before=%d&cursor=%d.0", feedUrl, page.cursor, page.cursor)
	}

	results, taskErr := tasks.wait()

	if pageErr != nil && isFatal(pageErr) {
		span.SetStatus(codes.Error, pageErr.Error())
		return nil, pageErr
	}
	if taskErr != nil && isFatal(taskErr) {
		span.SetStatus(codes.Error, taskErr.Error())
		return nil, taskErr
	}
	if pageErr != nil {
		// already-dispatched work is still good, only pagination stopped
		slog.ErrorContext(ctx, "pagination aborted", "err", pageErr)
	}

	span.SetAttributes(attribute.Int("records", len(results)))
	return results, nil
}

func (c *Client) dispatchStub(
	ctx context.Context,
	tasks *taskSet,
	seen map[string]bool,
	info ActivityInfo,
	filter *DateFilter,
) {
	if info.Href == "" || seen[info.Href] {
		return
	}
	seen[info.Href] = true

	if !filter.Matches(info.Date) {
		slog.DebugContext(ctx, "filtered out before fetch", "href", info.Href, "date", info.Date)
		return
	}

	tasks.spawn(func() (Activity, DiscardReason, error) {
		return c.extractActivity(ctx, info.Href, &info, filter)
	})
}

type feedPage struct {
	singles []singleStub
	groups  []groupStub
	cursor  int64
}

func (c *Client) fetchFeedPage(ctx context.Context, pageUrl string) (feedPage, error) {
	ctx, span := tracer.Start(ctx, "client:fetchFeedPage")
	defer span.End()

	res, err := c.get(ctx, pageUrl)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch feed page")
		return feedPage{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse feed page html")
		return feedPage{}, err
	}
	return parseFeedPage(ctx, doc)
}

func parseFeedPage(ctx context.Context, doc *goquery.Document) (feedPage, error) {
	var page feedPage

	singleBlocks := doc.Find("div.activity.entity-details.feed-entry")
	groupBlocks := doc.Find("div.feed-entry.group-activity")
	if singleBlocks.Length() == 0 && groupBlocks.Length() == 0 {
		return page, nil
	}

	singleBlocks.Each(func(_ int, block *goquery.Selection) {
		stub, err := parseSingleStub(block)
		if err != nil {
			slog.ErrorContext(ctx, "skipping malformed feed entry", "err", err)
			return
		}
		page.singles = append(page.singles, stub)
	})
	groupBlocks.Each(func(_ int, block *goquery.Selection) {
		stub, err := parseGroupStub(ctx, block)
		if err != nil {
			slog.ErrorContext(ctx, "skipping malformed group entry", "err", err)
			return
		}
		page.groups = append(page.groups, stub)
	})

	// the next page's cursor comes from the trailing entry of each
	// stream; when both streams are present take the smaller value so
	// no entry between overlapping pages is skipped
	singleBefore, serr := trailingCursor(singleBlocks)
	groupBefore, gerr := trailingCursor(groupBlocks)
	switch {
	case serr != nil:
		return page, serr
	case gerr != nil:
		return page, gerr
	case singleBefore > 0 && groupBefore > 0:
		page.cursor = min(singleBefore, groupBefore)
	case singleBefore > 0:
		page.cursor = singleBefore
	default:
		page.cursor = groupBefore
	}

	return page, nil
}

// trailingCursor reads the pagination key off the last entry of a
// stream. Every entry carries one, a missing or mangled key means the
// page markup is not what we expect and pagination cannot safely
// continue.
func trailingCursor(blocks *goquery.Selection) (int64, error) {
	if blocks.Length() == 0 {
		return 0, nil
	}
	raw := blocks.Last().AttrOr("data-updated-at", "")
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unusable pagination cursor %q: %w", raw, err)
	}
	return cursor, nil
}

const feedTimestampLayout = "2006-01-02 15:04:05 MST"

// parseFeedTimestamp converts the feed's UTC timestamp into the local
// calendar date the entry belongs to.
func parseFeedTimestamp(raw string) (time.Time, error) {
	utc, err := time.Parse(feedTimestampLayout, raw)
	if err != nil {
		return time.Time{}, err
	}
	local := utc.Local()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local), nil
}

// feed nicknames come with decorations attached, e.g.
// "\nAlexander Mariev\nSubscriber\n"
var nicknameNoise = regexp.MustCompile(`\n|\bSubscriber\b`)

func cleanNickname(raw string) string {
	return strings.TrimSpace(nicknameNoise.ReplaceAllString(raw, ""))
}

func parseSingleStub(block *goquery.Selection) (singleStub, error) {
	head := block.Find("div.entry-head")

	date, err := parseFeedTimestamp(head.Find("time.timestamp").AttrOr("datetime", ""))
	if err != nil {
		return singleStub{}, fmt.Errorf("entry timestamp: %w", err)
	}

	entryTitle := block.Find("h3.entry-title.activity-title").Find("strong a").First()
	href := entryTitle.AttrOr("href", "")
	if href == "" {
		return singleStub{}, errors.New("entry has no activity link")
	}

	return singleStub{info: ActivityInfo{
		Routable: block.Find("a.entry-image.activity-map").Length() > 0,
		Title:    htmlutil.CleanText(entryTitle),
		Href:     href,
		Nickname: cleanNickname(htmlutil.CleanText(head.Find("a.entry-athlete"))),
		Type:     block.Find("div.entry-type-icon span").AttrOr("title", ""),
		Date:     date,
	}}, nil
}

func parseGroupStub(ctx context.Context, block *goquery.Selection) (groupStub, error) {
	// newer feed markup ships group entries as an embedded json
	// payload, prefer it over walking the fallback markup
	if props := block.AttrOr("data-react-props", ""); props != "" {
		stub, err := parseGroupProps(props)
		if err == nil {
			return stub, nil
		}
		slog.DebugContext(ctx, "group json payload unusable, using markup", "err", err)
	}

	date, err := parseFeedTimestamp(block.Find("time.timestamp").AttrOr("datetime", ""))
	if err != nil {
		return groupStub{}, fmt.Errorf("group timestamp: %w", err)
	}
	routable := block.Find("div.group-map").Length() > 0

	var stub groupStub
	// a group entry cannot exist without member entries
	block.Find("li.feed-entry.entity-details").Each(func(_ int, entry *goquery.Selection) {
		link := entry.Find("a.minimal").First()
		href := link.AttrOr("href", "")
		if href == "" {
			return
		}
		stub.entries = append(stub.entries, ActivityInfo{
			Routable: routable,
			Title:    htmlutil.CleanText(link),
			Href:     href,
			Nickname: cleanNickname(htmlutil.CleanText(entry.Find("a.entry-athlete"))),
			Type:     entry.Find("span.entry-type-icon span").AttrOr("title", ""),
			Date:     date,
		})
	})
	if len(stub.entries) == 0 {
		return groupStub{}, errors.New("group entry has no members")
	}
	return stub, nil
}

type groupProps struct {
	RowData struct {
		Activities []struct {
			AthleteName string `json:"athlete_name"`
			Name        string `json:"name"`
			Type        string `json:"type"`
			StartDate   string `json:"start_date"`
			ActivityUrl string `json:"activity_url"`
			Mappable    bool   `json:"mappable"`
		} `json:"activities"`
	} `json:"rowData"`
}

func parseGroupProps(raw string) (groupStub, error) {
	var props groupProps
	err := json.Unmarshal([]byte(raw), &props)
	if err != nil {
		return groupStub{}, err
	}
	if len(props.RowData.Activities) == 0 {
		return groupStub{}, errors.New("json payload lists no activities")
	}

	var stub groupStub
	for _, entry := range props.RowData.Activities {
		if entry.ActivityUrl == "" {
			continue
		}
		date, err := parseFeedTimestamp(entry.StartDate)
		if err != nil {
			return groupStub{}, fmt.Errorf("activity start date: %w", err)
		}
		stub.entries = append(stub.entries, ActivityInfo{
			Routable: entry.Mappable,
			Title:    entry.Name,
			Href:     entry.ActivityUrl,
			Nickname: entry.AthleteName,
			Type:     entry.Type,
			Date:     date,
		})
	}
	if len(stub.entries) == 0 {
		return groupStub{}, errors.New("json payload lists no usable activities")
	}
	return stub, nil
}
