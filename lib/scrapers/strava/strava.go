// Package strava crawls the strava.com club activity feed through the
// authenticated website, the way a logged-in browser would: it logs in
// with an email/password form, walks the cursor-paginated feed and
// extracts typed records from each activity's detail page.
package strava

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"stravacrawl/lib/htmlutil"
	"stravacrawl/lib/restyutil"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/strava")

const DefaultBaseUrl = "https://www.strava.com"

// session states, owned exclusively by the client's session machinery
type sessionState int

const (
	stateUnauthenticated sessionState = iota
	stateAuthenticating
	stateAuthenticated
	stateFailed
)

type Client struct {
	baseUrl  *url.URL
	http     *resty.Client
	email    string
	password string

	mu    sync.Mutex
	cond  *sync.Cond
	state sessionState

	loginAttempts    int
	loginRetryDelay  time.Duration
	serverRetryDelay time.Duration
}

type ClientOptions struct {
	// defaults to https://www.strava.com
	BaseUrl  string
	Email    string
	Password string

	// login retry policy, defaults: 3 attempts 15s apart. the delay
	// respects the site's external rate policy, do not lower it
	// outside of tests.
	LoginAttempts   int
	LoginRetryDelay time.Duration
	// delay before the transport guard's single blind retry of a
	// server error, default 2s
	ServerRetryDelay time.Duration

	// when set, every HTTP exchange is dumped through it (debug only)
	DebugOutput restyutil.InstrumentOutput
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	if opts.LoginAttempts == 0 {
		opts.LoginAttempts = 3
	}
	if opts.LoginRetryDelay == 0 {
		opts.LoginRetryDelay = time.Second * 15
	}
	if opts.ServerRetryDelay == 0 {
		opts.ServerRetryDelay = time.Second * 2
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	restyutil.InstrumentClient(client, tracer, opts.DebugOutput)

	c := &Client{
		baseUrl:          baseUrl,
		http:             client,
		email:            opts.Email,
		password:         opts.Password,
		state:            stateUnauthenticated,
		loginAttempts:    opts.LoginAttempts,
		loginRetryDelay:  opts.LoginRetryDelay,
		serverRetryDelay: opts.ServerRetryDelay,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// Login establishes the authenticated session. It is safe to call
// concurrently with any other client method: at most one login
// sequence runs at a time, everyone else blocks until it resolves.
func (c *Client) Login(ctx context.Context) error {
	return c.ensureSession(ctx)
}

// Close releases the session's underlying connections. The client
// must not be used afterwards.
func (c *Client) Close() {
	c.http.GetClient().CloseIdleConnections()
}

// ensureSession is the single gate in front of the login sequence.
// Exactly one caller drives the Authenticating phase, concurrent
// callers wait on the condition variable until it resolves.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	for {
		switch c.state {
		case stateAuthenticated:
			c.mu.Unlock()
			return nil
		case stateFailed:
			c.mu.Unlock()
			return ErrSessionFailed
		case stateAuthenticating:
			c.cond.Wait()
		case stateUnauthenticated:
			c.state = stateAuthenticating
			c.mu.Unlock()

			err := c.runLogin(ctx)

			c.mu.Lock()
			if err != nil {
				c.state = stateFailed
			} else {
				c.state = stateAuthenticated
			}
			c.cond.Broadcast()
			c.mu.Unlock()
			return err
		}
	}
}

// markDisconnected flips an authenticated session back to
// unauthenticated. Only the first caller observing a genuine drop
// performs the transition, later callers find the reconnect already
// underway.
func (c *Client) markDisconnected() {
	c.mu.Lock()
	if c.state == stateAuthenticated {
		c.state = stateUnauthenticated
	}
	c.mu.Unlock()
}

func (c *Client) runLogin(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "client:login")
	defer span.End()

	for attempt := 1; attempt <= c.loginAttempts; attempt++ {
		ok, err := c.authorize(ctx)
		if err == nil && ok {
			slog.InfoContext(ctx, "session established")
			return nil
		}
		if err != nil {
			slog.ErrorContext(
				ctx, "login attempt failed",
				"attempt", attempt, "allowed", c.loginAttempts, "err", err,
			)
		} else {
			slog.ErrorContext(
				ctx, "login attempt rejected",
				"attempt", attempt, "allowed", c.loginAttempts,
			)
		}
		if attempt == c.loginAttempts {
			break
		}

		select {
		case <-ctx.Done():
			span.SetStatus(codes.Error, "login cancelled")
			return fmt.Errorf("%w: %w", ErrSessionFailed, ctx.Err())
		case <-time.After(c.loginRetryDelay):
		}
	}

	span.SetStatus(codes.Error, "login attempts exhausted")
	return ErrSessionFailed
}

// authorize performs one full login sequence: fetch the login page,
// lift the csrf token out of it, post the credentials form and check
// whether the site considers us logged in.
func (c *Client) authorize(ctx context.Context) (bool, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/login")
	if err != nil {
		return false, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return false, err
	}

	token := doc.Find(`meta[name="csrf-token"]`).AttrOr("content", "")
	if token == "" {
		return false, fmt.Errorf("could not find csrf token on login page")
	}

	res, err = c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"authenticity_token": token,
			"email":              c.email,
			"password":           c.password,
		}).
		Post("/session")
	if err != nil {
		return false, err
	}

	return c.checkLoggedIn(ctx, res.Body()), nil
}

// the logged-out marker always sits near the top of the page, there
// is no reason to scan megabytes of feed markup for it
const loggedOutProbeWindow = 500

func (c *Client) checkLoggedIn(ctx context.Context, body []byte) bool {
	probe := body
	if len(probe) > loggedOutProbeWindow {
		probe = probe[:loggedOutProbeWindow]
	}
	if !bytes.Contains(probe, []byte("logged-out")) {
		return true
	}

	// we are logged out, the page may carry an alert explaining why
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err == nil {
		alert := doc.Find("div.alert-message").First()
		if alert.Length() > 0 {
			slog.ErrorContext(ctx, "alert message in a page", "message", htmlutil.CleanText(alert))
		}
	}
	return false
}

// Nickname resolves the display name on an athlete profile page. A
// profile that cannot be fetched or parsed yields an empty string,
// not an error: only session failure and rate limiting are fatal.
func (c *Client) Nickname(ctx context.Context, profileUrl string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:Nickname")
	defer span.End()

	res, err := c.get(ctx, profileUrl)
	if err != nil {
		if isFatal(err) {
			span.SetStatus(codes.Error, err.Error())
			return "", err
		}
		slog.InfoContext(ctx, "profile fetch failed", "url", profileUrl, "err", err)
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.RecordError(err)
		return "", nil
	}

	title := doc.Find("title").First().Text()
	i := strings.Index(title, "| ")
	if i == -1 {
		return "", nil
	}
	return strings.TrimSpace(title[i+2:]), nil
}
