package strava

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

func isFatal(err error) bool {
	return errors.Is(err, ErrSessionFailed) || errors.Is(err, ErrTooManyRequests)
}

// get is the request path every crawl fetch goes through. It maps the
// site's failure modes onto the package error taxonomy:
//
//   - 429 surfaces as ErrTooManyRequests and is never retried here
//   - any other status >= 400 gets exactly one blind retry after a
//     short fixed delay before surfacing as StatusError
//   - a transport-level drop flips the session to unauthenticated at
//     most once per genuine disconnect, drives (or waits out) a single
//     reconnect and re-issues the request exactly once
func (c *Client) get(ctx context.Context, url string) (*resty.Response, error) {
	res, err := c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		slog.InfoContext(ctx, "connection dropped", "url", url, "err", err)

		c.markDisconnected()
		if serr := c.ensureSession(ctx); serr != nil {
			return nil, serr
		}

		res, err = c.http.R().SetContext(ctx).Get(url)
		if err != nil {
			return nil, err
		}
	}

	status := res.StatusCode()
	if status == http.StatusTooManyRequests {
		return nil, ErrTooManyRequests
	}
	if status < 400 {
		return res, nil
	}

	// one blind retry, some of the site's 5xx responses are transient
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.serverRetryDelay):
	}

	res, err = c.http.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, err
	}
	switch status := res.StatusCode(); {
	case status == http.StatusTooManyRequests:
		return nil, ErrTooManyRequests
	case status >= 400:
		return nil, StatusError{Code: status}
	}
	return res, nil
}
