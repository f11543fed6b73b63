// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Client talks to the companion browser-automation worker over HTTP.
// The worker drives the actual headless browser; this side only maps
// its responses onto the pipeline's record types and error kinds.
type Client struct {
	log   *zap.Logger
	base  string
	httpc *http.Client
}

// Config contains configurable values for the fetch worker client.
type Config struct {
	Address string        `help:"base URL of the browser-automation worker" default:"http://localhost:9222"`
	Timeout time.Duration `help:"per-request timeout" default:"45s"`
}

// NewClient wires a fetch worker client.
func NewClient(log *zap.Logger, config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 45 * time.Second
	}
	return &Client{
		log:   log,
		base:  strings.TrimSuffix(config.Address, "/"),
		httpc: &http.Client{Timeout: config.Timeout},
	}
}

// ListingPages implements Fetcher.
func (client *Client) ListingPages(ctx context.Context, filters Filters, pageLimit int, fn func(ctx context.Context, page int, ads []RawListing) (stop bool, err error)) error {
	for page := 1; page <= pageLimit; page++ {
		query := url.Values{"page": {strconv.Itoa(page)}}
		if filters.Category != "" {
			query.Set("category", filters.Category)
		}
		if filters.Region != "" {
			query.Set("region", filters.Region)
		}

		var ads []RawListing
		if err := client.get(ctx, "/search?"+query.Encode(), &ads); err != nil {
			return err
		}
		if len(ads) == 0 {
			return nil
		}
		stop, err := fn(ctx, page, ads)
		if err != nil || stop {
			return err
		}
	}
	return nil
}

// ListingDetail implements Fetcher.
func (client *Client) ListingDetail(ctx context.Context, listingURL string) (*ListingDetail, error) {
	var detail ListingDetail
	query := url.Values{"url": {listingURL}}
	if err := client.get(ctx, "/listing?"+query.Encode(), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// AgencyDetail implements Fetcher.
func (client *Client) AgencyDetail(ctx context.Context, agencyURL string) (*AgencyDetail, error) {
	var detail AgencyDetail
	query := url.Values{"url": {agencyURL}}
	if err := client.get(ctx, "/agency?"+query.Encode(), &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// get maps the worker's status codes onto the pipeline error kinds:
// 404/410 page gone, 423 anti-bot block, everything else transient.
func (client *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, client.base+path, nil)
	if err != nil {
		return ErrTransient.Wrap(err)
	}
	resp, err := client.httpc.Do(req)
	if err != nil {
		return ErrTransient.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return ErrPageGone.New("%s", path)
	case http.StatusLocked:
		return ErrBlocked.New("worker reported an anti-bot challenge")
	default:
		return ErrTransient.New("worker returned %s for %s", resp.Status, path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return ErrTransient.New("undecodable worker response: %v", err)
	}
	return nil
}

var _ Fetcher = (*Client)(nil)

// String helps log which worker a client points at.
func (client *Client) String() string {
	return fmt.Sprintf("fetch worker at %s", client.base)
}
