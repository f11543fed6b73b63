// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package imagepipe

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/cercinaai/Xtracto-io/pipeline/fetcher"
)

// ImageSource fetches original image bytes. Failures use the fetcher
// error kinds: ErrPageGone for images that will never come back,
// ErrTransient for ones worth retrying.
type ImageSource interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// maxImageSize caps a single download at 20 MiB.
const maxImageSize = 20 << 20

// HTTPSource fetches images over plain HTTP.
type HTTPSource struct {
	client *http.Client
}

// NewHTTPSource returns a source with a bounded request timeout.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{client: &http.Client{Timeout: timeout}}
}

// Get downloads one image. 4xx means the image is gone for good, 5xx
// and network failures are transient.
func (source *HTTPSource) Get(ctx context.Context, url string) (_ []byte, err error) {
	defer mon.Task()(&ctx)(&err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetcher.ErrPageGone.New("bad image url %q: %v", url, err)
	}
	resp, err := source.client.Do(req)
	if err != nil {
		return nil, fetcher.ErrTransient.Wrap(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fetcher.ErrTransient.New("image fetch %q: %s", url, resp.Status)
	default:
		return nil, fetcher.ErrPageGone.New("image fetch %q: %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, fetcher.ErrTransient.Wrap(err)
	}
	return data, nil
}
