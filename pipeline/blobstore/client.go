// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

// Package blobstore uploads processed images to the object store. A
// process-wide semaphore caps concurrent uploads and transient failures
// are retried with exponential backoff.
package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/cercinaai/Xtracto-io/internal/sync2"
)

var (
	// Error is the default error class for the blobstore package.
	Error = errs.Class("blobstore")

	// ErrTransient marks uploads that exhausted their retries on
	// retryable failures; callers may try again later.
	ErrTransient = errs.Class("blobstore transient")

	mon = monkit.Package()
)

// Config contains configurable values for the object-store client.
type Config struct {
	Endpoint  string `help:"object store endpoint, host or URL" default:""`
	Bucket    string `help:"bucket processed images are uploaded to" default:""`
	AccessKey string `help:"object store access key" default:""`
	SecretKey string `help:"object store secret key" default:""`

	UseSSL        bool          `help:"connect to the object store over TLS" default:"true"`
	MaxConcurrent int           `help:"maximum concurrent uploads" default:"5"`
	RetryLimit    int           `help:"upload attempts before giving up on transient failures" default:"3"`
	RetryBase     time.Duration `help:"base delay for upload retry backoff" default:"500ms"`
}

// Client is a retry-aware object-store uploader.
//
// architecture: Service
type Client struct {
	log    *zap.Logger
	config Config

	mu sync.Mutex
	mc *minio.Client

	uploads *sync2.Semaphore
}

// Open validates the configuration and prepares an authenticated
// client. Credentials are wired once per process; an auth failure at
// upload time re-dials once with fresh credentials.
func Open(log *zap.Logger, config Config) (*Client, error) {
	if config.Endpoint == "" || config.Bucket == "" {
		return nil, Error.New("endpoint and bucket are required")
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 5
	}
	if config.RetryLimit <= 0 {
		config.RetryLimit = 3
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 500 * time.Millisecond
	}

	client := &Client{
		log:     log,
		config:  config,
		uploads: sync2.NewSemaphore(config.MaxConcurrent),
	}
	mc, err := client.dial()
	if err != nil {
		return nil, err
	}
	client.mc = mc
	return client, nil
}

func (client *Client) dial() (*minio.Client, error) {
	mc, err := minio.New(client.endpointHost(), &minio.Options{
		Creds:  credentials.NewStaticV4(client.config.AccessKey, client.config.SecretKey, ""),
		Secure: client.config.UseSSL,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return mc, nil
}

func (client *Client) endpointHost() string {
	endpoint := client.config.Endpoint
	if u, err := url.Parse(endpoint); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimSuffix(endpoint, "/")
}

// URLPrefix is the public prefix every uploaded object's URL starts
// with. Records whose image slots all start with this prefix need no
// further uploads.
func (client *Client) URLPrefix() string {
	return fmt.Sprintf("https://%s/file/%s/", client.endpointHost(), client.config.Bucket)
}

// URL returns the public URL of an uploaded object.
func (client *Client) URL(objectName string) string {
	return client.URLPrefix() + objectName
}

// Upload stores data under objectName and returns its public URL.
// Transient failures are retried with exponential backoff up to the
// configured limit; permanent failures return immediately. The
// process-wide semaphore blocks when too many uploads are in flight.
func (client *Client) Upload(ctx context.Context, data []byte, objectName, contentType string) (_ string, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(data) == 0 {
		return "", Error.New("refusing to upload empty object %q", objectName)
	}

	if err := client.uploads.Acquire(ctx); err != nil {
		return "", Error.Wrap(err)
	}
	defer client.uploads.Release()

	delay := client.config.RetryBase
	for attempt := 0; attempt < client.config.RetryLimit; attempt++ {
		if attempt > 0 {
			if !sync2.Sleep(ctx, delay) {
				return "", Error.Wrap(ctx.Err())
			}
			delay *= 2
		}

		err = client.putObject(ctx, data, objectName, contentType)
		if err == nil {
			mon.Counter("blobstore_uploads").Inc(1)
			return client.URL(objectName), nil
		}

		if isAuthFailure(err) {
			client.log.Warn("object store auth failure, re-dialing",
				zap.String("object", objectName), zap.Error(err))
			if mc, dialErr := client.dial(); dialErr == nil {
				client.mu.Lock()
				client.mc = mc
				client.mu.Unlock()
				continue
			}
		}
		if !isTransient(err) {
			return "", Error.Wrap(err)
		}
		client.log.Debug("transient upload failure",
			zap.String("object", objectName),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	mon.Counter("blobstore_upload_failures").Inc(1)
	return "", ErrTransient.New("upload of %q failed after %d attempts: %w", objectName, client.config.RetryLimit, err)
}

func (client *Client) putObject(ctx context.Context, data []byte, objectName, contentType string) error {
	client.mu.Lock()
	mc := client.mc
	client.mu.Unlock()

	_, err := mc.PutObject(ctx, client.config.Bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	return err
}

// isTransient reports whether an upload failure is worth retrying:
// network errors and server-side failures are, client mistakes are not.
func isTransient(err error) bool {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		// no HTTP response at all: network-level failure
		return true
	}
	return resp.StatusCode >= 500 || resp.StatusCode == 429
}

func isAuthFailure(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == 401 || resp.StatusCode == 403
}
