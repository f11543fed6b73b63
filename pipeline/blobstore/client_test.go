// Copyright (C) 2025 Cercina AI.
// See LICENSE for copying information.

package blobstore

import (
	"io"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpen_Validation(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)

	_, err := Open(log, Config{})
	require.Error(t, err)

	client, err := Open(log, Config{Endpoint: "s3.eu-central-003.backblazeb2.com", Bucket: "photos"})
	require.NoError(t, err)
	require.Equal(t, 5, client.config.MaxConcurrent)
	require.Equal(t, 3, client.config.RetryLimit)
}

func TestURLPrefix(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)

	tests := []struct {
		endpoint string
		prefix   string
	}{
		{"f003.backblazeb2.com", "https://f003.backblazeb2.com/file/photos/"},
		{"https://f003.backblazeb2.com", "https://f003.backblazeb2.com/file/photos/"},
		{"f003.backblazeb2.com/", "https://f003.backblazeb2.com/file/photos/"},
	}
	for _, tt := range tests {
		client, err := Open(log, Config{Endpoint: tt.endpoint, Bucket: "photos"})
		require.NoError(t, err)
		require.Equal(t, tt.prefix, client.URLPrefix(), "endpoint %q", tt.endpoint)
		require.Equal(t, tt.prefix+"real_estate/a_0.jpg", client.URL("real_estate/a_0.jpg"))
	}
}

func TestFailureClassification(t *testing.T) {
	t.Parallel()

	require.True(t, isTransient(io.ErrUnexpectedEOF), "network errors are retryable")
	require.True(t, isTransient(minio.ErrorResponse{StatusCode: 503}))
	require.True(t, isTransient(minio.ErrorResponse{StatusCode: 429}))
	require.False(t, isTransient(minio.ErrorResponse{StatusCode: 400}))
	require.False(t, isTransient(minio.ErrorResponse{StatusCode: 403}))

	require.True(t, isAuthFailure(minio.ErrorResponse{StatusCode: 401}))
	require.True(t, isAuthFailure(minio.ErrorResponse{StatusCode: 403}))
	require.False(t, isAuthFailure(minio.ErrorResponse{StatusCode: 500}))
}
