package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no object exists at bucket/key.
var ErrNotFound = errors.New("object not found")

// Storage is a content store addressed by bucket and key.
type Storage interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

const uriScheme = "blob://"

// URI formats a bucket/key pair as a location string that can travel through
// job payloads and execution context.
func URI(bucket, key string) string {
	return uriScheme + bucket + "/" + key
}

// ParseURI splits a location produced by URI. The s3:// scheme is accepted
// too so externally produced locations can be passed through unchanged.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, uriScheme)
	if !ok {
		rest, ok = strings.CutPrefix(uri, "s3://")
	}
	if !ok {
		return "", "", fmt.Errorf("unsupported location %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("location %q must be scheme://bucket/key", uri)
	}
	return bucket, key, nil
}
