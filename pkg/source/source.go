// Package source resolves analysis inputs. Payloads come from the local
// filesystem or from S3 compatible object stores; either way the
// pipeline receives the raw bytes and a display name.
package source

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
)

var LogLevel = &slog.LevelVar{}

var logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: LogLevel,
}))

// S3Scheme prefixes remote object locations, s3://bucket/key.
const S3Scheme = "s3://"

// ErrTooLarge rejects payloads above the configured size limit before
// they are loaded into memory.
var ErrTooLarge = errors.New("file exceeds the configured size limit")

type Fetcher interface {
	Fetch(ctx context.Context, location string) (data []byte, name string, err error)
}

// IsS3 reports whether the location names a remote object.
func IsS3(location string) bool {
	return strings.HasPrefix(location, S3Scheme)
}
