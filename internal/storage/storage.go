// Package storage holds the configuration/event store consumed by the
// watchers and the object store used for annotated previews.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when a camera or event does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidProcessor marks a stored processor row that cannot be decoded.
var ErrInvalidProcessor = errors.New("invalid processor config")

// ConfigStore is the read side the watcher reloads every iteration.
// ListEnabledProcessors may return the decodable configs together with an
// error wrapping ErrInvalidProcessor for the rows it skipped.
type ConfigStore interface {
	GetCamera(ctx context.Context, id int64) (*Camera, error)
	ListEnabledProcessors(ctx context.Context, cameraID int64) ([]ProcessorConfig, error)
}

// EventSink is the append-only write side used by processors.
type EventSink interface {
	AppendEvent(ctx context.Context, processorID int64, ts time.Time, value float64) error
}

// ObjectStore defines the subset of object storage the previews need
type ObjectStore interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, opts ...PutOption) error
	HealthCheck(ctx context.Context) error
}

// PutOption configures Put operations
type PutOption interface {
	applyPut(*putOptions)
}

type putOptions struct {
	ContentType  string
	Metadata     map[string]string
	CacheControl string
}

type contentTypeOption string

func (o contentTypeOption) applyPut(opts *putOptions) { opts.ContentType = string(o) }

type metadataOption map[string]string

func (o metadataOption) applyPut(opts *putOptions) { opts.Metadata = o }

type cacheControlOption string

func (o cacheControlOption) applyPut(opts *putOptions) { opts.CacheControl = string(o) }

func WithContentType(contentType string) PutOption { return contentTypeOption(contentType) }

func WithMetadata(metadata map[string]string) PutOption { return metadataOption(metadata) }

func WithCacheControl(cacheControl string) PutOption { return cacheControlOption(cacheControl) }

// StorageError represents a storage operation error
type StorageError struct {
	Op         string
	Key        string
	Err        error
	StatusCode int
	Retryable  bool
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsNotExist returns true if the error indicates the record or object doesn't exist
func IsNotExist(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var serr *StorageError
	if errors.As(err, &serr) {
		return serr.StatusCode == 404
	}
	return false
}
