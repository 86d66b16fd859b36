// Package blob stores uploaded plan evidence and hands back a URL the plan
// field response records.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverS3     Driver = "s3"
	DriverMemory Driver = "memory"
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
	URL          string            `json:"url,omitempty"`
}

// Store is the file-upload collaborator.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	Driver() Driver
}

var (
	ErrNotFound = errors.New("blob not found")
	ErrExists   = errors.New("blob already exists")
)

// Config selects and configures a driver.
type Config struct {
	Driver        string
	PublicBaseURL string
	S3            S3Config
}

// Open constructs the configured store. An empty driver yields memory.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemory(cfg.PublicBaseURL), nil
	case DriverS3:
		if cfg.S3.PublicBaseURL == "" {
			cfg.S3.PublicBaseURL = cfg.PublicBaseURL
		}
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}

// Key builds the object key for a plan field upload. The file name is reduced
// to its base name.
func Key(planID, fieldID, uploadID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "upload"
	}
	return path.Join("plans", planID, fieldID, uploadID, name)
}

func publicURL(base, key string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + key
}
