// Package blob keeps source tarballs and slugs in an S3 compatible object store.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
)

// Store is an object store.
type Store interface {
	// Put uploads size bytes read from body.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error

	// Get downloads the object. The error is ErrNotFound when the object does not exist.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// PresignGet returns an url to download the object without credentials.
	PresignGet(ctx context.Context, key string) (string, error)

	// PresignPut returns an url to upload the object without credentials.
	PresignPut(ctx context.Context, key string) (string, error)

	// URL returns the location of the object, like s3://bucket/key.
	URL(key string) string
}

// SourceKey is where the source tarball of a deployment goes.
func SourceKey(region, appCode, module, deployID string) string {
	return path.Join("app-source", region, fmt.Sprintf("%s-%s", appCode, module), deployID+".tar.gz")
}

// SlugKey is where the slug built by a build process goes.
func SlugKey(region, wlApp, buildProcessID string) string {
	return path.Join("slugs", region, wlApp, buildProcessID+".tar.gz")
}

// PackageKey is where a source package uploaded by users goes.
func PackageKey(region, appCode, module, version string) string {
	return path.Join("app-packages", region, fmt.Sprintf("%s-%s", appCode, module), version+".tar.gz")
}
