// Package archive uploads finished output files to a directory or an
// S3-compatible object store.
package archive

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"gridsim/internal/config"
)

// Upload kinds understood by FromConfig.
const (
	KindDir = "dir"
	KindS3  = "s3"
)

// Uploader stores a local file under a destination-specific name and
// returns where it ended up.
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// FromConfig builds the uploader described by an upload node:
//
//	upload: {kind: dir, path: /archive/runs, key_prefix: forest/}
//	upload: {kind: s3, bucket: runs, key_prefix: forest/, region: eu-north-1,
//	         endpoint: http://localhost:9000, path_style: true}
//
// An absent node or `enabled: false` yields a nil Uploader.
func FromConfig(ctx context.Context, n config.Node) (Uploader, error) {
	if n.IsZero() {
		return nil, nil
	}
	enabled, err := config.GetOr(n, "enabled", true)
	if err != nil || !enabled {
		return nil, err
	}
	kind, err := config.Get[string](n, "kind")
	if err != nil {
		return nil, err
	}
	prefix, err := config.GetOr(n, "key_prefix", "")
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindDir:
		dir, err := config.Get[string](n, "path")
		if err != nil {
			return nil, err
		}
		return &Dir{Root: dir, Prefix: prefix}, nil
	case KindS3:
		var c S3Config
		if err := n.Decode(&c); err != nil {
			return nil, err
		}
		if c.Bucket == "" {
			return nil, fmt.Errorf("%w: Missing upload parameter '%s.bucket'!", config.ErrMissing, n.Path())
		}
		return NewS3(ctx, c)
	default:
		return nil, fmt.Errorf("%w '%s.kind': unknown upload kind %q (valid: dir, s3)", config.ErrInvalid, n.Path(), kind)
	}
}

// objectKey joins prefix and the base name of localPath with slashes.
func objectKey(prefix, localPath string) string {
	base := filepath.Base(localPath)
	if prefix == "" {
		return base
	}
	return path.Join(prefix, base)
}
