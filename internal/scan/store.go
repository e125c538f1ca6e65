// SPDX-License-Identifier: MPL-2.0

package scan

import (
	"context"
	"path/filepath"
)

// ShallowStore scans a flat store where every first-level subdirectory is an
// environment. A subdirectory counts only if it carries a marker and contains
// the executable.
func ShallowStore(ctx context.Context, root string, target Target) []string {
	var found []string
	for _, dir := range readSubdirs(root) {
		if ctx.Err() != nil {
			return found
		}
		if !target.HasMarker(dir) {
			continue
		}
		if bin, ok := target.Binary(dir); ok {
			found = append(found, bin)
		}
	}
	return found
}

// VersionedStore scans a version-manager store: each first-level directory is
// a language install that holds the executable directly, no marker required.
// When nested is non-empty, named environments living under
// <root>/<version>/<nested>/ are scanned too, and those do need a marker.
func VersionedStore(ctx context.Context, root string, target Target, nested string) []string {
	var found []string
	for _, versionDir := range readSubdirs(root) {
		if ctx.Err() != nil {
			return found
		}
		if bin, ok := target.Binary(versionDir); ok {
			found = append(found, bin)
		}
		if nested == "" {
			continue
		}
		found = append(found, ShallowStore(ctx, filepath.Join(versionDir, nested), target)...)
	}
	return found
}
