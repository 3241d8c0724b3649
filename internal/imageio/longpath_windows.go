//go:build windows

package imageio

import (
	"path/filepath"
	"strings"
)

const longPathPrefix = `\\?\`

// LongPath returns an extended-length path so files deeper than MAX_PATH stay reachable.
func LongPath(path string) string {
	if strings.HasPrefix(path, longPathPrefix) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if strings.HasPrefix(abs, `\\`) {
		// UNC share: \\server\share -> \\?\UNC\server\share
		return longPathPrefix + `UNC\` + strings.TrimPrefix(abs, `\\`)
	}
	return longPathPrefix + abs
}
