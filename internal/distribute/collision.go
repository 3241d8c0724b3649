package distribute

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-grouper/internal/imageio"
)

// Policy decides what happens when a destination file already exists.
type Policy string

const (
	// CollisionOverwrite replaces the existing file.
	CollisionOverwrite Policy = "overwrite"
	// CollisionFail leaves the existing file and records a failure.
	CollisionFail Policy = "fail"
	// CollisionRename writes to "name (1).ext", "name (2).ext", ...
	CollisionRename Policy = "rename"
)

// ErrCollision is recorded when the destination exists under CollisionFail.
var ErrCollision = errors.New("destination already exists")

// maxRenameAttempts bounds the suffix search for CollisionRename.
const maxRenameAttempts = 10000

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CollisionOverwrite, nil
	case CollisionOverwrite, CollisionFail, CollisionRename:
		return p, nil
	default:
		return "", fmt.Errorf("unknown collision policy %q (supported: overwrite, fail, rename)", s)
	}
}

// resolve returns the path to write to under the executor's policy.
func (e *Executor) resolve(dest string) (string, error) {
	if !exists(dest) {
		return dest, nil
	}

	switch e.policy {
	case CollisionFail:
		return "", fmt.Errorf("%s: %w", dest, ErrCollision)
	case CollisionRename:
		ext := filepath.Ext(dest)
		stem := strings.TrimSuffix(dest, ext)
		for i := 1; i <= maxRenameAttempts; i++ {
			candidate := fmt.Sprintf("%s (%d)%s", stem, i, ext)
			if !exists(candidate) {
				return candidate, nil
			}
		}
		return "", fmt.Errorf("%s: no free name after %d attempts: %w", dest, maxRenameAttempts, ErrCollision)
	default:
		return dest, nil
	}
}

func exists(path string) bool {
	_, err := os.Lstat(imageio.LongPath(path))
	return err == nil
}
