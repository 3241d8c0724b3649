//go:build !windows

package imageio

// LongPath is the identity on platforms without a path length limit.
func LongPath(path string) string {
	return path
}
