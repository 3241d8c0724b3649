// Package distribute carries out a plan: single-cluster images are moved into their
// cluster folder, multi-cluster images are copied into each of theirs.
package distribute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-grouper/internal/constants"
	"github.com/kozaktomas/face-grouper/internal/exclude"
	"github.com/kozaktomas/face-grouper/internal/imageio"
	"github.com/kozaktomas/face-grouper/internal/plan"
)

// Failure is a single file operation that did not complete.
type Failure struct {
	Path string
	Dest string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s -> %s: %v", f.Path, f.Dest, f.Err)
}

// Result summarizes a distribution run. Counters only include verified operations.
type Result struct {
	Moved    int
	Copied   int
	Failures []Failure
	Pruned   []string // emptied source directories that were removed
}

// Executor applies plans to the filesystem.
type Executor struct {
	exclusions *exclude.Matcher
	policy     Policy
	logger     *zap.Logger
}

// New creates an executor. Entries matching exclusions are never touched.
func New(exclusions *exclude.Matcher, policy Policy, logger *zap.Logger) *Executor {
	if policy == "" {
		policy = CollisionOverwrite
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{exclusions: exclusions, policy: policy, logger: logger}
}

// FolderName returns the output folder for a dense cluster id.
func FolderName(id int) string {
	return fmt.Sprintf("%s%02d", constants.ClusterDirPrefix, id)
}

// Remap numbers the clusters referenced by entries 0..K-1 in ascending order, so
// folders stay dense even if the plan was filtered after it was built.
func Remap(entries []plan.Entry) map[int]int {
	var used []int
	seen := make(map[int]bool)
	for _, e := range entries {
		for _, id := range e.Clusters {
			if !seen[id] {
				seen[id] = true
				used = append(used, id)
			}
		}
	}
	slices.Sort(used)

	mapping := make(map[int]int, len(used))
	for i, id := range used {
		mapping[id] = i
	}
	return mapping
}

// Execute consumes p and distributes its images under baseDir. A per-file failure
// is recorded in the result and the run continues; cancellation stops it between
// entries and returns the partial result together with the context error.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, baseDir string) (*Result, error) {
	if err := p.Consume(); err != nil {
		return nil, err
	}

	entries := p.Entries()
	mapping := Remap(entries)
	result := &Result{}
	emptied := make(map[string]bool)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.Pruned = e.prune(emptied, baseDir)
			return result, err
		}

		src := entry.Path
		if e.exclusions.MatchUnder(p.Root(), src) {
			e.logger.Debug("skipping excluded entry", zap.String("path", src))
			continue
		}
		if _, err := os.Stat(imageio.LongPath(src)); err != nil {
			e.logger.Debug("skipping missing source", zap.String("path", src), zap.Error(err))
			continue
		}

		if entry.Single() {
			dest := filepath.Join(baseDir, FolderName(mapping[entry.Clusters[0]]), filepath.Base(src))
			if err := e.move(src, dest); err != nil {
				result.fail(e.logger, "move failed", src, dest, err)
				continue
			}
			result.Moved++
			emptied[filepath.Dir(src)] = true
			continue
		}

		for _, id := range entry.Clusters {
			dest := filepath.Join(baseDir, FolderName(mapping[id]), filepath.Base(src))
			if err := e.copy(src, dest); err != nil {
				result.fail(e.logger, "copy failed", src, dest, err)
				continue
			}
			result.Copied++
		}
	}

	result.Pruned = e.prune(emptied, baseDir)
	e.logger.Info("distribution finished",
		zap.Int("moved", result.Moved),
		zap.Int("copied", result.Copied),
		zap.Int("failures", len(result.Failures)),
		zap.Int("pruned", len(result.Pruned)))
	return result, nil
}

func (r *Result) fail(logger *zap.Logger, msg, src, dest string, err error) {
	logger.Warn(msg, zap.String("path", src), zap.String("dest", dest), zap.Error(err))
	r.Failures = append(r.Failures, Failure{Path: src, Dest: dest, Err: err})
}

func (e *Executor) move(src, dest string) error {
	if err := os.MkdirAll(imageio.LongPath(filepath.Dir(dest)), 0o755); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	if samePath(src, dest) {
		return nil
	}
	dest, err := e.resolve(dest)
	if err != nil {
		return err
	}
	return moveFile(src, dest)
}

func (e *Executor) copy(src, dest string) error {
	if err := os.MkdirAll(imageio.LongPath(filepath.Dir(dest)), 0o755); err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	if samePath(src, dest) {
		return nil
	}
	dest, err := e.resolve(dest)
	if err != nil {
		return err
	}
	return copyFile(src, dest)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// prune removes emptied source directories deepest first so a parent is checked only
// after its children. baseDir and its ancestors are never removed. Failures are ignored.
func (e *Executor) prune(candidates map[string]bool, baseDir string) []string {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		base = filepath.Clean(baseDir)
	}

	dirs := make([]string, 0, len(candidates))
	for dir := range candidates {
		dirs = append(dirs, dir)
	}
	slices.SortFunc(dirs, func(a, b string) int {
		if da, db := depth(a), depth(b); da != db {
			return db - da
		}
		return strings.Compare(a, b)
	})

	var pruned []string
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil || abs == base || isAncestor(abs, base) {
			continue
		}
		entries, err := os.ReadDir(imageio.LongPath(dir))
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(imageio.LongPath(dir)); err != nil {
			e.logger.Debug("could not remove directory", zap.String("path", dir), zap.Error(err))
			continue
		}
		pruned = append(pruned, dir)
	}
	return pruned
}

func depth(path string) int {
	return strings.Count(filepath.Clean(path), string(filepath.Separator))
}

// isAncestor reports whether dir contains path.
func isAncestor(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Counts is the (moved, copied) pair returned by simple callers.
func (r *Result) Counts() (moved, copied int) {
	return r.Moved, r.Copied
}

// Err joins all failures into one error, nil when every operation succeeded.
func (r *Result) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}
