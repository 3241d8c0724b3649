package distribute

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kozaktomas/face-grouper/internal/imageio"
)

// moveFile renames src to dest, copying and removing the source when they are on
// different devices. It returns nil only once dest is in place and src is gone.
func moveFile(src, dest string) error {
	err := os.Rename(imageio.LongPath(src), imageio.LongPath(dest))
	if err != nil {
		if !errors.Is(err, syscall.EXDEV) {
			return fmt.Errorf("renaming: %w", err)
		}
		if err := copyFile(src, dest); err != nil {
			return err
		}
		if err := os.Remove(imageio.LongPath(src)); err != nil {
			return fmt.Errorf("removing source after copy: %w", err)
		}
	}

	if _, err := os.Stat(imageio.LongPath(dest)); err != nil {
		return fmt.Errorf("verifying destination: %w", err)
	}
	if _, err := os.Stat(imageio.LongPath(src)); !errors.Is(err, os.ErrNotExist) {
		return errors.New("source still present after move")
	}
	return nil
}

// copyFile copies src to dest keeping the permission bits and modification time.
// Data is written to a temporary file in the destination folder and renamed into
// place, so an interrupted copy never leaves a truncated dest.
func copyFile(src, dest string) (err error) {
	in, err := os.Open(imageio.LongPath(src))
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("reading source info: %w", err)
	}

	tmp, err := os.CreateTemp(imageio.LongPath(filepath.Dir(dest)), ".face-grouper-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing copy: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing copy: %w", err)
	}
	if err = os.Chmod(tmp.Name(), info.Mode().Perm()); err != nil {
		return fmt.Errorf("setting mode: %w", err)
	}
	if err = os.Chtimes(tmp.Name(), info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("setting times: %w", err)
	}
	if err = os.Rename(tmp.Name(), imageio.LongPath(dest)); err != nil {
		return fmt.Errorf("placing copy: %w", err)
	}

	written, err := os.Stat(imageio.LongPath(dest))
	if err != nil {
		return fmt.Errorf("verifying destination: %w", err)
	}
	if written.Size() != info.Size() {
		return fmt.Errorf("verifying destination: wrote %d of %d bytes", written.Size(), info.Size())
	}
	return nil
}
