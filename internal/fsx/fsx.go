// Package fsx holds the file operations shared by the build tasks and the
// development server: atomic writes and verbatim copies.
package fsx

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFileAtomic writes data next to path and renames it into place, so a
// reader sees either the old contents or the new ones. Parent directories are
// created as needed.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "error creating directory %q", dir)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrapf(err, "error creating temp file in %q", dir)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "error writing %q", tmp)
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		return errors.Wrapf(err, "error setting mode on %q", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "error closing %q", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "error renaming %q to %q", tmp, path)
	}
	return nil
}

// CopyFile copies src to dst byte for byte, keeping the source mode.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "error opening %q", src)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return errors.Wrapf(err, "error reading %q", src)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errors.Wrapf(err, "error creating directory for %q", dst)
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errors.Wrapf(err, "error creating %q", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "error copying %q to %q", src, dst)
	}
	return errors.Wrapf(out.Close(), "error closing %q", dst)
}

// CopyTree recursively copies the directory src into dst, preserving the
// relative layout. It returns the number of files copied.
func CopyTree(src, dst string) (n int, err error) {
	info, err := os.Stat(src)
	if err != nil {
		return 0, errors.Wrapf(err, "error reading source directory %q", src)
	}
	if !info.IsDir() {
		return 0, errors.Errorf("%q is not a directory", src)
	}
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return errors.Wrapf(os.MkdirAll(target, 0o755), "error creating %q", target)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		n++
		return CopyFile(path, target)
	})
	return n, err
}
