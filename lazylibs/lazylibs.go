// Package lazylibs copies libraries the viewer only loads on demand into the
// build, one directory per library name.
package lazylibs

import (
	"context"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/exp/slog"

	"github.com/pcviewer/viewerkit/internal/fsx"
)

type Library struct {
	Name   string
	Source string
}

// Dir is where a library named name ends up below destRoot.
func Dir(destRoot, name string) string {
	return filepath.Join(destRoot, name)
}

// Package copies every library tree (Source relative to root) to
// destRoot/<name>. Libraries are copied concurrently; all failures are
// reported together.
func Package(ctx context.Context, root string, libs []Library, destRoot string) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for _, lib := range libs {
		lib := lib
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := fsx.CopyTree(filepath.Join(root, lib.Source), Dir(destRoot, lib.Name))
			if err != nil {
				return errors.Wrapf(err, "lazy library %q", lib.Name)
			}
			slog.Debug("Packaged lazy library", "lib", lib.Name, "files", n)
			return nil
		})
	}
	return p.Wait()
}
