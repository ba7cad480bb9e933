// Package bundle assembles worker scripts by concatenating their sources and
// copies the static files the viewer ships with.
package bundle

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/pcviewer/viewerkit/internal/fsx"
)

// Separator is written between consecutive sources.
const Separator = "\n"

// WorkerSpec names a worker and lists its sources. Later sources may rely on
// globals defined by earlier ones, so the order is significant.
type WorkerSpec struct {
	Name    string
	Sources []string
}

// OutputName is the file the worker is written to.
func (s WorkerSpec) OutputName() string { return s.Name + ".js" }

// ConfigError is a problem with the declared inputs rather than with the
// filesystem.
type ConfigError struct {
	Worker string
	Msg    string
}

func (e *ConfigError) Error() string {
	if e.Worker == "" {
		return "bundle: " + e.Msg
	}
	return fmt.Sprintf("bundle %q: %s", e.Worker, e.Msg)
}

// Assemble concatenates spec's sources, resolved against root, into
// outDir/<name>.js. Every source is read before anything is written, so a
// missing source leaves the output untouched.
func Assemble(root string, spec WorkerSpec, outDir string) (string, error) {
	if len(spec.Sources) == 0 {
		return "", &ConfigError{Worker: spec.Name, Msg: "no sources"}
	}
	var buf bytes.Buffer
	for i, src := range spec.Sources {
		b, err := os.ReadFile(filepath.Join(root, src))
		if errors.Is(err, os.ErrNotExist) {
			return "", &ConfigError{Worker: spec.Name, Msg: fmt.Sprintf("missing source %q", src)}
		}
		if err != nil {
			return "", errors.Wrapf(err, "error reading source %q of %q", src, spec.Name)
		}
		if i > 0 {
			buf.WriteString(Separator)
		}
		buf.Write(b)
	}

	out := filepath.Join(outDir, spec.OutputName())
	if err := fsx.WriteFileAtomic(out, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	slog.Debug("Assembled worker", "worker", spec.Name, "sources", len(spec.Sources), "bytes", buf.Len())
	return out, nil
}

// AssembleAll builds every worker and copies the sidecars next to them. The
// workers load sidecars by relative path at runtime.
func AssembleAll(root string, specs []WorkerSpec, sidecars []string, outDir string) error {
	seen := map[string]bool{}
	for _, spec := range specs {
		if seen[spec.Name] {
			return &ConfigError{Worker: spec.Name, Msg: "declared twice"}
		}
		seen[spec.Name] = true
	}
	for _, spec := range specs {
		if _, err := Assemble(root, spec, outDir); err != nil {
			return err
		}
	}
	for _, sidecar := range sidecars {
		dst := filepath.Join(outDir, filepath.Base(sidecar))
		if err := fsx.CopyFile(filepath.Join(root, sidecar), dst); err != nil {
			return errors.Wrap(err, "error copying sidecar")
		}
	}
	return nil
}
