// Package shaders generates the ES module that exposes GPU shader sources to
// the viewer as a map from file name to text.
package shaders

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pcviewer/viewerkit/internal/fsx"
)

// DuplicateError is returned when two shader paths share a basename.
type DuplicateError struct {
	Name  string
	Paths [2]string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("shader name %q used by both %q and %q", e.Name, e.Paths[0], e.Paths[1])
}

type Entry struct {
	Name string
	Path string
	Text string
}

// Registry holds shader texts keyed by basename, in declaration order.
type Registry struct {
	entries []Entry
	index   map[string]int
}

func NewRegistry() *Registry {
	return &Registry{index: map[string]int{}}
}

// Add registers text under the basename of path.
func (r *Registry) Add(path, text string) error {
	name := filepath.Base(path)
	if i, exists := r.index[name]; exists {
		return &DuplicateError{Name: name, Paths: [2]string{r.entries[i].Path, path}}
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, Entry{Name: name, Path: path, Text: text})
	return nil
}

func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Lookup returns the text stored under name.
func (r *Registry) Lookup(name string) (string, bool) {
	i, ok := r.index[name]
	if !ok {
		return "", false
	}
	return r.entries[i].Text, true
}

// Load reads each path (relative to root) into a new registry.
func Load(root string, paths []string) (*Registry, error) {
	r := NewRegistry()
	for _, p := range paths {
		b, err := os.ReadFile(filepath.Join(root, p))
		if err != nil {
			return nil, errors.Wrapf(err, "error reading shader %q", p)
		}
		if err := r.Add(p, string(b)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Encode writes the registry as an ES module:
//
//	let Shaders = {};
//
//	Shaders["pointcloud.vs"] = `...`;
//
//	export {Shaders};
func (r *Registry) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("let Shaders = {};\n\n")
	for _, e := range r.entries {
		key, err := json.Marshal(e.Name)
		if err != nil {
			return errors.Wrapf(err, "error encoding shader name %q", e.Name)
		}
		fmt.Fprintf(bw, "Shaders[%s] = `%s`;\n\n", key, EscapeLiteral(e.Text))
	}
	bw.WriteString("export {Shaders};\n")
	return bw.Flush()
}

// WriteModule encodes the registry to path, replacing any previous module.
func (r *Registry) WriteModule(path string) error {
	var buf bytes.Buffer
	if err := r.Encode(&buf); err != nil {
		return err
	}
	return fsx.WriteFileAtomic(path, buf.Bytes(), 0o644)
}
