// Package manifest declares what the build produces and how the development
// server behaves. A project may ship its own manifest; anything it leaves out
// falls back to the embedded default.
package manifest

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultManifest []byte

type Manifest struct {
	BuildRoot string       `yaml:"build_root"`
	Workers   Workers      `yaml:"workers"`
	LazyLibs  LazyLibs     `yaml:"lazy_libs"`
	Shaders   Shaders      `yaml:"shaders"`
	Static    []StaticRule `yaml:"static"`
	Pages     Pages        `yaml:"pages"`
	Pack      Command      `yaml:"pack"`
	Watch     Watch        `yaml:"watch"`
	Server    Server       `yaml:"server"`
}

type Workers struct {
	Dir      string   `yaml:"dir"`
	Sidecars []string `yaml:"sidecars"`
	Bundles  []Bundle `yaml:"bundles"`
}

// Bundle is one worker script: Sources are concatenated in exactly this order.
type Bundle struct {
	Name    string   `yaml:"name"`
	Sources []string `yaml:"sources"`
}

type LazyLibs struct {
	Dir  string    `yaml:"dir"`
	Libs []LazyLib `yaml:"libs"`
}

type LazyLib struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

type Shaders struct {
	Output  string   `yaml:"output"`
	Sources []string `yaml:"sources"`
}

// StaticRule copies every file matched by Patterns into Dest, keeping the
// path below each pattern's static prefix.
type StaticRule struct {
	Dest     string   `yaml:"dest"`
	Patterns []string `yaml:"patterns"`
}

type Pages struct {
	IconsDir    string `yaml:"icons_dir"`
	ExamplesDir string `yaml:"examples_dir"`
}

// Command is an argv with a bound on how long it may run.
type Command struct {
	Command []string      `yaml:"command"`
	Timeout time.Duration `yaml:"timeout"`
}

type Watch struct {
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

type Server struct {
	Port              int           `yaml:"port"`
	OutputRoot        string        `yaml:"output_root"`
	UploadDir         string        `yaml:"upload_dir"`
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`
	JSONLimit         int64         `yaml:"json_limit"`
	BinaryLimit       int64         `yaml:"binary_limit"`
	Converter         Command       `yaml:"converter"`
}

// ValidationError lists every problem found in a manifest.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid manifest: " + strings.Join(e.Problems, "; ")
}

// Default returns the embedded manifest.
func Default() *Manifest {
	m := &Manifest{}
	if err := decode(bytes.NewReader(defaultManifest), m); err != nil {
		panic(errors.Wrap(err, "embedded manifest"))
	}
	return m
}

// Load reads the manifest at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Manifest, error) {
	m := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrap(err, "error opening manifest")
		}
		defer f.Close()
		if err := decode(f, m); err != nil {
			return nil, errors.Wrapf(err, "error decoding manifest %q", path)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func decode(r io.Reader, m *Manifest) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(m); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (m *Manifest) Validate() error {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if m.Workers.Dir == "" && (len(m.Workers.Bundles) > 0 || len(m.Workers.Sidecars) > 0) {
		addf("workers.dir is required")
	}
	seen := map[string]bool{}
	for i, b := range m.Workers.Bundles {
		switch {
		case b.Name == "":
			addf("workers.bundles[%d] has no name", i)
		case strings.ContainsAny(b.Name, `/\`):
			addf("worker name %q must not contain path separators", b.Name)
		case seen[b.Name]:
			addf("duplicate worker %q", b.Name)
		}
		seen[b.Name] = true
		if len(b.Sources) == 0 {
			addf("worker %q has no sources", b.Name)
		}
	}

	if m.LazyLibs.Dir == "" && len(m.LazyLibs.Libs) > 0 {
		addf("lazy_libs.dir is required")
	}
	seen = map[string]bool{}
	for _, lib := range m.LazyLibs.Libs {
		if lib.Name == "" || lib.Source == "" {
			addf("lazy library entries need a name and a source")
			continue
		}
		if lib.Name != path.Base(lib.Name) || lib.Name == "." || lib.Name == ".." {
			addf("lazy library name %q must be a single path segment", lib.Name)
		}
		if seen[lib.Name] {
			addf("duplicate lazy library %q", lib.Name)
		}
		seen[lib.Name] = true
	}

	if m.Shaders.Output == "" && len(m.Shaders.Sources) > 0 {
		addf("shaders.output is required")
	}
	for i, rule := range m.Static {
		if rule.Dest == "" || len(rule.Patterns) == 0 {
			addf("static[%d] needs a dest and at least one pattern", i)
		}
	}

	s := m.Server
	if s.Port < 0 || s.Port > 65535 {
		addf("server.port %d out of range", s.Port)
	}
	if s.OutputRoot == "" {
		addf("server.output_root is required")
	}
	if s.UploadDir == "" {
		addf("server.upload_dir is required")
	}
	if s.RateLimitInterval < 0 {
		addf("server.rate_limit_interval must not be negative")
	}
	if s.JSONLimit <= 0 || s.BinaryLimit <= 0 {
		addf("server body limits must be positive")
	}
	if len(s.Converter.Command) == 0 {
		addf("server.converter.command is required")
	}
	if len(m.Pack.Command) == 0 {
		addf("pack.command is required")
	}
	if s.Converter.Timeout <= 0 || m.Pack.Timeout <= 0 {
		addf("command timeouts must be positive")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
