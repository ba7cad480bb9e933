// Package tasks declares the named build targets of a viewer project and how
// they compose.
package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/pcviewer/viewerkit/bundle"
	"github.com/pcviewer/viewerkit/devserver"
	"github.com/pcviewer/viewerkit/internal/execx"
	"github.com/pcviewer/viewerkit/lazylibs"
	"github.com/pcviewer/viewerkit/manifest"
	"github.com/pcviewer/viewerkit/pages"
	"github.com/pcviewer/viewerkit/shaders"
	"github.com/pcviewer/viewerkit/taskgraph"
	"github.com/pcviewer/viewerkit/watcher"
)

const (
	Build        = "build"
	Pack         = "pack"
	Workers      = "workers"
	LazyLibs     = "lazylibs"
	Shaders      = "shaders"
	Static       = "static"
	IconsViewer  = "icons_viewer"
	ExamplesPage = "examples_page"
	Webserver    = "webserver"
	Watch        = "watch"
	Test         = "test"

	// Assets is the parallel half of build.
	Assets = "assets"
	// Rebuild is what the watcher runs on every change.
	Rebuild    = "rebuild"
	WatchFiles = "watch-files"
)

// Internal tasks are only run as part of other tasks.
var Internal = map[string]bool{Assets: true, Rebuild: true, WatchFiles: true}

// processGrace is how long a timed out subprocess gets to exit after SIGINT.
const processGrace = 5 * time.Second

type Options struct {
	Root     string
	Manifest *manifest.Manifest
	// Addr overrides the server port from the manifest.
	Addr string
	// Converter overrides the manifest's conversion command.
	Converter devserver.Converter
}

type Project struct {
	root   string
	m      *manifest.Manifest
	addr   string
	conv   devserver.Converter
	runner *taskgraph.Runner
}

// New declares every task for the project and compiles them.
func New(opts Options) (*Project, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(err, "error resolving project root")
	}
	m := opts.Manifest
	if m == nil {
		m = manifest.Default()
	}
	p := &Project{root: root, m: m, addr: opts.Addr, conv: opts.Converter}
	if p.addr == "" {
		p.addr = fmt.Sprintf(":%d", m.Server.Port)
	}
	if p.conv == nil {
		p.conv = devserver.CommandConverter{
			Command: m.Server.Converter.Command,
			Dir:     root,
			Timeout: m.Server.Converter.Timeout,
		}
	}

	g := taskgraph.New()
	p.register(g)
	if p.runner, err = g.Compile(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Project) register(g *taskgraph.Graph) {
	g.MustRegister(Workers, taskgraph.Leaf(), p.workers)
	g.MustRegister(LazyLibs, taskgraph.Leaf(), p.lazyLibs)
	g.MustRegister(Shaders, taskgraph.Leaf(), p.shaders)
	g.MustRegister(IconsViewer, taskgraph.Leaf(), p.iconsViewer)
	g.MustRegister(ExamplesPage, taskgraph.Leaf(), p.examplesPage)
	g.MustRegister(Static, taskgraph.Leaf(), p.static)
	g.MustRegister(Pack, taskgraph.Leaf(), p.pack)
	g.MustRegister(Webserver, taskgraph.Leaf(), p.webserver)
	g.MustRegister(WatchFiles, taskgraph.Leaf(), p.watchFiles)
	g.MustRegister(Test, taskgraph.Leaf(), func(context.Context) error {
		slog.Info("Test task executed")
		return nil
	})

	g.MustRegister(Assets, taskgraph.Parallel(Workers, LazyLibs, Shaders, IconsViewer, ExamplesPage), nil)
	g.MustRegister(Build, taskgraph.Series(Assets, Static), nil)
	g.MustRegister(Rebuild, taskgraph.Series(Build, Pack), nil)
	g.MustRegister(Watch, taskgraph.Parallel(Build, Pack, Webserver, WatchFiles), nil)
}

// Runner exposes the compiled tasks.
func (p *Project) Runner() *taskgraph.Runner { return p.runner }

type watchingKey struct{}

// Run executes the named task. Under watch a failing bundler run is logged
// and the session keeps going.
func (p *Project) Run(ctx context.Context, name string) error {
	if name == Watch {
		ctx = context.WithValue(ctx, watchingKey{}, true)
	}
	return p.runner.Run(ctx, name)
}

func (p *Project) path(rel string) string {
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

func (p *Project) workers(ctx context.Context) error {
	specs := make([]bundle.WorkerSpec, 0, len(p.m.Workers.Bundles))
	for _, b := range p.m.Workers.Bundles {
		specs = append(specs, bundle.WorkerSpec{Name: b.Name, Sources: b.Sources})
	}
	return bundle.AssembleAll(p.root, specs, p.m.Workers.Sidecars, p.path(p.m.Workers.Dir))
}

func (p *Project) lazyLibs(ctx context.Context) error {
	libs := make([]lazylibs.Library, 0, len(p.m.LazyLibs.Libs))
	for _, l := range p.m.LazyLibs.Libs {
		libs = append(libs, lazylibs.Library{Name: l.Name, Source: l.Source})
	}
	return lazylibs.Package(ctx, p.root, libs, p.path(p.m.LazyLibs.Dir))
}

func (p *Project) shaders(ctx context.Context) error {
	r, err := shaders.Load(p.root, p.m.Shaders.Sources)
	if err != nil {
		return err
	}
	return r.WriteModule(p.path(p.m.Shaders.Output))
}

func (p *Project) iconsViewer(ctx context.Context) error {
	n, err := pages.WriteIconsPage(p.root, p.m.Pages.IconsDir)
	if err != nil {
		return err
	}
	slog.Debug("Wrote icons page", "icons", n)
	return nil
}

func (p *Project) examplesPage(ctx context.Context) error {
	n, err := pages.WriteExamplesPage(p.root, p.m.Pages.ExamplesDir)
	if err != nil {
		return err
	}
	slog.Debug("Wrote examples page", "examples", n)
	return nil
}

func (p *Project) static(ctx context.Context) error {
	rules := make([]bundle.StaticRule, 0, len(p.m.Static))
	for _, r := range p.m.Static {
		rules = append(rules, bundle.StaticRule{Dest: r.Dest, Patterns: r.Patterns})
	}
	n, err := bundle.CollectStatic(p.root, rules)
	if err != nil {
		return err
	}
	slog.Debug("Copied static files", "files", n)
	return nil
}

// pack hands the assembled sources to the external bundler.
func (p *Project) pack(ctx context.Context) error {
	argv := p.m.Pack.Command
	if len(argv) == 0 {
		return errors.New("no bundler command configured")
	}
	parent := ctx
	if p.m.Pack.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.m.Pack.Timeout)
		defer cancel()
	}
	cmd := execx.Command(argv[0], argv[1:]...)
	cmd.Dir = p.root
	res, err := cmd.Capture(ctx, processGrace)
	slog.Info("Bundler output", "stdout", res.Stdout, "stderr", res.Stderr)
	if err == nil {
		return nil
	}
	err = errors.Wrapf(err, "%v exited with code %d", argv, res.ExitCode)
	if watching, _ := ctx.Value(watchingKey{}).(bool); watching && parent.Err() == nil {
		slog.Error("Bundler failed", "err", err)
		return nil
	}
	return err
}

func (p *Project) webserver(ctx context.Context) error {
	s, err := devserver.New(devserver.Options{
		Root:              p.root,
		OutputRoot:        p.m.Server.OutputRoot,
		UploadDir:         p.m.Server.UploadDir,
		RateLimitInterval: p.m.Server.RateLimitInterval,
		JSONLimit:         p.m.Server.JSONLimit,
		BinaryLimit:       p.m.Server.BinaryLimit,
		Converter:         p.conv,
	})
	if err != nil {
		return err
	}
	return s.ListenAndServe(ctx, p.addr)
}

// watchFiles reruns the build and bundler whenever a watched file changes.
// A change that arrives while a rebuild is still going is dropped.
func (p *Project) watchFiles(ctx context.Context) error {
	w, err := watcher.New(p.root, p.m.Watch.Include, p.m.Watch.Exclude)
	if err != nil {
		return err
	}
	return w.Run(ctx, func(ctx context.Context, path string) {
		slog.Info("File changed", "path", path)
		err := p.runner.Run(ctx, Rebuild)
		switch {
		case errors.Is(err, taskgraph.ErrTaskInFlight):
			slog.Info("Rebuild already running", "path", path)
		case err != nil && ctx.Err() == nil:
			slog.Error("Rebuild failed", "err", err)
		}
	})
}
