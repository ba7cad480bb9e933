package tasks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pcviewer/viewerkit/manifest"
	"github.com/pcviewer/viewerkit/taskgraph"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(b)
}

// newProject lays out a small viewer project and a manifest describing it.
func newProject(t *testing.T) (string, *manifest.Manifest) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"libs/plasio/laz-perf.js":           "var lazPerf = {};",
		"src/workers/LASDecoderWorker.js":   "onmessage = decode;",
		"libs/copc/laz-perf.wasm":           "\x00asm",
		"libs/geopackage/geopackage.min.js": "gp",
		"libs/geopackage/data/srs.json":     "{}",
		"src/materials/shaders/edl.vs":      "void main() {}",
		"src/materials/shaders/edl.fs":      "uniform float `x`;",
		"src/viewer/potree.css":             "body {}",
		"resources/icons/eye.svg":           "<svg/>",
		"examples/viewer.html":              "<title>Viewer</title>",
		"LICENSE":                           "BSD",
	})

	m := &manifest.Manifest{
		BuildRoot: "build",
		Workers: manifest.Workers{
			Dir:      "build/potree/workers",
			Sidecars: []string{"libs/copc/laz-perf.wasm"},
			Bundles: []manifest.Bundle{{
				Name:    "LASLAZWorker",
				Sources: []string{"libs/plasio/laz-perf.js", "src/workers/LASDecoderWorker.js"},
			}},
		},
		LazyLibs: manifest.LazyLibs{
			Dir:  "build/potree/lazylibs",
			Libs: []manifest.LazyLib{{Name: "geopackage", Source: "libs/geopackage"}},
		},
		Shaders: manifest.Shaders{
			Output:  "build/shaders/shaders.js",
			Sources: []string{"src/materials/shaders/edl.vs", "src/materials/shaders/edl.fs"},
		},
		Static: []manifest.StaticRule{
			{Dest: "build/potree", Patterns: []string{"src/viewer/potree.css", "LICENSE"}},
			{Dest: "build/potree/resources", Patterns: []string{"resources/**/*"}},
		},
		Pages: manifest.Pages{IconsDir: "resources/icons", ExamplesDir: "examples"},
		Pack: manifest.Command{
			Command: []string{"bash", "-c", "echo packed >> pack.log"},
			Timeout: 10 * time.Second,
		},
		Watch: manifest.Watch{
			Include: []string{"src/**/*.js", "src/**/*.vs"},
			Exclude: []string{"src/generated/**"},
		},
		Server: manifest.Server{
			OutputRoot:        "outputs",
			UploadDir:         "uploads",
			RateLimitInterval: time.Second,
			JSONLimit:         1024,
			BinaryLimit:       1024,
		},
	}
	return root, m
}

func TestPlans(t *testing.T) {
	p, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{Build, Pack, Workers, LazyLibs, Shaders, Static,
		IconsViewer, ExamplesPage, Webserver, Watch, Test} {
		assert.Contains(t, p.Runner().Tasks(), name)
	}

	plan, err := p.Runner().Plan(Build)
	require.NoError(t, err)
	assert.Equal(t, "series(parallel(workers, lazylibs, shaders, icons_viewer, examples_page), static)", plan)

	plan, err = p.Runner().Plan(Watch)
	require.NoError(t, err)
	assert.Equal(t, "parallel(series(parallel(workers, lazylibs, shaders, icons_viewer, examples_page), static), "+
		"pack, webserver, watch-files)", plan)
}

func TestBuild(t *testing.T) {
	root, m := newProject(t)
	p, err := New(Options{Root: root, Manifest: m})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), Build))

	assert.Equal(t, "var lazPerf = {};\nonmessage = decode;",
		readFile(t, root, "build/potree/workers/LASLAZWorker.js"))
	assert.Equal(t, "\x00asm", readFile(t, root, "build/potree/workers/laz-perf.wasm"))
	assert.Equal(t, "{}", readFile(t, root, "build/potree/lazylibs/geopackage/data/srs.json"))
	assert.Contains(t, readFile(t, root, "build/shaders/shaders.js"), "Shaders[\"edl.fs\"] = `uniform float \\`x\\`;`;")
	assert.Equal(t, "BSD", readFile(t, root, "build/potree/LICENSE"))
	assert.Equal(t, "body {}", readFile(t, root, "build/potree/potree.css"))
	assert.Contains(t, readFile(t, root, "examples/index.html"), "Viewer")

	// The icons page is generated before static files are collected.
	assert.Contains(t, readFile(t, root, "build/potree/resources/icons/index.html"), "eye.svg")
}

func TestBuildMissingSource(t *testing.T) {
	root, m := newProject(t)
	m.Workers.Bundles[0].Sources = append(m.Workers.Bundles[0].Sources, "src/workers/missing.js")
	p, err := New(Options{Root: root, Manifest: m})
	require.NoError(t, err)

	err = p.Run(context.Background(), Build)
	var taskErr *taskgraph.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, Workers, taskErr.Task)

	_, err = os.Stat(filepath.Join(root, "build", "potree", "workers", "LASLAZWorker.js"))
	assert.True(t, os.IsNotExist(err))
	// static never ran.
	_, err = os.Stat(filepath.Join(root, "build", "potree", "LICENSE"))
	assert.True(t, os.IsNotExist(err))
}

func TestPack(t *testing.T) {
	root, m := newProject(t)
	p, err := New(Options{Root: root, Manifest: m})
	require.NoError(t, err)

	require.NoError(t, p.Run(context.Background(), Pack))
	assert.Equal(t, "packed\n", readFile(t, root, "pack.log"))

	m.Pack.Command = []string{"bash", "-c", "echo broken >&2; exit 2"}
	assert.Error(t, p.Run(context.Background(), Pack))

	m.Pack.Command = []string{"bash", "-c", "sleep 10"}
	m.Pack.Timeout = 100 * time.Millisecond
	start := time.Now()
	assert.Error(t, p.Run(context.Background(), Pack))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTestTask(t *testing.T) {
	p, err := New(Options{Root: t.TempDir()})
	require.NoError(t, err)
	assert.NoError(t, p.Run(context.Background(), Test))
}

func TestWatchRebuilds(t *testing.T) {
	root, m := newProject(t)
	p, err := New(Options{Root: root, Manifest: m, Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, Watch) }()

	packs := func() int {
		b, err := os.ReadFile(filepath.Join(root, "pack.log"))
		if err != nil {
			return 0
		}
		return strings.Count(string(b), "packed")
	}
	require.Eventually(t, func() bool { return packs() >= 1 }, 10*time.Second, 20*time.Millisecond)

	src := filepath.Join(root, "src", "workers", "LASDecoderWorker.js")
	deadline := time.Now().Add(10 * time.Second)
	for packs() < 2 && time.Now().Before(deadline) {
		require.NoError(t, os.WriteFile(src, []byte("onmessage = decodeV2;"), 0o644))
		time.Sleep(100 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, packs(), 2)
	assert.Eventually(t, func() bool {
		b, err := os.ReadFile(filepath.Join(root, "build", "potree", "workers", "LASLAZWorker.js"))
		return err == nil && strings.HasSuffix(string(b), "decodeV2;")
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestWatchSurvivesBundlerFailure(t *testing.T) {
	root, m := newProject(t)
	m.Pack.Command = []string{"bash", "-c", "echo packed >> pack.log; exit 2"}
	p, err := New(Options{Root: root, Manifest: m, Addr: "127.0.0.1:0"})
	require.NoError(t, err)

	// Outside watch the same failure is fatal.
	require.Error(t, p.Run(context.Background(), Pack))
	require.NoError(t, os.Remove(filepath.Join(root, "pack.log")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, Watch) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(root, "pack.log"))
		return err == nil
	}, 10*time.Second, 20*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("watch stopped after bundler failure: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("watch did not stop")
	}
}
