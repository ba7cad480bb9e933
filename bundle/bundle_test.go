package bundle

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

func TestAssembleKeepsDeclaredOrder(t *testing.T) {
	root := t.TempDir()
	files := map[string]string{
		"src/workers/EptZstandardDecoder_preamble.js": "var Module = {};\n",
		"libs/zstd-codec/bundle.js":                   "Module.zstd = function(){};",
		"libs/ept/ParseBuffer.js":                     "function parse(){}\n\n",
		"src/workers/EptZstandardDecoderWorker.js":    "onmessage = function(){ Module.zstd(); parse(); };",
	}
	writeFiles(t, root, files)

	sources := []string{
		"src/workers/EptZstandardDecoder_preamble.js",
		"libs/zstd-codec/bundle.js",
		"libs/ept/ParseBuffer.js",
		"src/workers/EptZstandardDecoderWorker.js",
	}
	outDir := filepath.Join(root, "build", "workers")
	out, err := Assemble(root, WorkerSpec{Name: "EptZstandardDecoderWorker", Sources: sources}, outDir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outDir, "EptZstandardDecoderWorker.js"), out)

	parts := make([]string, len(sources))
	for i, s := range sources {
		parts[i] = files[s]
	}
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, strings.Join(parts, Separator), string(b))
}

func TestAssembleDuplicatesAreKept(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.js": "A"})
	out, err := Assemble(root, WorkerSpec{Name: "W", Sources: []string{"a.js", "a.js"}}, root)
	require.NoError(t, err)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "A\nA", string(b))
}

func TestAssembleMissingInputWritesNothing(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.js": "A"})
	outDir := filepath.Join(root, "out")

	_, err := Assemble(root, WorkerSpec{Name: "W", Sources: []string{"a.js", "missing.js"}}, outDir)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	require.Contains(t, err.Error(), "missing.js")

	_, err = os.Stat(filepath.Join(outDir, "W.js"))
	require.True(t, os.IsNotExist(err))

	t.Run("previous artifact is not truncated", func(t *testing.T) {
		require.NoError(t, os.MkdirAll(outDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(outDir, "W.js"), []byte("old"), 0o644))
		_, err := Assemble(root, WorkerSpec{Name: "W", Sources: []string{"missing.js"}}, outDir)
		require.Error(t, err)
		b, err := os.ReadFile(filepath.Join(outDir, "W.js"))
		require.NoError(t, err)
		require.Equal(t, "old", string(b))
	})
}

func TestAssembleAll(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"a.js":                    "A",
		"b.js":                    "B",
		"libs/copc/laz-perf.wasm": "\x00asm\x01\x00\x00\x00",
	})
	outDir := filepath.Join(root, "build", "potree", "workers")

	require.NoError(t, AssembleAll(root, []WorkerSpec{
		{Name: "One", Sources: []string{"a.js"}},
		{Name: "Two", Sources: []string{"b.js", "a.js"}},
	}, []string{"libs/copc/laz-perf.wasm"}, outDir))

	for name, want := range map[string]string{
		"One.js":        "A",
		"Two.js":        "B\nA",
		"laz-perf.wasm": "\x00asm\x01\x00\x00\x00",
	} {
		b, err := os.ReadFile(filepath.Join(outDir, name))
		require.NoError(t, err)
		require.Equal(t, want, string(b), name)
	}

	err := AssembleAll(root, []WorkerSpec{
		{Name: "One", Sources: []string{"a.js"}},
		{Name: "One", Sources: []string{"b.js"}},
	}, nil, outDir)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
}

func TestCollectStatic(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"src/viewer/potree.css":    "css",
		"src/viewer/sidebar.html":  "<div>",
		"resources/icons/a.svg":    "<svg/>",
		"resources/textures/x.png": "png",
		"LICENSE":                  "BSD",
	})

	n, err := CollectStatic(root, []StaticRule{
		{Dest: "build/potree", Patterns: []string{"src/viewer/potree.css", "src/viewer/sidebar.html"}},
		{Dest: "build/potree/resources", Patterns: []string{"resources/**/*"}},
		{Dest: "build/potree", Patterns: []string{"LICENSE"}},
	})
	require.NoError(t, err)
	require.Equal(t, 5, n)

	for _, p := range []string{
		"build/potree/potree.css",
		"build/potree/sidebar.html",
		"build/potree/resources/icons/a.svg",
		"build/potree/resources/textures/x.png",
		"build/potree/LICENSE",
	} {
		_, err := os.Stat(filepath.Join(root, p))
		require.NoError(t, err, p)
	}

	_, err = CollectStatic(root, []StaticRule{{Dest: "build", Patterns: []string{"NOTICE"}}})
	require.True(t, errors.Is(err, os.ErrNotExist))
}
