package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pcviewer/viewerkit/internal/slogx"
	"github.com/pcviewer/viewerkit/manifest"
	"github.com/pcviewer/viewerkit/tasks"
)

var (
	root         string
	manifestPath string
	port         int
	logLevel     string
	logFormat    string
)

var descriptions = map[string]string{
	tasks.Build:        "Assemble workers, lazy libraries, shaders, pages and static files",
	tasks.Pack:         "Run the bundler over the viewer sources",
	tasks.Workers:      "Concatenate worker bundles and copy their sidecars",
	tasks.LazyLibs:     "Copy on-demand libraries into the build",
	tasks.Shaders:      "Generate the shader registry module",
	tasks.Static:       "Copy stylesheets, html fragments, resources and LICENSE",
	tasks.IconsViewer:  "Generate the icons overview page",
	tasks.ExamplesPage: "Generate the examples index page",
	tasks.Webserver:    "Serve the project and accept edits from the viewer",
	tasks.Watch:        "Build, pack and serve, rebuilding on every change",
	tasks.Test:         "Check that the task runner works",
}

var rootCmd = &cobra.Command{
	Use:           "viewerkit",
	Short:         "Build and development server for the point cloud viewer",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("log-level") || flags.Changed("log-format") {
			return slogx.Configure(logLevel, logFormat, os.Stderr)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&root, "root", ".", "Project root")
	rootCmd.PersistentFlags().StringVar(&manifestPath, "manifest", "", "Build manifest (default: the built-in one)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "Development server port (default: from the manifest)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "text or json")

	p, err := tasks.New(tasks.Options{Root: "."})
	if err != nil {
		panic(err)
	}
	for _, name := range p.Runner().Tasks() {
		name := name
		rootCmd.AddCommand(&cobra.Command{
			Use:    name,
			Short:  descriptions[name],
			Args:   cobra.NoArgs,
			Hidden: tasks.Internal[name],
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTask(cmd.Context(), name)
			},
		})
	}
}

func runTask(ctx context.Context, name string) error {
	m := manifest.Default()
	if manifestPath != "" {
		var err error
		if m, err = manifest.Load(manifestPath); err != nil {
			return err
		}
	}
	opts := tasks.Options{Root: root, Manifest: m}
	if port != 0 {
		opts.Addr = fmt.Sprintf(":%d", port)
	}
	p, err := tasks.New(opts)
	if err != nil {
		return err
	}
	return p.Run(ctx, name)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
