// Package devserver is the local development server for the viewer. Besides
// serving the project directory it lets the viewer persist edited
// measurements and shapefile parts under an output directory, one
// subdirectory per tree. It has no authentication and is meant for local use
// only.
package devserver

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

type Options struct {
	// Root is served as static files and scopes /save-shapefile.
	Root string
	// OutputRoot and UploadDir are relative to Root unless absolute.
	OutputRoot string
	UploadDir  string

	RateLimitInterval time.Duration
	JSONLimit         int64
	BinaryLimit       int64

	Converter Converter
	// Clock drives the rate limiter; nil means time.Now.
	Clock func() time.Time
}

type Server struct {
	root       string
	outputRoot string
	uploadDir  string

	jsonLimit   int64
	binaryLimit int64

	limiter   *RateLimiter
	converter Converter
	handler   http.Handler
}

func New(opts Options) (*Server, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, errors.Wrap(err, "error resolving server root")
	}
	if opts.Converter == nil {
		return nil, errors.New("a converter is required")
	}
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	s := &Server{
		root:        root,
		outputRoot:  resolve(opts.OutputRoot),
		uploadDir:   resolve(opts.UploadDir),
		jsonLimit:   opts.JSONLimit,
		binaryLimit: opts.BinaryLimit,
		limiter:     NewRateLimiter(opts.RateLimitInterval, opts.Clock),
		converter:   opts.Converter,
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logRequest(), parseBody(s.jsonLimit, s.binaryLimit))

	api := r.Group("/", rateLimit(s.limiter))
	api.POST("/save-shapefile-component", s.handle(s.saveShapefileComponent))
	api.POST("/save-geojson", s.handle(s.saveGeoJSON))
	api.POST("/update-json", s.handle(s.updateJSON))
	api.POST("/save-shapefile", s.handle(s.saveShapefile))

	files := http.FileServer(http.Dir(s.root))
	r.NoRoute(func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		files.ServeHTTP(c.Writer, c.Request)
	})
	return r
}

func (s *Server) Handler() http.Handler { return s.handler }

// treeDir is the directory holding every artifact of one tree.
func (s *Server) treeDir(treeID string) string {
	return filepath.Join(s.outputRoot, treeID)
}

// checkSegment rejects values that would not stay a single directory entry.
func checkSegment(field, v string) error {
	if v == "" {
		return badRequestf("%s is required", field)
	}
	if v == "." || v == ".." || strings.ContainsAny(v, `/\`) || strings.ContainsRune(v, 0) {
		return badRequestf("%s %q is not a valid name", field, v)
	}
	return nil
}
