package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"

	"github.com/pcviewer/viewerkit/internal/fsx"
)

// handlerFunc returns the success message for the response envelope.
type handlerFunc func(c *gin.Context) (message string, err error)

// handle writes a handler's outcome as {message}, or as {error, details}
// with a status chosen by the error type.
func (s *Server) handle(h handlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		msg, err := h(c)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"message": msg})
			return
		}

		var reqErr *RequestError
		var procErr *ExternalProcessError
		switch {
		case errors.As(err, &reqErr):
			slog.Warn("Rejected request", "url", c.Request.URL.String(), "err", err)
			c.JSON(reqErr.Status, gin.H{"error": http.StatusText(reqErr.Status), "details": reqErr.Msg})
		case errors.As(err, &procErr):
			slog.Error("Error executing conversion script", "err", err,
				"stdout", procErr.Result.Stdout, "stderr", procErr.Result.Stderr)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":    "Error executing conversion script",
				"details":  procErr.Error(),
				"exitCode": procErr.Result.ExitCode,
				"stdout":   procErr.Result.Stdout,
				"stderr":   procErr.Result.Stderr,
			})
		default:
			slog.Error("Server error", "url", c.Request.URL.String(), "err", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error", "details": err.Error()})
		}
	}
}

func bindJSON(c *gin.Context, v interface{}) error {
	raw, ok := c.Get(jsonBodyKey)
	if !ok {
		return badRequestf("expected an %s body", gin.MIMEJSON)
	}
	if err := json.Unmarshal(raw.(json.RawMessage), v); err != nil {
		return badRequestf("invalid body: %v", err)
	}
	return nil
}

// prettyJSON indents data with two spaces, keeping keys and numbers exactly
// as sent.
func prettyJSON(data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		return nil, badRequestf("data is required")
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, badRequestf("invalid data: %v", err)
	}
	return buf.Bytes(), nil
}

func (s *Server) saveShapefileComponent(c *gin.Context) (string, error) {
	filename, treeID := c.GetHeader("X-Filename"), c.GetHeader("X-TreeId")
	if err := checkSegment("X-TreeId", treeID); err != nil {
		return "", err
	}
	if err := checkSegment("X-Filename", filename); err != nil {
		return "", err
	}
	body, ok := c.Get(rawBodyKey)
	if !ok {
		return "", badRequestf("expected an application/octet-stream body")
	}

	path := filepath.Join(s.treeDir(treeID), filename)
	if err := fsx.WriteFileAtomic(path, body.([]byte), 0o644); err != nil {
		return "", err
	}
	slog.Info("Shapefile component saved", "path", path)
	return "Shapefile component saved successfully", nil
}

func (s *Server) saveGeoJSON(c *gin.Context) (string, error) {
	treeID := c.GetHeader("X-TreeId")
	if err := checkSegment("X-TreeId", treeID); err != nil {
		return "", err
	}
	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", &RequestError{Status: http.StatusRequestEntityTooLarge, Msg: err.Error()}
		}
		return "", badRequestf("multipart field %q: %v", "file", err)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", errors.Wrap(err, "error creating upload directory")
	}
	tmp, err := os.CreateTemp(s.uploadDir, "upload-*")
	if err != nil {
		return "", errors.Wrap(err, "error creating upload file")
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)
	if err := c.SaveUploadedFile(header, tmpPath); err != nil {
		return "", errors.Wrap(err, "error storing upload")
	}

	dir := s.treeDir(treeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "error creating directory %q", dir)
	}
	dest := filepath.Join(dir, treeID+"_new_height_measurement.geojson")
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", errors.Wrapf(err, "error moving upload to %q", dest)
	}
	slog.Info("GeoJSON file saved", "path", dest)

	// A client hanging up does not abort a conversion that already started;
	// the converter's own timeout bounds it.
	res, err := s.converter.Convert(context.WithoutCancel(c.Request.Context()), dest)
	if err != nil {
		return "", &ExternalProcessError{Result: res, Err: err}
	}
	slog.Info("Conversion script finished", "path", dest, "stdout", res.Stdout, "stderr", res.Stderr)
	return "GeoJSON file saved and conversion script executed successfully", nil
}

func (s *Server) updateJSON(c *gin.Context) (string, error) {
	var req struct {
		TreeID string          `json:"treeId"`
		Data   json.RawMessage `json:"data"`
	}
	if err := bindJSON(c, &req); err != nil {
		return "", err
	}
	if err := checkSegment("treeId", req.TreeID); err != nil {
		return "", err
	}
	body, err := prettyJSON(req.Data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.treeDir(req.TreeID), req.TreeID+"_measurements.json")
	if err := fsx.WriteFileAtomic(path, body, 0o644); err != nil {
		return "", err
	}
	slog.Info("Measurements updated", "path", path)
	return "File updated successfully", nil
}

func (s *Server) saveShapefile(c *gin.Context) (string, error) {
	var req struct {
		Path string          `json:"path"`
		Data json.RawMessage `json:"data"`
	}
	if err := bindJSON(c, &req); err != nil {
		return "", err
	}
	// Paths are joined onto the root the way a URL path would be, so a
	// leading slash does not make them absolute.
	rel := filepath.FromSlash(strings.TrimLeft(req.Path, "/"))
	if !filepath.IsLocal(rel) || rel == "." {
		return "", badRequestf("path %q is outside the server root", req.Path)
	}
	body, err := prettyJSON(req.Data)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.root, rel)
	if err := fsx.WriteFileAtomic(path, body, 0o644); err != nil {
		return "", err
	}
	slog.Info("Shapefile saved", "path", path)
	return "Shapefile saved successfully", nil
}
