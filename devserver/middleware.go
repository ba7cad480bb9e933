package devserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"golang.org/x/exp/slog"
)

const (
	jsonBodyKey = "viewerkit.jsonBody"
	rawBodyKey  = "viewerkit.rawBody"
)

func logRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request", "method", c.Request.Method, "url", c.Request.URL.String())
		c.Next()
	}
}

// parseBody reads JSON and octet-stream bodies up front, each under its own
// size cap. Multipart uploads are capped like binary bodies but parsed by
// the handler.
func parseBody(jsonLimit, binaryLimit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.ContentType() {
		case gin.MIMEJSON:
			body, ok := readLimited(c, jsonLimit)
			if !ok {
				return
			}
			if len(body) == 0 {
				body = []byte("{}")
			}
			if !json.Valid(body) {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON body"})
				return
			}
			c.Set(jsonBodyKey, json.RawMessage(body))
		case "application/octet-stream":
			body, ok := readLimited(c, binaryLimit)
			if !ok {
				return
			}
			c.Set(rawBodyKey, body)
		case gin.MIMEMultipartPOSTForm:
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, binaryLimit)
		}
		c.Next()
	}
}

func readLimited(c *gin.Context, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, limit))
	if err == nil {
		return body, true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "Request body too large",
			"details": err.Error(),
		})
		return nil, false
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Error reading body", "details": err.Error()})
	return nil, false
}

// rateLimit rejects requests arriving within the limiter's interval. It is
// mounted on the persistence routes only; static files are exempt because
// the viewer page fetches many assets at once.
func rateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow() {
			slog.Debug("Rejected by rate limiter", "url", c.Request.URL.String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please try again later.",
			})
			return
		}
		c.Next()
	}
}
