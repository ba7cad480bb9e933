package devserver

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/pcviewer/viewerkit/internal/execx"
)

// Converter turns a saved geojson file into the formats the viewer loads.
type Converter interface {
	Convert(ctx context.Context, geojsonPath string) (execx.Result, error)
}

// CommandConverter runs Command with the geojson path appended as the only
// extra argument.
type CommandConverter struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

var _ Converter = CommandConverter{}

func (cc CommandConverter) Convert(ctx context.Context, geojsonPath string) (execx.Result, error) {
	if len(cc.Command) == 0 {
		return execx.Result{ExitCode: -1}, errors.New("no conversion command configured")
	}
	if cc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.Timeout)
		defer cancel()
	}
	args := append(append([]string(nil), cc.Command[1:]...), geojsonPath)
	cmd := execx.Command(cc.Command[0], args...)
	cmd.Dir = cc.Dir
	return cmd.Capture(ctx, 5*time.Second)
}
