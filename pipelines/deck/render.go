package deck

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"papercast/common"
)

// Renderer turns a deck document into a frame image sequence.
type Renderer interface {
	Render(ctx context.Context, deckPath, outDir string) ([]string, error)
}

// MarpRenderer renders via marp-cli. The output template deck.png makes marp
// emit deck.001.png, deck.002.png, ... which sort in presentation order.
type MarpRenderer struct {
	// Command is the renderer invocation prefix, e.g. ["npx", "marp"].
	Command []string
	Timeout time.Duration
	Logger  *logrus.Logger
}

func NewMarpRenderer(command []string, timeout time.Duration, logger *logrus.Logger) *MarpRenderer {
	if len(command) == 0 {
		command = []string{"npx", "marp"}
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &MarpRenderer{Command: command, Timeout: timeout, Logger: logger}
}

// Render invokes marp and returns the produced frame paths in sorted order.
// Tool output is captured and attached to any error so renderer failures are
// debuggable from logs alone.
func (r *MarpRenderer) Render(ctx context.Context, deckPath, outDir string) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, &StageError{Stage: StageRender, Op: "create frames directory", Wrapped: err}
	}

	args := append(append([]string{}, r.Command[1:]...),
		deckPath,
		"--images", "png",
		"--image-scale", "2",
		"--allow-local-files",
		"--output", filepath.Join(outDir, common.FrameBaseName),
	)

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.Command[0], args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &StageError{
			Stage:   StageRender,
			Op:      fmt.Sprintf("%s %s", r.Command[0], deckPath),
			Output:  string(output),
			Wrapped: err,
		}
	}

	frames, err := filepath.Glob(filepath.Join(outDir, common.FrameGlob))
	if err != nil {
		return nil, &StageError{Stage: StageRender, Op: "glob frames", Wrapped: err}
	}
	if len(frames) == 0 {
		return nil, &StageError{
			Stage:   StageRender,
			Op:      "verify frame output",
			Output:  string(output),
			Wrapped: fmt.Errorf("renderer produced no frames in %s", outDir),
		}
	}
	sort.Strings(frames)

	if r.Logger != nil {
		r.Logger.WithField("frames", len(frames)).Info("deck rendered")
	}
	return frames, nil
}
