package photo

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// OutputPlaceholder is replaced in the command arguments by the target image path
const OutputPlaceholder = "{output}"

// CommandCapturer runs a camera tool (fswebcam, libcamera-still, ...) that
// writes a JPEG to the path substituted for OutputPlaceholder.
type CommandCapturer struct {
	dir     string
	command []string
	timeout time.Duration
}

func NewCommandCapturer(dir string, command []string, timeout time.Duration) *CommandCapturer {
	if dir == "" {
		dir = "images"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CommandCapturer{dir: dir, command: command, timeout: timeout}
}

// Capture returns the image file name relative to the images dir
func (c *CommandCapturer) Capture(ctx context.Context) (string, error) {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create images dir: %w", err)
	}

	name := uuid.New().String() + ".jpg"
	output := filepath.Join(c.dir, name)

	args := make([]string, len(c.command))
	for i, arg := range c.command {
		args[i] = strings.ReplaceAll(arg, OutputPlaceholder, output)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		_ = os.Remove(output)
		return "", fmt.Errorf("camera command %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(output)
		return "", fmt.Errorf("camera command %s produced no image", args[0])
	}

	log.Info().
		Str("photo", name).
		Int64("bytes", info.Size()).
		Dur("took", time.Since(start)).
		Msg("photo captured")
	return name, nil
}
