package photo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcdev12/lightsout/go/clients/camera_client"
)

// ErrUnavailable is returned when no camera is configured
var ErrUnavailable = errors.New("photo capture unavailable")

// Capture modes
const (
	ModeNone    = "none"
	ModeCommand = "command"
	ModeHTTP    = "http"
)

// Capturer takes one photo and returns a reference to it
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// Config selects and configures the capturer
type Config struct {
	Mode    string        `yaml:"mode"`
	Dir     string        `yaml:"dir"`
	Command []string      `yaml:"command"`
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// New builds the capturer for cfg.Mode
func New(cfg Config) (Capturer, error) {
	switch cfg.Mode {
	case "", ModeNone:
		return Disabled{}, nil
	case ModeCommand:
		if len(cfg.Command) == 0 {
			return nil, fmt.Errorf("photo mode %q needs a command", cfg.Mode)
		}
		return NewCommandCapturer(cfg.Dir, cfg.Command, cfg.Timeout), nil
	case ModeHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("photo mode %q needs a url", cfg.Mode)
		}
		return NewHTTPCapturer(camera_client.NewCameraClient(cfg.URL, cfg.Token, cfg.Timeout)), nil
	default:
		return nil, fmt.Errorf("unknown photo mode %q", cfg.Mode)
	}
}

// Disabled never takes a photo
type Disabled struct{}

func (Disabled) Capture(ctx context.Context) (string, error) {
	return "", ErrUnavailable
}
