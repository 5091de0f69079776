package photo

import (
	"context"

	"github.com/mcdev12/lightsout/go/clients/camera_client"
	"github.com/rs/zerolog/log"
)

// HTTPCapturer delegates to a camera sidecar
type HTTPCapturer struct {
	client *camera_client.CameraClient
}

func NewHTTPCapturer(client *camera_client.CameraClient) *HTTPCapturer {
	return &HTTPCapturer{client: client}
}

func (c *HTTPCapturer) Capture(ctx context.Context) (string, error) {
	resp, err := c.client.Capture(ctx, camera_client.CaptureRequest{Label: "record"})
	if err != nil {
		return "", err
	}
	log.Info().Str("photo", resp.Ref).Str("camera", c.client.BaseURL()).Msg("photo captured")
	return resp.Ref, nil
}
