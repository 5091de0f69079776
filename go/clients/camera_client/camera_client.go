package camera_client

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/lightsout/go/clients"
)

// CaptureRequest asks the sidecar for one still image
type CaptureRequest struct {
	Label string `json:"label,omitempty"`
}

// CaptureResponse carries the reference of the stored image
type CaptureResponse struct {
	Ref string `json:"ref"`
}

// CameraClient talks to the camera sidecar process that owns the webcam
type CameraClient struct {
	*clients.BaseClient
}

func NewCameraClient(baseURL, token string, timeout time.Duration) *CameraClient {
	client := &CameraClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(ContentTypeHeader, JSONContentType)
	if token != "" {
		client.SetHeader(TokenHeader, token)
	}
	if timeout > 0 {
		client.SetTimeout(timeout)
	}

	return client
}

// Capture takes a picture and returns its reference
func (c *CameraClient) Capture(ctx context.Context, req CaptureRequest) (CaptureResponse, error) {
	var resp CaptureResponse
	if err := c.PostJSON(ctx, CaptureEndpoint, req, &resp); err != nil {
		return CaptureResponse{}, fmt.Errorf("camera capture: %w", err)
	}
	if resp.Ref == "" {
		return CaptureResponse{}, fmt.Errorf("camera capture: empty image reference")
	}
	return resp, nil
}

// Health checks that the sidecar is reachable
func (c *CameraClient) Health(ctx context.Context) error {
	if _, err := c.Get(ctx, HealthEndpoint); err != nil {
		return fmt.Errorf("camera health: %w", err)
	}
	return nil
}
