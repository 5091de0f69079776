package camera_client

const (
	// API Endpoints
	CaptureEndpoint = "/capture"
	HealthEndpoint  = "/health"

	// Headers
	ContentTypeHeader = "Content-Type"
	JSONContentType   = "application/json"
	TokenHeader       = "X-Camera-Token"
)
