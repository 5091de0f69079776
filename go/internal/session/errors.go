package session

import "errors"

var (
	ErrInvalidProfile    = errors.New("invalid player profile")
	ErrInvalidDecision   = errors.New("invalid photo decision")
	ErrInvalidStage      = errors.New("action not allowed in current stage")
	ErrNoPendingRecord   = errors.New("no pending record")
	ErrCaptureInProgress = errors.New("photo capture already in progress")
	ErrCaptureFailed     = errors.New("photo capture failed")
)
