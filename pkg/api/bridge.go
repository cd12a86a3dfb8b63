package api

import "encoding/json"

// Bridge endpoint paths exposed by the update daemon.
const (
	EndpointState    = "/1.0/state"
	EndpointCheck    = "/1.0/check"
	EndpointDownload = "/1.0/download"
	EndpointApply    = "/1.0/apply"
	EndpointInstall  = "/1.0/install"
	EndpointSideload = "/1.0/sideload"
	EndpointLatest   = "/1.0/latest"
	EndpointEvents   = "/1.0/events"
)

// CheckRequest is the body for POST /1.0/check.
type CheckRequest struct {
	// Explicit marks a user-initiated check. Failures of explicit checks
	// surface a message; background checks fail silently.
	Explicit bool `json:"explicit"`
}

// SideloadRequest is the body for POST /1.0/sideload. It names a
// pre-downloaded artifact to stage, bypassing the feed check.
type SideloadRequest struct {
	Path string `json:"path"`
}

// LatestResponse is the metadata for GET /1.0/latest. Latest is nil
// when the feed could not be fetched or parsed, which is ambiguous
// rather than "not latest".
type LatestResponse struct {
	Latest *bool `json:"latest"`
}

// Response is the envelope wrapping every bridge reply.
type Response struct {
	Status     string          `json:"status"`
	StatusCode int             `json:"status_code"`
	Error      string          `json:"error,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}
