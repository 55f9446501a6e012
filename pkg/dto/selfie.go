package dto

// SelfieResponse reports the outcome of a selfie registration. Error is a
// user-facing reason suitable for showing verbatim in the capture UI.
type SelfieResponse struct {
	IsValid   bool    `json:"is_valid"`
	Error     string  `json:"error,omitempty"`
	RealScore float32 `json:"real_score,omitempty"`
	LiveScore float32 `json:"live_score,omitempty"`
}
