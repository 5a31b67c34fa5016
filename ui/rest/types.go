package rest

// IngestResponse es la vista REST del resultado de una ingesta.
type IngestResponse struct {
	SessionID string `json:"session_id"`
	Duplicate bool   `json:"duplicate"`
	Reply     any    `json:"reply,omitempty"`
}
