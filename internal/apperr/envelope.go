package apperr

import "encoding/json"

// Envelope is the JSON body of every error response.
//
//	{
//	  "error": "ValidationException",
//	  "error_code": "VALIDATION_ERROR",
//	  "message": "Invalid request data",
//	  "details": {"field": "missing"},
//	  "request_id": "3f1c0c5e-5d1b-4f5e-9d55-1f0f0b8a2d11"
//	}
//
// RequestID is omitted when empty. Details is omitted when nil; a non-nil
// empty map renders as {}.
type Envelope struct {
	Error     string         `json:"error" example:"ValidationException"`
	ErrorCode string         `json:"error_code" example:"VALIDATION_ERROR"`
	Message   string         `json:"message" example:"Invalid request data"`
	Details   map[string]any `json:"details,omitempty" swaggertype:"object"`
	RequestID string         `json:"request_id,omitempty" example:"123e4567-e89b-42d3-a456-426614174000"`
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	type wire struct {
		Error     string          `json:"error"`
		ErrorCode string          `json:"error_code"`
		Message   string          `json:"message"`
		Details   *map[string]any `json:"details,omitempty"`
		RequestID string          `json:"request_id,omitempty"`
	}
	w := wire{
		Error:     e.Error,
		ErrorCode: e.ErrorCode,
		Message:   e.Message,
		RequestID: e.RequestID,
	}
	if e.Details != nil {
		w.Details = &e.Details
	}
	return json.Marshal(w)
}

// Internal builds the sanitized envelope for an unclassified error. The
// error's text is never included; only its type name is.
func Internal(err error, requestID string) Envelope {
	return Envelope{
		Error:     TypeName(err),
		ErrorCode: CodeInternal,
		Message:   "An unexpected error occurred",
		RequestID: requestID,
	}
}
