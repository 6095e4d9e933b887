package models

// APIResponse is the envelope wrapping every JSON endpoint except /api/execute,
// which answers with a bare CommandResult. Success is always present; Data,
// Error and Message are omitted when unset. A non-nil empty slice in Data is
// still encoded, so list endpoints answer `"data":[]` rather than dropping it.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// SuccessResponse wraps a payload.
func SuccessResponse(data any) APIResponse {
	return APIResponse{Success: true, Data: data}
}

// ErrorResponse reports a failed request. The HTTP status is chosen by the caller.
func ErrorResponse(err string) APIResponse {
	return APIResponse{Error: err}
}

// MessageResponse acknowledges a request that has nothing to return.
func MessageResponse(message string) APIResponse {
	return APIResponse{Success: true, Message: message}
}

// NotFoundBody is the body of every unmatched route. It is not an APIResponse.
type NotFoundBody struct {
	Error string `json:"error"`
}

var NotFound = NotFoundBody{Error: "Not found"}
