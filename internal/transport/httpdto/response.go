// Package httpdto holds the JSON shapes crossing the HTTP boundary.
package httpdto

// Response is the uniform envelope every endpoint returns. Data is set only
// on success; Error carries a human-readable message (for denials, the exact
// authorization reason) and Code a stable machine-readable tag.
type Response[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func NewSuccessResponse[T any](data T) Response[T] {
	return Response[T]{Success: true, Data: data}
}

func NewErrorResponse(message, code string) Response[any] {
	return Response[any]{Success: false, Error: message, Code: code}
}
