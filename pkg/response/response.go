package response

// Response is the error envelope returned by every endpoint
type Response struct {
	Success bool       `json:"success"`
	Error   *ErrorData `json:"error,omitempty"`
}

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// MessageResponse is the body of endpoints that only acknowledge an action
type MessageResponse struct {
	Message string `json:"message"`
}

func Message(message string) MessageResponse {
	return MessageResponse{Message: message}
}

func Error(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorData{
			Code:    code,
			Message: message,
		},
	}
}

func ErrorWithDetails(code, message, details string) Response {
	r := Error(code, message)
	r.Error.Details = details
	return r
}

func BadRequest(message string) Response {
	return Error("BAD_REQUEST", message)
}

func Unauthorized(message string) Response {
	return Error("UNAUTHORIZED", message)
}

func Forbidden(message string) Response {
	return Error("FORBIDDEN", message)
}

func NotFound(message string) Response {
	return Error("NOT_FOUND", message)
}

// InternalError never echoes the underlying error to the client
func InternalError() Response {
	return Error("INTERNAL_ERROR", "Internal Server Error")
}
