package frame

// WireError is an error that must surface to the client as an SSE
// error{code,message} event rather than only being logged server-side.
// Errors that don't carry a WireError are reported with a generic
// "internal_error" code.
type WireError struct {
	Code    string
	Message string
}

func (e *WireError) Error() string {
	return e.Code + ": " + e.Message
}
