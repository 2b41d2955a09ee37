package responses

// Envelope is the body of every 2xx response.
type Envelope struct {
	Data any `json:"data"`
}

// ErrorBody is the public error shape. RequestID echoes X-Request-Id so a
// caller can quote it against the logs.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}
