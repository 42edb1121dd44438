package rpcclient

import "errors"

// Transport and decoding errors
var (
	ErrConnectionRefused = errors.New("connection refused")
	ErrTimeout           = errors.New("request timed out")
	ErrMalformedResponse = errors.New("response body is not valid JSON")
)
