package util

import "errors"

var (
	ErrEmptyContent = errors.New("document has no content text")

	ErrQuotaExhausted  = errors.New("model gateway quota exhausted")
	ErrRateLimited     = errors.New("model gateway rate limited")
	ErrMalformedJSON   = errors.New("model returned malformed JSON after repair attempt")
	ErrUnknownFunction = errors.New("unknown gateway function name")
)
