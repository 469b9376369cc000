package gemini

import "errors"

// Failure taxonomy. Transport errors are not translated; they propagate
// from the connection as returned.
var (
	ErrMalformedResponse     = errors.New("malformed gemini response")
	ErrMetaTooLong           = errors.New("response meta longer than 1024 characters")
	ErrInvalidURI            = errors.New("invalid target uri")
	ErrMissingBaseURI        = errors.New("relative target but no base uri configured")
	ErrInvalidRedirectTarget = errors.New("redirect target is not a usable uri")
	ErrTooManyRedirections   = errors.New("too many redirections")
	ErrNotFound              = errors.New("resource not found")
)

// BadRequestError is returned by request-line validation. Reason becomes
// the meta field of the 59 response sent back to the peer.
type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return "bad request: " + e.Reason
}
