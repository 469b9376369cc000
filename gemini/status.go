package gemini

// Gemini status codes, grouped by first digit.
const (
	STATUS_INPUT = 10

	STATUS_SUCCESS = 20

	STATUS_REDIRECT_TEMPORARY = 30
	STATUS_REDIRECT_PERMANENT = 31

	STATUS_TEMPORARY_FAILURE  = 40
	STATUS_SERVER_UNAVAILABLE = 41
	STATUS_CGI_ERROR          = 42
	STATUS_PROXY_ERROR        = 43
	STATUS_SLOW_DOWN          = 44

	STATUS_PERMANENT_FAILURE     = 50
	STATUS_NOT_FOUND             = 51
	STATUS_GONE                  = 52
	STATUS_PROXY_REQUEST_REFUSED = 53
	STATUS_BAD_REQUEST           = 59

	STATUS_CLIENT_CERTIFICATE_REQUIRED = 60
	STATUS_CERTIFICATE_NOT_AUTHORISED  = 61
	STATUS_CERTIFICATE_NOT_VALID       = 62
)

// ValidStatus reports whether status is a two-digit code the protocol
// defines. Anything outside 10..69 is a protocol violation on receipt.
func ValidStatus(status int) bool {
	return status >= 10 && status <= 69
}

// IsRedirect reports whether status asks the client to re-request the
// resource at the uri carried in meta.
func IsRedirect(status int) bool {
	return status == STATUS_REDIRECT_TEMPORARY || status == STATUS_REDIRECT_PERMANENT
}

// IsSuccess reports whether status carries a body whose media type is in
// meta.
func IsSuccess(status int) bool {
	return status >= 20 && status <= 29
}
