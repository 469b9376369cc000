package gemini

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Scheme is the secure scheme spoken over the transport.
const Scheme = "gemini"

// DefaultPort is the IANA-assigned gemini port.
const DefaultPort = "1965"

// MaxRequestLength bounds the serialized request uri in characters,
// excluding the CRLF terminator.
const MaxRequestLength = 1024

// FormatRequest renders the single line a gemini request consists of:
// the absolute uri followed by CRLF. Requests carry no body.
func FormatRequest(u *url.URL) []byte {
	return []byte(u.String() + "\r\n")
}

// ValidateURI enforces the target-uri invariants checked before every
// request is sent and before every server request is routed: a host,
// no userinfo, and a serialized form of at most 1024 characters.
func ValidateURI(u *url.URL) error {
	if u.User != nil {
		return fmt.Errorf("%w: userinfo not allowed", ErrInvalidURI)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidURI)
	}
	if utf8.RuneCountInString(u.String()) > MaxRequestLength {
		return fmt.Errorf("%w: uri too long", ErrInvalidURI)
	}
	return nil
}

// ServerRequest is the validated form of one request line, created per
// accepted connection and discarded when the connection closes.
type ServerRequest struct {
	RawLine string
	URL     *url.URL
	Host    string
	Path    string
}

// ParseRequestLine validates the raw bytes read from an accepted
// connection. Only the first CRLF-terminated line is significant;
// gemini requests have no body, so anything after the terminator is
// ignored. Failures are BadRequestError values whose reason ends up in
// the 59 response meta.
func ParseRequestLine(raw []byte) (*ServerRequest, error) {
	line := string(raw)
	i := strings.Index(line, "\r\n")
	if i < 0 {
		return nil, &BadRequestError{Reason: "missing terminator"}
	}
	line = line[:i]
	if !utf8.ValidString(line) {
		return nil, &BadRequestError{Reason: "invalid uri"}
	}
	if utf8.RuneCountInString(line) > MaxRequestLength {
		return nil, &BadRequestError{Reason: "uri too long"}
	}
	u, err := url.Parse(line)
	if err != nil {
		return nil, &BadRequestError{Reason: "invalid uri"}
	}
	if u.Scheme == "" {
		u.Scheme = Scheme
	}
	if u.User != nil {
		return nil, &BadRequestError{Reason: "userinfo not allowed"}
	}
	if u.Host == "" {
		return nil, &BadRequestError{Reason: "host required"}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &ServerRequest{RawLine: line, URL: u, Host: u.Hostname(), Path: path}, nil
}
