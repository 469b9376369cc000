package gemini

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxMetaLength is the longest meta field the protocol allows, counted
// in characters, not bytes.
const MaxMetaLength = 1024

// Media types for gemtext documents. The fallback assumes plain UTF-8
// text when nothing better is known.
const (
	GeminiMediaType  = "text/gemini"
	DefaultMediaType = "text/gemini; charset=utf-8"
)

// Response is one decoded gemini response: a two-digit status, the meta
// field whose meaning depends on the status (media type on success,
// prompt on input, target uri on redirect, detail on failure) and the
// body, nil when the response carried none.
type Response struct {
	Status int
	Meta   string
	Body   []byte
}

// Header renders the response header line, <status> <meta> plus CRLF.
func (r *Response) Header() string {
	return fmt.Sprintf("%d %s\r\n", r.Status, r.Meta)
}

// ParseResponse decodes a complete raw response buffer. Gemini frames
// the body by closing the connection, so callers read to EOF before
// parsing. The first two bytes must be digits forming a status inside
// 10..69, followed by a single separator; the meta field runs to the
// line break and the body is whatever follows. A buffer with no line
// break is a header-only response.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: header too short", ErrMalformedResponse)
	}
	if raw[0] < '0' || raw[0] > '9' || raw[1] < '0' || raw[1] > '9' {
		return nil, fmt.Errorf("%w: status is not numeric", ErrMalformedResponse)
	}
	if raw[2] != ' ' && raw[2] != '\t' {
		return nil, fmt.Errorf("%w: missing separator after status", ErrMalformedResponse)
	}
	status := int(raw[0]-'0')*10 + int(raw[1]-'0')
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: status %d out of range", ErrMalformedResponse, status)
	}

	rest := raw[3:]
	var meta string
	var body []byte
	if i := bytes.IndexByte(rest, '\n'); i >= 0 {
		meta = string(rest[:i])
		body = bytes.TrimSpace(rest[i+1:])
	} else {
		meta = string(rest)
	}
	meta = strings.TrimSpace(meta)
	if utf8.RuneCountInString(meta) > MaxMetaLength {
		return nil, fmt.Errorf("%w: %d characters", ErrMetaTooLong, utf8.RuneCountInString(meta))
	}

	return &Response{Status: status, Meta: meta, Body: body}, nil
}
