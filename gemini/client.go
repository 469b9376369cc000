package gemini

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"time"
)

// DefaultMaxRedirections bounds how many 3x hops Request follows before
// giving up.
const DefaultMaxRedirections = 10

// NoRedirections makes Request fail on the first redirect response.
// A MaxRedirections of zero selects DefaultMaxRedirections instead, so
// refusing redirects entirely needs this sentinel.
const NoRedirections = -1

// Connector opens the secure byte stream a request line is written to.
// The default is TLSConnector; tests substitute scripted connections.
type Connector interface {
	Connect(hostport string) (net.Conn, error)
}

// TLSConnector dials the target over TLS. Gemini leans on
// trust-on-first-use certificate handling rather than the web PKI, so
// chain verification is skipped.
type TLSConnector struct {
	Timeout time.Duration
}

func (c TLSConnector) Connect(hostport string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.Timeout}
	return tls.DialWithDialer(dialer, "tcp", hostport, &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
	})
}

// Redirection is one hop of a followed redirect chain.
type Redirection struct {
	URL       *url.URL
	Permanent bool
}

// ClientConfig is fixed when the client is built.
type ClientConfig struct {
	// Server and Port form the base uri for relative targets when no
	// explicit BaseURL is set. Port defaults to 1965.
	Server string
	Port   string

	// BaseURL, when set, wins over Server and Port.
	BaseURL *url.URL

	// MaxRedirections caps the redirect chain. Zero means
	// DefaultMaxRedirections; use NoRedirections to refuse the first
	// redirect.
	MaxRedirections int

	// Timeout is the overall deadline for one exchange: connect, write
	// and read-to-EOF. Zero means no deadline; a silent peer then holds
	// the call open indefinitely.
	Timeout time.Duration

	Connector Connector
}

// Client issues gemini requests and follows redirects. A client is
// meant to be reused sequentially; the redirect trail and last uri are
// per-instance state, so overlapping Request calls on one instance are
// out of contract.
type Client struct {
	config    ClientConfig
	connector Connector
	maxHops   int

	lastURL      *url.URL
	redirections []Redirection
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	connector := cfg.Connector
	if connector == nil {
		connector = TLSConnector{Timeout: cfg.Timeout}
	}
	maxHops := cfg.MaxRedirections
	switch {
	case maxHops == 0:
		maxHops = DefaultMaxRedirections
	case maxHops < 0:
		maxHops = 0
	}
	return &Client{config: cfg, connector: connector, maxHops: maxHops}
}

// LastURL returns the uri of the last exchange performed, including
// redirect hops.
func (c *Client) LastURL() *url.URL {
	return c.lastURL
}

// Redirections returns the redirect chain of the most recent Request
// call, in hop order.
func (c *Client) Redirections() []Redirection {
	return c.redirections
}

// Request resolves target against the configured base, performs the
// exchange and follows redirects up to the configured limit. Non-2x
// statuses are valid terminal responses, not errors; interpreting them
// is the caller's business. A failed call leaves the client ready for
// the next one.
func (c *Client) Request(target string) (*Response, error) {
	// a fresh chain per invocation; callers may still hold the slice
	// returned by Redirections for the previous call
	c.redirections = nil

	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	base := c.baseURL()
	if !u.IsAbs() || u.Host == "" {
		if base == nil {
			return nil, ErrMissingBaseURI
		}
		u = base.ResolveReference(u)
	}
	if u.Scheme == "" {
		u.Scheme = Scheme
	}
	if err := ValidateURI(u); err != nil {
		return nil, err
	}
	if base == nil {
		// absolute initial target with no configured base: redirect
		// hops resolve against the target itself
		base = u
	}

	for {
		c.lastURL = u
		resp, err := c.exchange(u)
		if err != nil {
			return nil, err
		}
		if !IsRedirect(resp.Status) {
			return resp, nil
		}
		next, err := redirectTarget(base, resp.Meta)
		if err != nil {
			return nil, err
		}
		c.redirections = append(c.redirections, Redirection{
			URL:       next,
			Permanent: resp.Status == STATUS_REDIRECT_PERMANENT,
		})
		if len(c.redirections) >= c.maxHops {
			return nil, fmt.Errorf("%w: limit %d reached at %s", ErrTooManyRedirections, c.maxHops, next)
		}
		u = next
	}
}

// exchange performs one hop: write the request line, read until the
// peer closes the stream, parse. Gemini has no length framing, so end
// of stream is the only completion signal.
func (c *Client) exchange(u *url.URL) (*Response, error) {
	conn, err := c.connector.Connect(hostPort(u))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if c.config.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(c.config.Timeout))
	}
	if _, err := conn.Write(FormatRequest(u)); err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, err
	}
	return ParseResponse(raw)
}

func (c *Client) baseURL() *url.URL {
	if c.config.BaseURL != nil {
		return c.config.BaseURL
	}
	if c.config.Server != "" {
		return &url.URL{Scheme: Scheme, Host: net.JoinHostPort(c.config.Server, c.config.Port)}
	}
	return nil
}

// redirectTarget turns the meta of a 3x response into the next target.
// Relative targets resolve against the original base, and the resolved
// uri re-passes full validation on every hop.
func redirectTarget(base *url.URL, meta string) (*url.URL, error) {
	if strings.TrimSpace(meta) == "" {
		return nil, fmt.Errorf("%w: empty meta", ErrInvalidRedirectTarget)
	}
	next, err := url.Parse(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRedirectTarget, meta)
	}
	if !next.IsAbs() || next.Host == "" {
		next = base.ResolveReference(next)
	}
	if err := ValidateURI(next); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRedirectTarget, meta)
	}
	return next, nil
}

func hostPort(u *url.URL) string {
	if u.Port() == "" {
		return net.JoinHostPort(u.Hostname(), DefaultPort)
	}
	return u.Host
}
