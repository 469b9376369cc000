package gemini

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

// maxRequestWireBytes bounds the request-line read: 1024 characters of
// up to four UTF-8 bytes each, plus the CRLF. The character limit
// itself belongs to ParseRequestLine.
const maxRequestWireBytes = 4*MaxRequestLength + 2

var crlf = []byte("\r\n")

// ServerConfig is fixed before Start and never mutated while
// connections are live.
type ServerConfig struct {
	// Address and Port form the listen address. Port defaults to 1965.
	Address string
	Port    string

	// CertFile and KeyFile locate the TLS key pair.
	CertFile string
	KeyFile  string

	// DirectoryIndex enables synthesized listings for directories
	// without an index document.
	DirectoryIndex bool

	// ReadTimeout bounds the request-line read. Zero means no deadline;
	// a silent peer then holds its connection open indefinitely.
	ReadTimeout time.Duration
}

// Server accepts gemini connections and serves content from its storage
// collaborator. One goroutine handles one connection; the storage is
// shared read-only across all of them.
type Server struct {
	config ServerConfig
	store  Storage
	logger *log.Logger

	mu       sync.Mutex
	listener net.Listener
}

func NewServer(cfg ServerConfig, store Storage, logger *log.Logger) *Server {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{config: cfg, store: store, logger: logger}
}

// Start loads the key pair, listens on the configured address and
// serves until Stop closes the listener.
func (s *Server) Start() error {
	cert, err := tls.LoadX509KeyPair(s.config.CertFile, s.config.KeyFile)
	if err != nil {
		return fmt.Errorf("loading certs: %w", err)
	}
	config := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	ln, err := tls.Listen("tcp", s.config.Address+":"+s.config.Port, config)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop on ln until the listener closes. It is
// exported so hosts and tests can supply their own listener.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handle(conn)
	}
}

// Stop closes the listener and unblocks Serve. Connections already
// being handled finish on their own.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	if s.config.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}
	raw, err := readRequestLine(conn)
	if err != nil {
		s.logger.Printf("WARN: couldn't read request from %v: %v", conn.RemoteAddr(), err)
		return
	}
	status, meta, body := s.respond(raw)
	if err := WriteResponse(conn, status, meta, body); err != nil {
		s.logger.Printf("WARN: couldn't respond to %v: %v", conn.RemoteAddr(), err)
		return
	}
	s.logger.Printf("%v requested %q; responded with %v %v",
		conn.RemoteAddr(), strings.TrimSuffix(string(raw), "\r\n"), status, meta)
}

// readRequestLine reads until CRLF or until the wire-byte ceiling;
// whatever was read goes to the validator, which turns an unterminated
// buffer into a 59.
func readRequestLine(conn net.Conn) ([]byte, error) {
	buf := make([]byte, 0, maxRequestWireBytes)
	b := make([]byte, 1)
	for len(buf) < maxRequestWireBytes {
		if _, err := conn.Read(b); err != nil {
			return nil, err
		}
		buf = append(buf, b[0])
		if bytes.HasSuffix(buf, crlf) {
			break
		}
	}
	return buf, nil
}

// respond routes one validated request to a status, meta and body.
func (s *Server) respond(raw []byte) (int, string, []byte) {
	req, err := ParseRequestLine(raw)
	if err != nil {
		var bad *BadRequestError
		if errors.As(err, &bad) {
			return STATUS_BAD_REQUEST, bad.Reason, nil
		}
		return STATUS_BAD_REQUEST, "bad request", nil
	}
	if req.URL.Scheme != Scheme {
		return STATUS_PROXY_REQUEST_REFUSED, "proxying by scheme not supported", nil
	}
	if strings.Contains(req.Path, "..") {
		return STATUS_PERMANENT_FAILURE, "dots in path, assuming bad faith", nil
	}

	physical, ok := ResolveVirtualHost(s.store, req.Host, req.Path)
	if !ok {
		return STATUS_NOT_FOUND, "resource not found", nil
	}
	if s.store.IsDir(physical) {
		return s.serveDirectory(req, physical)
	}
	return s.serveFile(physical)
}

func (s *Server) serveDirectory(req *ServerRequest, physical string) (int, string, []byte) {
	if !strings.HasSuffix(req.Path, "/") {
		return STATUS_REDIRECT_PERMANENT, Scheme + "://" + req.URL.Host + req.Path + "/", nil
	}
	body, ok, err := IndexFile(s.store, physical)
	if err != nil {
		return STATUS_TEMPORARY_FAILURE, "unable to read index", nil
	}
	if ok {
		return STATUS_SUCCESS, GeminiMediaType, body
	}
	if !s.config.DirectoryIndex {
		return STATUS_NOT_FOUND, "resource not found", nil
	}
	listing, err := DirectoryListing(s.store, req.Host, req.Path, physical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return STATUS_NOT_FOUND, "resource not found", nil
		}
		return STATUS_TEMPORARY_FAILURE, "unable to list directory", nil
	}
	return STATUS_SUCCESS, GeminiMediaType, listing
}

func (s *Server) serveFile(physical string) (int, string, []byte) {
	body, err := s.store.Read(physical)
	if err != nil {
		return STATUS_TEMPORARY_FAILURE, "unable to read file", nil
	}
	meta := s.store.MimeType(physical)
	// gemtext extensions outrank whatever the store reports
	if strings.HasSuffix(physical, ".gmi") || strings.HasSuffix(physical, ".gemini") {
		meta = GeminiMediaType
	}
	return STATUS_SUCCESS, meta, body
}

// WriteResponse is the one place the wire format is produced:
// <status> <meta> CRLF, then the body when there is one, then the write
// side is shut so the peer sees end of stream. Every server code path
// funnels through here.
func WriteResponse(conn net.Conn, status int, meta string, body []byte) error {
	if _, err := fmt.Fprintf(conn, "%v %v\r\n", status, meta); err != nil {
		return err
	}
	if body != nil {
		if _, err := conn.Write(body); err != nil {
			return err
		}
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}
