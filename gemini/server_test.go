package gemini

import (
	"bytes"
	"io"
	"log"
	"net"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T, cfg ServerConfig, store Storage) *Server {
	t.Helper()
	return NewServer(cfg, store, log.New(io.Discard, "", 0))
}

func TestServerVirtualHostFallback(t *testing.T) {
	store := newMemStore(t, map[string]string{
		"/default/index.gmi": "# welcome home\n",
	})
	srv := newTestServer(t, ServerConfig{}, store)

	status, meta, body := srv.respond([]byte("gemini://unknownhost/\r\n"))
	if status != STATUS_SUCCESS {
		t.Fatalf("status = %d %q, want 20", status, meta)
	}
	if meta != GeminiMediaType {
		t.Errorf("meta = %q, want %q", meta, GeminiMediaType)
	}
	if string(body) != "# welcome home\n" {
		t.Errorf("body = %q, default host content expected", body)
	}
}

func TestServerNotFound(t *testing.T) {
	store := newMemStore(t, map[string]string{"/default/index.gmi": "x"})
	srv := newTestServer(t, ServerConfig{}, store)

	status, _, _ := srv.respond([]byte("gemini://h/missing.gmi\r\n"))
	if status != STATUS_NOT_FOUND {
		t.Errorf("status = %d, want 51", status)
	}
}

func TestServerBadRequests(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, newMemStore(t, nil))
	tests := []struct {
		name string
		raw  string
		meta string
	}{
		{"missing terminator", "gemini://h/", "missing terminator"},
		{"userinfo", "gemini://bob@h/\r\n", "userinfo not allowed"},
		{"no host", "/page.gmi\r\n", "host required"},
		{"uri too long", "gemini://h/" + strings.Repeat("a", MaxRequestLength) + "\r\n", "uri too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, meta, _ := srv.respond([]byte(tt.raw))
			if status != STATUS_BAD_REQUEST {
				t.Errorf("status = %d, want 59", status)
			}
			if meta != tt.meta {
				t.Errorf("meta = %q, want %q", meta, tt.meta)
			}
		})
	}
}

func TestServerRefusesForeignSchemes(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, newMemStore(t, nil))
	status, _, _ := srv.respond([]byte("https://h/\r\n"))
	if status != STATUS_PROXY_REQUEST_REFUSED {
		t.Errorf("status = %d, want 53", status)
	}
}

func TestServerRejectsDotPaths(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, newMemStore(t, nil))
	status, _, _ := srv.respond([]byte("gemini://h/../../etc/passwd\r\n"))
	if status != STATUS_PERMANENT_FAILURE {
		t.Errorf("status = %d, want 50", status)
	}
}

func TestServerDirectoryListing(t *testing.T) {
	store := newMemStore(t, map[string]string{
		"/default/pub/b.txt":     "b",
		"/default/pub/a.gmi":     "a",
		"/default/pub/sub/x.txt": "x",
	})
	srv := newTestServer(t, ServerConfig{DirectoryIndex: true}, store)

	status, meta, body := srv.respond([]byte("gemini://h/pub/\r\n"))
	if status != STATUS_SUCCESS || meta != GeminiMediaType {
		t.Fatalf("got %d %q", status, meta)
	}
	listing := string(body)
	if !strings.HasPrefix(listing, "# h: /pub/\r\n") {
		t.Errorf("listing = %q, heading expected", listing)
	}
	if strings.Index(listing, "=> /pub/sub ") > strings.Index(listing, "=> /pub/b.txt ") {
		t.Errorf("directories should precede files: %q", listing)
	}
}

func TestServerDirectoryIndexDisabled(t *testing.T) {
	store := newMemStore(t, map[string]string{"/default/pub/a.txt": "a"})
	srv := newTestServer(t, ServerConfig{DirectoryIndex: false}, store)

	status, _, _ := srv.respond([]byte("gemini://h/pub/\r\n"))
	if status != STATUS_NOT_FOUND {
		t.Errorf("status = %d, want 51 with indexing disabled", status)
	}
}

func TestServerEmptyDirectory(t *testing.T) {
	store := newMemStore(t, nil, "/default/empty")
	srv := newTestServer(t, ServerConfig{DirectoryIndex: true}, store)

	status, _, _ := srv.respond([]byte("gemini://h/empty/\r\n"))
	if status != STATUS_NOT_FOUND {
		t.Errorf("status = %d, want 51 for empty directory", status)
	}
}

// An index document wins over the synthesized listing, even when
// indexing is disabled.
func TestServerIndexFileWithIndexingDisabled(t *testing.T) {
	store := newMemStore(t, map[string]string{
		"/default/pub/index.gmi": "# curated\n",
		"/default/pub/other.txt": "x",
	})
	srv := newTestServer(t, ServerConfig{DirectoryIndex: false}, store)

	status, meta, body := srv.respond([]byte("gemini://h/pub/\r\n"))
	if status != STATUS_SUCCESS || meta != GeminiMediaType {
		t.Fatalf("got %d %q", status, meta)
	}
	if string(body) != "# curated\n" {
		t.Errorf("body = %q, index document expected", body)
	}
}

func TestServerDirectoryRedirect(t *testing.T) {
	store := newMemStore(t, map[string]string{"/default/pub/a.txt": "a"})
	srv := newTestServer(t, ServerConfig{DirectoryIndex: true}, store)

	status, meta, _ := srv.respond([]byte("gemini://h/pub\r\n"))
	if status != STATUS_REDIRECT_PERMANENT {
		t.Fatalf("status = %d, want 31", status)
	}
	if meta != "gemini://h/pub/" {
		t.Errorf("redirect target = %q, want gemini://h/pub/", meta)
	}
}

type weirdMimeStore struct {
	*FileStore
}

func (weirdMimeStore) MimeType(string) string { return "application/octet-stream" }

func TestServerMimeHandling(t *testing.T) {
	inner := newMemStore(t, map[string]string{
		"/default/page.gmi":  "# page\n",
		"/default/image.png": "not really a png",
	})

	// gemtext extension outranks whatever the store reports
	srv := newTestServer(t, ServerConfig{}, weirdMimeStore{inner})
	status, meta, _ := srv.respond([]byte("gemini://h/page.gmi\r\n"))
	if status != STATUS_SUCCESS || meta != GeminiMediaType {
		t.Errorf("got %d %q, want 20 %q", status, meta, GeminiMediaType)
	}

	// everything else trusts the store
	srv = newTestServer(t, ServerConfig{}, inner)
	status, meta, _ = srv.respond([]byte("gemini://h/image.png\r\n"))
	if status != STATUS_SUCCESS || meta != "image/png" {
		t.Errorf("got %d %q, want 20 image/png", status, meta)
	}
}

// Full request/response exchange over an in-memory connection.
func TestServerHandleConnection(t *testing.T) {
	store := newMemStore(t, map[string]string{"/default/index.gmi": "# hi\n"})
	srv := newTestServer(t, ServerConfig{ReadTimeout: time.Second}, store)

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handle(server)
		close(done)
	}()

	if _, err := client.Write([]byte("gemini://h/\r\n")); err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("wire response %q unparsable: %v", raw, err)
	}
	if resp.Status != STATUS_SUCCESS || resp.Meta != GeminiMediaType {
		t.Errorf("got %d %q", resp.Status, resp.Meta)
	}
	if string(resp.Body) != "# hi" {
		t.Errorf("body = %q", resp.Body)
	}
}

// A request line under the 1024-character limit may still be several
// kilobytes of UTF-8 on the wire and must survive the read loop intact.
func TestServerHandleMultibyteRequestLine(t *testing.T) {
	name := strings.Repeat("é", 600)
	store := newMemStore(t, map[string]string{"/default/" + name: "unicode"})
	srv := newTestServer(t, ServerConfig{}, store)

	line := "gemini://h/" + name + "\r\n"
	if len(line) <= MaxRequestLength+2 {
		t.Fatalf("request line is %d bytes, want more than the character limit", len(line))
	}

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handle(server)
		close(done)
	}()

	if _, err := client.Write([]byte(line)); err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("wire response %q unparsable: %v", raw, err)
	}
	if resp.Status != STATUS_SUCCESS {
		t.Fatalf("got %d %q, want 20", resp.Status, resp.Meta)
	}
	if string(resp.Body) != "unicode" {
		t.Errorf("body = %q", resp.Body)
	}
}

// A peer that never sends CRLF gets a 59 once the read ceiling is hit.
func TestServerHandleUnterminatedRequest(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, newMemStore(t, nil))

	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handle(server)
		close(done)
	}()

	big := bytes.Repeat([]byte("a"), maxRequestWireBytes+16)
	go func() {
		// the server stops reading at the ceiling, so this write ends
		// with an error once it closes the connection
		client.Write(big)
	}()
	raw, err := io.ReadAll(client)
	if err != nil {
		t.Fatal(err)
	}
	<-done

	resp, err := ParseResponse(raw)
	if err != nil {
		t.Fatalf("wire response %q unparsable: %v", raw, err)
	}
	if resp.Status != STATUS_BAD_REQUEST || resp.Meta != "missing terminator" {
		t.Errorf("got %d %q, want 59 missing terminator", resp.Status, resp.Meta)
	}
}

func TestServerStopUnblocksServe(t *testing.T) {
	srv := newTestServer(t, ServerConfig{}, newMemStore(t, nil))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	// give the accept loop a moment to start
	time.Sleep(10 * time.Millisecond)
	if err := srv.Stop(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve returned %v after Stop, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}
