package gemini

import (
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// DefaultHost is the content directory consulted when no host-specific
// directory matches the request.
const DefaultHost = "default"

// Index documents served in place of a directory listing.
var indexFiles = []string{"index.gmi", "index.gemini"}

// Entry is one row of a storage listing.
type Entry struct {
	Name  string
	IsDir bool
}

// Storage abstracts the content tree a server serves from. One instance
// is shared read-only across connections, so implementations must
// tolerate concurrent calls.
type Storage interface {
	Exists(name string) bool
	IsDir(name string) bool
	Read(name string) ([]byte, error)
	List(name string) ([]Entry, error)
	MimeType(name string) string
}

// FileStore serves content from an afero filesystem. NewFileStore pins
// an OS directory as the root; tests hand in a MemMapFs instead.
type FileStore struct {
	fs afero.Fs
}

// NewFileStore returns a store rooted at dir on the host filesystem.
func NewFileStore(dir string) *FileStore {
	return &FileStore{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}
}

// NewStore returns a store over an arbitrary afero filesystem.
func NewStore(fs afero.Fs) *FileStore {
	return &FileStore{fs: fs}
}

func (s *FileStore) Exists(name string) bool {
	ok, err := afero.Exists(s.fs, name)
	return err == nil && ok
}

func (s *FileStore) IsDir(name string) bool {
	ok, err := afero.IsDir(s.fs, name)
	return err == nil && ok
}

func (s *FileStore) Read(name string) ([]byte, error) {
	return afero.ReadFile(s.fs, name)
}

// List returns the directory entries of name. Hidden files stay hidden.
func (s *FileStore) List(name string) ([]Entry, error) {
	infos, err := afero.ReadDir(s.fs, name)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		if strings.HasPrefix(fi.Name(), ".") {
			continue
		}
		entries = append(entries, Entry{Name: fi.Name(), IsDir: fi.IsDir()})
	}
	return entries, nil
}

// MimeType guesses a media type from the extension, assuming gemtext
// for .gmi/.gemini and plain UTF-8 text when nothing matches.
func (s *FileStore) MimeType(name string) string {
	switch ext := path.Ext(name); ext {
	case ".gmi", ".gemini":
		return GeminiMediaType
	default:
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return DefaultMediaType
}

// ResolveVirtualHost maps a request host and path onto the storage
// tree: the host's own directory first, then the default host. The
// match is literal directory-name equality, recomputed per request;
// the bool reports whether either candidate exists.
func ResolveVirtualHost(store Storage, host, reqPath string) (string, bool) {
	for _, h := range []string{host, DefaultHost} {
		if h == "" {
			continue
		}
		physical := path.Join("/", h, reqPath)
		if store.Exists(physical) {
			return physical, true
		}
	}
	return "", false
}

// IndexFile returns the contents of the index document under dir, if
// one exists. Index documents are served verbatim as text/gemini and
// take priority over a synthesized listing.
func IndexFile(store Storage, dir string) ([]byte, bool, error) {
	for _, name := range indexFiles {
		candidate := path.Join(dir, name)
		if !store.Exists(candidate) {
			continue
		}
		body, err := store.Read(candidate)
		if err != nil {
			return nil, false, err
		}
		return body, true, nil
	}
	return nil, false, nil
}

// DirectoryListing synthesizes a gemtext listing for dir: a heading
// naming the host and request path, then one link line per entry with
// directories first, each group in storage order. An empty listing is
// ErrNotFound.
func DirectoryListing(store Storage, host, reqPath, dir string) ([]byte, error) {
	entries, err := store.List(dir)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\r\n", host, reqPath)
	count := 0
	for _, wantDir := range []bool{true, false} {
		for _, e := range entries {
			if e.IsDir != wantDir {
				continue
			}
			fmt.Fprintf(&b, "=> %s %s\r\n", path.Join(reqPath, e.Name), e.Name)
			count++
		}
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return []byte(b.String()), nil
}
