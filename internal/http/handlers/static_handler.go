package handlers

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

// Static serves the form page and its assets from a directory.
type Static struct {
	dir  string
	deny []string // absolute paths never served, with everything below them
}

// NewStatic serves files under dir except the paths in deny. The server
// passes the SQLite file and the backup directory, which live in the
// working directory by default.
func NewStatic(dir string, deny ...string) *Static {
	s := &Static{dir: dir}
	for _, d := range deny {
		if strings.TrimSpace(d) == "" {
			continue
		}
		if abs, err := filepath.Abs(d); err == nil {
			s.deny = append(s.deny, abs)
		}
	}
	return s
}

// Index serves index.html for GET /.
func (s *Static) Index(c *gin.Context) {
	s.serve(c, "/index.html")
}

// Serve is the NoRoute handler: GET and HEAD of any other path are looked up
// under the directory. Paths are cleaned before use, and any segment starting
// with a dot is refused, so .env files, .git and the like never leave the
// server even when the directory is the working directory.
func (s *Static) Serve(c *gin.Context) {
	if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		return
	}
	s.serve(c, c.Request.URL.Path)
}

func (s *Static) serve(c *gin.Context, urlPath string) {
	name, allowed := cleanStaticPath(urlPath)
	if !allowed {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		return
	}
	full := filepath.Join(s.dir, filepath.FromSlash(name))
	if s.denied(full) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		return
	}
	fi, err := os.Stat(full)
	if err != nil || !fi.Mode().IsRegular() {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		return
	}
	c.File(full)
}

// denied reports whether full is a denied path, below one, or a SQLite
// sidecar (-wal, -shm, -journal) of one.
func (s *Static) denied(full string) bool {
	abs, err := filepath.Abs(full)
	if err != nil {
		return true
	}
	for _, d := range s.deny {
		if abs == d || strings.HasPrefix(abs, d+string(filepath.Separator)) {
			return true
		}
		for _, suffix := range []string{"-wal", "-shm", "-journal"} {
			if abs == d+suffix {
				return true
			}
		}
	}
	return false
}

// cleanStaticPath returns the rooted, cleaned form of p, and false when p
// names a hidden file or directory or nothing at all.
func cleanStaticPath(p string) (string, bool) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return "", false
	}
	for _, seg := range strings.Split(clean[1:], "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}
	return clean, true
}
