package urlscheme

import (
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"netstack/internal/netreq"
	"netstack/internal/nserr"
)

// FilePolicy gates file: URL access behind a sandboxed allow-list of
// directories, per spec.md §4.1 step 1 and §6.
type FilePolicy struct {
	// AllowedRoots are directories file: reads may resolve into. Each
	// is made absolute and symlink-resolved at construction so later
	// containment checks compare like with like.
	allowedRoots []string
}

// NewFilePolicy resolves roots to their absolute, symlink-free form and
// returns a FilePolicy that only serves paths inside them.
func NewFilePolicy(roots []string) (*FilePolicy, error) {
	resolved := make([]string, 0, len(roots))
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			return nil, nserr.Wrap(nserr.KindInvalidConfig, "resolving file: allow-list root "+r, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, nserr.Wrap(nserr.KindInvalidConfig, "resolving symlinks for allow-list root "+r, err)
		}
		resolved = append(resolved, real)
	}
	return &FilePolicy{allowedRoots: resolved}, nil
}

// Read implements the file: URL handler: resolves u's path, rejects it
// if it falls outside every allowed root (including via symlink
// traversal), and returns its content as a buffered response.
func (p *FilePolicy) Read(u *url.URL) (*netreq.NetworkResponse, error) {
	if u.Scheme != "file" {
		return nil, nserr.New(nserr.KindInvalidURL, "not a file: URL")
	}
	path := u.Path
	if path == "" {
		return nil, nserr.New(nserr.KindInvalidURL, "file URL has no path")
	}

	real, err := p.resolveWithinSandbox(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(real)
	if err != nil {
		return nil, nserr.Wrap(nserr.KindIO, "opening "+real, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, nserr.Wrap(nserr.KindIO, "reading "+real, err)
	}

	header := netreq.NewHeader()
	header.Set("Content-Type", contentTypeForExt(filepath.Ext(real)))

	return &netreq.NetworkResponse{
		URL:          u,
		Status:       200,
		StatusPhrase: "OK",
		Header:       header,
		Body:         netreq.BufferBody{Data: data},
		Type:         netreq.ResponseBasic,
	}, nil
}

// resolveWithinSandbox resolves path's symlinks and confirms the result
// is contained in one of the policy's allowed roots. Rejecting after
// symlink resolution (rather than on the raw path) is what blocks a
// symlink inside an allowed root from escaping to disallowed content.
func (p *FilePolicy) resolveWithinSandbox(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nserr.Wrap(nserr.KindInvalidURL, "resolving file path", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", nserr.Wrap(nserr.KindIO, "resolving symlinks for "+abs, err)
	}
	for _, root := range p.allowedRoots {
		if real == root || strings.HasPrefix(real, root+string(filepath.Separator)) {
			return real, nil
		}
	}
	return "", nserr.New(nserr.KindInvalidURL, "file path "+real+" is outside the allowed roots")
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".js", ".mjs":
		return "text/javascript; charset=utf-8"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
