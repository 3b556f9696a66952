package surface

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateFetcher resolves a template identifier to markup.
type TemplateFetcher interface {
	FetchTemplate(ctx context.Context, id string) (string, error)
}

// DefaultTemplates returns the markup shipped with the binary.
func DefaultTemplates() fs.FS {
	sub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		// embed paths are fixed at build time
		panic(err)
	}
	return sub
}

// FSFetcher serves templates named <id>.html from a file system.
type FSFetcher struct {
	fsys fs.FS
}

// NewFSFetcher creates a fetcher over fsys.
func NewFSFetcher(fsys fs.FS) *FSFetcher {
	return &FSFetcher{fsys: fsys}
}

// FetchTemplate implements TemplateFetcher.
func (f *FSFetcher) FetchTemplate(ctx context.Context, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if id == "" || !fs.ValidPath(id) {
		return "", fmt.Errorf("invalid template id %q", id)
	}
	data, err := fs.ReadFile(f.fsys, path.Clean(id)+".html")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// OverlayFS serves names from primary, falling back to fallback when primary
// does not have them.
type OverlayFS struct {
	Primary  fs.FS
	Fallback fs.FS
}

// Open implements fs.FS.
func (o OverlayFS) Open(name string) (fs.File, error) {
	if o.Primary != nil {
		f, err := o.Primary.Open(name)
		if err == nil {
			return f, nil
		}
	}
	return o.Fallback.Open(name)
}
