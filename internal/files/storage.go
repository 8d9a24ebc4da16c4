package files

import (
	"fmt"
	"io/fs"
	"os"
	"sort"
	"time"

	"storefront/pkg/signedurl"
)

// Dir is the upload root. Every access goes through os.Root so no name can
// resolve outside it, symlinks included.
type Dir struct {
	root *os.Root
}

func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, fmt.Errorf("open uploads dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) FS() fs.FS { return d.root.FS() }

func (d *Dir) Close() error { return d.root.Close() }

type Entry struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
	URL        string    `json:"url,omitempty"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// List returns servable regular files, newest first. Names that could not be
// signed are skipped.
func List(fsys fs.FS) ([]Entry, error) {
	des, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read uploads dir: %w", err)
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		if !de.Type().IsRegular() || signedurl.ValidateFilename(de.Name()) != nil {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: de.Name(), Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}
