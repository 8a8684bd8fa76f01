package playlist

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cbegin/nbsplay-go/internal/nbs"
)

// maxDownload bounds HTTPEntry reads.
const maxDownload = 64 << 20

// Entry is one queued song source.
type Entry interface {
	Read(ctx context.Context) (*nbs.Song, error)
	// Key names the source, e.g. its path or URL, for listings. The playlist
	// tracks queued items by their own identity, so two entries with the same
	// Key are still distinct items.
	Key() string
	String() string
}

// FileEntry reads an .nbs file from disk.
type FileEntry struct {
	Path string
}

func (e FileEntry) Read(ctx context.Context) (*nbs.Song, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return nil, err
	}
	song, err := nbs.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Path, err)
	}
	return song, nil
}

func (e FileEntry) Key() string    { return e.Path }
func (e FileEntry) String() string { return filepath.Base(e.Path) }

// HTTPEntry downloads an .nbs file. A nil Client uses http.DefaultClient.
type HTTPEntry struct {
	URL    string
	Client *http.Client
}

func (e HTTPEntry) Read(ctx context.Context) (*nbs.Song, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.URL, nil)
	if err != nil {
		return nil, err
	}
	client := e.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s: unexpected status %s", e.URL, resp.Status)
	}
	song, err := nbs.DecodeReader(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.URL, err)
	}
	return song, nil
}

func (e HTTPEntry) Key() string { return e.URL }

func (e HTTPEntry) String() string {
	u, err := url.Parse(e.URL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return e.URL
	}
	name := path.Base(u.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

// SongEntry wraps an already decoded song.
type SongEntry struct {
	Name string
	Song *nbs.Song
}

func (e SongEntry) Read(ctx context.Context) (*nbs.Song, error) {
	if e.Song == nil {
		return nil, fmt.Errorf("playlist: %s has no song", e.Name)
	}
	return e.Song, nil
}

func (e SongEntry) Key() string { return "song:" + e.Name }

func (e SongEntry) String() string {
	if e.Song == nil {
		return e.Name
	}
	return e.Song.Title(e.Name)
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func isManifest(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

// EntriesFromPaths turns command line arguments into entries. Directories
// expand to their .nbs files in name order, manifests to their entries,
// URLs to HTTPEntry values, and anything else to a FileEntry.
func EntriesFromPaths(paths []string) ([]Entry, error) {
	return expandPaths(paths, 0)
}

func expandPaths(paths []string, depth int) ([]Entry, error) {
	var out []Entry
	for _, p := range paths {
		if isURL(p) {
			out = append(out, HTTPEntry{URL: p})
			continue
		}
		if isManifest(p) {
			m, err := loadManifestFile(p, depth)
			if err != nil {
				return nil, err
			}
			out = append(out, m.Files...)
			continue
		}
		// unreadable files are left to fail when played
		info, err := os.Stat(p)
		if err != nil || !info.IsDir() {
			out = append(out, FileEntry{Path: p})
			continue
		}
		dir, err := os.ReadDir(p)
		if err != nil {
			return nil, err
		}
		for _, de := range dir {
			if de.IsDir() || !strings.EqualFold(filepath.Ext(de.Name()), ".nbs") {
				continue
			}
			out = append(out, FileEntry{Path: filepath.Join(p, de.Name())})
		}
	}
	return out, nil
}
