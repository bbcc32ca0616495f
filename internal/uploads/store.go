// Package uploads stores model files for slicing: direct uploads, zip
// archives, and models fetched from remote URLs.
package uploads

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedExtension rejects model files before any processing.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

var allowedExtensions = map[string]bool{
	".stl": true,
	".obj": true,
	".3mf": true,
	".zip": true,
}

// modelSearchOrder ranks the formats extracted from an archive.
var modelSearchOrder = []string{".3mf", ".stl", ".obj"}

var remoteModelLinkRe = regexp.MustCompile(`(?i)https?://[^"']+\.(?:3mf|stl|obj|zip)`)

// Saved describes a stored model ready for slicing.
type Saved struct {
	Path     string // absolute path on disk
	RelPath  string // path relative to the upload root, for /files URLs
	Filename string
}

// Store keeps each model in its own work directory under root, so repeated
// uploads of the same filename never collide.
type Store struct {
	root string
	http *http.Client
}

func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload root %s: %w", root, err)
	}
	return &Store{
		root: root,
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Root returns the upload root directory, for static file serving.
func (s *Store) Root() string { return s.root }

// Save stores an uploaded model. Zip archives are extracted and the best
// contained model (3mf over stl over obj) becomes the saved file.
func (s *Store) Save(filename string, r io.Reader) (Saved, error) {
	name := filepath.Base(filename)
	if name == "" || name == "." {
		name = "model"
	}
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedExtensions[ext] {
		return Saved{}, fmt.Errorf("%w: %q", ErrUnsupportedExtension, ext)
	}

	work, err := s.newWorkDir()
	if err != nil {
		return Saved{}, err
	}

	target := filepath.Join(work, name)
	f, err := os.Create(target)
	if err != nil {
		return Saved{}, fmt.Errorf("create model file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return Saved{}, fmt.Errorf("write model file: %w", err)
	}
	if err := f.Close(); err != nil {
		return Saved{}, fmt.Errorf("close model file: %w", err)
	}

	return s.finalize(work, target)
}

// FetchRemote downloads a model from a URL. When the URL points at an HTML
// page (model-hosting sites), the page is scraped for the first direct model
// link and that is downloaded instead.
func (s *Store) FetchRemote(ctx context.Context, rawURL string) (Saved, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return Saved{}, errors.New("missing model URL")
	}

	work, err := s.newWorkDir()
	if err != nil {
		return Saved{}, err
	}

	ext := strings.ToLower(path.Ext(url))
	if !allowedExtensions[ext] {
		ext = ""
	}
	target := filepath.Join(work, "remote"+ext)
	contentType, err := s.download(ctx, url, target)
	if err != nil {
		return Saved{}, err
	}

	if strings.Contains(contentType, "text/html") || !allowedExtensions[strings.ToLower(filepath.Ext(target))] {
		page, err := os.ReadFile(target)
		if err != nil {
			return Saved{}, fmt.Errorf("read downloaded page: %w", err)
		}
		link := remoteModelLinkRe.FindString(string(page))
		if link == "" {
			return Saved{}, fmt.Errorf("%w: no model link found at %s", ErrUnsupportedExtension, url)
		}
		target = filepath.Join(work, "remote"+strings.ToLower(path.Ext(link)))
		if _, err := s.download(ctx, link, target); err != nil {
			return Saved{}, err
		}
	}

	return s.finalize(work, target)
}

// Resolve maps a viewer URL or root-relative path issued by this store back
// to an absolute path, refusing anything that escapes the upload root.
func (s *Store) Resolve(ref string) (string, error) {
	rel := strings.TrimPrefix(strings.TrimSpace(ref), "/files/")
	rel = filepath.Clean("/" + rel)[1:]
	if rel == "" || rel == "." {
		return "", errors.New("empty model reference")
	}
	full := filepath.Join(s.root, rel)
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("model %q not found: %w", ref, err)
	}
	return full, nil
}

func (s *Store) newWorkDir() (string, error) {
	uid := strings.ReplaceAll(uuid.NewString(), "-", "")
	work := filepath.Join(s.root, uid)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return "", fmt.Errorf("create work directory: %w", err)
	}
	return work, nil
}

// finalize extracts archives and returns the model the slicer should load.
func (s *Store) finalize(work, target string) (Saved, error) {
	modelPath := target
	if strings.ToLower(filepath.Ext(target)) == ".zip" {
		if err := extractZip(target, work); err != nil {
			return Saved{}, err
		}
		found, err := findModel(work)
		if err != nil {
			return Saved{}, err
		}
		modelPath = found
	}

	rel, err := filepath.Rel(s.root, modelPath)
	if err != nil {
		return Saved{}, fmt.Errorf("relativize model path: %w", err)
	}
	return Saved{
		Path:     modelPath,
		RelPath:  filepath.ToSlash(rel),
		Filename: filepath.Base(modelPath),
	}, nil
}

func (s *Store) download(ctx context.Context, url, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	// Some model hosts refuse requests without a browser user agent.
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", url, resp.StatusCode)
	}

	f, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create download target: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return "", fmt.Errorf("write download: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close download: %w", err)
	}
	return strings.ToLower(resp.Header.Get("Content-Type")), nil
}

func extractZip(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, entry := range zr.File {
		cleaned := filepath.Clean(entry.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("zip entry %q escapes the work directory", entry.Name)
		}
		target := filepath.Join(dest, cleaned)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("create zip directory: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create zip parent directory: %w", err)
		}

		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open zip entry %q: %w", entry.Name, err)
		}
		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return fmt.Errorf("create zip target %q: %w", target, err)
		}
		if _, err := io.Copy(dst, src); err != nil {
			src.Close()
			dst.Close()
			return fmt.Errorf("extract zip entry %q: %w", entry.Name, err)
		}
		src.Close()
		if err := dst.Close(); err != nil {
			return fmt.Errorf("close zip target %q: %w", target, err)
		}
	}
	return nil
}

// findModel locates the best model file under root, preferring 3mf, then
// stl, then obj.
func findModel(root string) (string, error) {
	for _, ext := range modelSearchOrder {
		var found string
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ext) {
				found = p
				return fs.SkipAll
			}
			return nil
		})
		if err == nil && found != "" {
			return found, nil
		}
	}
	return "", fmt.Errorf("%w: archive contains no STL/OBJ/3MF", ErrUnsupportedExtension)
}
