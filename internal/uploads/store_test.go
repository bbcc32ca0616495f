package uploads

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestSave_STL(t *testing.T) {
	s := newTestStore(t)

	saved, err := s.Save("Benchy.stl", strings.NewReader("solid benchy"))
	require.NoError(t, err)
	require.Equal(t, "Benchy.stl", saved.Filename)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	require.Equal(t, "solid benchy", string(data))

	// RelPath must round-trip through Resolve.
	full, err := s.Resolve("/files/" + saved.RelPath)
	require.NoError(t, err)
	require.Equal(t, saved.Path, full)
}

func TestSave_SameNameTwiceDoesNotCollide(t *testing.T) {
	s := newTestStore(t)

	a, err := s.Save("part.stl", strings.NewReader("first"))
	require.NoError(t, err)
	b, err := s.Save("part.stl", strings.NewReader("second"))
	require.NoError(t, err)

	require.NotEqual(t, a.Path, b.Path)
	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	require.Equal(t, "first", string(data))
}

func TestSave_RejectsUnsupportedExtension(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"part.exe", "part.gcode", "part", "part.stl.txt"} {
		_, err := s.Save(name, strings.NewReader("x"))
		require.ErrorIs(t, err, ErrUnsupportedExtension, "name=%s", name)
	}
}

func zipArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestSave_ZipPicksBestModel(t *testing.T) {
	s := newTestStore(t)
	archive := zipArchive(t, map[string]string{
		"readme.txt":       "notes",
		"parts/case.obj":   "obj data",
		"parts/case.stl":   "stl data",
		"assembly/all.3mf": "3mf data",
	})

	saved, err := s.Save("bundle.zip", bytes.NewReader(archive))
	require.NoError(t, err)
	require.Equal(t, "all.3mf", saved.Filename)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	require.Equal(t, "3mf data", string(data))
}

func TestSave_ZipWithoutModelFails(t *testing.T) {
	s := newTestStore(t)
	archive := zipArchive(t, map[string]string{"readme.txt": "nothing here"})

	_, err := s.Save("bundle.zip", bytes.NewReader(archive))
	require.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestSave_ZipRejectsEscapingEntries(t *testing.T) {
	s := newTestStore(t)
	archive := zipArchive(t, map[string]string{"../evil.stl": "payload"})

	_, err := s.Save("bundle.zip", bytes.NewReader(archive))
	require.Error(t, err)

	// Nothing may have escaped the work directory into the upload root.
	_, statErr := os.Stat(filepath.Join(s.Root(), "evil.stl"))
	require.True(t, os.IsNotExist(statErr))
}

func TestResolve_RefusesEscape(t *testing.T) {
	s := newTestStore(t)

	for _, ref := range []string{"../../etc/passwd", "/files/../../etc/passwd", "", "/files/"} {
		_, err := s.Resolve(ref)
		require.Error(t, err, "ref=%s", ref)
	}
}

func TestFetchRemote_DirectModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("solid remote"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	saved, err := s.FetchRemote(context.Background(), srv.URL+"/things/part.stl")
	require.NoError(t, err)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	require.Equal(t, "solid remote", string(data))
}

func TestFetchRemote_ScrapesHTMLPageForModelLink(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/model/123":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(`<html><a href="` + srvURL + `/dl/part.stl">Download</a></html>`))
		case "/dl/part.stl":
			w.Write([]byte("solid scraped"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	srvURL = srv.URL

	s := newTestStore(t)
	saved, err := s.FetchRemote(context.Background(), srv.URL+"/model/123")
	require.NoError(t, err)

	data, err := os.ReadFile(saved.Path)
	require.NoError(t, err)
	require.Equal(t, "solid scraped", string(data))
}

func TestFetchRemote_PageWithoutModelLinkFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>no downloads here</html>"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	_, err := s.FetchRemote(context.Background(), srv.URL+"/page")
	require.ErrorIs(t, err, ErrUnsupportedExtension)
}

func TestFetchRemote_EmptyURL(t *testing.T) {
	s := newTestStore(t)
	_, err := s.FetchRemote(context.Background(), "   ")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrUnsupportedExtension))
}
