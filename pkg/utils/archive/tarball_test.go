package archive_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/TencentBlueKing/bkpaas/pkg/utils/archive"
)

func TestTarAndUntar(t *testing.T) {
	ctx := context.Background()

	root := t.TempDir()
	files := map[string]string{
		"Procfile":           "web: gunicorn wsgi",
		"app/main.py":        "print('hello')",
		"app/static/app.css": "",
	}
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Symlink("app/main.py", filepath.Join(root, "entry.py")); err != nil {
		t.Fatal(err)
	}

	buf := new(bytes.Buffer)
	tarred := archive.GoTar(ctx, root, buf)
	<-tarred.Done()
	if err := tarred.Error(); err != nil {
		t.Fatal(err)
	}
	if actual, expect := tarred.Written(), int64(len("web: gunicorn wsgi")+len("print('hello')")); actual != expect {
		t.Errorf("written: actual=%d, expect=%d", actual, expect)
	}

	dest := t.TempDir()
	untarred := archive.GoUntar(ctx, buf, dest)
	<-untarred.Done()
	if err := untarred.Error(); err != nil {
		t.Fatal(err)
	}

	for name, expect := range files {
		actual, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if string(actual) != expect {
			t.Errorf("%s: actual=%q, expect=%q", name, actual, expect)
		}
	}
	if link, err := os.Readlink(filepath.Join(dest, "entry.py")); err != nil {
		t.Errorf("entry.py: %v", err)
	} else if link != "app/main.py" {
		t.Errorf("entry.py: actual=%s, expect=%s", link, "app/main.py")
	}
}

func TestGoTar_NonExistingRoot(t *testing.T) {
	prog := archive.GoTar(context.Background(), filepath.Join(t.TempDir(), "missing"), io.Discard)
	<-prog.Done()
	if err := prog.Error(); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error: actual=%v, expect=%v", err, os.ErrNotExist)
	}
}

func TestGoUntar_RejectsEntriesOutOfDestination(t *testing.T) {
	for _, name := range []string{"../escaped", "a/../../escaped"} {
		t.Run(name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			tw := tar.NewWriter(buf)
			if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: 1, Typeflag: tar.TypeReg}); err != nil {
				t.Fatal(err)
			}
			if _, err := tw.Write([]byte("x")); err != nil {
				t.Fatal(err)
			}
			if err := tw.Close(); err != nil {
				t.Fatal(err)
			}

			base := t.TempDir()
			dest := filepath.Join(base, "dest")
			prog := archive.GoUntar(context.Background(), buf, dest)
			<-prog.Done()
			if err := prog.Error(); !errors.Is(err, archive.ErrOutOfDestination) {
				t.Errorf("error: actual=%v, expect=%v", err, archive.ErrOutOfDestination)
			}
			if _, err := os.Stat(filepath.Join(base, "escaped")); !errors.Is(err, os.ErrNotExist) {
				t.Errorf("escaped file is created: %v", err)
			}
		})
	}
}

func TestTarGzWalk(t *testing.T) {
	buf := new(bytes.Buffer)
	gz := gzip.NewWriter(buf)
	tw := tar.NewWriter(gz)
	entries := []struct {
		name    string
		content string
	}{
		{name: "first", content: "1"},
		{name: "second", content: "22"},
		{name: "third", content: "333"},
	}
	for _, e := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: e.name, Mode: 0644, Size: int64(len(e.content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	packed := buf.Bytes()

	t.Run("it visits all entries", func(t *testing.T) {
		actual := map[string]string{}
		if err := archive.TarGzWalk(bytes.NewReader(packed), func(h *tar.Header, payload io.Reader, err error) error {
			if err != nil {
				return err
			}
			b, err := io.ReadAll(payload)
			if err != nil {
				return err
			}
			actual[h.Name] = string(b)
			return nil
		}); err != nil {
			t.Fatal(err)
		}
		if len(actual) != len(entries) {
			t.Errorf("entries: actual=%v, expect=%v", actual, entries)
		}
		for _, e := range entries {
			if actual[e.name] != e.content {
				t.Errorf("%s: actual=%q, expect=%q", e.name, actual[e.name], e.content)
			}
		}
	})

	t.Run("it stops on WalkBreak", func(t *testing.T) {
		visited := 0
		if err := archive.TarGzWalk(bytes.NewReader(packed), func(*tar.Header, io.Reader, error) error {
			visited++
			return archive.WalkBreak()
		}); err != nil {
			t.Fatal(err)
		}
		if visited != 1 {
			t.Errorf("visited: actual=%d, expect=1", visited)
		}
	})

	t.Run("it returns errors from walker", func(t *testing.T) {
		expect := errors.New("fake error")
		if err := archive.TarGzWalk(bytes.NewReader(packed), func(*tar.Header, io.Reader, error) error {
			return expect
		}); !errors.Is(err, expect) {
			t.Errorf("error: actual=%v, expect=%v", err, expect)
		}
	})
}
