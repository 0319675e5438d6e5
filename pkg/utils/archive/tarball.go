package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Progress reports a tar or untar running in background.
type Progress interface {
	// Written returns the size of file contents written so far (not compressed).
	Written() int64

	// Current returns the name of the entry which is being processed.
	Current() string

	// Error returns error caused during processing.
	//
	// It is meaningful after Done is closed.
	Error() error

	// Done returns a channel which is closed when processing is done.
	Done() <-chan struct{}
}

type progress struct {
	written int64
	current string
	err     error
	done    chan struct{}
}

func (p *progress) Written() int64 {
	return p.written
}

func (p *progress) Current() string {
	return p.current
}

func (p *progress) Error() error {
	return p.err
}

func (p *progress) Done() <-chan struct{} {
	return p.done
}

func finished(err error) Progress {
	p := &progress{err: err, done: make(chan struct{})}
	close(p.done)
	return p
}

// GoTar writes files under root into dest as a tar stream, in background goroutine.
//
// Symlinks are archived as symlinks. Entry names are relative to root.
func GoTar(ctx context.Context, root string, dest io.Writer) Progress {
	absroot, err := filepath.Abs(root)
	if err != nil {
		return finished(err)
	}
	if _, err := os.Stat(absroot); err != nil {
		return finished(err)
	}

	prog := &progress{done: make(chan struct{})}
	go func() {
		defer close(prog.done)
		tw := tar.NewWriter(dest)
		w := &countingWriter{dest: tw, prog: prog}

		err := filepath.WalkDir(absroot, func(fullpath string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if fullpath == absroot {
				return nil
			}
			relpath, err := filepath.Rel(absroot, fullpath)
			if err != nil {
				return err
			}
			prog.current = relpath

			fi, err := d.Info()
			if err != nil {
				return err
			}
			linkname := ""
			if fi.Mode()&os.ModeSymlink != 0 {
				if linkname, err = os.Readlink(fullpath); err != nil {
					return err
				}
			}
			hdr, err := tar.FileInfoHeader(fi, linkname)
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(relpath)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if !fi.Mode().IsRegular() {
				return nil
			}

			f, err := os.Open(fullpath)
			if err != nil {
				return err
			}
			defer f.Close()
			_, err = io.Copy(w, &ctxReader{ctx: ctx, r: f})
			return err
		})
		if err != nil {
			prog.err = err
			return
		}
		prog.err = tw.Close()
	}()
	return prog
}

// ErrOutOfDestination is returned when an entry of a tarball points outside of the destination.
var ErrOutOfDestination = errors.New("entry is out of the destination")

// GoUntar extracts a tar stream into dest, in background goroutine.
//
// Regular files, directories and symlinks are extracted. Other entries are skipped.
func GoUntar(ctx context.Context, src io.Reader, dest string) Progress {
	prog := &progress{done: make(chan struct{})}
	go func() {
		defer close(prog.done)
		tr := tar.NewReader(src)
		for {
			if err := ctx.Err(); err != nil {
				prog.err = err
				return
			}
			hdr, err := tr.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				prog.err = err
				return
			}
			if hdr.Name == "" {
				continue
			}
			prog.current = hdr.Name

			fullpath := filepath.Join(dest, filepath.FromSlash(hdr.Name))
			if rel, err := filepath.Rel(dest, fullpath); err != nil || !filepath.IsLocal(rel) {
				prog.err = fmt.Errorf("%s: %w", hdr.Name, ErrOutOfDestination)
				return
			}

			switch hdr.Typeflag {
			case tar.TypeDir:
				if err := os.MkdirAll(fullpath, 0755); err != nil {
					prog.err = err
					return
				}
			case tar.TypeSymlink:
				if err := os.MkdirAll(filepath.Dir(fullpath), 0755); err != nil {
					prog.err = err
					return
				}
				if err := os.Symlink(hdr.Linkname, fullpath); err != nil {
					prog.err = err
					return
				}
			case tar.TypeReg:
				if err := extract(ctx, tr, hdr, fullpath, prog); err != nil {
					prog.err = err
					return
				}
			}
		}
	}()
	return prog
}

func extract(ctx context.Context, r io.Reader, hdr *tar.Header, fullpath string, prog *progress) error {
	if err := os.MkdirAll(filepath.Dir(fullpath), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(fullpath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode).Perm())
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(&countingWriter{dest: f, prog: prog}, &ctxReader{ctx: ctx, r: r})
	return err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

type countingWriter struct {
	dest io.Writer
	prog *progress
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.dest.Write(p)
	w.prog.written += int64(n)
	return n, err
}

type walkBreak struct{}

func (walkBreak) Error() string {
	return "walk break"
}

// WalkBreak is returned by TarWalker to stop walking without error.
func WalkBreak() error {
	return walkBreak{}
}

// TarWalker handles an entry of tarball.
//
// payload reads the content of the entry. err is never io.EOF.
type TarWalker func(header *tar.Header, payload io.Reader, err error) error

// TarGzWalk traverses entries of a tar.gz stream. It does not close from.
func TarGzWalk(from io.Reader, walker TarWalker) error {
	gz, err := gzip.NewReader(from)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err := walker(header, tr, err); err != nil {
			if errors.Is(err, walkBreak{}) {
				return nil
			}
			return err
		}
	}
}
