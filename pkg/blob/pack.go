package blob

import (
	"compress/gzip"
	"context"
	"io"
	"os"

	"github.com/TencentBlueKing/bkpaas/pkg/utils/archive"
	xe "github.com/TencentBlueKing/bkpaas/pkg/errors"
)

// Pack writes files under root into w as a tar.gz.
func Pack(ctx context.Context, root string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	prog := archive.GoTar(ctx, root, gz)
	select {
	case <-prog.Done():
	case <-ctx.Done():
		<-prog.Done()
	}
	if err := prog.Error(); err != nil {
		return xe.Wrap(err)
	}
	return xe.Wrap(gz.Close())
}

// PackAndPut packs files under root, and uploads them as key.
//
// The tarball is spooled to a temporary file, because uploads need the size of the body.
func PackAndPut(ctx context.Context, store Store, root string, key string) (int64, error) {
	spool, err := os.CreateTemp("", "bkpaas-source-*.tar.gz")
	if err != nil {
		return 0, xe.Wrap(err)
	}
	defer os.Remove(spool.Name())
	defer spool.Close()

	if err := Pack(ctx, root, spool); err != nil {
		return 0, err
	}
	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, xe.Wrap(err)
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return 0, xe.Wrap(err)
	}
	if err := store.Put(ctx, key, spool, size); err != nil {
		return 0, err
	}
	return size, nil
}

// Unpack extracts a tar.gz read from r into dest.
func Unpack(ctx context.Context, r io.Reader, dest string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return xe.Wrap(err)
	}
	defer gz.Close()
	prog := archive.GoUntar(ctx, gz, dest)
	select {
	case <-prog.Done():
	case <-ctx.Done():
		<-prog.Done()
	}
	return xe.Wrap(prog.Error())
}
