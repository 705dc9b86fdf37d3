// Package storage holds the blob stores file content is written to. Stores
// hand out opaque references; metadata lives elsewhere.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

var ErrBlobNotFound = errors.New("blob not found")

// Disk keeps blobs as files named by random uuids under a root directory.
type Disk struct {
	root string
}

func NewDisk(root string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{root: root}, nil
}

func (d *Disk) path(ref string) (string, error) {
	if _, err := uuid.Parse(ref); err != nil {
		return "", fmt.Errorf("%w: malformed ref %q", ErrBlobNotFound, ref)
	}
	return filepath.Join(d.root, ref), nil
}

// Put writes r to a temp file and renames it into place, so a blob is
// either complete or absent.
func (d *Disk) Put(ctx context.Context, r io.Reader, size int64, _ string) (string, error) {
	ref := uuid.NewString()
	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, readerWithContext(ctx, r))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("write blob: got %d bytes, expected %d", n, size)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(d.root, ref)); err != nil {
		return "", fmt.Errorf("store blob: %w", err)
	}
	return ref, nil
}

func (d *Disk) Get(_ context.Context, ref string) (io.ReadCloser, error) {
	p, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (d *Disk) Delete(_ context.Context, ref string) error {
	p, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
