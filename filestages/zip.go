package filestages

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"os"
	"path"

	"github.com/dcshock/scrapepipe/pipeline"
)

// Archive is an open zip archive. It is released by the Unzip stage that
// opened it.
type Archive struct {
	*zip.Reader
	closer io.Closer
}

// Close releases the archive. The file the archive was read from is owned
// by whoever handed it in and stays open.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

type statReaderAt interface {
	io.ReaderAt
	Stat() (os.FileInfo, error)
}

// OpenArchive opens a zip archive from an open file (such as a
// *fetch.TempFile), raw bytes, or a path on disk.
func OpenArchive(input any) (*Archive, error) {
	switch v := input.(type) {
	case statReaderAt:
		fi, err := v.Stat()
		if err != nil {
			return nil, err
		}
		zr, err := zip.NewReader(v, fi.Size())
		if err != nil {
			return nil, err
		}
		return &Archive{Reader: zr}, nil
	case []byte:
		zr, err := zip.NewReader(bytes.NewReader(v), int64(len(v)))
		if err != nil {
			return nil, err
		}
		return &Archive{Reader: zr}, nil
	case string:
		rc, err := zip.OpenReader(v)
		if err != nil {
			return nil, err
		}
		return &Archive{Reader: &rc.Reader, closer: rc}, nil
	}
	return nil, fmt.Errorf("input must be an open file, []byte or a path, got %T", input)
}

// Unzip returns a scoped stage that opens its input as a zip archive and
// yields the *Archive, closing it once downstream is done.
func Unzip() pipeline.Stage {
	return pipeline.Scoped("unzip", func(ctx context.Context, input any) (io.Closer, error) {
		a, err := OpenArchive(input)
		if err != nil {
			return nil, fmt.Errorf("unzip: %w", err)
		}
		return a, nil
	})
}

// Entry is one open file of an archive.
type Entry struct {
	io.Reader
	Name string
	Size int64
}

// ZipEntries returns a stage that yields an *Entry for every file of an
// incoming *Archive whose name matches pattern (path.Match syntax; empty
// matches all). Each entry is closed when downstream asks for the next one.
func ZipEntries(pattern string) pipeline.Stage {
	return pipeline.FlatMap("zip_entries", func(ctx context.Context, input any) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			a, ok := input.(*Archive)
			if !ok {
				yield(nil, fmt.Errorf("zip_entries: input must be *filestages.Archive, got %T", input))
				return
			}
			for _, f := range a.File {
				if f.FileInfo().IsDir() {
					continue
				}
				if pattern != "" {
					matched, err := path.Match(pattern, path.Base(f.Name))
					if err != nil {
						yield(nil, fmt.Errorf("zip_entries: %w", err))
						return
					}
					if !matched {
						continue
					}
				}
				rc, err := f.Open()
				if err != nil {
					yield(nil, fmt.Errorf("zip_entries: %s: %w", f.Name, err))
					return
				}
				more := yield(&Entry{Reader: rc, Name: f.Name, Size: int64(f.UncompressedSize64)}, nil)
				if err := rc.Close(); err != nil && more {
					yield(nil, fmt.Errorf("zip_entries: %s: %w", f.Name, err))
					return
				}
				if !more {
					return
				}
			}
		}
	})
}
