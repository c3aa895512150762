package fetch

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
)

// TempFile is a downloaded payload on local disk. Close closes the handle
// and removes the file; calling it more than once is safe.
type TempFile struct {
	*os.File
	closed bool
}

// Close implements io.Closer.
func (t *TempFile) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	err := t.File.Close()
	if rerr := os.Remove(t.File.Name()); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = rerr
	}
	return err
}

// GetToFile downloads url into a temp file positioned at offset 0.
func (f *Fetcher) GetToFile(ctx context.Context, url string) (*TempFile, error) {
	return f.DoToFile(ctx, Request{Method: http.MethodGet, URL: url})
}

// DoToFile performs req and writes the body to a temp file. Live requests
// are streamed; in replay mode the body goes through Do so it is cached
// like any other response.
func (f *Fetcher) DoToFile(ctx context.Context, req Request) (*TempFile, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if f.store != nil {
		res, err := f.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		return f.tempFile(bytes.NewReader(res.Body))
	}

	res, err := f.request(ctx, req).SetDoNotParseResponse(true).Execute(req.Method, req.URL)
	if err != nil {
		return nil, &FetchError{Method: req.Method, URL: req.URL, Err: err}
	}
	body := res.RawBody()
	defer body.Close()
	if !res.IsSuccess() {
		return nil, &FetchError{Method: req.Method, URL: req.URL, Status: res.StatusCode()}
	}
	tf, err := f.tempFile(body)
	if err != nil {
		return nil, &FetchError{Method: req.Method, URL: req.URL, Err: err}
	}
	return tf, nil
}

func (f *Fetcher) tempFile(r io.Reader) (*TempFile, error) {
	file, err := os.CreateTemp(f.tempDir, "scrapepipe-*")
	if err != nil {
		return nil, err
	}
	tf := &TempFile{File: file}
	if _, err := io.Copy(file, r); err != nil {
		tf.Close()
		return nil, err
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		tf.Close()
		return nil, err
	}
	return tf, nil
}
