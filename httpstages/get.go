package httpstages

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/dcshock/scrapepipe/fetch"
	"github.com/dcshock/scrapepipe/pipeline"
)

// requestFrom turns a stage input into a request. Accepted inputs are a URL
// string, a fetch.Request or a *fetch.Request.
func requestFrom(input any) (fetch.Request, error) {
	switch v := input.(type) {
	case string:
		return fetch.Request{Method: http.MethodGet, URL: v}, nil
	case fetch.Request:
		return v, nil
	case *fetch.Request:
		if v != nil {
			return *v, nil
		}
	}
	return fetch.Request{}, fmt.Errorf("input must be a URL string or fetch.Request, got %T", input)
}

// Get returns a source stage that fetches url once through the run's fetcher
// and yields the body as a string.
func Get(url string) pipeline.Stage {
	return pipeline.Generate("get", func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			f, err := pipeline.FetcherFromContext(ctx)
			if err != nil {
				yield(nil, err)
				return
			}
			res, err := f.Get(ctx, url)
			if err != nil {
				yield(nil, err)
				return
			}
			yield(string(res.Body), nil)
		}
	})
}

// Download returns a stage that fetches its input (see requestFrom) through
// the run's fetcher and outputs the body as a string. In replay mode the body
// comes from the cache when present.
func Download() pipeline.Stage {
	return pipeline.Transform("download", func(ctx context.Context, input any) (any, error) {
		req, err := requestFrom(input)
		if err != nil {
			return nil, err
		}
		f, err := pipeline.FetcherFromContext(ctx)
		if err != nil {
			return nil, err
		}
		res, err := f.Do(ctx, req)
		if err != nil {
			return nil, err
		}
		return string(res.Body), nil
	})
}

// DownloadThrottled is Download for servers that refuse requests while rate
// limiting: non-2xx answers are retried after the waits of b, and the run
// fails with *fetch.ThrottleExceededError once b is used up.
func DownloadThrottled(b fetch.Backoff) pipeline.Stage {
	return pipeline.Transform("download_throttled", func(ctx context.Context, input any) (any, error) {
		req, err := requestFrom(input)
		if err != nil {
			return nil, err
		}
		f, err := pipeline.FetcherFromContext(ctx)
		if err != nil {
			return nil, err
		}
		body, err := f.DoThrottled(ctx, req, b)
		if err != nil {
			return nil, err
		}
		return string(body), nil
	})
}

// DownloadFile returns a scoped stage that streams its input to a temp file.
// The *fetch.TempFile is closed and removed once downstream is done with it.
func DownloadFile() pipeline.Stage {
	return pipeline.Scoped("download_file", func(ctx context.Context, input any) (io.Closer, error) {
		req, err := requestFrom(input)
		if err != nil {
			return nil, err
		}
		f, err := pipeline.FetcherFromContext(ctx)
		if err != nil {
			return nil, err
		}
		tf, err := f.DoToFile(ctx, req)
		if err != nil {
			return nil, err
		}
		return tf, nil
	})
}
