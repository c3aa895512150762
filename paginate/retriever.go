package paginate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dcshock/scrapepipe/fetch"
	"github.com/dcshock/scrapepipe/pipeline"
	"go.uber.org/zap"
)

const (
	// DefaultPageSize is the largest page the provider serves.
	DefaultPageSize = 1000
	// DefaultMetadataColumns is the number of provider bookkeeping values
	// leading every row.
	DefaultMetadataColumns = 8
)

// Doer performs one request. *fetch.Fetcher implements it.
type Doer interface {
	Do(ctx context.Context, req fetch.Request) (*fetch.Response, error)
}

// SchemaMismatchError reports a row whose length does not match the column
// list plus the metadata block.
type SchemaMismatchError struct {
	Offset int
	Row    int
	Got    int
	Want   int
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("page at offset %d, row %d: got %d values, want %d", e.Offset, e.Row, e.Got, e.Want)
}

// Retriever walks one dataset page by page.
type Retriever struct {
	BaseURL string
	Dataset string
	// Columns names the data values of a row in order. When empty they are
	// fetched once per walk from the dataset's columns.json.
	Columns []string
	// PageSize is the number of rows requested per page.
	PageSize int
	// MetadataColumns is the number of leading values dropped from each row.
	MetadataColumns int
	// Query, when set, switches to the inline-query endpoint: every page is a
	// POST carrying this JSON body.
	Query []byte

	doer Doer
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithColumns sets a pre-fetched column list.
func WithColumns(columns ...string) Option {
	return func(r *Retriever) { r.Columns = columns }
}

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(r *Retriever) { r.PageSize = n }
}

// WithMetadataColumns overrides DefaultMetadataColumns.
func WithMetadataColumns(n int) Option {
	return func(r *Retriever) { r.MetadataColumns = n }
}

// WithQuery sets an inline query body.
func WithQuery(query []byte) Option {
	return func(r *Retriever) { r.Query = query }
}

// New returns a retriever for dataset at baseURL. d may be nil, in which case
// requests go through the fetcher of the pipeline run found in the context.
func New(d Doer, baseURL, dataset string, opts ...Option) *Retriever {
	r := &Retriever{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		Dataset:         dataset,
		PageSize:        DefaultPageSize,
		MetadataColumns: DefaultMetadataColumns,
		doer:            d,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the retriever as a pipeline source stage.
func (r *Retriever) Source() pipeline.Stage {
	return pipeline.Generate("socrata:"+r.Dataset, func(ctx context.Context) iter.Seq2[any, error] {
		return func(yield func(any, error) bool) {
			for rec, err := range r.Records(ctx) {
				if !yield(rec, err) || err != nil {
					return
				}
			}
		}
	})
}

// Records walks the dataset from offset 0. Each call starts over and issues
// its requests again.
func (r *Retriever) Records(ctx context.Context) iter.Seq2[*pipeline.Record, error] {
	return func(yield func(*pipeline.Record, error) bool) {
		if r.PageSize <= 0 {
			yield(nil, errors.New("paginate: page size must be positive"))
			return
		}
		d, err := r.resolveDoer(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		logger := zap.NewNop()
		if run, ok := pipeline.RunFromContext(ctx); ok {
			logger = run.Logger()
		}

		columns := r.Columns
		if len(columns) == 0 {
			if columns, err = r.fetchColumns(ctx, d); err != nil {
				yield(nil, err)
				return
			}
		}
		want := len(columns) + r.MetadataColumns

		for offset := 0; ; offset += r.PageSize {
			rows, err := r.fetchPage(ctx, d, offset)
			if err != nil {
				yield(nil, err)
				return
			}
			logger.Debug("fetched page", zap.String("dataset", r.Dataset), zap.Int("offset", offset), zap.Int("rows", len(rows)))

			for i, row := range rows {
				if len(row) != want {
					yield(nil, &SchemaMismatchError{Offset: offset, Row: i, Got: len(row), Want: want})
					return
				}
			}
			for _, row := range rows {
				rec := pipeline.NewRecord()
				for i, col := range columns {
					rec.Set(col, row[r.MetadataColumns+i])
				}
				if !yield(rec, nil) {
					return
				}
			}
			if len(rows) < r.PageSize {
				return
			}
		}
	}
}

func (r *Retriever) resolveDoer(ctx context.Context) (Doer, error) {
	if r.doer != nil {
		return r.doer, nil
	}
	f, err := pipeline.FetcherFromContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("paginate: %w", err)
	}
	return f, nil
}

func (r *Retriever) fetchColumns(ctx context.Context, d Doer) ([]string, error) {
	u, err := url.JoinPath(r.BaseURL, "api", "views", r.Dataset, "columns.json")
	if err != nil {
		return nil, err
	}
	res, err := d.Do(ctx, fetch.Request{Method: http.MethodGet, URL: u})
	if err != nil {
		return nil, err
	}
	var cols []struct {
		FieldName string `json:"fieldName"`
	}
	if err := json.Unmarshal(res.Body, &cols); err != nil {
		return nil, fmt.Errorf("decode columns of %s: %w", r.Dataset, err)
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = strings.TrimSpace(c.FieldName)
	}
	return names, nil
}

func (r *Retriever) pageRequest(offset int) (fetch.Request, error) {
	if r.Query != nil {
		u, err := url.JoinPath(r.BaseURL, "views", "INLINE", "rows.json")
		if err != nil {
			return fetch.Request{}, err
		}
		q := url.Values{}
		q.Set("method", "getByIds")
		q.Set("length", strconv.Itoa(r.PageSize))
		q.Set("start", strconv.Itoa(offset))
		return fetch.Request{
			Method: http.MethodPost,
			URL:    u + "?" + q.Encode(),
			Body:   r.Query,
			Header: map[string]string{"Content-Type": "application/json"},
		}, nil
	}

	u, err := url.JoinPath(r.BaseURL, "api", "views", r.Dataset, "rows.json")
	if err != nil {
		return fetch.Request{}, err
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(r.PageSize))
	q.Set("offset", strconv.Itoa(offset))
	return fetch.Request{Method: http.MethodGet, URL: u + "?" + q.Encode()}, nil
}

func (r *Retriever) fetchPage(ctx context.Context, d Doer, offset int) ([][]any, error) {
	req, err := r.pageRequest(offset)
	if err != nil {
		return nil, err
	}
	res, err := d.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	var page struct {
		Data [][]any `json:"data"`
	}
	dec := json.NewDecoder(bytes.NewReader(res.Body))
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode page at offset %d of %s: %w", offset, r.Dataset, err)
	}
	return page.Data, nil
}
