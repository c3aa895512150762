package filestages

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dcshock/scrapepipe/fetch"
	"github.com/dcshock/scrapepipe/httpstages"
	"github.com/dcshock/scrapepipe/pipeline"
	"github.com/stretchr/testify/require"
)

func zipOf(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = io.WriteString(w, files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestZipEntries_Pattern(t *testing.T) {
	data := zipOf(t, map[string]string{
		"export/permits.csv": "id\n1\n",
		"export/README.txt":  "readme",
		"export/fees.csv":    "id\n2\n",
	}, "export/permits.csv", "export/README.txt", "export/fees.csv")

	var names []string
	record := pipeline.Tap(func(_ context.Context, v any) { names = append(names, v.(*Entry).Name) })
	out, err := runStages(t, nil, pipeline.Values(data), Unzip(), ZipEntries("*.csv"), record, ParseCSV())
	require.NoError(t, err)
	require.Equal(t, []string{"export/permits.csv", "export/fees.csv"}, names)
	require.Equal(t, []map[string]any{{"id": "1"}, {"id": "2"}}, recordMaps(t, out))
}

func TestZipEntries_WrongInput(t *testing.T) {
	_, err := runStages(t, nil, pipeline.Values("not an archive"), ZipEntries(""))
	require.ErrorContains(t, err, "zip_entries")
}

func TestOpenArchive_Path(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.zip")
	require.NoError(t, os.WriteFile(p, zipOf(t, map[string]string{"x.txt": "x"}, "x.txt"), 0o600))

	a, err := OpenArchive(p)
	require.NoError(t, err)
	require.Len(t, a.File, 1)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestUnzip_NotAZip(t *testing.T) {
	_, err := runStages(t, nil, pipeline.Values([]byte("plain text")), Unzip())
	require.True(t, errors.Is(err, zip.ErrFormat), "got %v", err)
}

func TestDownloadedArchive(t *testing.T) {
	data := zipOf(t, map[string]string{"rows.csv": "name,count\nparks,3\nlibraries,7\n"}, "rows.csv")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		w.Write(data)
	}))
	defer srv.Close()

	tmp := t.TempDir()
	opts := &pipeline.RunOptions{FetchOptions: []fetch.Option{fetch.WithTempDir(tmp)}}
	out, err := runStages(t, opts,
		pipeline.Values(srv.URL+"/export.zip"),
		httpstages.DownloadFile(),
		Unzip(),
		ZipEntries(""),
		ParseCSV(),
	)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{
		{"name": "parks", "count": "3"},
		{"name": "libraries", "count": "7"},
	}, recordMaps(t, out))

	left, err := os.ReadDir(tmp)
	require.NoError(t, err)
	require.Empty(t, left, "downloaded archive must be removed after the run")
}
