package filestages

import (
	"strings"
	"testing"

	"github.com/dcshock/scrapepipe/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const permits = "\ufeffpermit,address,fee\n101,12 Main St,40\n102,\"9 Elm St, Apt 2\",\n103,1 Oak Ave\n"

func TestParseCSV_Records(t *testing.T) {
	out, err := runStages(t, nil, pipeline.Values(permits), ParseCSV())
	require.NoError(t, err)
	want := []map[string]any{
		{"permit": "101", "address": "12 Main St", "fee": "40"},
		{"permit": "102", "address": "9 Elm St, Apt 2", "fee": ""},
		{"permit": "103", "address": "1 Oak Ave", "fee": nil},
	}
	if diff := cmp.Diff(want, recordMaps(t, out)); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
	require.Equal(t, []string{"permit", "address", "fee"}, out[0].(*pipeline.Record).Keys())
}

func TestParseCSV_RawRowsAndComma(t *testing.T) {
	out, err := runStages(t, nil, pipeline.Values([]byte("a;b\n1;2\n")), ParseCSV(RawRows(), Comma(';')))
	require.NoError(t, err)
	require.Equal(t, []any{[]string{"a", "b"}, []string{"1", "2"}}, out)
}

func TestParseCSV_Header(t *testing.T) {
	out, err := runStages(t, nil, pipeline.Values(strings.NewReader("1,x\n2,y\n")), ParseCSV(Header("id", "name")))
	require.NoError(t, err)
	want := []map[string]any{{"id": "1", "name": "x"}, {"id": "2", "name": "y"}}
	if diff := cmp.Diff(want, recordMaps(t, out)); diff != "" {
		t.Errorf("records (-want +got):\n%s", diff)
	}
}

func TestParseCSV_RowLongerThanHeader(t *testing.T) {
	out, err := runStages(t, nil, pipeline.Values("a,b\n1,2\n1,2,3\n"), ParseCSV())
	require.ErrorContains(t, err, "line 3 has 3 fields, header has 2")
	require.Len(t, out, 1)
}

func TestParseCSV_StopsReadingWithDownstream(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("n\n")
	for i := 0; i < 1000; i++ {
		sb.WriteString("1\n")
	}
	out, err := runStages(t, nil, pipeline.Values(sb.String()), ParseCSV(), pipeline.Limit(2))
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestParseCSV_BadInput(t *testing.T) {
	_, err := runStages(t, nil, pipeline.Values(42), ParseCSV())
	require.ErrorContains(t, err, "parse_csv")
}
