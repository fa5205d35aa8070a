package table

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/zclconf/go-cty/cty"
)

func TestReadCSV(t *testing.T) {
	in := "\ufeff,id,price,last_review\n0,1,50,2019-01-01\n1,2,150,\n"

	tbl, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"", "id", "price", "last_review"}, tbl.Schema.Names())
	require.Equal(t, 2, tbl.Len())
	assert.True(t, tbl.Rows[0][2].RawEquals(TextVal("50")))
	assert.True(t, tbl.Rows[1][3].IsNull(), "empty field should decode to null")
	assert.True(t, tbl.Rows[1][3].Type().Equals(Text))
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty input", in: ""},
		{name: "duplicate header", in: "a,a\n1,2\n"},
		{name: "ragged row", in: "a,b\n1,2,3\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.ErrorIs(t, err, steperr.ErrIO)
		})
	}
}

func TestWriteCSV_FormatsTypedCells(t *testing.T) {
	tbl := New(Schema{
		{Name: "name", Type: cty.String},
		{Name: "price", Type: cty.Number},
		{Name: "last_review", Type: Date},
	})
	require.NoError(t, tbl.Append(Row{cty.StringVal("a, b"), cty.NumberIntVal(50), DateVal(time.Date(2019, 3, 5, 13, 0, 0, 0, time.UTC))}))
	require.NoError(t, tbl.Append(Row{cty.NullVal(cty.String), cty.NumberFloatVal(99.5), cty.NullVal(Date)}))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))

	want := "name,price,last_review\n\"a, b\",50,2019-03-05\n,99.5,\n"
	assert.Equal(t, want, buf.String())
}

func TestFileRoundTripKeepsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	src := "id,price,last_review\n1,50,2019-01-01\n2,,\n"

	tbl, err := ReadCSV(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, tbl))

	back, err := ReadFile(path)
	require.NoError(t, err)

	want, err := tbl.Strings()
	require.NoError(t, err)
	got, err := back.Strings()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCSVRoundTripKeepsBytes(t *testing.T) {
	// "Café Angèle" with combining accents, which NFC would compose.
	name := "Cafe\u0301 Ange\u0300le"
	src := "name,price\n" + name + ",50\n"

	tbl, err := ReadCSV(strings.NewReader(src))
	require.NoError(t, err)

	got, ok := AsText(tbl.Rows[0][0])
	require.True(t, ok)
	assert.Equal(t, []byte(name), []byte(got))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, tbl))
	assert.Equal(t, src, buf.String())
}

func TestTextEquality(t *testing.T) {
	assert.True(t, TextVal("a").RawEquals(TextVal("a")))
	assert.True(t, TextVal("a").Equals(TextVal("a")).True())
	assert.False(t, TextVal("e\u0301").RawEquals(TextVal("\u00e9")))

	_, ok := AsText(cty.NullVal(Text))
	assert.False(t, ok)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, steperr.ErrIO)
}

func TestDateEquality(t *testing.T) {
	a := DateVal(time.Date(2019, 3, 5, 0, 0, 0, 0, time.UTC))
	b := DateVal(time.Date(2019, 3, 5, 23, 59, 0, 0, time.UTC))

	assert.True(t, a.RawEquals(b))
	assert.True(t, a.Equals(b).True())

	d, ok := AsDate(a)
	require.True(t, ok)
	assert.Equal(t, time.March, d.Month())

	_, ok = AsDate(cty.NullVal(Date))
	assert.False(t, ok)
}

func TestAppendRejectsWrongWidth(t *testing.T) {
	tbl := New(Schema{{Name: "a", Type: Text}})
	assert.Error(t, tbl.Append(Row{TextVal("x"), TextVal("y")}))
}
