package clean

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/table"
	"github.com/zclconf/go-cty/cty"
)

// mustTable decodes CSV text, failing the test on error.
func mustTable(t *testing.T, csv string) table.Table {
	t.Helper()
	tbl, err := table.ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)
	return tbl
}

func mustStrings(t *testing.T, tbl table.Table) [][]string {
	t.Helper()
	s, err := tbl.Strings()
	require.NoError(t, err)
	return s
}

func TestClean_EndToEndScenario(t *testing.T) {
	in := mustTable(t, "price,last_review\n50,2019-01-01\n150,2019-02-02\n999,\n")

	out, err := Clean(in, 50, 200)
	require.NoError(t, err)

	want := [][]string{
		{"50", "2019-01-01"},
		{"150", "2019-02-02"},
	}
	if diff := cmp.Diff(want, mustStrings(t, out)); diff != "" {
		t.Errorf("unexpected output (-want +got):\n%s", diff)
	}

	d, ok := table.AsDate(out.Rows[1][1])
	require.True(t, ok)
	assert.Equal(t, time.Date(2019, 2, 2, 0, 0, 0, 0, time.UTC), d)
}

func TestClean_BoundsAreInclusive(t *testing.T) {
	in := mustTable(t, "price,last_review\n9.99,\n10,\n20,\n20.01,\n")

	out, err := Clean(in, 10, 20)
	require.NoError(t, err)

	require.Equal(t, 2, out.Len())
	assert.Equal(t, [][]string{{"10", ""}, {"20", ""}}, mustStrings(t, out))
}

func TestClean_ExcludesNonNumericPrices(t *testing.T) {
	in := mustTable(t, "price,last_review\n,2019-01-01\nabc,2019-01-01\n 15 ,2019-01-01\n")

	res, err := Apply(in, Options{MinPrice: 0, MaxPrice: 100})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"15", "2019-01-01"}}, mustStrings(t, res.Table))
	assert.Equal(t, Stats{InputRows: 3, KeptRows: 1, DroppedRows: 2}, res.Stats)
}

func TestClean_DateWithoutYearIsNull(t *testing.T) {
	for _, raw := range []string{"3:04", "1/1", "1.1.1.1", "12:30:45", "0000-01-01"} {
		t.Run(raw, func(t *testing.T) {
			got := normalizeDate(table.TextVal(raw))
			assert.True(t, got.IsNull(), "%q normalized to %#v", raw, got)
			assert.True(t, got.Type().Equals(table.Date))
		})
	}
}

func TestClean_KeepsUntouchedCellsByteForByte(t *testing.T) {
	name := "Cafe\u0301 Ange\u0300le"
	in := mustTable(t, "name,price,last_review\n"+name+",50,2019-01-01\n")

	out, err := Clean(in, 0, 100)
	require.NoError(t, err)

	var buf strings.Builder
	require.NoError(t, table.WriteCSV(&buf, out))
	assert.Equal(t, "name,price,last_review\n"+name+",50,2019-01-01\n", buf.String())
}

func TestClean_DateNormalization(t *testing.T) {
	in := mustTable(t, "price,last_review\n1,2019-03-05\n1,\n1,??\n1,03/05/2019\n1,3:04\n1,1/1\n")

	res, err := Apply(in, Options{MinPrice: 0, MaxPrice: 10})
	require.NoError(t, err)
	require.Equal(t, 6, res.Table.Len())

	d, ok := table.AsDate(res.Table.Rows[0][1])
	require.True(t, ok)
	assert.Equal(t, time.Date(2019, 3, 5, 0, 0, 0, 0, time.UTC), d)

	assert.True(t, res.Table.Rows[1][1].IsNull())
	assert.True(t, res.Table.Rows[2][1].IsNull(), "unparseable text should become a null date")
	assert.True(t, res.Table.Rows[3][1].Type().Equals(table.Date))
	assert.False(t, res.Table.Rows[3][1].IsNull())
	assert.True(t, res.Table.Rows[4][1].IsNull(), "a time of day is not a date")
	assert.True(t, res.Table.Rows[5][1].IsNull(), "a date without a year is not a date")
	assert.Equal(t, 4, res.Stats.NullDates)

	for _, row := range res.Table.Rows {
		assert.True(t, row[1].Type().Equals(table.Date), "date column must be homogeneously typed")
	}
}

func TestClean_SchemaPreservedAndRetyped(t *testing.T) {
	in := mustTable(t, ",id,price,last_review,name\n0,7,12,2020-01-01,x\n")

	out, err := Clean(in, 0, 100)
	require.NoError(t, err)

	assert.Equal(t, in.Schema.Names(), out.Schema.Names())
	assert.Equal(t, cty.Number, out.Schema[2].Type)
	assert.True(t, out.Schema[3].Type.Equals(table.Date))
	assert.True(t, out.Schema[1].Type.Equals(table.Text))
}

func TestClean_DoesNotMutateInput(t *testing.T) {
	in := mustTable(t, "price,last_review\n5,2019-01-01\n500,2019-01-02\n")
	before := mustStrings(t, in)

	out, err := Clean(in, 0, 10)
	require.NoError(t, err)
	out.Rows[0][0] = cty.NumberIntVal(1)

	assert.Equal(t, before, mustStrings(t, in))
	assert.True(t, in.Schema[0].Type.Equals(table.Text))
}

func TestClean_ValidationErrors(t *testing.T) {
	in := mustTable(t, "price,last_review\n1,\n")

	tests := []struct {
		name string
		opts Options
		kind error
	}{
		{name: "inverted bounds", opts: Options{MinPrice: 10, MaxPrice: 1}, kind: steperr.ErrValidation},
		{name: "nan bound", opts: Options{MinPrice: math.NaN(), MaxPrice: 1}, kind: steperr.ErrValidation},
		{name: "same column", opts: Options{MaxPrice: 1, PriceColumn: "price", DateColumn: "price"}, kind: steperr.ErrValidation},
		{name: "missing column", opts: Options{MaxPrice: 1, DateColumn: "reviewed_at"}, kind: steperr.ErrSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Apply(in, tt.opts)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
}

func TestRequirements_NamesAllMissingColumns(t *testing.T) {
	err := Requirements{Columns: []string{"price", "last_review"}}.Check(table.Schema{{Name: "id", Type: cty.String}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price, last_review")
}

// randomTable builds a table whose prices and dates exercise every branch of
// the transform.
func randomTable(t *testing.T, r *rand.Rand, n int) table.Table {
	t.Helper()
	var b strings.Builder
	b.WriteString("id,price,last_review\n")
	for i := 0; i < n; i++ {
		price := ""
		switch r.Intn(6) {
		case 0:
		case 1:
			price = "n/a"
		default:
			price = fmt.Sprintf("%d", r.Intn(400))
		}
		date := ""
		if r.Intn(3) > 0 {
			date = fmt.Sprintf("2019-%02d-%02d", 1+r.Intn(12), 1+r.Intn(28))
		}
		fmt.Fprintf(&b, "%d,%s,%s\n", i, price, date)
	}
	return mustTable(t, b.String())
}

func TestClean_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	lo, hi := 50.0, 200.0

	for iter := 0; iter < 20; iter++ {
		in := randomTable(t, r, 50)
		out, err := Clean(in, lo, hi)
		require.NoError(t, err)
		require.LessOrEqual(t, out.Len(), in.Len())

		// Range, subset and order: ids in the output appear in the input in
		// the same relative order.
		next := 0
		for _, row := range out.Rows {
			f, _ := row[1].AsBigFloat().Float64()
			assert.GreaterOrEqual(t, f, lo)
			assert.LessOrEqual(t, f, hi)

			id, _ := table.AsText(row[0])
			found := false
			for next < in.Len() {
				candidate, _ := table.AsText(in.Rows[next][0])
				next++
				if candidate == id {
					found = true
					break
				}
			}
			assert.True(t, found, "row %s is not an in-order subset of the input", id)
		}

		// Re-filtering with the same bounds is a no-op.
		again, err := Clean(out, lo, hi)
		require.NoError(t, err)
		if diff := cmp.Diff(mustStrings(t, out), mustStrings(t, again)); diff != "" {
			t.Fatalf("clean is not idempotent (-first +second):\n%s", diff)
		}
	}
}
