// Package clean implements the cleaning transform: a closed-interval price
// filter followed by normalization of the review date column. The transform
// is pure; it never mutates its input and performs no I/O.
package clean

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/vk/cleanstep/internal/steperr"
	"github.com/vk/cleanstep/internal/table"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

const (
	DefaultPriceColumn = "price"
	DefaultDateColumn  = "last_review"
)

// Options configures one application of the transform.
type Options struct {
	MinPrice float64
	MaxPrice float64

	// Column names; empty means the defaults above.
	PriceColumn string
	DateColumn  string
}

// Stats summarizes what the transform did.
type Stats struct {
	InputRows   int
	KeptRows    int
	DroppedRows int
	NullDates   int
}

// Result is the cleaned table plus its stats.
type Result struct {
	Table table.Table
	Stats Stats
}

// Clean keeps the rows whose price lies in [minPrice, maxPrice] and
// normalizes the last_review column.
func Clean(t table.Table, minPrice, maxPrice float64) (table.Table, error) {
	res, err := Apply(t, Options{MinPrice: minPrice, MaxPrice: maxPrice})
	if err != nil {
		return table.Table{}, err
	}
	return res.Table, nil
}

// Apply runs the transform with explicit options.
func Apply(t table.Table, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return Result{}, err
	}
	req := Requirements{Columns: []string{opts.PriceColumn, opts.DateColumn}}
	if err := req.Check(t.Schema); err != nil {
		return Result{}, err
	}

	priceIdx := t.Schema.Index(opts.PriceColumn)
	dateIdx := t.Schema.Index(opts.DateColumn)
	lo, hi := boundVal(opts.MinPrice), boundVal(opts.MaxPrice)

	schema := make(table.Schema, len(t.Schema))
	copy(schema, t.Schema)
	schema[priceIdx].Type = cty.Number
	schema[dateIdx].Type = table.Date

	out := table.New(schema)
	stats := Stats{InputRows: t.Len()}
	for _, row := range t.Rows {
		price, ok := numeric(row[priceIdx])
		if !ok || !inRange(price, lo, hi) {
			continue
		}

		kept := append(table.Row(nil), row...)
		kept[priceIdx] = price
		kept[dateIdx] = normalizeDate(row[dateIdx])
		if kept[dateIdx].IsNull() {
			stats.NullDates++
		}
		out.Rows = append(out.Rows, kept)
	}
	stats.KeptRows = out.Len()
	stats.DroppedRows = stats.InputRows - stats.KeptRows

	return Result{Table: out, Stats: stats}, nil
}

func (o Options) withDefaults() Options {
	if o.PriceColumn == "" {
		o.PriceColumn = DefaultPriceColumn
	}
	if o.DateColumn == "" {
		o.DateColumn = DefaultDateColumn
	}
	return o
}

func (o Options) validate() error {
	if math.IsNaN(o.MinPrice) || math.IsNaN(o.MaxPrice) {
		return steperr.Newf(steperr.KindValidation, "clean", "price bounds must be numbers")
	}
	if o.MinPrice > o.MaxPrice {
		return steperr.Newf(steperr.KindValidation, "clean", "min price %v is greater than max price %v", o.MinPrice, o.MaxPrice)
	}
	if o.PriceColumn == o.DateColumn {
		return steperr.Newf(steperr.KindValidation, "clean", "price and date columns are both %q", o.PriceColumn)
	}
	return nil
}

// numeric coerces a cell to a known, non-null cty.Number.
func numeric(v cty.Value) (cty.Value, bool) {
	if v.IsNull() || !v.IsKnown() {
		return cty.NilVal, false
	}
	if raw, ok := text(v); ok {
		n, err := cty.ParseNumberVal(strings.TrimSpace(raw))
		if err != nil {
			return cty.NilVal, false
		}
		return n, true
	}
	n, err := convert.Convert(v, cty.Number)
	if err != nil || n.IsNull() {
		return cty.NilVal, false
	}
	return n, true
}

// text returns the string held by a Text or String cell.
func text(v cty.Value) (string, bool) {
	if s, ok := table.AsText(v); ok {
		return s, true
	}
	if v.Type() == cty.String && !v.IsNull() && v.IsKnown() {
		return v.AsString(), true
	}
	return "", false
}

// boundVal parses the shortest decimal form of f so that a bound of 0.1
// compares equal to a cell holding "0.1".
func boundVal(f float64) cty.Value {
	if math.IsInf(f, 0) {
		return cty.NumberFloatVal(f)
	}
	v, err := cty.ParseNumberVal(strconv.FormatFloat(f, 'g', -1, 64))
	if err != nil {
		return cty.NumberFloatVal(f)
	}
	return v
}

func inRange(price, lo, hi cty.Value) bool {
	return price.GreaterThanOrEqualTo(lo).True() && price.LessThanOrEqualTo(hi).True()
}

// normalizeDate turns a cell into a Date value. Anything that does not
// parse becomes a null date.
func normalizeDate(v cty.Value) cty.Value {
	if v.IsNull() || !v.IsKnown() {
		return cty.NullVal(table.Date)
	}
	if v.Type().Equals(table.Date) {
		return v
	}
	raw, ok := text(v)
	if !ok {
		return cty.NullVal(table.Date)
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return cty.NullVal(table.Date)
	}
	d, err := dateparse.ParseIn(s, time.UTC)
	// dateparse leaves the year at zero for inputs with no year, such as a
	// bare time of day or "1/1".
	if err != nil || d.Year() == 0 {
		return cty.NullVal(table.Date)
	}
	return table.DateVal(d)
}
