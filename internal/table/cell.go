package table

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/zclconf/go-cty/cty"
)

// DateLayout is the ISO-8601 calendar date form used on the wire.
const DateLayout = "2006-01-02"

// Date is the cty capsule type for a normalized calendar date. Two date
// values are equal when they name the same day.
var Date = cty.CapsuleWithOps("date", reflect.TypeOf(time.Time{}), &cty.CapsuleOps{
	GoString: func(v interface{}) string {
		return fmt.Sprintf("table.DateVal(%q)", v.(*time.Time).Format(DateLayout))
	},
	TypeGoString: func(reflect.Type) string {
		return "table.Date"
	},
	Equals: func(a, b interface{}) cty.Value {
		return cty.BoolVal(a.(*time.Time).Equal(*b.(*time.Time)))
	},
	RawEquals: func(a, b interface{}) bool {
		return a.(*time.Time).Equal(*b.(*time.Time))
	},
})

// Text is the cty capsule type for a raw CSV field. Unlike cty.String it
// keeps the exact bytes it was read with; cty.StringVal normalizes to NFC.
var Text = cty.CapsuleWithOps("text", reflect.TypeOf(""), &cty.CapsuleOps{
	GoString: func(v interface{}) string {
		return fmt.Sprintf("table.TextVal(%q)", *v.(*string))
	},
	TypeGoString: func(reflect.Type) string {
		return "table.Text"
	},
	Equals: func(a, b interface{}) cty.Value {
		return cty.BoolVal(*a.(*string) == *b.(*string))
	},
	RawEquals: func(a, b interface{}) bool {
		return *a.(*string) == *b.(*string)
	},
})

// TextVal wraps s, byte for byte, in a Text value.
func TextVal(s string) cty.Value {
	return cty.CapsuleVal(Text, &s)
}

// AsText extracts the string from a known, non-null Text value.
func AsText(v cty.Value) (string, bool) {
	if v.IsNull() || !v.IsKnown() || !v.Type().Equals(Text) {
		return "", false
	}
	return *v.EncapsulatedValue().(*string), true
}

// DateVal returns a Date value for the calendar day of t, in UTC.
func DateVal(t time.Time) cty.Value {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return cty.CapsuleVal(Date, &d)
}

// AsDate extracts the day from a known, non-null Date value.
func AsDate(v cty.Value) (time.Time, bool) {
	if v.IsNull() || !v.IsKnown() || !v.Type().Equals(Date) {
		return time.Time{}, false
	}
	return *v.EncapsulatedValue().(*time.Time), true
}

// FormatCell renders a cell the way it is written to CSV. Nulls become the
// empty string.
func FormatCell(v cty.Value) (string, error) {
	if v.IsNull() {
		return "", nil
	}
	if !v.IsKnown() {
		return "", fmt.Errorf("cannot format unknown value")
	}
	switch ty := v.Type(); {
	case ty.Equals(Text):
		s, _ := AsText(v)
		return s, nil
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		return v.AsBigFloat().Text('f', -1), nil
	case ty == cty.Bool:
		return strconv.FormatBool(v.True()), nil
	case ty.Equals(Date):
		d, _ := AsDate(v)
		return d.Format(DateLayout), nil
	default:
		return "", fmt.Errorf("unsupported cell type %s", ty.FriendlyName())
	}
}
