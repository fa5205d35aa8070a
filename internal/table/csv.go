package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vk/cleanstep/internal/steperr"
	"github.com/zclconf/go-cty/cty"
)

const bom = "\ufeff"

// ReadCSV decodes a comma-separated table with a header row. Every column
// is typed Text so fields keep their exact bytes; empty fields become
// typed nulls.
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, steperr.Newf(steperr.KindIO, "read csv", "missing header row")
		}
		return Table{}, steperr.New(steperr.KindIO, "read csv", "invalid header row", err)
	}

	schema := make(Schema, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, bom)
		}
		if _, dup := seen[name]; dup {
			return Table{}, steperr.Newf(steperr.KindIO, "read csv", "duplicate column %q", name)
		}
		seen[name] = struct{}{}
		schema[i] = Column{Name: name, Type: Text}
	}

	t := New(schema)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, steperr.New(steperr.KindIO, "read csv", "invalid record", err)
		}
		row := make(Row, len(rec))
		for i, field := range rec {
			if field == "" {
				row[i] = cty.NullVal(Text)
			} else {
				row[i] = TextVal(field)
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadFile opens path and decodes it with ReadCSV.
func ReadFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, steperr.New(steperr.KindIO, "read table", fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// WriteCSV encodes t with a header row and no index column.
func WriteCSV(w io.Writer, t Table) error {
	records, err := t.Strings()
	if err != nil {
		return steperr.New(steperr.KindIO, "write csv", "cannot format table", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(t.Schema.Names()); err != nil {
		return steperr.New(steperr.KindIO, "write csv", "cannot write header", err)
	}
	if err := cw.WriteAll(records); err != nil {
		return steperr.New(steperr.KindIO, "write csv", "cannot write records", err)
	}
	return nil
}

// WriteFile writes t to path, replacing any existing file.
func WriteFile(path string, t Table) error {
	f, err := os.Create(path)
	if err != nil {
		return steperr.New(steperr.KindIO, "write table", fmt.Sprintf("cannot create %s", path), err)
	}
	if err := WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return steperr.New(steperr.KindIO, "write table", fmt.Sprintf("cannot close %s", path), err)
	}
	return nil
}
