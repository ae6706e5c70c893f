// Package table provides tabular datasets and an atomic CSV/TSV saver.
// It handles choosing the separator from the output extension and guarantees
// that a destination file is either fully written or left untouched.
package table

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Dataset is an ordered sequence of rows keyed by a fixed, insertion-ordered
// set of column names. Every row carries an index value that is written as
// the first field of its line.
type Dataset struct {
	// columns holds the column names in insertion order
	columns []string

	// known is used to reject values for undeclared columns
	known map[string]struct{}

	// index holds one index value per row
	index []any

	// rows holds the values of each row keyed by column name
	rows []map[string]any
}

// NewDataset creates an empty dataset with the given columns
func NewDataset(columns ...string) *Dataset {
	ds := &Dataset{
		columns: make([]string, 0, len(columns)),
		known:   make(map[string]struct{}, len(columns)),
	}
	for _, c := range columns {
		if _, dup := ds.known[c]; dup {
			continue
		}
		ds.known[c] = struct{}{}
		ds.columns = append(ds.columns, c)
	}
	return ds
}

// FromMatrix builds a dataset from a gonum matrix. Column names are matched to
// matrix columns by position and rows get the default integer index.
func FromMatrix(columns []string, m mat.Matrix) (*Dataset, error) {
	r, c := m.Dims()
	if c != len(columns) {
		return nil, fmt.Errorf("matrix has %d columns but %d names were given", c, len(columns))
	}

	ds := NewDataset(columns...)
	if len(ds.columns) != len(columns) {
		return nil, fmt.Errorf("duplicate column names in %v", columns)
	}
	for i := 0; i < r; i++ {
		values := make(map[string]any, c)
		for j, name := range columns {
			values[name] = m.At(i, j)
		}
		if err := ds.Append(values); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// AddRow appends a row with an explicit index label. Values for columns the
// dataset does not declare are rejected; missing columns serialize as empty.
func (ds *Dataset) AddRow(index any, values map[string]any) error {
	for name := range values {
		if _, ok := ds.known[name]; !ok {
			return fmt.Errorf("unknown column %q", name)
		}
	}

	row := make(map[string]any, len(values))
	for k, v := range values {
		row[k] = v
	}
	ds.index = append(ds.index, index)
	ds.rows = append(ds.rows, row)
	return nil
}

// Append adds a row using the next default integer index
func (ds *Dataset) Append(values map[string]any) error {
	return ds.AddRow(len(ds.rows), values)
}

// Columns returns a copy of the column names
func (ds *Dataset) Columns() []string {
	out := make([]string, len(ds.columns))
	copy(out, ds.columns)
	return out
}

// Len returns the number of rows
func (ds *Dataset) Len() int {
	return len(ds.rows)
}

// Row returns the index value and the values of row i
func (ds *Dataset) Row(i int) (any, map[string]any) {
	return ds.index[i], ds.rows[i]
}

// records renders the dataset as string records, header first
func (ds *Dataset) records() [][]string {
	out := make([][]string, 0, len(ds.rows)+1)

	header := make([]string, 0, len(ds.columns)+1)
	header = append(header, "")
	header = append(header, ds.columns...)
	out = append(out, header)

	for i, row := range ds.rows {
		rec := make([]string, 0, len(ds.columns)+1)
		rec = append(rec, FormatValue(ds.index[i]))
		for _, c := range ds.columns {
			rec = append(rec, FormatValue(row[c]))
		}
		out = append(out, rec)
	}
	return out
}
