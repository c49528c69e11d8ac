package repository

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxColumns is the widest table a column mask can address.
const MaxColumns = 64

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var (
	ErrEmptyMask   = errors.New("column mask selects no columns")
	ErrInvalidMask = errors.New("column mask selects unknown columns")
)

// Descriptor describes the table an entity maps to.
type Descriptor struct {
	Table string

	// Columns in entity order. Columns[0] is the primary key.
	Columns []string

	// AutoKey is set when the database generates the primary key. Inserts
	// then omit column 0 and report the generated keys.
	AutoKey bool
}

// Validate checks that table and column names are plain identifiers, since
// they are spliced into statement text.
func (d *Descriptor) Validate() error {
	if !identifier.MatchString(d.Table) {
		return fmt.Errorf("invalid table name %q", d.Table)
	}
	if len(d.Columns) == 0 || len(d.Columns) > MaxColumns {
		return fmt.Errorf("table %s: need between 1 and %d columns, got %d", d.Table, MaxColumns, len(d.Columns))
	}

	seen := make(map[string]bool, len(d.Columns))
	for _, c := range d.Columns {
		if !identifier.MatchString(c) {
			return fmt.Errorf("table %s: invalid column name %q", d.Table, c)
		}
		if seen[c] {
			return fmt.Errorf("table %s: duplicate column %q", d.Table, c)
		}
		seen[c] = true
	}
	return nil
}

// Mask builds a column mask from column positions.
func Mask(columns ...int) uint64 {
	var m uint64
	for _, c := range columns {
		m |= 1 << uint(c)
	}
	return m
}

func (d *Descriptor) checkMask(mask uint64) error {
	if len(d.Columns) < MaxColumns && mask>>uint(len(d.Columns)) != 0 {
		return fmt.Errorf("%w: %#x on %s", ErrInvalidMask, mask, d.Table)
	}
	return nil
}

// masked returns the positions selected by mask, in column order.
func (d *Descriptor) masked(mask uint64) []int {
	var out []int
	for i := range d.Columns {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, i)
		}
	}
	return out
}

func (d *Descriptor) insertColumns() []int {
	start := 0
	if d.AutoKey {
		start = 1
	}
	out := make([]int, 0, len(d.Columns)-start)
	for i := start; i < len(d.Columns); i++ {
		out = append(out, i)
	}
	return out
}

func (d *Descriptor) names(positions []int) []string {
	out := make([]string, len(positions))
	for i, p := range positions {
		out[i] = d.Columns[p]
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (d *Descriptor) where(positions []int) string {
	if len(positions) == 0 {
		return ""
	}
	parts := make([]string, len(positions))
	for i, p := range positions {
		parts[i] = d.Columns[p] + " = ?"
	}
	return " WHERE " + strings.Join(parts, " AND ")
}

// InsertSQL is the statement used to insert one entity.
func (d *Descriptor) InsertSQL() string {
	cols := d.insertColumns()
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Table, strings.Join(d.names(cols), ", "), placeholders(len(cols)))
}

// SelectSQL selects every column filtered on the masked ones. A zero mask
// selects every row.
func (d *Descriptor) SelectSQL(mask uint64) string {
	return fmt.Sprintf("SELECT %s FROM %s%s",
		strings.Join(d.Columns, ", "), d.Table, d.where(d.masked(mask)))
}

// UpdateSQL sets the masked non-key columns of the row with the entity's
// primary key. The key bit of the mask is ignored.
func (d *Descriptor) UpdateSQL(mask uint64) (string, []int, error) {
	set := d.masked(mask &^ 1)
	if len(set) == 0 {
		return "", nil, fmt.Errorf("update %s: %w", d.Table, ErrEmptyMask)
	}

	parts := make([]string, len(set))
	for i, p := range set {
		parts[i] = d.Columns[p] + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		d.Table, strings.Join(parts, ", "), d.Columns[0])
	return query, set, nil
}

// DeleteSQL deletes the rows matching the masked columns. A zero mask is
// refused rather than emptying the table.
func (d *Descriptor) DeleteSQL(mask uint64) (string, []int, error) {
	filter := d.masked(mask)
	if len(filter) == 0 {
		return "", nil, fmt.Errorf("delete from %s: %w", d.Table, ErrEmptyMask)
	}
	return fmt.Sprintf("DELETE FROM %s%s", d.Table, d.where(filter)), filter, nil
}
