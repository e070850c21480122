package cell

import (
	"bytes"
	"fmt"
	"math"
)

// LatestTimestamp sorts before every concrete timestamp within a column.
const LatestTimestamp int64 = math.MaxInt64

// Type tags a cell as a put or one of the tombstone flavors. The numeric
// codes participate in ordering: higher codes sort first at an equal
// timestamp, so tombstones lead the puts they shadow.
type Type uint8

const (
	TypeMinimum      Type = 0
	TypePut          Type = 4
	TypeDelete       Type = 8
	TypeDeleteColumn Type = 12
	TypeDeleteFamily Type = 14
	TypeMaximum      Type = 255
)

// IsDelete reports whether the type marks a tombstone.
func (t Type) IsDelete() bool {
	return t == TypeDelete || t == TypeDeleteColumn || t == TypeDeleteFamily
}

func (t Type) String() string {
	switch t {
	case TypeMinimum:
		return "Minimum"
	case TypePut:
		return "Put"
	case TypeDelete:
		return "Delete"
	case TypeDeleteColumn:
		return "DeleteColumn"
	case TypeDeleteFamily:
		return "DeleteFamily"
	case TypeMaximum:
		return "Maximum"
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// Cell is an immutable record at (row, family, qualifier, timestamp, type,
// mvcc) -> value. The byte slices may point into the cell's own buffer or
// into a shared slab chunk; callers must not mutate them after insertion.
type Cell struct {
	Row       []byte
	Family    []byte
	Qualifier []byte
	Timestamp int64
	Kind      Type
	MVCC      uint64
	Value     []byte
}

// New builds a put cell.
func New(row, family, qualifier []byte, ts int64, mvcc uint64, value []byte) *Cell {
	return &Cell{
		Row:       row,
		Family:    family,
		Qualifier: qualifier,
		Timestamp: ts,
		Kind:      TypePut,
		MVCC:      mvcc,
		Value:     value,
	}
}

// NewTombstone builds a delete cell of the given flavor.
func NewTombstone(row, family, qualifier []byte, ts int64, mvcc uint64, kind Type) *Cell {
	return &Cell{
		Row:       row,
		Family:    family,
		Qualifier: qualifier,
		Timestamp: ts,
		Kind:      kind,
		MVCC:      mvcc,
	}
}

// FirstOnRow returns a synthetic cell that sorts strictly before any real
// cell on row.
func FirstOnRow(row []byte) *Cell {
	return &Cell{Row: row, Timestamp: LatestTimestamp, Kind: TypeMaximum}
}

// FirstOnColumn returns a synthetic cell that sorts strictly before any real
// cell at (row, family, qualifier).
func FirstOnColumn(row, family, qualifier []byte) *Cell {
	return &Cell{
		Row:       row,
		Family:    family,
		Qualifier: qualifier,
		Timestamp: LatestTimestamp,
		Kind:      TypeMaximum,
	}
}

// Estimated per-cell struct footprint: six 24-byte words plus 24 bytes for
// the scalar fields. The struct itself holds four slice headers, so the
// estimate sits above the bare struct size.
const structOverhead = int64(6*24 + 24)

// HeapSize returns the estimated heap footprint of the cell.
func (c *Cell) HeapSize() int64 {
	return structOverhead +
		int64(len(c.Row)) + int64(len(c.Family)) +
		int64(len(c.Qualifier)) + int64(len(c.Value))
}

// Equal reports byte-content equality including the mvcc version.
func (c *Cell) Equal(o *Cell) bool {
	return c.MVCC == o.MVCC && c.EqualBytes(o)
}

// EqualBytes reports byte-content equality ignoring the mvcc version.
func (c *Cell) EqualBytes(o *Cell) bool {
	return c.Timestamp == o.Timestamp && c.Kind == o.Kind &&
		bytes.Equal(c.Row, o.Row) &&
		bytes.Equal(c.Family, o.Family) &&
		bytes.Equal(c.Qualifier, o.Qualifier) &&
		bytes.Equal(c.Value, o.Value)
}

// MatchingColumn reports whether both cells address the same
// (row, family, qualifier).
func (c *Cell) MatchingColumn(o *Cell) bool {
	return bytes.Equal(c.Row, o.Row) &&
		bytes.Equal(c.Family, o.Family) &&
		bytes.Equal(c.Qualifier, o.Qualifier)
}

// CloneInto copies all byte fields of c into a single buffer obtained from
// allocate and returns a cell whose slices share that one backing array.
// Returns nil if allocate declines (the caller then keeps c as is).
func (c *Cell) CloneInto(allocate func(n int) []byte) *Cell {
	n := len(c.Row) + len(c.Family) + len(c.Qualifier) + len(c.Value)
	buf := allocate(n)
	if buf == nil {
		return nil
	}
	clone := &Cell{Timestamp: c.Timestamp, Kind: c.Kind, MVCC: c.MVCC}
	off := copy(buf, c.Row)
	clone.Row = buf[:off:off]
	m := copy(buf[off:], c.Family)
	clone.Family = buf[off : off+m : off+m]
	off += m
	m = copy(buf[off:], c.Qualifier)
	clone.Qualifier = buf[off : off+m : off+m]
	off += m
	m = copy(buf[off:], c.Value)
	clone.Value = buf[off : off+m : off+m]
	return clone
}

func (c *Cell) String() string {
	return fmt.Sprintf("%s/%s:%s/ts=%d/%s/mvcc=%d",
		c.Row, c.Family, c.Qualifier, c.Timestamp, c.Kind, c.MVCC)
}
