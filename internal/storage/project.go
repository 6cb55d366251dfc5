package storage

import (
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/striemhq/striem/internal/event"
	"github.com/striemhq/striem/internal/schema"
)

// rawColumn collects top-level keys the class schema does not declare, so
// nothing is lost at write time.
const rawColumn = "raw"

// compiledSchema pairs a class descriptor with its parquet schema and the
// set of declared top-level keys.
type compiledSchema struct {
	desc        *schema.ClassDescriptor
	pq          *parquet.Schema
	declaredTop map[string]bool
}

func compileSchema(desc *schema.ClassDescriptor) *compiledSchema {
	root := parquet.Group{}
	declared := make(map[string]bool, len(desc.Columns))
	for _, col := range desc.Columns {
		insertColumn(root, col)
		top := col.Path
		if i := strings.IndexByte(top, '.'); i >= 0 {
			top = top[:i]
		}
		declared[top] = true
	}
	if _, ok := root[rawColumn]; !ok {
		root[rawColumn] = parquet.Optional(parquet.String())
		declared[rawColumn] = true
	}
	return &compiledSchema{
		desc:        desc,
		pq:          parquet.NewSchema(desc.Name, root),
		declaredTop: declared,
	}
}

func insertColumn(root parquet.Group, col schema.Column) {
	segs := strings.Split(col.Path, ".")
	group := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := group[seg].(parquet.Group)
		if !ok {
			next = parquet.Group{}
			group[seg] = next
		}
		group = next
	}
	group[segs[len(segs)-1]] = leafNode(col)
}

func leafNode(col schema.Column) parquet.Node {
	var node parquet.Node
	switch col.Type {
	case schema.TypeInt:
		node = parquet.Int(64)
	case schema.TypeFloat:
		node = parquet.Leaf(parquet.DoubleType)
	case schema.TypeBool:
		node = parquet.Leaf(parquet.BooleanType)
	case schema.TypeTimestamp:
		node = parquet.Timestamp(parquet.Millisecond)
	default:
		node = parquet.String()
	}
	if col.Nullable {
		node = parquet.Optional(node)
	}
	return node
}

// project builds the row for one event: declared columns by path lookup,
// type mismatches recorded and written as null, unknown top-level keys
// folded into the raw JSON column. The returned estimate approximates the
// serialized row size for the byte-based flush trigger.
func (cs *compiledSchema) project(ev *event.Event) (row map[string]any, estBytes int64, mismatches int64) {
	row = make(map[string]any, len(cs.desc.Columns)+1)
	for _, col := range cs.desc.Columns {
		if col.Path == rawColumn {
			continue
		}
		v, ok := ev.Field(col.Path)
		if !ok || v.IsNull() {
			continue
		}
		cell, ok := convertCell(v, col.Type)
		if !ok {
			mismatches++
			continue
		}
		estBytes += cellSize(cell)
		setCell(row, col.Path, cell)
	}

	if extras := cs.unknownTopLevel(ev); extras != nil {
		raw := string(event.Map(extras).CanonicalJSON())
		row[rawColumn] = raw
		estBytes += int64(len(raw))
	}
	return row, estBytes + 16, mismatches
}

func (cs *compiledSchema) unknownTopLevel(ev *event.Event) map[string]event.Value {
	m, ok := ev.Data.AsMap()
	if !ok {
		return nil
	}
	var extras map[string]event.Value
	for k, v := range m {
		if cs.declaredTop[k] {
			continue
		}
		if extras == nil {
			extras = make(map[string]event.Value)
		}
		extras[k] = v
	}
	return extras
}

func convertCell(v event.Value, t schema.ColumnType) (any, bool) {
	switch t {
	case schema.TypeInt, schema.TypeTimestamp:
		n, ok := v.AsInt()
		return n, ok
	case schema.TypeFloat:
		f, ok := v.AsFloat()
		return f, ok
	case schema.TypeBool:
		b, ok := v.AsBool()
		return b, ok
	case schema.TypeJSON:
		return string(v.CanonicalJSON()), true
	default:
		s, ok := v.Text()
		return s, ok
	}
}

func setCell(row map[string]any, path string, cell any) {
	for {
		i := strings.IndexByte(path, '.')
		if i < 0 {
			row[path] = cell
			return
		}
		seg := path[:i]
		next, ok := row[seg].(map[string]any)
		if !ok {
			next = make(map[string]any)
			row[seg] = next
		}
		row = next
		path = path[i+1:]
	}
}

func cellSize(cell any) int64 {
	switch t := cell.(type) {
	case string:
		return int64(len(t))
	default:
		return 8
	}
}
