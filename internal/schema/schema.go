// Package schema loads OCSF class schema files and exposes the per-class
// column layout the storage layer writes. Schema files are JSON documents,
// one per class, consumed as opaque inputs.
package schema

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ColumnType is the storage type of one declared column.
type ColumnType int

const (
	TypeString ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTimestamp
	// TypeJSON columns hold nested objects serialized as JSON text.
	TypeJSON
)

func (t ColumnType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeJSON:
		return "json"
	default:
		return "invalid"
	}
}

// Column is one declared column of a class schema. Path is dotted for
// nested attributes.
type Column struct {
	Path     string
	Type     ColumnType
	Nullable bool
}

// ClassDescriptor describes one OCSF class: its name, activity names and
// column layout.
type ClassDescriptor struct {
	UID        int64
	Name       string
	Caption    string
	Category   string
	Activities map[int64]string
	Columns    []Column
}

// ActivityName resolves an activity id to its snake_case name, falling back
// to the numeric id for undeclared activities.
func (d *ClassDescriptor) ActivityName(id int64) string {
	if name, ok := d.Activities[id]; ok {
		return name
	}
	return strconv.FormatInt(id, 10)
}

// classFile is the on-disk schema document shape.
type classFile struct {
	UID        int64                `json:"uid"`
	Name       string               `json:"name"`
	Caption    string               `json:"caption"`
	Category   string               `json:"category"`
	Activities map[string]string    `json:"activities"`
	Attributes map[string]attribute `json:"attributes"`
}

type attribute struct {
	Type        string `json:"type"`
	Requirement string `json:"requirement"`
}

// Catalog maps class UIDs to their descriptors.
type Catalog struct {
	classes map[int64]*ClassDescriptor
}

// Load walks root recursively and parses every .json schema file.
func Load(root string) (*Catalog, error) {
	c := &Catalog{classes: make(map[int64]*ClassDescriptor)}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		desc, err := parseClass(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		c.classes[desc.UID] = desc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func parseClass(data []byte) (*ClassDescriptor, error) {
	var f classFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.UID == 0 {
		return nil, fmt.Errorf("schema file missing class uid")
	}
	if f.Name == "" {
		return nil, fmt.Errorf("schema file missing class name")
	}

	desc := &ClassDescriptor{
		UID:        f.UID,
		Name:       snake(f.Name),
		Caption:    f.Caption,
		Category:   snake(f.Category),
		Activities: make(map[int64]string, len(f.Activities)),
	}
	for id, name := range f.Activities {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid activity id %q", id)
		}
		desc.Activities[n] = snake(name)
	}

	paths := make([]string, 0, len(f.Attributes))
	for p := range f.Attributes {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		attr := f.Attributes[p]
		t, err := columnType(attr.Type)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", p, err)
		}
		desc.Columns = append(desc.Columns, Column{
			Path:     p,
			Type:     t,
			Nullable: attr.Requirement != "required",
		})
	}
	return desc, nil
}

func columnType(t string) (ColumnType, error) {
	switch t {
	case "string_t", "email_t", "file_name_t", "hostname_t", "ip_t", "mac_t",
		"url_t", "username_t", "uuid_t", "path_t", "subnet_t":
		return TypeString, nil
	case "integer_t", "long_t", "port_t":
		return TypeInt, nil
	case "float_t":
		return TypeFloat, nil
	case "boolean_t":
		return TypeBool, nil
	case "timestamp_t", "datetime_t":
		return TypeTimestamp, nil
	case "object_t", "json_t":
		return TypeJSON, nil
	default:
		return 0, fmt.Errorf("unsupported attribute type %q", t)
	}
}

// Class returns the descriptor for a class UID.
func (c *Catalog) Class(uid int64) (*ClassDescriptor, bool) {
	d, ok := c.classes[uid]
	return d, ok
}

// Classes returns all loaded UIDs in sorted order.
func (c *Catalog) Classes() []int64 {
	out := make([]int64, 0, len(c.classes))
	for uid := range c.classes {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Generic returns the fallback descriptor used for classes the catalog does
// not know: event time plus the other top-level fields as JSON text.
func Generic(uid int64) *ClassDescriptor {
	return &ClassDescriptor{
		UID:        uid,
		Name:       fmt.Sprintf("class_%d", uid),
		Category:   "uncategorized",
		Activities: map[int64]string{},
		Columns: []Column{
			{Path: "time", Type: TypeTimestamp, Nullable: true},
			{Path: "raw", Type: TypeJSON, Nullable: true},
		},
	}
}

// snake normalizes captions and names to snake_case path segments.
func snake(s string) string {
	var sb strings.Builder
	prevUnder := false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'A' && r <= 'Z':
			sb.WriteRune(r - 'A' + 'a')
			prevUnder = false
		case r == ' ' || r == '-' || r == '/':
			if !prevUnder && sb.Len() > 0 {
				sb.WriteByte('_')
				prevUnder = true
			}
		default:
			sb.WriteRune(r)
			prevUnder = false
		}
	}
	return strings.Trim(sb.String(), "_")
}
