// Package schema derives entity metadata (columns, primary key, relations)
// from bun struct tags. The tags are the single source of truth: the same
// declarations bun uses to map records drive generic serialization and the
// gateway's field plumbing.
package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/uptrace/bun"
)

type RelationKind int

const (
	// BelongsTo is a forward relation: this entity holds the foreign key.
	BelongsTo RelationKind = iota
	// HasMany is a reverse relation (backref): related entities hold a
	// foreign key pointing at this entity.
	HasMany
)

// Field is one persisted column of an entity.
type Field struct {
	Column       string
	GoName       string
	Index        int
	IsPK         bool
	IsSoftDelete bool
}

// Relation links an entity to a related entity type through a column pair.
// For BelongsTo, BaseColumn is the local FK and JoinColumn the related PK;
// for HasMany, BaseColumn is the local PK and JoinColumn the related FK.
type Relation struct {
	Name       string
	Kind       RelationKind
	Index      int
	BaseColumn string
	JoinColumn string
	Target     reflect.Type
}

// Table is the parsed metadata of one entity struct.
type Table struct {
	Type      reflect.Type
	Name      string
	Alias     string
	Fields    []*Field
	Relations []*Relation
	PK        *Field

	fieldByColumn map[string]*Field
}

func (t *Table) Field(column string) (*Field, bool) {
	field, ok := t.fieldByColumn[column]
	return field, ok
}

func (t *Table) HasColumn(column string) bool {
	_, ok := t.fieldByColumn[column]
	return ok
}

// BelongsTo reports the forward relation anchored at the given FK column.
func (t *Table) BelongsTo(baseColumn string) (*Relation, bool) {
	for _, rel := range t.Relations {
		if rel.Kind == BelongsTo && rel.BaseColumn == baseColumn {
			return rel, true
		}
	}
	return nil, false
}

var tables sync.Map // reflect.Type -> *Table

// Of returns the cached metadata for an entity value or pointer.
func Of(entity any) (*Table, error) {
	if entity == nil {
		return nil, fmt.Errorf("schema: entity is nil")
	}
	return OfType(reflect.TypeOf(entity))
}

// OfType returns the cached metadata for an entity type, dereferencing any
// pointer levels first.
func OfType(entityType reflect.Type) (*Table, error) {
	for entityType != nil && entityType.Kind() == reflect.Pointer {
		entityType = entityType.Elem()
	}
	if entityType == nil || entityType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: entity must be a struct, got %v", entityType)
	}
	if cached, ok := tables.Load(entityType); ok {
		return cached.(*Table), nil
	}
	table, err := parse(entityType)
	if err != nil {
		return nil, err
	}
	actual, _ := tables.LoadOrStore(entityType, table)
	return actual.(*Table), nil
}

var baseModelType = reflect.TypeOf(bun.BaseModel{})

func parse(entityType reflect.Type) (*Table, error) {
	table := &Table{
		Type:          entityType,
		fieldByColumn: map[string]*Field{},
	}

	for i := 0; i < entityType.NumField(); i++ {
		structField := entityType.Field(i)
		tag := structField.Tag.Get("bun")

		if structField.Type == baseModelType {
			parseBaseModel(table, tag)
			continue
		}
		if !structField.IsExported() || tag == "-" {
			continue
		}
		if strings.HasPrefix(tag, "rel:") {
			rel, err := parseRelation(structField, i, tag)
			if err != nil {
				return nil, fmt.Errorf("schema: %s.%s: %w", entityType.Name(), structField.Name, err)
			}
			table.Relations = append(table.Relations, rel)
			continue
		}

		field := parseField(structField, i, tag)
		table.Fields = append(table.Fields, field)
		table.fieldByColumn[field.Column] = field
		if field.IsPK {
			table.PK = field
		}
	}

	if table.Name == "" {
		return nil, fmt.Errorf("schema: %s declares no bun table tag", entityType.Name())
	}
	if table.PK == nil {
		return nil, fmt.Errorf("schema: %s declares no primary key", entityType.Name())
	}
	return table, nil
}

func parseBaseModel(table *Table, tag string) {
	for _, part := range strings.Split(tag, ",") {
		switch {
		case strings.HasPrefix(part, "table:"):
			table.Name = strings.TrimPrefix(part, "table:")
		case strings.HasPrefix(part, "alias:"):
			table.Alias = strings.TrimPrefix(part, "alias:")
		}
	}
}

func parseField(structField reflect.StructField, index int, tag string) *Field {
	parts := strings.Split(tag, ",")
	field := &Field{
		GoName: structField.Name,
		Index:  index,
	}
	if len(parts) > 0 && parts[0] != "" {
		field.Column = parts[0]
	} else {
		field.Column = snakeCase(structField.Name)
	}
	for _, option := range parts[1:] {
		switch option {
		case "pk":
			field.IsPK = true
		case "soft_delete":
			field.IsSoftDelete = true
		}
	}
	return field
}

func parseRelation(structField reflect.StructField, index int, tag string) (*Relation, error) {
	rel := &Relation{
		Name:  snakeCase(structField.Name),
		Index: index,
	}

	switch target := structField.Type; target.Kind() {
	case reflect.Pointer:
		if target.Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("relation target must be a struct pointer")
		}
		rel.Target = target.Elem()
	case reflect.Slice:
		elem := target.Elem()
		if elem.Kind() != reflect.Pointer || elem.Elem().Kind() != reflect.Struct {
			return nil, fmt.Errorf("relation target must be a slice of struct pointers")
		}
		rel.Target = elem.Elem()
	default:
		return nil, fmt.Errorf("unsupported relation field type %v", target)
	}

	var joined bool
	for _, part := range strings.Split(tag, ",") {
		switch {
		case part == "rel:belongs-to", part == "rel:has-one":
			rel.Kind = BelongsTo
		case part == "rel:has-many":
			rel.Kind = HasMany
		case strings.HasPrefix(part, "rel:"):
			return nil, fmt.Errorf("unsupported relation kind %q", part)
		case strings.HasPrefix(part, "join:"):
			pair := strings.SplitN(strings.TrimPrefix(part, "join:"), "=", 2)
			if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
				return nil, fmt.Errorf("malformed join clause %q", part)
			}
			rel.BaseColumn = pair[0]
			rel.JoinColumn = pair[1]
			joined = true
		}
	}
	if !joined {
		return nil, fmt.Errorf("relation declares no join clause")
	}
	return rel, nil
}

func snakeCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && (name[i-1] < 'A' || name[i-1] > 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
