// Package serialize converts persisted entities into plain mappings, with
// field inclusion/exclusion, forward-relation recursion and reverse-relation
// expansion, both guarded against revisiting a relation.
package serialize

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"

	"github.com/uptrace/bun"

	"github.com/drawbook/go-datastore/schema"
)

// Redactor lets an entity declare default exclusions (a password column,
// for example). They merge with caller-supplied exclusions and apply unless
// the caller explicitly selects the field through Only.
type Redactor interface {
	RedactedFields() []string
}

// DeepSerializable opts an entity out of recurse-once: related entities keep
// recursing instead of collapsing to a flat mapping after one level.
type DeepSerializable interface {
	SerializeDeep() bool
}

// Options control one serialization pass. Only, Exclude and Seen accept bare
// column/relation names or names qualified as "table.name".
type Options struct {
	Recurse  bool
	Backrefs bool
	Only     []string
	Exclude  []string
	Seen     []string
	Extra    map[string]any
}

// Serializer renders entities to mappings. Relation expansion loads related
// rows through db when they are not already hydrated on the entity.
type Serializer struct {
	db bun.IDB
}

func New(db bun.IDB) *Serializer {
	return &Serializer{db: db}
}

// ToMap converts entity into a mapping. A field is included iff it is not
// excluded and (Only is empty or the field is selected). An unset foreign
// key serializes as an empty mapping when recursing, and as the raw key
// value otherwise.
func (s *Serializer) ToMap(ctx context.Context, entity any, opts Options) (map[string]any, error) {
	if s == nil {
		return nil, fmt.Errorf("serialize: serializer is not configured")
	}
	table, err := schema.Of(entity)
	if err != nil {
		return nil, err
	}

	value := reflect.ValueOf(entity)
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil, fmt.Errorf("serialize: entity is a nil %s", table.Name)
		}
		value = value.Elem()
	}

	exclude := newNameSet(opts.Exclude)
	only := newNameSet(opts.Only)
	if redactor, ok := entity.(Redactor); ok {
		for _, name := range redactor.RedactedFields() {
			if only.match(table.Name, name) {
				continue
			}
			exclude.add(name)
		}
	}
	seen := newNameSet(opts.Seen)
	exclude.merge(seen)

	recurseOnce := true
	if deep, ok := entity.(DeepSerializable); ok && deep.SerializeDeep() {
		recurseOnce = false
	}
	childRecurse := opts.Recurse && !recurseOnce

	forward := map[string]*schema.Relation{}
	for _, rel := range table.Relations {
		if rel.Kind == schema.BelongsTo {
			forward[rel.BaseColumn] = rel
		}
	}

	out := map[string]any{}

	for _, field := range table.Fields {
		if rel, ok := forward[field.Column]; ok {
			rendered, err := s.renderForward(ctx, table, rel, field, value, opts, childRecurse, only, exclude, seen)
			if err != nil {
				return nil, err
			}
			if rendered != nil {
				out[rel.Name] = rendered.value
			}
			continue
		}
		if exclude.match(table.Name, field.Column) {
			continue
		}
		if !only.empty() && !only.match(table.Name, field.Column) {
			continue
		}
		out[field.Column] = value.Field(field.Index).Interface()
	}

	if opts.Backrefs {
		for _, rel := range table.Relations {
			if rel.Kind != schema.HasMany {
				continue
			}
			rows, skip, err := s.renderBackref(ctx, table, rel, value, opts, childRecurse, only, exclude, seen)
			if err != nil {
				return nil, err
			}
			if !skip {
				out[rel.Name] = rows
			}
		}
	}

	for name, extra := range opts.Extra {
		if fn, ok := extra.(func() any); ok {
			out[name] = fn()
			continue
		}
		out[name] = extra
	}

	return out, nil
}

type renderedValue struct {
	value any
}

func (s *Serializer) renderForward(
	ctx context.Context,
	table *schema.Table,
	rel *schema.Relation,
	fkField *schema.Field,
	value reflect.Value,
	opts Options,
	childRecurse bool,
	only, exclude, seen nameSet,
) (*renderedValue, error) {
	if exclude.match(table.Name, rel.Name) || exclude.match(table.Name, rel.BaseColumn) {
		return nil, nil
	}
	if !only.empty() && !only.match(table.Name, rel.Name) && !only.match(table.Name, rel.BaseColumn) {
		return nil, nil
	}

	fk := value.Field(fkField.Index)
	if !opts.Recurse {
		return &renderedValue{value: fk.Interface()}, nil
	}
	if fk.IsZero() {
		return &renderedValue{value: map[string]any{}}, nil
	}

	related, err := s.relatedEntity(ctx, rel, value, fk)
	if err != nil {
		return nil, err
	}
	if related == nil {
		return &renderedValue{value: map[string]any{}}, nil
	}

	childSeen := seen.clone()
	childSeen.add(table.Name + "." + rel.Name)
	childExclude := exclude.clone()
	childExclude.add(table.Name + "." + rel.BaseColumn)

	nested, err := s.ToMap(ctx, related, Options{
		Recurse:  childRecurse,
		Backrefs: opts.Backrefs,
		Only:     only.list(),
		Exclude:  childExclude.list(),
		Seen:     childSeen.list(),
	})
	if err != nil {
		return nil, err
	}
	return &renderedValue{value: nested}, nil
}

func (s *Serializer) renderBackref(
	ctx context.Context,
	table *schema.Table,
	rel *schema.Relation,
	value reflect.Value,
	opts Options,
	childRecurse bool,
	only, exclude, seen nameSet,
) ([]map[string]any, bool, error) {
	if exclude.match(table.Name, rel.Name) {
		return nil, true, nil
	}
	targetTable, err := schema.OfType(rel.Target)
	if err != nil {
		return nil, true, err
	}
	if exclude.match(targetTable.Name, rel.JoinColumn) {
		return nil, true, nil
	}
	if !only.empty() &&
		!only.match(table.Name, rel.Name) &&
		!only.match(targetTable.Name, rel.JoinColumn) {
		return nil, true, nil
	}

	rows, err := s.relatedRows(ctx, table, rel, targetTable, value)
	if err != nil {
		return nil, true, err
	}

	// The originating foreign key is excluded before recursing so the
	// expansion cannot walk back into this entity.
	childExclude := exclude.clone()
	childExclude.add(targetTable.Name + "." + rel.JoinColumn)

	accum := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		nested, err := s.ToMap(ctx, row, Options{
			Recurse:  childRecurse,
			Backrefs: opts.Backrefs,
			Only:     only.list(),
			Exclude:  childExclude.list(),
			Seen:     seen.list(),
		})
		if err != nil {
			return nil, true, err
		}
		accum = append(accum, nested)
	}
	return accum, false, nil
}

// relatedEntity resolves a belongs-to target, preferring an already
// hydrated struct pointer over a storage round-trip.
func (s *Serializer) relatedEntity(
	ctx context.Context,
	rel *schema.Relation,
	value reflect.Value,
	fk reflect.Value,
) (any, error) {
	hydrated := value.Field(rel.Index)
	if hydrated.Kind() == reflect.Pointer && !hydrated.IsNil() {
		return hydrated.Interface(), nil
	}

	if s.db == nil {
		return nil, fmt.Errorf("serialize: relation %s requires a database handle", rel.Name)
	}
	instance := reflect.New(rel.Target)
	err := s.db.NewSelect().
		Model(instance.Interface()).
		Where("? = ?", bun.Ident(rel.JoinColumn), fk.Interface()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return instance.Interface(), nil
}

// relatedRows loads every row of a reverse relation, ordered by the related
// primary key so the expansion is stable.
func (s *Serializer) relatedRows(
	ctx context.Context,
	table *schema.Table,
	rel *schema.Relation,
	targetTable *schema.Table,
	value reflect.Value,
) ([]any, error) {
	baseField, ok := table.Field(rel.BaseColumn)
	if !ok {
		return nil, fmt.Errorf("serialize: relation %s joins unknown column %s", rel.Name, rel.BaseColumn)
	}
	if s.db == nil {
		return nil, fmt.Errorf("serialize: relation %s requires a database handle", rel.Name)
	}

	slicePtr := reflect.New(reflect.SliceOf(reflect.PointerTo(rel.Target)))
	err := s.db.NewSelect().
		Model(slicePtr.Interface()).
		Where("? = ?", bun.Ident(rel.JoinColumn), value.Field(baseField.Index).Interface()).
		OrderExpr("? ASC", bun.Ident(targetTable.PK.Column)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	slice := slicePtr.Elem()
	rows := make([]any, 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		rows = append(rows, slice.Index(i).Interface())
	}
	return rows, nil
}
