// Package sqlstore is the storage boundary. The generic gateway hydrates
// records per call and translates storage failures into domain error kinds;
// absence is reported through booleans and empty results, never errors.
package sqlstore

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/drawbook/go-datastore/core"
	"github.com/drawbook/go-datastore/query"
	"github.com/drawbook/go-datastore/schema"
	"github.com/drawbook/go-datastore/serialize"
)

// fieldAllowlister restricts which columns value-mapping writes may touch.
// Records without it accept writes to any non-key, non-timestamp column.
type fieldAllowlister interface {
	AllowedFields() []string
}

// timestampOmitter opts a record out of created_at/updated_at stamping.
type timestampOmitter interface {
	OmitTimestamps() bool
}

// ListOptions shape one list call. A nil Paging returns every matching row;
// otherwise the result is windowed and the resolved window is returned.
type ListOptions struct {
	OrderBy string
	Paging  *query.Paging
}

// Gateway is the generic persistence surface over one record type. It is
// safe for concurrent use; every call hydrates fresh records.
type Gateway[T any] struct {
	db         *bun.DB
	repo       repository.Repository[T]
	handlers   repository.ModelHandlers[T]
	table      *schema.Table
	serializer *serialize.Serializer
}

func NewGateway[T any](db *bun.DB, handlers repository.ModelHandlers[T]) (*Gateway[T], error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	if handlers.NewRecord == nil {
		return nil, fmt.Errorf("sqlstore: model handlers require a record constructor")
	}
	table, err := schema.Of(handlers.NewRecord())
	if err != nil {
		return nil, err
	}
	return &Gateway[T]{
		db:         db,
		repo:       repository.NewRepository[T](db, handlers),
		handlers:   handlers,
		table:      table,
		serializer: serialize.New(db),
	}, nil
}

func (g *Gateway[T]) DB() *bun.DB {
	if g == nil {
		return nil
	}
	return g.db
}

func (g *Gateway[T]) Serializer() *serialize.Serializer {
	if g == nil {
		return nil
	}
	return g.serializer
}

// FindByID loads one record by primary key. Absence is not an error.
func (g *Gateway[T]) FindByID(ctx context.Context, id int64) (T, bool, error) {
	var zero T
	records, _, err := g.repo.List(ctx,
		g.whereEqual(g.table.PK.Column, id),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return zero, false, core.MapStorageError(err)
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}

// FindByIDs loads records keyed by primary key. Empty input returns an empty
// mapping without touching storage.
func (g *Gateway[T]) FindByIDs(ctx context.Context, ids []int64) (map[int64]T, error) {
	out := map[int64]T{}
	if len(ids) == 0 {
		return out, nil
	}
	records, _, err := g.repo.List(ctx, g.whereIn(g.table.PK.Column, ids))
	if err != nil {
		return nil, core.MapStorageError(err)
	}
	for _, record := range records {
		out[g.primaryKey(record)] = record
	}
	return out, nil
}

// FindByField loads records matching any of the given values for one column,
// keyed by that column's value. Empty input returns an empty mapping.
func (g *Gateway[T]) FindByField(ctx context.Context, column string, values []any) (map[any]T, error) {
	field, ok := g.table.Field(column)
	if !ok {
		return nil, core.NewBadInput("sqlstore: " + g.table.Name + " has no column " + column)
	}
	out := map[any]T{}
	if len(values) == 0 {
		return out, nil
	}
	records, _, err := g.repo.List(ctx, g.whereIn(column, values))
	if err != nil {
		return nil, core.MapStorageError(err)
	}
	for _, record := range records {
		out[g.fieldValue(record, field)] = record
	}
	return out, nil
}

// FindOne returns the first record matching the filter. A miss reports
// absence through the boolean.
func (g *Gateway[T]) FindOne(ctx context.Context, filter query.Filter) (T, bool, error) {
	var zero T
	criteria, err := filter.Compile()
	if err != nil {
		return zero, false, err
	}
	records, _, err := g.repo.List(ctx, append(criteria, repository.SelectPaginate(1, 0))...)
	if err != nil {
		return zero, false, core.MapStorageError(err)
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}

// List returns records matching the filter. With paging set, the total is
// counted against the unwindowed query first so a negative offset can
// resolve to the last page; the resolved window comes back with the rows.
func (g *Gateway[T]) List(ctx context.Context, filter query.Filter, opts ListOptions) ([]T, *query.Window, error) {
	criteria, err := filter.Compile()
	if err != nil {
		return nil, nil, err
	}
	order, err := query.ParseOrderBy(opts.OrderBy)
	if err != nil {
		return nil, nil, err
	}

	if opts.Paging == nil {
		records, _, err := g.repo.List(ctx, append(criteria, order...)...)
		if err != nil {
			return nil, nil, core.MapStorageError(err)
		}
		return records, nil, nil
	}

	_, rowsFound, err := g.repo.List(ctx, append(criteria, repository.SelectPaginate(1, 0))...)
	if err != nil {
		return nil, nil, core.MapStorageError(err)
	}
	window := opts.Paging.Resolve(rowsFound)

	windowed := append(append(criteria, order...), window.Criteria())
	records, _, err := g.repo.List(ctx, windowed...)
	if err != nil {
		return nil, nil, core.MapStorageError(err)
	}
	return records, &window, nil
}

// ListMaps lists and serializes in one pass.
func (g *Gateway[T]) ListMaps(
	ctx context.Context,
	filter query.Filter,
	opts ListOptions,
	serializeOpts serialize.Options,
) ([]map[string]any, *query.Window, error) {
	records, window, err := g.List(ctx, filter, opts)
	if err != nil {
		return nil, nil, err
	}
	out := make([]map[string]any, 0, len(records))
	for _, record := range records {
		mapping, err := g.serializer.ToMap(ctx, record, serializeOpts)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, mapping)
	}
	return out, window, nil
}

// Create builds a record from a value mapping, restricted to the record's
// allow-list, stamps timestamps unless the record opts out, and inserts it
// inside a transaction. Uniqueness violations come back as duplicate-key
// domain errors.
func (g *Gateway[T]) Create(ctx context.Context, values map[string]any) (T, error) {
	var zero T
	record := g.handlers.NewRecord()
	if _, err := g.applyValues(record, values); err != nil {
		return zero, err
	}
	g.stampTimestamps(record, time.Now().UTC(), true)
	return g.Insert(ctx, record)
}

// Insert persists an already-built record inside a transaction.
func (g *Gateway[T]) Insert(ctx context.Context, record T) (T, error) {
	var zero T
	var created T
	err := g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		inserted, createErr := g.repo.CreateTx(ctx, tx, record)
		if createErr != nil {
			return createErr
		}
		created = inserted
		return nil
	})
	if err != nil {
		return zero, core.MapStorageError(translateConstraintError(err))
	}
	return created, nil
}

// Update applies allow-listed values to a hydrated record. When nothing
// actually changes it reports a no-op without issuing a write; otherwise
// updated_at is stamped and only the changed columns are persisted.
func (g *Gateway[T]) Update(ctx context.Context, record T, values map[string]any) (bool, error) {
	changed, err := g.applyValues(record, values)
	if err != nil {
		return false, err
	}
	if len(changed) == 0 {
		return false, nil
	}
	if g.stampTimestamps(record, time.Now().UTC(), false) {
		changed = append(changed, "updated_at")
	}

	err = g.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, execErr := tx.NewUpdate().
			Model(record).
			Column(changed...).
			WherePK().
			Exec(ctx)
		return execErr
	})
	if err != nil {
		return false, core.MapStorageError(translateConstraintError(err))
	}
	return true, nil
}

// UpdateByID loads the record then applies Update. A missing id is absence.
func (g *Gateway[T]) UpdateByID(ctx context.Context, id int64, values map[string]any) (T, bool, error) {
	var zero T
	record, found, err := g.FindByID(ctx, id)
	if err != nil {
		return zero, false, err
	}
	if !found {
		return zero, false, nil
	}
	if _, err := g.Update(ctx, record, values); err != nil {
		return zero, false, err
	}
	return record, true, nil
}

// Raw runs a literal query and returns rows as column-keyed mappings. It is
// the escape hatch for aggregates outside the record abstraction.
func (g *Gateway[T]) Raw(ctx context.Context, q string, args ...any) ([]map[string]any, error) {
	rows, err := g.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, core.MapStorageError(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, core.MapStorageError(err)
	}

	var out []map[string]any
	for rows.Next() {
		cells := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range cells {
			scan[i] = &cells[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, core.MapStorageError(err)
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			if raw, ok := cells[i].([]byte); ok {
				row[column] = string(raw)
				continue
			}
			row[column] = cells[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, core.MapStorageError(err)
	}
	return out, nil
}

func (g *Gateway[T]) whereEqual(column string, value any) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? = ?", bun.Ident(column), value)
	})
}

func (g *Gateway[T]) whereIn(column string, values any) repository.SelectCriteria {
	return repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.? IN (?)", bun.Ident(column), bun.In(values))
	})
}

// applyValues writes mapping entries onto the record in sorted key order and
// returns the columns whose values actually changed.
func (g *Gateway[T]) applyValues(record T, values map[string]any) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}

	allowed := g.allowedColumns(record)
	target := reflect.ValueOf(record)
	for target.Kind() == reflect.Pointer {
		target = target.Elem()
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var changed []string
	for _, key := range keys {
		field, ok := g.table.Field(key)
		if !ok {
			return nil, core.NewBadInput("sqlstore: " + g.table.Name + " has no column " + key)
		}
		if _, ok := allowed[key]; !ok {
			continue
		}
		slot := target.Field(field.Index)
		next, err := coerceValue(slot.Type(), values[key])
		if err != nil {
			return nil, core.NewBadInput("sqlstore: column " + key + ": " + err.Error())
		}
		if reflect.DeepEqual(slot.Interface(), next.Interface()) {
			continue
		}
		slot.Set(next)
		changed = append(changed, key)
	}
	return changed, nil
}

func (g *Gateway[T]) allowedColumns(record T) map[string]struct{} {
	out := map[string]struct{}{}
	if lister, ok := any(record).(fieldAllowlister); ok {
		for _, column := range lister.AllowedFields() {
			out[column] = struct{}{}
		}
		return out
	}
	for _, field := range g.table.Fields {
		if field.IsPK || field.IsSoftDelete {
			continue
		}
		if field.Column == "created_at" || field.Column == "updated_at" {
			continue
		}
		out[field.Column] = struct{}{}
	}
	return out
}

// stampTimestamps sets created_at (creation only) and updated_at when the
// record carries those columns and does not opt out. It reports whether
// updated_at was written.
func (g *Gateway[T]) stampTimestamps(record T, now time.Time, creating bool) bool {
	if omitter, ok := any(record).(timestampOmitter); ok && omitter.OmitTimestamps() {
		return false
	}
	target := reflect.ValueOf(record)
	for target.Kind() == reflect.Pointer {
		target = target.Elem()
	}

	if creating {
		if field, ok := g.table.Field("created_at"); ok {
			setTime(target.Field(field.Index), now)
		}
	}
	field, ok := g.table.Field("updated_at")
	if !ok {
		return false
	}
	return setTime(target.Field(field.Index), now)
}

func setTime(slot reflect.Value, now time.Time) bool {
	if slot.Type() != reflect.TypeOf(time.Time{}) {
		return false
	}
	slot.Set(reflect.ValueOf(now))
	return true
}

func (g *Gateway[T]) primaryKey(record T) int64 {
	return reflect.Indirect(reflect.ValueOf(record)).Field(g.table.PK.Index).Int()
}

func (g *Gateway[T]) fieldValue(record T, field *schema.Field) any {
	return reflect.Indirect(reflect.ValueOf(record)).Field(field.Index).Interface()
}

// coerceValue adapts a mapping value to the record field type. Numeric kinds
// convert across widths; anything else must match exactly.
func coerceValue(target reflect.Type, value any) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(target), nil
	}
	v := reflect.ValueOf(value)
	if v.Type() == target {
		return v, nil
	}
	if isNumericKind(v.Kind()) && isNumericKind(target.Kind()) && v.Type().ConvertibleTo(target) {
		return v.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot assign %T to %s", value, target)
}

func isNumericKind(kind reflect.Kind) bool {
	switch kind {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
