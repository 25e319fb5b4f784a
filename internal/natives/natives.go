// Package natives is the host-function "standard library" scripts reach
// through ordinary calls: there are no import or module statements in
// this language, so every capability beyond the core grammar is wired
// in as a native function registered on the VM before a script runs.
package natives

import (
	"database/sql"
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/google/uuid"
	strftime "github.com/ncruces/go-strftime"
	_ "modernc.org/sqlite"

	"github.com/estevaofon/noxy-vm/internal/value"
	"github.com/estevaofon/noxy-vm/internal/vm"
)

// Registry holds native-function state that must outlive a single call:
// currently just open database handles, keyed the same way the VM's
// teacher keyed open files — a small integer the script holds onto and
// passes back in to later calls.
type Registry struct {
	dbHandles  map[int]*sql.DB
	nextHandle int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{dbHandles: make(map[int]*sql.DB)}
}

// Register installs every native this registry backs, plus the
// stateless ones, onto m.
func (r *Registry) Register(m *vm.VM) {
	m.DefineNative("clock", clock)
	m.DefineNative("uuid", uuidNative)
	m.DefineNative("strftime", strftimeNative)
	m.DefineNative("humanize_bytes", humanizeBytes)
	m.DefineNative("humanize_time", humanizeTime)
	m.DefineNative("db_open", r.dbOpen)
	m.DefineNative("db_exec", r.dbExec)
	m.DefineNative("db_query", r.dbQuery)
	m.DefineNative("db_close", r.dbClose)
}

func arityError(name string, want, got int) error {
	return fmt.Errorf("%s() expects %d argument(s), got %d", name, want, got)
}

func expectNumber(name string, args []value.Value, i int) (float64, error) {
	if args[i].Type != value.Number {
		return 0, fmt.Errorf("%s() expects argument %d to be a number", name, i+1)
	}
	return args[i].AsNumber, nil
}

func expectString(name string, args []value.Value, i int) (string, error) {
	s, ok := args[i].IsString()
	if !ok {
		return "", fmt.Errorf("%s() expects argument %d to be a string", name, i+1)
	}
	return s.Chars, nil
}

// clock returns milliseconds since the Unix epoch, the same clock
// strftime's epoch_ms argument is meant to be fed from.
func clock(args []value.Value) (value.Value, error) {
	if len(args) != 0 {
		return value.Value{}, arityError("clock", 0, len(args))
	}
	return value.NewNumber(float64(time.Now().UnixMilli())), nil
}

func uuidNative(args []value.Value) (value.Value, error) {
	if len(args) != 0 {
		return value.Value{}, arityError("uuid", 0, len(args))
	}
	return value.NewString(uuid.NewString()), nil
}

// strftimeNative formats an epoch-millisecond timestamp with a C
// strftime-style format string.
func strftimeNative(args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return value.Value{}, arityError("strftime", 2, len(args))
	}
	format, err := expectString("strftime", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	epochMs, err := expectNumber("strftime", args, 1)
	if err != nil {
		return value.Value{}, err
	}
	t := time.UnixMilli(int64(epochMs)).UTC()
	formatted, err := strftime.Format(format, t)
	if err != nil {
		return value.Value{}, fmt.Errorf("strftime(): %w", err)
	}
	return value.NewString(formatted), nil
}

func humanizeBytes(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, arityError("humanize_bytes", 1, len(args))
	}
	n, err := expectNumber("humanize_bytes", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewString(humanize.Bytes(uint64(n))), nil
}

// humanizeTime takes seconds since the Unix epoch and renders it
// relative to now ("3 days ago", "2 hours from now").
func humanizeTime(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, arityError("humanize_time", 1, len(args))
	}
	secs, err := expectNumber("humanize_time", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	return value.NewString(humanize.Time(time.Unix(int64(secs), 0))), nil
}

func (r *Registry) dbOpen(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, arityError("db_open", 1, len(args))
	}
	path, err := expectString("db_open", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return value.Value{}, fmt.Errorf("db_open(): %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return value.Value{}, fmt.Errorf("db_open(): %w", err)
	}
	handle := r.nextHandle
	r.nextHandle++
	r.dbHandles[handle] = db
	return value.NewNumber(float64(handle)), nil
}

func (r *Registry) handle(name string, args []value.Value, i int) (*sql.DB, error) {
	n, err := expectNumber(name, args, i)
	if err != nil {
		return nil, err
	}
	db, ok := r.dbHandles[int(n)]
	if !ok {
		return nil, fmt.Errorf("%s(): no open database with handle %g", name, n)
	}
	return db, nil
}

// toGoValue converts a script Value to the Go type database/sql expects
// as a query parameter.
func toGoValue(v value.Value) (interface{}, error) {
	switch v.Type {
	case value.Number:
		return v.AsNumber, nil
	case value.Boolean:
		return v.AsBoolean, nil
	case value.Nil:
		return nil, nil
	case value.Obj:
		if s, ok := v.IsString(); ok {
			return s.Chars, nil
		}
	}
	return nil, fmt.Errorf("value of type %v cannot be used as a database parameter", v.Type)
}

// dbExec runs a statement that does not return rows: db_exec(handle,
// sql, ...params) -> rows affected.
func (r *Registry) dbExec(args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return value.Value{}, fmt.Errorf("db_exec() expects at least 2 arguments, got %d", len(args))
	}
	db, err := r.handle("db_exec", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	query, err := expectString("db_exec", args, 1)
	if err != nil {
		return value.Value{}, err
	}
	params := make([]interface{}, 0, len(args)-2)
	for _, a := range args[2:] {
		p, err := toGoValue(a)
		if err != nil {
			return value.Value{}, err
		}
		params = append(params, p)
	}
	result, err := db.Exec(query, params...)
	if err != nil {
		return value.Value{}, fmt.Errorf("db_exec(): %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return value.Value{}, fmt.Errorf("db_exec(): %w", err)
	}
	return value.NewNumber(float64(affected)), nil
}

// dbQuery runs a statement that returns rows: db_query(handle, sql,
// ...params). The language has no array or map value, so rows are
// printed (tab-separated, one line each) as they are scanned; the
// return value is the row count, letting scripts branch on whether
// anything came back.
func (r *Registry) dbQuery(args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return value.Value{}, fmt.Errorf("db_query() expects at least 2 arguments, got %d", len(args))
	}
	db, err := r.handle("db_query", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	query, err := expectString("db_query", args, 1)
	if err != nil {
		return value.Value{}, err
	}
	params := make([]interface{}, 0, len(args)-2)
	for _, a := range args[2:] {
		p, err := toGoValue(a)
		if err != nil {
			return value.Value{}, err
		}
		params = append(params, p)
	}

	rows, err := db.Query(query, params...)
	if err != nil {
		return value.Value{}, fmt.Errorf("db_query(): %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return value.Value{}, fmt.Errorf("db_query(): %w", err)
	}

	count := 0
	dest := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return value.Value{}, fmt.Errorf("db_query(): %w", err)
		}
		line := ""
		for i, v := range dest {
			if i > 0 {
				line += "\t"
			}
			line += fmt.Sprintf("%v", v)
		}
		fmt.Println(line)
		count++
	}
	if err := rows.Err(); err != nil {
		return value.Value{}, fmt.Errorf("db_query(): %w", err)
	}
	return value.NewNumber(float64(count)), nil
}

func (r *Registry) dbClose(args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return value.Value{}, arityError("db_close", 1, len(args))
	}
	n, err := expectNumber("db_close", args, 0)
	if err != nil {
		return value.Value{}, err
	}
	db, ok := r.dbHandles[int(n)]
	if !ok {
		return value.NewNil(), nil
	}
	delete(r.dbHandles, int(n))
	if err := db.Close(); err != nil {
		return value.Value{}, fmt.Errorf("db_close(): %w", err)
	}
	return value.NewNil(), nil
}
