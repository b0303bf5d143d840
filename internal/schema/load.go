package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// allowlistDefinition is the closed shape every schema file must satisfy.
// The definitions are closed structs, so unification rejects unknown
// column attributes instead of silently dropping them. A misspelled
// private_id would otherwise load a record identifier as selectable.
const allowlistDefinition = `
#Column: {
	type:         "int" | "float" | "boolean" | "string"
	lower?:       number
	upper?:       number
	cardinality?: int & >=0
	private_id?:  bool
}

#Table: {
	rows?:   int & >=0
	columns: [string]: #Column
}

table: [string]: #Table
`

// LoadDir loads the schema allow-list from the CUE files in dir.
//
// Expected shape:
//
//	table: {
//		"puf.puf": {
//			rows: 1000
//			columns: {
//				MARS:   {type: "int", lower: 1, upper: 5, cardinality: 5}
//				E00200: {type: "float", lower: 0, upper: 1_000_000}
//				RECID:  {type: "int", private_id: true}
//			}
//		}
//	}
//
// CUE evaluates and unifies all files in the directory, so the allow-list
// can be split per dataset.
func LoadDir(dir string) (*Schema, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("schema directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("schema path %s is not a directory", dir)
	}

	cueFiles, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scan schema directory: %w", err)
	}
	if len(cueFiles) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("building CUE value: %w", err)
	}

	def := ctx.CompileString(allowlistDefinition)
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("compiling allow-list definition: %w", err)
	}
	if err := value.Unify(def).Validate(); err != nil {
		return nil, fmt.Errorf("schema does not satisfy the allow-list shape: %w", err)
	}

	return fromValue(value)
}

// fromValue extracts the allow-list from an evaluated CUE value.
func fromValue(value cue.Value) (*Schema, error) {
	tablesVal := value.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return nil, fmt.Errorf("schema is missing the top-level \"table\" field")
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("iterating tables: %w", err)
	}

	var tables []Table
	for iter.Next() {
		name := strings.Trim(iter.Selector().String(), `"`)
		t, err := parseTable(name, iter.Value())
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	if len(tables) == 0 {
		return nil, fmt.Errorf("schema defines no tables")
	}

	return New(tables)
}

func parseTable(name string, v cue.Value) (Table, error) {
	var rows int64
	if rowsVal := v.LookupPath(cue.ParsePath("rows")); rowsVal.Exists() {
		n, err := rowsVal.Int64()
		if err != nil {
			return Table{}, fmt.Errorf("table %s: rows: %w", name, err)
		}
		rows = n
	}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return Table{}, fmt.Errorf("table %s: columns are required", name)
	}
	colIter, err := colsVal.Fields()
	if err != nil {
		return Table{}, fmt.Errorf("table %s: iterating columns: %w", name, err)
	}

	var columns []Column
	for colIter.Next() {
		colName := strings.Trim(colIter.Selector().String(), `"`)
		col, err := parseColumn(colName, colIter.Value())
		if err != nil {
			return Table{}, fmt.Errorf("table %s: %w", name, err)
		}
		columns = append(columns, col)
	}
	if len(columns) == 0 {
		return Table{}, fmt.Errorf("table %s: at least one column is required", name)
	}

	return NewTable(name, rows, columns), nil
}

func parseColumn(name string, v cue.Value) (Column, error) {
	col := Column{Name: name}

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return Column{}, fmt.Errorf("column %s: type is required", name)
	}
	typeStr, err := typeVal.String()
	if err != nil {
		return Column{}, fmt.Errorf("column %s: type: %w", name, err)
	}
	switch ColumnType(typeStr) {
	case TypeInt, TypeFloat, TypeBool, TypeString:
		col.Type = ColumnType(typeStr)
	default:
		return Column{}, fmt.Errorf("column %s: unknown type %q", name, typeStr)
	}

	lowerVal := v.LookupPath(cue.ParsePath("lower"))
	upperVal := v.LookupPath(cue.ParsePath("upper"))
	if lowerVal.Exists() != upperVal.Exists() {
		return Column{}, fmt.Errorf("column %s: lower and upper must be set together", name)
	}
	if lowerVal.Exists() {
		lower, err := lowerVal.Float64()
		if err != nil {
			return Column{}, fmt.Errorf("column %s: lower: %w", name, err)
		}
		upper, err := upperVal.Float64()
		if err != nil {
			return Column{}, fmt.Errorf("column %s: upper: %w", name, err)
		}
		if upper < lower {
			return Column{}, fmt.Errorf("column %s: upper %v below lower %v", name, upper, lower)
		}
		col.Lower, col.Upper, col.HasBounds = lower, upper, true
	}

	if cardVal := v.LookupPath(cue.ParsePath("cardinality")); cardVal.Exists() {
		card, err := cardVal.Int64()
		if err != nil {
			return Column{}, fmt.Errorf("column %s: cardinality: %w", name, err)
		}
		col.Cardinality = int(card)
	}

	if pidVal := v.LookupPath(cue.ParsePath("private_id")); pidVal.Exists() {
		pid, err := pidVal.Bool()
		if err != nil {
			return Column{}, fmt.Errorf("column %s: private_id: %w", name, err)
		}
		col.PrivateID = pid
	}

	return col, nil
}
