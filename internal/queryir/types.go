package queryir

import "strings"

// AggFunc identifies a supported aggregate function.
//
// The supported set is closed: COUNT, SUM, AVG. Sensitivity calibration
// in the execution engine depends on knowing exactly how each aggregate
// responds to a single-record change, so new functions require a matching
// sensitivity rule before they can be added here.
type AggFunc string

const (
	AggCount AggFunc = "COUNT"
	AggSum   AggFunc = "SUM"
	AggAvg   AggFunc = "AVG"
)

// ParseAggFunc maps a function name to an AggFunc, case-insensitively.
// Returns false for anything outside the supported set.
func ParseAggFunc(name string) (AggFunc, bool) {
	switch AggFunc(strings.ToUpper(name)) {
	case AggCount:
		return AggCount, true
	case AggSum:
		return AggSum, true
	case AggAvg:
		return AggAvg, true
	default:
		return "", false
	}
}

// SelectItem is one output expression of an analysis query.
//
// Sealed interface - only Column and Aggregate implement it. The marker
// method keeps type switches in the validator and SQL compiler exhaustive.
type SelectItem interface {
	selectItem()
}

// Column selects a plain column, optionally aliased.
//
// Plain columns are only admissible when they also appear in GROUP BY;
// the validator enforces this.
type Column struct {
	Name  string
	Alias string
}

func (Column) selectItem() {}

// OutputName returns the name the column contributes to the result row.
func (c Column) OutputName() string {
	if c.Alias != "" {
		return c.Alias
	}
	return c.Name
}

// Aggregate selects an aggregate over a column.
//
// Column is "*" only for COUNT(*). SUM and AVG always name a real column
// because their sensitivity derives from that column's bounds.
type Aggregate struct {
	Func   AggFunc
	Column string
	Alias  string
}

func (Aggregate) selectItem() {}

// OutputName returns the name the aggregate contributes to the result row.
func (a Aggregate) OutputName() string {
	if a.Alias != "" {
		return a.Alias
	}
	if a.Column == Star {
		return strings.ToLower(string(a.Func))
	}
	return strings.ToLower(string(a.Func)) + "_" + a.Column
}

// Star is the COUNT(*) column marker.
const Star = "*"

// Op is a comparison operator in a WHERE predicate.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "<>"
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Predicate is a filter condition.
//
// Sealed interface - only Compare and And implement it. OR, subqueries and
// function calls are outside the allow-listed grammar.
type Predicate interface {
	predicateNode()
}

// Compare is a column-operator-literal condition.
type Compare struct {
	Column string
	Op     Op
	Value  Literal
}

func (Compare) predicateNode() {}

// And is a conjunction of predicates. All must hold.
// An empty Predicates slice is vacuously true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Literal is a typed constant in a predicate.
//
// Sealed interface - only LitInt, LitFloat, LitString and LitBool
// implement it.
type Literal interface {
	literalNode()
	// Param returns the value in the form passed to the SQL driver.
	Param() any
}

// LitInt is an integer literal.
type LitInt int64

func (LitInt) literalNode() {}

// Param implements Literal.
func (l LitInt) Param() any { return int64(l) }

// LitFloat is a floating point literal.
type LitFloat float64

func (LitFloat) literalNode() {}

// Param implements Literal.
func (l LitFloat) Param() any { return float64(l) }

// LitString is a string literal.
type LitString string

func (LitString) literalNode() {}

// Param implements Literal.
func (l LitString) Param() any { return string(l) }

// LitBool is a boolean literal.
type LitBool bool

func (LitBool) literalNode() {}

// Param implements Literal.
func (l LitBool) Param() any { return bool(l) }

// AnalysisQuery is the parsed form of an analysis query:
//
//	SELECT <items> FROM <table> [WHERE <pred>] [GROUP BY <cols>]
//
// Table keeps the qualified name as written (e.g. "puf.puf"). The parser
// guarantees structure only; existence of the table and columns is the
// validator's job.
type AnalysisQuery struct {
	Table   string
	Items   []SelectItem
	Where   Predicate
	GroupBy []string
}

// Aggregates returns the aggregate items in declaration order.
func (q AnalysisQuery) Aggregates() []Aggregate {
	var aggs []Aggregate
	for _, item := range q.Items {
		if a, ok := item.(Aggregate); ok {
			aggs = append(aggs, a)
		}
	}
	return aggs
}

// PlainColumns returns the non-aggregate items in declaration order.
func (q AnalysisQuery) PlainColumns() []Column {
	var cols []Column
	for _, item := range q.Items {
		if c, ok := item.(Column); ok {
			cols = append(cols, c)
		}
	}
	return cols
}

// TransformQuery is the parsed form of a transformation query:
//
//	CREATE TABLE <target> AS SELECT ...
//
// The inner select uses the same restricted grammar as analysis queries.
// Target must extend an approved table name (e.g. "puf.puf_wages" for
// approved table "puf.puf"); the validator enforces the prefix rule so a
// transformation cannot smuggle in an unapproved table.
type TransformQuery struct {
	Target string
	Select AnalysisQuery
}
