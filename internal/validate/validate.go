// Package validate is the query validator: it turns untrusted query text
// into a ValidatedQuery or rejects it.
//
// Validation composes two stages. Package sqlparse enforces the grammar
// allow-list (structure); this package enforces the schema allow-list
// (names). Both stages are pure functions over the input text and the
// static schema - no side effects, no I/O.
package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tolliver/veil/internal/queryir"
	"github.com/tolliver/veil/internal/schema"
	"github.com/tolliver/veil/internal/sqlparse"
)

// Reason categorizes validation failures.
type Reason string

const (
	ReasonEmptyQuery           Reason = "empty_query"
	ReasonUnsupportedConstruct Reason = "unsupported_construct"
	ReasonUnknownTable         Reason = "unknown_table"
	ReasonUnknownColumn        Reason = "unknown_column"

	// ReasonInvalidRequest covers payload-level faults caught at the
	// boundary before the query text is even parsed: malformed JSON,
	// unknown or missing fields, non-positive epsilon.
	ReasonInvalidRequest Reason = "invalid_request"
)

// Error is a validation failure. User-input fault; never retried.
type Error struct {
	Reason  Reason
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// IsValidationError returns true if err is a validate.Error.
// Uses errors.As to handle wrapped errors.
func IsValidationError(err error) bool {
	var ve *Error
	return errors.As(err, &ve)
}

func newError(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// ValidatedQuery is an analysis query that passed both grammar and schema
// validation, together with its optional transformation pre-step.
//
// Table is the table the analysis runs against: the approved base table,
// or the derived table described by Transform. NumCells reports how many
// noised output cells the query produces per group row (the aggregate
// count); the engine divides epsilon by cells at execution time.
type ValidatedQuery struct {
	Table     schema.Table
	Query     queryir.AnalysisQuery
	Transform *queryir.TransformQuery
}

// Validate checks analysis query text (and optional transformation text)
// against the schema allow-list.
//
// When transformation text is present, the transformation is validated
// first: its target must extend an approved table name and its select must
// draw only from approved columns. The analysis query must then target the
// transformation result, whose column set is derived from the
// transformation's select items.
func Validate(analysisText, transformText string, sch *schema.Schema) (*ValidatedQuery, error) {
	working := sch

	var transform *queryir.TransformQuery
	if transformText != "" {
		t, err := parseTransform(transformText, sch)
		if err != nil {
			return nil, err
		}
		transform = t
		working = sch.WithDerived(derivedTable(t, sch))
	}

	q, err := sqlparse.ParseAnalysis(analysisText)
	if err != nil {
		return nil, fromParseError(err)
	}

	table, ok := working.Table(q.Table)
	if !ok {
		return nil, newError(ReasonUnknownTable, "table %q is not in the approved schema", q.Table)
	}
	if transform != nil && !strings.EqualFold(q.Table, transform.Target) {
		return nil, newError(ReasonUnsupportedConstruct,
			"analysis query must target the transformation result %q, not %q", transform.Target, q.Table)
	}

	if err := checkAnalysisShape(q, table); err != nil {
		return nil, err
	}

	return &ValidatedQuery{Table: table, Query: *q, Transform: transform}, nil
}

// NumCells returns the number of noised output cells per result row.
func (v *ValidatedQuery) NumCells() int {
	return len(v.Query.Aggregates())
}

func fromParseError(err error) error {
	var pe *sqlparse.Error
	if errors.As(err, &pe) {
		switch pe.Reason {
		case sqlparse.ReasonEmptyQuery:
			return newError(ReasonEmptyQuery, "%s", pe.Message)
		default:
			return newError(ReasonUnsupportedConstruct, "%s", pe.Message)
		}
	}
	return newError(ReasonUnsupportedConstruct, "%v", err)
}

// checkAnalysisShape enforces the aggregate-select rules against one table:
// at least one aggregate, plain columns covered by GROUP BY, every name in
// the allow-list, no private identifiers anywhere.
func checkAnalysisShape(q *queryir.AnalysisQuery, table schema.Table) error {
	if len(q.Aggregates()) == 0 {
		return newError(ReasonUnsupportedConstruct,
			"analysis query must compute at least one aggregate (row-level selection is not allowed)")
	}

	grouped := make(map[string]bool, len(q.GroupBy))
	for _, g := range q.GroupBy {
		col, err := lookupColumn(table, g)
		if err != nil {
			return err
		}
		grouped[strings.ToLower(col.Name)] = true
	}

	for _, item := range q.Items {
		switch it := item.(type) {
		case queryir.Column:
			col, err := lookupColumn(table, it.Name)
			if err != nil {
				return err
			}
			if !grouped[strings.ToLower(col.Name)] {
				return newError(ReasonUnsupportedConstruct,
					"column %q selected without aggregation must appear in GROUP BY", it.Name)
			}
		case queryir.Aggregate:
			if it.Column == queryir.Star {
				continue
			}
			col, err := lookupColumn(table, it.Column)
			if err != nil {
				return err
			}
			if it.Func != queryir.AggCount && col.Type != schema.TypeInt && col.Type != schema.TypeFloat {
				return newError(ReasonUnsupportedConstruct,
					"%s over non-numeric column %q", it.Func, it.Column)
			}
		}
	}

	if q.Where != nil {
		if err := checkPredicate(q.Where, table); err != nil {
			return err
		}
	}

	return nil
}

func checkPredicate(p queryir.Predicate, table schema.Table) error {
	switch pred := p.(type) {
	case queryir.Compare:
		_, err := lookupColumn(table, pred.Column)
		return err
	case queryir.And:
		for _, sub := range pred.Predicates {
			if err := checkPredicate(sub, table); err != nil {
				return err
			}
		}
		return nil
	default:
		return newError(ReasonUnsupportedConstruct, "unsupported predicate type %T", p)
	}
}

// lookupColumn resolves a column in the table, rejecting unknown names and
// private identifiers.
func lookupColumn(table schema.Table, name string) (schema.Column, error) {
	col, ok := table.Column(name)
	if !ok {
		return schema.Column{}, newError(ReasonUnknownColumn,
			"column %q does not exist in table %q", name, table.Name)
	}
	if col.PrivateID {
		return schema.Column{}, newError(ReasonUnsupportedConstruct,
			"column %q is a private identifier and cannot be referenced", name)
	}
	return col, nil
}

// parseTransform parses and validates a transformation query against the
// base schema.
func parseTransform(text string, sch *schema.Schema) (*queryir.TransformQuery, error) {
	t, err := sqlparse.ParseTransform(text)
	if err != nil {
		return nil, fromParseError(err)
	}

	if _, ok := sch.BaseOf(t.Target); !ok {
		return nil, newError(ReasonUnknownTable,
			"transformation target %q does not extend an approved table name", t.Target)
	}
	if _, exists := sch.Table(t.Target); exists {
		return nil, newError(ReasonUnsupportedConstruct,
			"transformation target %q shadows an approved base table", t.Target)
	}

	source, ok := sch.Table(t.Select.Table)
	if !ok {
		return nil, newError(ReasonUnknownTable,
			"transformation source table %q is not in the approved schema", t.Select.Table)
	}

	// Transformations produce a derived table that stays inside the
	// enclave, so row-level selects (no aggregates) are admissible here.
	for _, item := range t.Select.Items {
		switch it := item.(type) {
		case queryir.Column:
			if _, err := lookupColumn(source, it.Name); err != nil {
				return nil, err
			}
		case queryir.Aggregate:
			if it.Column == queryir.Star {
				continue
			}
			if _, err := lookupColumn(source, it.Column); err != nil {
				return nil, err
			}
		}
	}
	for _, g := range t.Select.GroupBy {
		if _, err := lookupColumn(source, g); err != nil {
			return nil, err
		}
	}
	if t.Select.Where != nil {
		if err := checkPredicate(t.Select.Where, source); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// derivedTable describes the transformation result for validating the
// analysis query. Column metadata is carried over from the source for
// plain columns; aggregate outputs become unbounded floats until dataset
// introspection refreshes their bounds after the transformation runs.
func derivedTable(t *queryir.TransformQuery, sch *schema.Schema) schema.Table {
	source, _ := sch.Table(t.Select.Table)

	var cols []schema.Column
	for _, item := range t.Select.Items {
		switch it := item.(type) {
		case queryir.Column:
			src, _ := source.Column(it.Name)
			src.Name = it.OutputName()
			cols = append(cols, src)
		case queryir.Aggregate:
			cols = append(cols, schema.Column{
				Name: it.OutputName(),
				Type: schema.TypeFloat,
			})
		}
	}
	return schema.NewTable(t.Target, 0, cols)
}

