// Package sqlparse turns raw query text into queryir values.
//
// The grammar is an allow-list, not a SQL dialect: aggregate selects with
// optional WHERE conjunctions and GROUP BY over a single table, and
// CREATE TABLE ... AS transformations over the same select form. Joins,
// subqueries, unions, write statements and function calls other than the
// supported aggregates are all rejected as unsupported constructs.
//
// Parsing is purely syntactic. Table and column existence is checked later
// against the schema allow-list by package validate.
package sqlparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/tolliver/veil/internal/queryir"
)

// Reason categorizes parse failures.
type Reason string

const (
	// ReasonEmptyQuery indicates blank or whitespace-only query text.
	ReasonEmptyQuery Reason = "empty_query"

	// ReasonUnsupportedConstruct indicates text outside the allow-listed
	// grammar: bad syntax, write statements, joins, subqueries, unknown
	// functions.
	ReasonUnsupportedConstruct Reason = "unsupported_construct"
)

// Error is a parse failure with a position in the input text.
type Error struct {
	Reason  Reason
	Message string
	Pos     int // byte offset into the query text, -1 when unknown
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Pos >= 0 {
		return fmt.Sprintf("%s at offset %d: %s", e.Reason, e.Pos, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// IsParseError returns true if err is a sqlparse.Error.
// Uses errors.As to handle wrapped errors.
func IsParseError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

func unsupported(pos int, format string, args ...any) *Error {
	return &Error{Reason: ReasonUnsupportedConstruct, Message: fmt.Sprintf(format, args...), Pos: pos}
}

// ParseAnalysis parses an analysis query:
//
//	SELECT <items> FROM <table> [WHERE <pred>] [GROUP BY <cols>] [;]
func ParseAnalysis(text string) (*queryir.AnalysisQuery, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	q, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return q, nil
}

// ParseTransform parses a transformation query:
//
//	CREATE TABLE <target> AS SELECT ... [;]
func ParseTransform(text string) (*queryir.TransformQuery, error) {
	p, err := newParser(text)
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}
	target, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("AS"); err != nil {
		return nil, err
	}
	sel, err := p.parseSelect()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return &queryir.TransformQuery{Target: target, Select: *sel}, nil
}

// token kinds
type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokSymbol // ( ) , ; * = <> <= >= < >
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type parser struct {
	toks []token
	i    int
}

func newParser(text string) (*parser, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Reason: ReasonEmptyQuery, Message: "query text is empty", Pos: -1}
	}
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	return &parser{toks: toks}, nil
}

// tokenize scans query text into tokens. Identifiers are NFC-normalized
// so allow-list matching is not sensitive to Unicode encoding of the
// same identifier.
func tokenize(text string) ([]token, error) {
	var toks []token
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					// '' is an escaped quote inside the literal
					if i+1 < len(runes) && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, unsupported(start, "unterminated string literal")
			}
			toks = append(toks, token{kind: tokString, text: sb.String(), pos: start})
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			toks = append(toks, token{kind: tokNumber, text: string(runes[start:i]), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			// Combining marks continue an identifier so decomposed
			// Unicode input survives until NFC normalization below.
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) ||
				unicode.IsMark(runes[i]) || runes[i] == '_') {
				i++
			}
			ident := norm.NFC.String(string(runes[start:i]))
			toks = append(toks, token{kind: tokIdent, text: ident, pos: start})
		case r == '<':
			start := i
			i++
			if i < len(runes) && (runes[i] == '=' || runes[i] == '>') {
				i++
			}
			toks = append(toks, token{kind: tokSymbol, text: string(runes[start:i]), pos: start})
		case r == '>':
			start := i
			i++
			if i < len(runes) && runes[i] == '=' {
				i++
			}
			toks = append(toks, token{kind: tokSymbol, text: string(runes[start:i]), pos: start})
		case strings.ContainsRune("(),;*=.", r):
			toks = append(toks, token{kind: tokSymbol, text: string(r), pos: i})
			i++
		default:
			return nil, unsupported(i, "unexpected character %q", string(r))
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(runes)})
	return toks, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) next() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

// keyword matching is case-insensitive, as in the source dialect.
func isKeyword(t token, kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func (p *parser) acceptKeyword(kw string) bool {
	if isKeyword(p.peek(), kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectKeyword(kw string) error {
	t := p.next()
	if !isKeyword(t, kw) {
		return unsupported(t.pos, "expected %s, found %q", kw, t.text)
	}
	return nil
}

func (p *parser) acceptSymbol(sym string) bool {
	t := p.peek()
	if t.kind == tokSymbol && t.text == sym {
		p.next()
		return true
	}
	return false
}

func (p *parser) expectSymbol(sym string) error {
	t := p.next()
	if t.kind != tokSymbol || t.text != sym {
		return unsupported(t.pos, "expected %q, found %q", sym, t.text)
	}
	return nil
}

// reservedWords may not be used as identifiers. This keeps aliases like
// "FROM" from silently swallowing the rest of the statement.
var reservedWords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "GROUP": true, "BY": true,
	"AS": true, "AND": true, "CREATE": true, "TABLE": true,
	"TRUE": true, "FALSE": true,
}

func (p *parser) ident() (string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return "", unsupported(t.pos, "expected identifier, found %q", t.text)
	}
	if reservedWords[strings.ToUpper(t.text)] {
		return "", unsupported(t.pos, "reserved word %q cannot be used as identifier", t.text)
	}
	return t.text, nil
}

// qualifiedName parses ident or ident.ident (schema-qualified table name).
func (p *parser) qualifiedName() (string, error) {
	first, err := p.ident()
	if err != nil {
		return "", err
	}
	if p.acceptSymbol(".") {
		second, err := p.ident()
		if err != nil {
			return "", err
		}
		return first + "." + second, nil
	}
	return first, nil
}

func (p *parser) expectEnd() error {
	p.acceptSymbol(";")
	t := p.peek()
	if t.kind != tokEOF {
		return unsupported(t.pos, "unexpected trailing input %q", t.text)
	}
	return nil
}

func (p *parser) parseSelect() (*queryir.AnalysisQuery, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}

	var items []queryir.SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if !p.acceptSymbol(",") {
			break
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}

	q := &queryir.AnalysisQuery{Table: table, Items: items}

	if p.acceptKeyword("WHERE") {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		q.Where = pred
	}

	if p.acceptKeyword("GROUP") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			q.GroupBy = append(q.GroupBy, col)
			if !p.acceptSymbol(",") {
				break
			}
		}
	}

	return q, nil
}

// parseSelectItem parses either aggfunc(col|*) [AS alias] or col [AS alias].
func (p *parser) parseSelectItem() (queryir.SelectItem, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return nil, unsupported(t.pos, "expected column or aggregate, found %q", t.text)
	}

	// Lookahead for "name(" - an aggregate call.
	if p.toks[p.i+1].kind == tokSymbol && p.toks[p.i+1].text == "(" {
		name := p.next()
		fn, ok := queryir.ParseAggFunc(name.text)
		if !ok {
			return nil, unsupported(name.pos, "function %q is not a supported aggregate", name.text)
		}
		p.next() // consume "("
		var col string
		if p.acceptSymbol("*") {
			if fn != queryir.AggCount {
				return nil, unsupported(name.pos, "%s(*) is not supported, only COUNT(*)", fn)
			}
			col = queryir.Star
		} else {
			c, err := p.ident()
			if err != nil {
				return nil, err
			}
			col = c
		}
		if err := p.expectSymbol(")"); err != nil {
			return nil, err
		}
		alias, err := p.parseAlias()
		if err != nil {
			return nil, err
		}
		return queryir.Aggregate{Func: fn, Column: col, Alias: alias}, nil
	}

	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	alias, err := p.parseAlias()
	if err != nil {
		return nil, err
	}
	return queryir.Column{Name: col, Alias: alias}, nil
}

// parseAlias parses an optional AS alias. Bare aliases (without AS) are
// not accepted; requiring the keyword keeps the grammar unambiguous.
func (p *parser) parseAlias() (string, error) {
	if !p.acceptKeyword("AS") {
		return "", nil
	}
	return p.ident()
}

// parsePredicate parses comparison (AND comparison)*. OR is outside the
// allow-listed grammar.
func (p *parser) parsePredicate() (queryir.Predicate, error) {
	first, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	preds := []queryir.Predicate{first}
	for p.acceptKeyword("AND") {
		next, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		preds = append(preds, next)
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return queryir.And{Predicates: preds}, nil
}

func (p *parser) parseComparison() (queryir.Predicate, error) {
	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	t := p.next()
	if t.kind != tokSymbol {
		return nil, unsupported(t.pos, "expected comparison operator, found %q", t.text)
	}
	var op queryir.Op
	switch t.text {
	case "=":
		op = queryir.OpEq
	case "<>":
		op = queryir.OpNe
	case "<":
		op = queryir.OpLt
	case "<=":
		op = queryir.OpLe
	case ">":
		op = queryir.OpGt
	case ">=":
		op = queryir.OpGe
	default:
		return nil, unsupported(t.pos, "operator %q is not supported", t.text)
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return queryir.Compare{Column: col, Op: op, Value: lit}, nil
}

func (p *parser) parseLiteral() (queryir.Literal, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if strings.Contains(t.text, ".") {
			f, err := strconv.ParseFloat(t.text, 64)
			if err != nil {
				return nil, unsupported(t.pos, "invalid numeric literal %q", t.text)
			}
			return queryir.LitFloat(f), nil
		}
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, unsupported(t.pos, "invalid integer literal %q", t.text)
		}
		return queryir.LitInt(n), nil
	case tokString:
		return queryir.LitString(t.text), nil
	case tokIdent:
		if strings.EqualFold(t.text, "TRUE") {
			return queryir.LitBool(true), nil
		}
		if strings.EqualFold(t.text, "FALSE") {
			return queryir.LitBool(false), nil
		}
		return nil, unsupported(t.pos, "expected literal, found identifier %q (column-to-column comparison is not supported)", t.text)
	default:
		return nil, unsupported(t.pos, "expected literal, found %q", t.text)
	}
}
