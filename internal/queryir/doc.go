// Package queryir defines the typed representation of analysis and
// transformation queries.
//
// Query text arriving from a researcher is untrusted input. It is parsed
// (package sqlparse) into the types here, checked against the schema
// allow-list (package validate), and only then compiled back to SQL
// (package querysql) for execution. The raw string never reaches the
// database backend.
//
// The IR is deliberately small: aggregate selects with grouping and simple
// WHERE filters over a single approved table, plus CREATE TABLE ... AS
// transformations built from the same select grammar. Anything the IR
// cannot express is rejected at parse time.
package queryir
