// Package validator statically inspects submitted SQL before it reaches the
// executor.
//
// The first line of defense is a conservative lexical filter: one statement,
// opened by SELECT or WITH, with no mutating or session-altering keyword
// anywhere in the text. Keywords are matched on word boundaries regardless of
// context, so a column literally named "update" is rejected too.
//
// When the parser check is enabled, accepted text is additionally parsed with
// the PostgreSQL grammar (pg_query). Every node of the tree is visited, and the
// text is rejected unless it is a single plain SELECT whose relations and
// functions are unqualified. Unqualified pg_* relations are rejected as well,
// since they resolve to the system catalogs.
// Text the parser cannot handle is passed through so that the store reports
// the syntax error with its own position information.
package validator
