package sandbox

import (
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
)

func quoteIdent(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

// quoteLiteral renders s as a string constant that is safe whatever the
// server's standard_conforming_strings setting.
func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, "'", "''")
	if strings.Contains(s, `\`) {
		return "E'" + strings.ReplaceAll(s, `\`, `\\`) + "'"
	}
	return "'" + s + "'"
}

// literal serializes a seed value by its runtime type: null, numbers, and
// booleans as bare literals, everything else as quoted text.
func literal(v any) string {
	val := result.FromAny(v)
	switch val.Kind() {
	case result.KindNull:
		return "NULL"
	case result.KindNumber:
		return val.Decimal().Text('f')
	case result.KindBool:
		if val.BoolValue() {
			return "TRUE"
		}
		return "FALSE"
	default:
		return quoteLiteral(val.String())
	}
}

func createTableSQL(namespace string, t problem.Table) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(namespace, t.Name))
	b.WriteString(" (")
	for i, col := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col.Name))
		b.WriteByte(' ')
		b.WriteString(col.Type)
	}
	b.WriteString(")")
	return b.String()
}

// insertSQL builds one multi-row INSERT for the table's seed rows. Columns
// missing from a row are inserted as NULL. It returns "" for a table
// without rows.
func insertSQL(namespace string, t problem.Table) string {
	if len(t.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(namespace, t.Name))
	b.WriteString(" (")
	for i, col := range t.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col.Name))
	}
	b.WriteString(") VALUES ")
	for i, row := range t.Rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, col := range t.Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(literal(row[col.Name]))
		}
		b.WriteByte(')')
	}
	return b.String()
}
