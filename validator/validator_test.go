package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rejectionOf(t *testing.T, err error) *Rejection {
	t.Helper()
	require.Error(t, err)
	var r *Rejection
	require.True(t, errors.As(err, &r), "expected *Rejection, got %T", err)
	return r
}

func TestValidateAccepts(t *testing.T) {
	v := New()
	queries := []string{
		"SELECT name FROM users WHERE id = 1",
		"select count(*) from users",
		"  SELECT 1;  ",
		"WITH t AS (SELECT id FROM users) SELECT * FROM t",
		"SELECT u.name, o.total FROM users u JOIN orders o ON o.user_id = u.id",
		"SELECT name FROM users UNION SELECT name FROM admins ORDER BY 1",
		"SELECT id FROM users WHERE id IN (SELECT user_id FROM orders)",
		"SELECT updated_at, created_by FROM audit",
		"SELECT 'a;b' AS x",
		"SELECT * FROM users WHERE name = 'x;y'",
		"SELECT * FROM users WHERE name = 'x;y';",
	}
	for _, q := range queries {
		assert.NoError(t, v.Validate(q), q)
	}
}

func TestValidateRejects(t *testing.T) {
	v := New()

	t.Run("EmptyQuery", func(t *testing.T) {
		for _, q := range []string{"", "   ", "\n\t"} {
			r := rejectionOf(t, v.Validate(q))
			assert.Equal(t, ReasonEmptyQuery, r.Reason)
		}
	})

	t.Run("MultipleStatements", func(t *testing.T) {
		for _, q := range []string{
			"SELECT 1; SELECT 2;",
			"SELECT 1;;",
			"SELECT 'a;b';",
		} {
			r := rejectionOf(t, v.Validate(q))
			assert.Equal(t, ReasonMultipleStatements, r.Reason, q)
		}
	})

	t.Run("ForbiddenOpener", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("DROP TABLE users"))
		assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
		assert.Equal(t, "SQL keyword 'DROP' is not allowed", r.Message)
		assert.Equal(t, "Only SELECT, WITH statements are permitted", r.Details)
	})

	t.Run("InvalidSyntax", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("(SELECT 1)"))
		assert.Equal(t, ReasonInvalidSyntax, r.Reason)
	})

	t.Run("DeniedKeywordAnyCase", func(t *testing.T) {
		for _, kw := range []string{"insert", "Update", "DELETE", "dRoP", "truncate", "grant", "copy"} {
			q := "WITH x AS (" + kw + " something) SELECT 1"
			r := rejectionOf(t, v.Validate(q))
			assert.Equal(t, ReasonForbiddenKeyword, r.Reason, q)
			assert.Contains(t, r.Message, strings.ToUpper(kw))
		}
	})

	t.Run("DeniedKeywordAsColumnName", func(t *testing.T) {
		r := rejectionOf(t, v.Validate(`SELECT "update" FROM t`))
		assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
	})

	t.Run("SessionFunctions", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT set_config('search_path', 'public', false)"))
		assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
		assert.Contains(t, r.Message, "SET_CONFIG")
	})

	t.Run("EveryDeniedKeyword", func(t *testing.T) {
		for _, kw := range DeniedKeywords {
			err := v.Validate("SELECT 1 WHERE " + strings.ToLower(kw) + " IS NULL")
			r := rejectionOf(t, err)
			assert.Equal(t, ReasonForbiddenKeyword, r.Reason, kw)
		}
	})
}

func TestParserCheck(t *testing.T) {
	v := New(WithParserCheck(true))

	t.Run("PlainSelect", func(t *testing.T) {
		assert.NoError(t, v.Validate("SELECT name FROM users WHERE id = 1"))
	})

	t.Run("SelectInto", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT * INTO copy_of_users FROM users"))
		assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
		assert.Contains(t, r.Message, "SELECT INTO")
	})

	t.Run("SchemaQualifiedRelation", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT * FROM other_schema.users"))
		assert.Equal(t, ReasonCrossNamespace, r.Reason)
		assert.Contains(t, r.Message, "other_schema.users")
	})

	t.Run("QualifiedRelationInSubquery", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT id FROM users WHERE id IN (SELECT id FROM pg_catalog.pg_class)"))
		assert.Equal(t, ReasonCrossNamespace, r.Reason)
	})

	t.Run("QualifiedRelationInJoin", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT 1 FROM users u JOIN information_schema.tables t ON true"))
		assert.Equal(t, ReasonCrossNamespace, r.Reason)
	})

	t.Run("QualifiedRelationInCTE", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("WITH t AS (SELECT * FROM sb_other.users) SELECT * FROM t"))
		assert.Equal(t, ReasonCrossNamespace, r.Reason)
	})

	t.Run("QualifiedRelationInAnyClause", func(t *testing.T) {
		for _, q := range []string{
			"SELECT CASE WHEN true THEN (SELECT name FROM other.users LIMIT 1) END",
			"SELECT COALESCE((SELECT name FROM other.users LIMIT 1), 'x')",
			"SELECT 1 ORDER BY (SELECT count(*) FROM other.users)",
			"SELECT (SELECT name FROM other.users LIMIT 1)::text",
			"SELECT id FROM users GROUP BY id, (SELECT 1 FROM other.users LIMIT 1)",
			"SELECT id FROM users LIMIT (SELECT count(*) FROM other.users)",
			"SELECT * FROM users u, LATERAL (SELECT * FROM other.users o WHERE o.id = u.id) x",
			"SELECT NULLIF((SELECT name FROM other.users LIMIT 1), '')",
			"SELECT ARRAY(SELECT name FROM other.users)",
			"SELECT row_number() OVER (ORDER BY (SELECT 1 FROM other.users LIMIT 1)) FROM users",
		} {
			r := rejectionOf(t, v.Validate(q))
			assert.Equal(t, ReasonCrossNamespace, r.Reason, q)
			assert.Contains(t, r.Message, "other.users", q)
		}
	})

	t.Run("QualifiedFunction", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT * FROM sb_other.secret_rows()"))
		assert.Equal(t, ReasonCrossNamespace, r.Reason)
		assert.Contains(t, r.Message, "sb_other.secret_rows")

		assert.NoError(t, v.Validate("SELECT pg_catalog.lower(name) FROM users"))
		assert.NoError(t, v.Validate("SELECT g FROM generate_series(1, 3) g"))
	})

	t.Run("UnqualifiedSystemCatalog", func(t *testing.T) {
		for _, q := range []string{
			"SELECT * FROM pg_tables",
			"SELECT nspname FROM PG_NAMESPACE",
			"SELECT id FROM users WHERE EXISTS (SELECT 1 FROM pg_class)",
		} {
			r := rejectionOf(t, v.Validate(q))
			assert.Equal(t, ReasonCrossNamespace, r.Reason, q)
		}
	})

	t.Run("DataModifyingCTE", func(t *testing.T) {
		lenient := New(WithParserCheck(true))
		lenient.denied = nil
		r := rejectionOf(t, lenient.Validate("WITH d AS (DELETE FROM users RETURNING id) SELECT * FROM d"))
		assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
		assert.Contains(t, r.Message, "inside WITH")
	})

	t.Run("SecondStatementWithoutTerminator", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT 1; SELECT 2"))
		assert.Equal(t, ReasonMultipleStatements, r.Reason)
	})

	t.Run("SemicolonInsideLiteral", func(t *testing.T) {
		assert.NoError(t, v.Validate("SELECT 'a;b' AS x"))
	})

	t.Run("RowLocking", func(t *testing.T) {
		r := rejectionOf(t, v.Validate("SELECT * FROM users FOR SHARE"))
		assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
	})

	t.Run("UnparsableTextPassesThrough", func(t *testing.T) {
		assert.NoError(t, v.Validate("SELECT FROM WHERE"))
	})

	t.Run("DisabledAllowsQualifiedNames", func(t *testing.T) {
		lexical := New(WithParserCheck(false))
		assert.NoError(t, lexical.Validate("SELECT * FROM other_schema.users"))
	})
}

func TestWithDeniedKeywords(t *testing.T) {
	v := New(WithDeniedKeywords("pg_sleep"))
	r := rejectionOf(t, v.Validate("SELECT pg_sleep(10)"))
	assert.Equal(t, ReasonForbiddenKeyword, r.Reason)
	assert.Equal(t, "SQL keyword 'PG_SLEEP' is not allowed", r.Message)
}

func TestRejectionError(t *testing.T) {
	r := &Rejection{Reason: ReasonEmptyQuery, Message: "Query cannot be empty"}
	assert.Equal(t, "EMPTY_QUERY: Query cannot be empty", r.Error())

	r.Details = "more"
	assert.Equal(t, "EMPTY_QUERY: Query cannot be empty - more", r.Error())
}

func TestStatement(t *testing.T) {
	assert.Equal(t, "SELECT 1", Statement("  SELECT 1 ;\n"))
	assert.Equal(t, "SELECT 1", Statement("SELECT 1"))
}
