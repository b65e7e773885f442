package validator

import (
	"fmt"
	"regexp"
	"strings"
)

// AllowedOpeners are the statement keywords a submission may start with.
var AllowedOpeners = []string{"SELECT", "WITH"}

// DeniedKeywords are rejected anywhere in the text.
var DeniedKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE",
	"CREATE", "DROP", "ALTER", "TRUNCATE",
	"COPY", "IMPORT", "LOAD",
	"CALL", "DO", "EXECUTE", "PREPARE", "DEALLOCATE",
	"GRANT", "REVOKE",
	"BEGIN", "COMMIT", "ROLLBACK", "SAVEPOINT", "LOCK",
	"SET", "RESET", "DISCARD",
	"LISTEN", "NOTIFY", "UNLISTEN",
	"VACUUM", "CLUSTER", "REINDEX", "REFRESH",
	"SET_CONFIG", "PG_TERMINATE_BACKEND", "PG_CANCEL_BACKEND",
	"PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR",
	"LO_IMPORT", "LO_EXPORT", "DBLINK",
}

var firstWord = regexp.MustCompile(`^(\w+)`)

type deniedPattern struct {
	keyword string
	re      *regexp.Regexp
}

// Validator accepts or rejects SQL text. It holds no per-call state and is
// safe for concurrent use.
type Validator struct {
	allowed     map[string]bool
	denied      []deniedPattern
	parserCheck bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithParserCheck toggles the pg_query grammar check on accepted text.
func WithParserCheck(enabled bool) Option {
	return func(v *Validator) {
		v.parserCheck = enabled
	}
}

// WithDeniedKeywords adds keywords to the deny-list.
func WithDeniedKeywords(keywords ...string) Option {
	return func(v *Validator) {
		for _, kw := range keywords {
			v.denied = append(v.denied, compileDenied(kw))
		}
	}
}

// New builds a Validator with the default allow and deny lists.
func New(opts ...Option) *Validator {
	v := &Validator{
		allowed: make(map[string]bool, len(AllowedOpeners)),
		denied:  make([]deniedPattern, 0, len(DeniedKeywords)),
	}
	for _, kw := range AllowedOpeners {
		v.allowed[kw] = true
	}
	for _, kw := range DeniedKeywords {
		v.denied = append(v.denied, compileDenied(kw))
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func compileDenied(keyword string) deniedPattern {
	kw := strings.ToUpper(strings.TrimSpace(keyword))
	return deniedPattern{
		keyword: kw,
		re:      regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`),
	}
}

// Validate returns nil when sql may be executed, or a *Rejection.
func (v *Validator) Validate(sql string) error {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return reject(ReasonEmptyQuery, "Query cannot be empty", "")
	}

	if strings.Count(trimmed, ";") > 1 {
		return reject(ReasonMultipleStatements,
			"Multiple SQL statements are not allowed",
			"Only single SELECT or WITH statements are permitted")
	}

	m := firstWord.FindStringSubmatch(trimmed)
	if m == nil {
		return reject(ReasonInvalidSyntax, "Invalid SQL syntax - cannot determine statement type", "")
	}
	opener := strings.ToUpper(m[1])
	if !v.allowed[opener] {
		return reject(ReasonForbiddenKeyword,
			fmt.Sprintf("SQL keyword '%s' is not allowed", opener),
			fmt.Sprintf("Only %s statements are permitted", strings.Join(AllowedOpeners, ", ")))
	}

	for _, d := range v.denied {
		if d.re.MatchString(trimmed) {
			return reject(ReasonForbiddenKeyword,
				fmt.Sprintf("SQL keyword '%s' is not allowed", d.keyword),
				"This operation could modify data or database structure")
		}
	}

	if v.parserCheck {
		if r := checkTree(trimmed); r != nil {
			return r
		}
	}
	return nil
}

// Statement returns sql without surrounding whitespace and its optional
// trailing terminator.
func Statement(sql string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
}
