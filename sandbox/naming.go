package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Identifier limits
const (
	DefaultSchemaPrefix        = "sb"
	DefaultMaxIdentifierLength = 63
	MinIdentifierLength        = 16
	hashLength                 = 12
)

var prefixPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidatePrefix checks that prefix can start every schema name derived
// under the maxLen limit.
func ValidatePrefix(prefix string, maxLen int) error {
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("schema prefix %q must match %s", prefix, prefixPattern)
	}
	if strings.HasPrefix(prefix, "pg_") || prefix == "pg" {
		return fmt.Errorf("schema prefix %q collides with the reserved pg_ namespace", prefix)
	}
	if len(prefix) > maxLen-hashLength-2 {
		return fmt.Errorf("schema prefix %q is too long for identifiers of %d bytes", prefix, maxLen)
	}
	return nil
}

// SchemaName derives the namespace for an (identity, problem) pair. The name
// is lower-case, limited to [a-z0-9_], at most maxLen bytes long, and always
// ends in a hash of the exact pair, so pairs that sanitize or truncate to the
// same text still get distinct names.
func SchemaName(prefix, identityID, problemID string, maxLen int) string {
	sum := sha256.Sum256([]byte(identityID + "\x00" + problemID))
	suffix := hex.EncodeToString(sum[:])[:hashLength]

	body := prefix + "_" + sanitize(identityID) + "_" + sanitize(problemID)
	if limit := maxLen - hashLength - 1; len(body) > limit {
		body = body[:limit]
	}
	return body + "_" + suffix
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
