package validator

import "fmt"

// Reason classifies why a submission was rejected.
type Reason string

// Rejection reasons
const (
	ReasonEmptyQuery         Reason = "EMPTY_QUERY"
	ReasonMultipleStatements Reason = "MULTIPLE_STATEMENTS"
	ReasonForbiddenKeyword   Reason = "FORBIDDEN_KEYWORD"
	ReasonInvalidSyntax      Reason = "INVALID_SYNTAX"
	ReasonCrossNamespace     Reason = "CROSS_NAMESPACE_REFERENCE"
)

// Rejection is returned by Validate for a submission that must not run.
type Rejection struct {
	Reason  Reason
	Message string
	Details string
}

func (r *Rejection) Error() string {
	if r.Details == "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Message)
	}
	return fmt.Sprintf("%s: %s - %s", r.Reason, r.Message, r.Details)
}

func reject(reason Reason, message, details string) *Rejection {
	return &Rejection{Reason: reason, Message: message, Details: details}
}
