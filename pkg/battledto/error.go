package battledto

// DomainError is the wire form of a coordinator error. Retryable errors
// (stale version, transient ledger failure) invite the client to re-read the
// snapshot and retry; the rest are terminal for the attempted action.
type DomainError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "battle coordinator error"
}

// Error codes.
const (
	CodeNotFound            = "NotFound"
	CodeInvalidState        = "InvalidState"
	CodeStaleState          = "StaleState"
	CodeUnknownPlayer       = "UnknownPlayer"
	CodeDuplicateSubmission = "DuplicateSubmission"
	CodeMissingProof        = "MissingProof"
	CodeLedgerFailure       = "LedgerFailure"
	CodeBadRequest          = "BadRequest"
	CodeInternal            = "Internal"
)
