package app

// DomainError carries a client-facing failure: the HTTP status it maps to, a
// stable machine code, and a human message. Errors that are neither a
// DomainError nor one of the typed sentinels surface as a generic server
// error.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	return e.Code + ": " + e.Message
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
