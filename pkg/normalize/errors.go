// Package normalize implements the typed coercion layer that every operation
// handler runs its request fields through before touching profile state.
package normalize

import "fmt"

// ContractViolation is raised by a parser when a request field breaches its
// contract (wrong type, missing, out of range, too long). It is always
// surfaced to the caller and never recovered from inside a handler.
type ContractViolation struct {
	Code    string
	Message string
}

func (e *ContractViolation) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Violation constructs a ContractViolation.
func Violation(code, message string) *ContractViolation {
	return &ContractViolation{Code: code, Message: message}
}

// EvidenceMissing is the specific subclass of ContractViolation raised when a
// handler that requires evidence pointers or source event ids receives none.
func EvidenceMissing(operation string) *ContractViolation {
	return &ContractViolation{
		Code:    "EVIDENCE_POINTER_CONTRACT_VIOLATION",
		Message: fmt.Sprintf("%s requires at least one evidence pointer", operation),
	}
}
