package enclaveapi

import "github.com/google/uuid"

// ComputationOutput is the tagged result of a computation: either
// OutputCiphertexts or OutputError.
type ComputationOutput interface {
	RequestID() uuid.UUID
	isComputationOutput()
}

// OutputCiphertexts is a successful result, encrypted to the recipient.
type OutputCiphertexts struct {
	Response *ComputationResponse
}

// OutputError is a failed computation.
type OutputError struct {
	ID      uuid.UUID
	Message string
}

func (o OutputCiphertexts) RequestID() uuid.UUID { return o.Response.RequestID }
func (o OutputError) RequestID() uuid.UUID       { return o.ID }

func (OutputCiphertexts) isComputationOutput() {}
func (OutputError) isComputationOutput()       {}

func (o OutputError) Error() string {
	return o.Message
}

// Output classifies the response. A response claiming success but carrying
// no ciphertexts is treated as an error.
func (r *ComputationResponse) Output() ComputationOutput {
	if !r.Success {
		msg := r.Message
		if msg == "" {
			msg = "computation failed"
		}
		return OutputError{ID: r.RequestID, Message: msg}
	}
	if len(r.Ciphertexts) == 0 {
		return OutputError{ID: r.RequestID, Message: "empty computation output"}
	}
	return OutputCiphertexts{Response: r}
}

// ErrorResponse builds a failed response for id.
func ErrorResponse(id uuid.UUID, message string) *ComputationResponse {
	return &ComputationResponse{
		Type:      ResponseTypeComputation,
		RequestID: id,
		Success:   false,
		Message:   message,
	}
}
