package toolhost

import (
	"encoding/json"
)

// truncatedMessage replaces the error text of an envelope whose payload could
// not be encoded.
const truncatedMessage = "result contained unserializable content and was truncated"

// Result is the envelope placed around one tool outcome before it enters the
// conversation. Exactly one of Data and Error is meaningful, selected by
// Success.
type Result struct {
	Success bool
	Data    any
	Error   string

	// RawArguments carries the undecodable argument text of a parse failure
	// so the model can see what it sent.
	RawArguments string
}

// Succeeded wraps a capability's return value.
func Succeeded(data any) Result {
	return Result{Success: true, Data: data}
}

// Failed builds a failure envelope.
func Failed(reason string) Result {
	return Result{Error: reason}
}

type successWire struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type failureWire struct {
	Success      bool   `json:"success"`
	Error        string `json:"error"`
	RawArguments string `json:"raw_arguments,omitempty"`
}

// MarshalJSON emits {"success":true,"data":...} or
// {"success":false,"error":...}, never both keys.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(successWire{Success: true, Data: r.Data})
	}
	return json.Marshal(failureWire{Error: r.Error, RawArguments: r.RawArguments})
}

// Encode renders the envelope as the content of a tool message. When the
// payload cannot be encoded, a minimal envelope reporting the truncation is
// returned instead; Encode never fails.
func (r Result) Encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		data, _ = json.Marshal(failureWire{Success: r.Success, Error: truncatedMessage})
	}
	return string(data)
}
