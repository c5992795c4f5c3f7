// Package event defines the canonical names and payload shape of the
// contract events mirrored from the exam contract.
package event

import "fmt"

// Kind identifies a decoded contract event by its logical name.
type Kind string

const (
	ExamCreated       Kind = "ExamCreated"
	UserRegistered    Kind = "UserRegistered"
	ExamCompleted     Kind = "ExamCompleted"
	CertificateIssued Kind = "CertificateIssued"
)

// AllKinds lists every event kind the pipeline knows how to project.
var AllKinds = []Kind{ExamCreated, UserRegistered, ExamCompleted, CertificateIssued}

// String returns the string representation of the event kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is one of the known contract events.
func (k Kind) IsValid() bool {
	switch k {
	case ExamCreated, UserRegistered, ExamCompleted, CertificateIssued:
		return true
	default:
		return false
	}
}

// Payload holds the decoded fields of a contract event keyed by ABI field
// name. Numeric felts are stored as decimal big-integer strings, text felts
// as decoded ASCII. A payload that failed structured decoding instead holds
// the rawKeys/rawData hex dumps.
type Payload map[string]any

// Raw payload keys used by the decoder's fallback path.
const (
	RawKeysField = "rawKeys"
	RawDataField = "rawData"
)

// String returns the payload field as a string. Non-string values
// (e.g. the raw-dump arrays) yield their fmt representation.
func (p Payload) String(key string) string {
	v, ok := p[key]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Has reports whether the payload contains the given field.
func (p Payload) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Bool decodes a chain boolean field: the value is false only when its
// string form is exactly "0"; any other value is true.
func (p Payload) Bool(key string) bool {
	return p.String(key) != "0"
}

// IsRaw reports whether the payload is a raw-dump fallback rather than a
// structured decoding.
func (p Payload) IsRaw() bool {
	return p.Has(RawKeysField) || p.Has(RawDataField)
}
