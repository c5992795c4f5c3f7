package types

import "fmt"

// Finality represents how confirmed a block must be before the stream
// delivers it.
type Finality string

const (
	// FinalityPending delivers blocks that are not yet accepted on chain
	FinalityPending Finality = "pending"

	// FinalityAccepted delivers blocks accepted on the L2 (default)
	FinalityAccepted Finality = "accepted"

	// FinalityFinalized delivers only blocks proven on the settlement layer
	FinalityFinalized Finality = "finalized"
)

// String returns the string representation of Finality.
func (f Finality) String() string {
	return string(f)
}

// IsValid checks if the Finality value is valid.
func (f Finality) IsValid() bool {
	switch f {
	case FinalityPending, FinalityAccepted, FinalityFinalized:
		return true
	default:
		return false
	}
}

// ParseFinality parses a string into a Finality type.
func ParseFinality(s string) (Finality, error) {
	f := Finality(s)
	if !f.IsValid() {
		return "", fmt.Errorf("invalid finality: %s (must be one of: pending, accepted, finalized)", s)
	}
	return f, nil
}
