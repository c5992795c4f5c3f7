// Package decoder turns raw stream events into named, typed payloads using
// a per-contract event ABI.
package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/felt"
)

// Field types understood by the decoder.
const (
	// TypeFelt renders the field element as a decimal big-integer string.
	TypeFelt = "felt"
	// TypeShortString renders the field element as decoded ASCII text.
	TypeShortString = "shortstring"
)

// FieldDef describes one named field of an event.
type FieldDef struct {
	Name string
	Type string
}

// EventDef describes the shape of a single contract event: which named
// fields live in the key segment and which in the data segment.
type EventDef struct {
	Kind event.Kind
	Keys []FieldDef
	Data []FieldDef
}

// ContractABI maps event selectors to event definitions for one contract.
type ContractABI struct {
	Name    string
	Address common.Hash
	events  map[common.Hash]EventDef
}

// Lookup resolves an event selector to its definition.
func (a *ContractABI) Lookup(selector common.Hash) (EventDef, bool) {
	def, ok := a.events[selector]
	return def, ok
}

// examEventDefs is the ABI of the exam contract's indexed events. The first
// key of every event is its selector and is not part of the named fields.
var examEventDefs = map[event.Kind]EventDef{
	event.ExamCreated: {
		Kind: event.ExamCreated,
		Keys: []FieldDef{
			{Name: "examId", Type: TypeFelt},
			{Name: "creator", Type: TypeFelt},
		},
		Data: []FieldDef{
			{Name: "name", Type: TypeShortString},
		},
	},
	event.UserRegistered: {
		Kind: event.UserRegistered,
		Keys: []FieldDef{
			{Name: "examId", Type: TypeFelt},
			{Name: "user", Type: TypeFelt},
		},
	},
	event.ExamCompleted: {
		Kind: event.ExamCompleted,
		Keys: []FieldDef{
			{Name: "examId", Type: TypeFelt},
			{Name: "user", Type: TypeFelt},
		},
		Data: []FieldDef{
			{Name: "score", Type: TypeFelt},
			{Name: "passed", Type: TypeFelt},
		},
	},
	event.CertificateIssued: {
		Kind: event.CertificateIssued,
		Keys: []FieldDef{
			{Name: "examId", Type: TypeFelt},
		},
		Data: []FieldDef{
			{Name: "certificateURI", Type: TypeShortString},
		},
	},
}

// NewContractABI builds the ABI for a configured contract. Selectors default
// to the truncated keccak of the event name and can be overridden per event
// in the configuration.
func NewContractABI(cfg config.ContractConfig) (*ContractABI, error) {
	abi := &ContractABI{
		Name:    cfg.Name,
		Address: felt.FromHex(cfg.Address),
		events:  make(map[common.Hash]EventDef, len(cfg.Events)),
	}

	for _, name := range cfg.Events {
		kind := event.Kind(name)
		def, ok := examEventDefs[kind]
		if !ok {
			return nil, fmt.Errorf("contract %s: unknown event %q", cfg.Name, name)
		}

		selector := felt.Selector(name)
		if override, ok := cfg.Selectors[name]; ok {
			selector = felt.FromHex(override)
		}

		abi.events[selector] = def
	}

	return abi, nil
}
