package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/felt"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/stream"
)

// DecodedEvent is a stream event resolved against a contract ABI, ready for
// persistence.
type DecodedEvent struct {
	Kind            event.Kind
	ContractAddress common.Hash
	TransactionHash common.Hash
	BlockNumber     uint64
	BlockTimestamp  int64
	Payload         event.Payload
}

// Decoder filters and decodes raw stream events for the monitored contracts.
type Decoder struct {
	abis map[common.Hash]*ContractABI
	log  *logger.Logger
}

// New builds a decoder for the configured contracts.
func New(contracts []config.ContractConfig, log *logger.Logger) (*Decoder, error) {
	d := &Decoder{
		abis: make(map[common.Hash]*ContractABI, len(contracts)),
		log:  log,
	}

	for _, cfg := range contracts {
		abi, err := NewContractABI(cfg)
		if err != nil {
			return nil, err
		}
		d.abis[abi.Address] = abi
	}

	return d, nil
}

// Addresses returns the monitored contract addresses, for building the
// stream filter.
func (d *Decoder) Addresses() []common.Hash {
	addrs := make([]common.Hash, 0, len(d.abis))
	for addr := range d.abis {
		addrs = append(addrs, addr)
	}
	return addrs
}

// DecodeBlock decodes every monitored event in a block. Events from
// unmonitored contracts and events whose selector is not in the ABI are
// discarded.
func (d *Decoder) DecodeBlock(blk stream.Block) []DecodedEvent {
	var decoded []DecodedEvent

	for i := range blk.Events {
		evt, ok := d.decodeEvent(blk, blk.Events[i])
		if !ok {
			continue
		}
		decoded = append(decoded, evt)
	}

	return decoded
}

func (d *Decoder) decodeEvent(blk stream.Block, raw stream.EventWithTransaction) (DecodedEvent, bool) {
	abi, ok := d.abis[raw.Event.FromAddress]
	if !ok {
		return DecodedEvent{}, false
	}

	if len(raw.Event.Keys) == 0 {
		d.log.Debugw("discarding event with no keys",
			"contract", abi.Name,
			"txHash", raw.TransactionHash.Hex(),
			"block", blk.Header.BlockNumber)
		return DecodedEvent{}, false
	}

	def, ok := abi.Lookup(raw.Event.Keys[0])
	if !ok {
		d.log.Debugw("discarding event with unknown selector",
			"contract", abi.Name,
			"selector", raw.Event.Keys[0].Hex(),
			"txHash", raw.TransactionHash.Hex(),
			"block", blk.Header.BlockNumber)
		return DecodedEvent{}, false
	}

	payload, err := decodePayload(def, raw.Event)
	if err != nil {
		d.log.Warnw("structured decoding failed, storing raw payload",
			"event", def.Kind,
			"txHash", raw.TransactionHash.Hex(),
			"block", blk.Header.BlockNumber,
			"error", err)
		payload = rawPayload(raw.Event)
	}

	return DecodedEvent{
		Kind:            def.Kind,
		ContractAddress: raw.Event.FromAddress,
		TransactionHash: raw.TransactionHash,
		BlockNumber:     blk.Header.BlockNumber,
		BlockTimestamp:  blk.Header.Timestamp,
		Payload:         payload,
	}, true
}

// decodePayload maps the event's field elements onto the ABI's named fields
// positionally. Named key fields start after the selector at keys[0].
func decodePayload(def EventDef, evt stream.Event) (event.Payload, error) {
	keys := evt.Keys[1:]
	if len(keys) < len(def.Keys) {
		return nil, fmt.Errorf("expected %d key fields, got %d", len(def.Keys), len(keys))
	}
	if len(evt.Data) < len(def.Data) {
		return nil, fmt.Errorf("expected %d data fields, got %d", len(def.Data), len(evt.Data))
	}

	payload := make(event.Payload, len(def.Keys)+len(def.Data))
	for i, f := range def.Keys {
		payload[f.Name] = renderField(f, keys[i])
	}
	for i, f := range def.Data {
		payload[f.Name] = renderField(f, evt.Data[i])
	}

	return payload, nil
}

func renderField(f FieldDef, v common.Hash) string {
	if f.Type == TypeShortString {
		return felt.ToShortString(v)
	}
	return felt.ToDecimal(v)
}

// rawPayload dumps the event's keys and data as hex so nothing is lost when
// structured decoding fails.
func rawPayload(evt stream.Event) event.Payload {
	rawKeys := make([]string, len(evt.Keys))
	for i, k := range evt.Keys {
		rawKeys[i] = k.Hex()
	}
	rawData := make([]string, len(evt.Data))
	for i, d := range evt.Data {
		rawData[i] = d.Hex()
	}

	return event.Payload{
		event.RawKeysField: rawKeys,
		event.RawDataField: rawData,
	}
}
