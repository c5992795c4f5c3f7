// Package stream implements the client side of the chain event stream: a
// long-lived gRPC subscription that delivers batches of blocks, each
// carrying the raw events emitted by the monitored contracts.
package stream

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// DataFinality mirrors the stream server's finality enum.
type DataFinality int32

const (
	DataStatusUnknown   DataFinality = 0
	DataStatusPending   DataFinality = 1
	DataStatusAccepted  DataFinality = 2
	DataStatusFinalized DataFinality = 3
)

// Cursor marks a position in the stream. OrderKey is the block number the
// server should resume from.
type Cursor struct {
	OrderKey uint64
}

// EventFilter restricts the stream to events emitted by the given contract
// addresses. An empty filter delivers everything.
type EventFilter struct {
	Addresses []common.Hash
}

// StreamDataRequest opens a subscription.
type StreamDataRequest struct {
	StartingCursor *Cursor
	Finality       DataFinality
	BatchSize      uint64
	Filter         *EventFilter
}

// Event is a raw contract event: the emitting address plus the key and data
// field elements exactly as they appear on chain.
type Event struct {
	FromAddress common.Hash
	Keys        []common.Hash
	Data        []common.Hash
}

// EventWithTransaction pairs an event with the hash of the transaction that
// emitted it.
type EventWithTransaction struct {
	TransactionHash common.Hash
	Event           Event
}

// BlockHeader carries the block position and timestamp.
type BlockHeader struct {
	BlockNumber uint64
	Timestamp   int64
}

// Block is one block worth of filtered events.
type Block struct {
	Header BlockHeader
	Events []EventWithTransaction
}

// Data is a batch of consecutive blocks together with the cursor to resume
// from after processing them.
type Data struct {
	Cursor    *Cursor
	EndCursor *Cursor
	Finality  DataFinality
	Blocks    []Block
}

// StreamDataResponse is one message from the server: either a data batch or
// a heartbeat keeping the subscription alive.
type StreamDataResponse struct {
	Data      *Data
	Heartbeat bool
}

// Field numbers for the wire format. These must stay in sync with the
// server's protobuf definitions.
const (
	reqFieldStartingCursor = 1
	reqFieldFinality       = 2
	reqFieldFilter         = 3
	reqFieldBatchSize      = 4

	cursorFieldOrderKey = 1

	filterFieldAddress = 1

	respFieldData      = 1
	respFieldHeartbeat = 2

	dataFieldCursor    = 1
	dataFieldEndCursor = 2
	dataFieldFinality  = 3
	dataFieldBlock     = 4

	blockFieldHeader = 1
	blockFieldEvent  = 2

	headerFieldBlockNumber = 1
	headerFieldTimestamp   = 2

	eventTxFieldHash  = 1
	eventTxFieldEvent = 2

	eventFieldFromAddress = 1
	eventFieldKey         = 2
	eventFieldData        = 3
)

func appendCursor(b []byte, c *Cursor) []byte {
	var inner []byte
	inner = protowire.AppendTag(inner, cursorFieldOrderKey, protowire.VarintType)
	inner = protowire.AppendVarint(inner, c.OrderKey)
	return append(b, inner...)
}

// Marshal encodes the request into protobuf wire format.
func (r *StreamDataRequest) Marshal() []byte {
	var b []byte

	if r.StartingCursor != nil {
		cursor := appendCursor(nil, r.StartingCursor)
		b = protowire.AppendTag(b, reqFieldStartingCursor, protowire.BytesType)
		b = protowire.AppendBytes(b, cursor)
	}

	if r.Finality != DataStatusUnknown {
		b = protowire.AppendTag(b, reqFieldFinality, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.Finality))
	}

	if r.Filter != nil {
		var filter []byte
		for _, addr := range r.Filter.Addresses {
			filter = protowire.AppendTag(filter, filterFieldAddress, protowire.BytesType)
			filter = protowire.AppendBytes(filter, addr[:])
		}
		b = protowire.AppendTag(b, reqFieldFilter, protowire.BytesType)
		b = protowire.AppendBytes(b, filter)
	}

	if r.BatchSize != 0 {
		b = protowire.AppendTag(b, reqFieldBatchSize, protowire.VarintType)
		b = protowire.AppendVarint(b, r.BatchSize)
	}

	return b
}

// Unmarshal decodes the request from protobuf wire format. Used by tests
// and by in-process fake servers.
func (r *StreamDataRequest) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case reqFieldStartingCursor:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			cursor, err := parseCursor(v)
			if err != nil {
				return err
			}
			r.StartingCursor = cursor
			data = data[n:]
		case reqFieldFinality:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Finality = DataFinality(v)
			data = data[n:]
		case reqFieldFilter:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			filter, err := parseFilter(v)
			if err != nil {
				return err
			}
			r.Filter = filter
			data = data[n:]
		case reqFieldBatchSize:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.BatchSize = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func parseCursor(data []byte) (*Cursor, error) {
	c := &Cursor{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case cursorFieldOrderKey:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			c.OrderKey = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return c, nil
}

func parseFilter(data []byte) (*EventFilter, error) {
	f := &EventFilter{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case filterFieldAddress:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			f.Addresses = append(f.Addresses, common.BytesToHash(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return f, nil
}

// Marshal encodes the response into protobuf wire format. Used by tests and
// by in-process fake servers.
func (r *StreamDataResponse) Marshal() []byte {
	var b []byte

	if r.Data != nil {
		inner := r.Data.marshal()
		b = protowire.AppendTag(b, respFieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}

	if r.Heartbeat {
		b = protowire.AppendTag(b, respFieldHeartbeat, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	}

	return b
}

// Unmarshal decodes the response from protobuf wire format.
func (r *StreamDataResponse) Unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case respFieldData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			d := &Data{}
			if err := d.unmarshal(v); err != nil {
				return err
			}
			r.Data = d
			data = data[n:]
		case respFieldHeartbeat:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Heartbeat = v != 0
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (d *Data) marshal() []byte {
	var b []byte

	if d.Cursor != nil {
		b = protowire.AppendTag(b, dataFieldCursor, protowire.BytesType)
		b = protowire.AppendBytes(b, appendCursor(nil, d.Cursor))
	}

	if d.EndCursor != nil {
		b = protowire.AppendTag(b, dataFieldEndCursor, protowire.BytesType)
		b = protowire.AppendBytes(b, appendCursor(nil, d.EndCursor))
	}

	if d.Finality != DataStatusUnknown {
		b = protowire.AppendTag(b, dataFieldFinality, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(d.Finality))
	}

	for i := range d.Blocks {
		b = protowire.AppendTag(b, dataFieldBlock, protowire.BytesType)
		b = protowire.AppendBytes(b, d.Blocks[i].marshal())
	}

	return b
}

func (d *Data) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case dataFieldCursor:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			cursor, err := parseCursor(v)
			if err != nil {
				return err
			}
			d.Cursor = cursor
			data = data[n:]
		case dataFieldEndCursor:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			cursor, err := parseCursor(v)
			if err != nil {
				return err
			}
			d.EndCursor = cursor
			data = data[n:]
		case dataFieldFinality:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			d.Finality = DataFinality(v)
			data = data[n:]
		case dataFieldBlock:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			var blk Block
			if err := blk.unmarshal(v); err != nil {
				return err
			}
			d.Blocks = append(d.Blocks, blk)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (b *Block) marshal() []byte {
	var buf []byte

	var header []byte
	header = protowire.AppendTag(header, headerFieldBlockNumber, protowire.VarintType)
	header = protowire.AppendVarint(header, b.Header.BlockNumber)
	header = protowire.AppendTag(header, headerFieldTimestamp, protowire.VarintType)
	header = protowire.AppendVarint(header, uint64(b.Header.Timestamp))

	buf = protowire.AppendTag(buf, blockFieldHeader, protowire.BytesType)
	buf = protowire.AppendBytes(buf, header)

	for i := range b.Events {
		buf = protowire.AppendTag(buf, blockFieldEvent, protowire.BytesType)
		buf = protowire.AppendBytes(buf, b.Events[i].marshal())
	}

	return buf
}

func (b *Block) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case blockFieldHeader:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := b.Header.unmarshal(v); err != nil {
				return err
			}
			data = data[n:]
		case blockFieldEvent:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			var evt EventWithTransaction
			if err := evt.unmarshal(v); err != nil {
				return err
			}
			b.Events = append(b.Events, evt)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (h *BlockHeader) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case headerFieldBlockNumber:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			h.BlockNumber = v
			data = data[n:]
		case headerFieldTimestamp:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			h.Timestamp = int64(v)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (e *EventWithTransaction) marshal() []byte {
	var b []byte

	b = protowire.AppendTag(b, eventTxFieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, e.TransactionHash[:])

	var inner []byte
	inner = protowire.AppendTag(inner, eventFieldFromAddress, protowire.BytesType)
	inner = protowire.AppendBytes(inner, e.Event.FromAddress[:])
	for _, k := range e.Event.Keys {
		inner = protowire.AppendTag(inner, eventFieldKey, protowire.BytesType)
		inner = protowire.AppendBytes(inner, k[:])
	}
	for _, d := range e.Event.Data {
		inner = protowire.AppendTag(inner, eventFieldData, protowire.BytesType)
		inner = protowire.AppendBytes(inner, d[:])
	}

	b = protowire.AppendTag(b, eventTxFieldEvent, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)

	return b
}

func (e *EventWithTransaction) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case eventTxFieldHash:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.TransactionHash = common.BytesToHash(v)
			data = data[n:]
		case eventTxFieldEvent:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			if err := e.Event.unmarshal(v); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

func (e *Event) unmarshal(data []byte) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		switch num {
		case eventFieldFromAddress:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.FromAddress = common.BytesToHash(v)
			data = data[n:]
		case eventFieldKey:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Keys = append(e.Keys, common.BytesToHash(v))
			data = data[n:]
		case eventFieldData:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Data = append(e.Data, common.BytesToHash(v))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = data[n:]
		}
	}
	return nil
}

// FinalityFromString maps a configuration finality name to the wire enum.
func FinalityFromString(s string) (DataFinality, error) {
	switch s {
	case "pending":
		return DataStatusPending, nil
	case "accepted":
		return DataStatusAccepted, nil
	case "finalized":
		return DataStatusFinalized, nil
	default:
		return DataStatusUnknown, fmt.Errorf("unknown finality: %q", s)
	}
}
