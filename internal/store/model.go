// Package store persists decoded contract events and answers cursor and
// backlog queries for the ingestion pipeline.
package store

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/skillnet-labs/examchain-backend/internal/event"
)

// ChainEvent is a decoded contract event as stored in the event table. The
// (tx_hash, event_name, contract_address) triple is unique, which makes
// redelivered events idempotent.
type ChainEvent struct {
	ID              string        `meddler:"id" json:"id"`
	ContractAddress common.Hash   `meddler:"contract_address,hash" json:"contractAddress"`
	EventName       string        `meddler:"event_name" json:"eventName"`
	TxHash          common.Hash   `meddler:"tx_hash,hash" json:"transactionHash"`
	BlockNumber     uint64        `meddler:"block_number" json:"blockNumber"`
	BlockTimestamp  int64         `meddler:"block_timestamp" json:"blockTimestamp"`
	Payload         event.Payload `meddler:"payload,payload" json:"payload"`
	Processed       bool          `meddler:"processed" json:"processed"`
	ProcessedAt     *time.Time    `meddler:"processed_at" json:"processedAt,omitempty"`
	CreatedAt       time.Time     `meddler:"created_at,utctimez" json:"createdAt"`
}

// Kind returns the event name as a typed kind.
func (e *ChainEvent) Kind() event.Kind {
	return event.Kind(e.EventName)
}
