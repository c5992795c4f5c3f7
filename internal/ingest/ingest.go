// Package ingest is the idempotent ingestion path: it decodes a block,
// persists every monitored event exactly once and applies the projectors.
// One bad event never stops the rest of the block.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/skillnet-labs/examchain-backend/internal/decoder"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/metrics"
	"github.com/skillnet-labs/examchain-backend/internal/projector"
	"github.com/skillnet-labs/examchain-backend/internal/store"
	"github.com/skillnet-labs/examchain-backend/internal/stream"
)

// BlockResult summarizes what happened to one block's events.
type BlockResult struct {
	BlockNumber uint64

	// Stored counts events persisted for the first time.
	Stored int
	// Duplicates counts redelivered events that were already projected.
	Duplicates int
	// Projected counts events successfully applied to the domain state.
	Projected int
	// Deferred counts events left unprocessed because a precondition was
	// missing. They are retried when their block is delivered again.
	Deferred int
	// Failed counts events whose persistence or projection errored.
	Failed int
}

// Ingestor runs blocks through decode, persist and project.
type Ingestor struct {
	decoder    *decoder.Decoder
	events     *store.EventStore
	projectors *projector.Registry
	log        *logger.Logger
}

// New creates an ingestor.
func New(
	dec *decoder.Decoder,
	events *store.EventStore,
	projectors *projector.Registry,
	log *logger.Logger,
) *Ingestor {
	return &Ingestor{
		decoder:    dec,
		events:     events,
		projectors: projectors,
		log:        log,
	}
}

// ProcessBlock ingests every monitored event of the block. It always
// processes the whole block: events that fail are counted and logged, never
// allowed to abort the remainder.
func (in *Ingestor) ProcessBlock(ctx context.Context, blk stream.Block) BlockResult {
	start := time.Now()

	result := BlockResult{BlockNumber: blk.Header.BlockNumber}

	for _, decoded := range in.decoder.DecodeBlock(blk) {
		in.processEvent(ctx, decoded, &result)
	}

	if result.Stored > 0 {
		metrics.LastStoredBlockSet(blk.Header.BlockNumber)
	}
	metrics.BlockProcessingTimeLog(time.Since(start))

	if result.Stored+result.Duplicates+result.Deferred+result.Failed > 0 {
		in.log.Debugw("block processed",
			"block", result.BlockNumber,
			"stored", result.Stored,
			"duplicates", result.Duplicates,
			"projected", result.Projected,
			"deferred", result.Deferred,
			"failed", result.Failed)
	}

	return result
}

func (in *Ingestor) processEvent(ctx context.Context, decoded decoder.DecodedEvent, result *BlockResult) {
	stored, created, err := in.events.FindOrCreate(ctx, &store.ChainEvent{
		ContractAddress: decoded.ContractAddress,
		EventName:       decoded.Kind.String(),
		TxHash:          decoded.TransactionHash,
		BlockNumber:     decoded.BlockNumber,
		BlockTimestamp:  decoded.BlockTimestamp,
		Payload:         decoded.Payload,
	})
	if err != nil {
		result.Failed++
		metrics.ErrorInc("ingest", "error")
		in.log.Errorw("failed to persist event",
			"event", decoded.Kind,
			"txHash", decoded.TransactionHash.Hex(),
			"block", decoded.BlockNumber,
			"error", err)
		return
	}

	if created {
		result.Stored++
		metrics.EventIndexedInc(stored.EventName)
	} else {
		metrics.EventDuplicateInc(stored.EventName)
		if stored.Processed {
			result.Duplicates++
			return
		}
	}

	handled, err := in.project(ctx, stored)
	if err != nil {
		result.Failed++
		metrics.ProjectorFailureInc(stored.EventName)
		in.log.Errorw("projector failed, event stays unprocessed",
			"event", stored.EventName,
			"eventId", stored.ID,
			"block", stored.BlockNumber,
			"error", err)
		return
	}

	if !handled {
		result.Deferred++
		metrics.ProjectorUnhandledInc(stored.EventName)
		return
	}

	if err := in.events.MarkProcessed(ctx, stored.ID); err != nil {
		result.Failed++
		metrics.ErrorInc("ingest", "error")
		in.log.Errorw("failed to mark event processed",
			"eventId", stored.ID, "error", err)
		return
	}

	result.Projected++
}

// project applies the event's projector, converting panics into errors so a
// single poisoned payload cannot take down the ingestion loop.
func (in *Ingestor) project(ctx context.Context, evt *store.ChainEvent) (handled bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			handled = false
			err = fmt.Errorf("projector panic: %v", r)
		}
	}()

	return in.projectors.Apply(ctx, evt)
}
