// Package indexer runs the event indexing service: it owns the stream
// subscription lifecycle, feeds delivered blocks through the ingestion
// path and answers status and projection queries.
package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/db"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/felt"
	"github.com/skillnet-labs/examchain-backend/internal/ingest"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/metrics"
	"github.com/skillnet-labs/examchain-backend/internal/store"
	"github.com/skillnet-labs/examchain-backend/internal/stream"
)

// State of the indexing service.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// StreamInitError wraps a failure to establish the initial stream
// connection. Callers treat it as fatal at startup.
type StreamInitError struct {
	Err error
}

func (e *StreamInitError) Error() string {
	return "stream initialization failed: " + e.Err.Error()
}

func (e *StreamInitError) Unwrap() error { return e.Err }

// ClientFactory builds stream clients. Tests inject fakes through it.
type ClientFactory func(cfg config.StreamConfig, log *logger.Logger) (stream.Client, error)

func defaultClientFactory(cfg config.StreamConfig, log *logger.Logger) (stream.Client, error) {
	client, err := stream.NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Service is the indexing service.
type Service struct {
	cfg       *config.Config
	sqlDB     *sql.DB
	events    *store.EventStore
	ingestor  *ingest.Ingestor
	addresses []string
	log       *logger.Logger
	newClient ClientFactory

	mu     sync.Mutex
	state  State
	client stream.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates the service. It does not connect; call Start.
func New(
	cfg *config.Config,
	sqlDB *sql.DB,
	events *store.EventStore,
	ingestor *ingest.Ingestor,
	log *logger.Logger,
) *Service {
	addresses := make([]string, 0, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		addresses = append(addresses, c.Address)
	}

	return &Service{
		cfg:       cfg,
		sqlDB:     sqlDB,
		events:    events,
		ingestor:  ingestor,
		addresses: addresses,
		log:       log,
		newClient: defaultClientFactory,
		state:     StateStopped,
	}
}

// SetClientFactory replaces the stream client factory. Must be called
// before Start.
func (s *Service) SetClientFactory(f ClientFactory) {
	s.newClient = f
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether the receive loop is active.
func (s *Service) IsRunning() bool {
	return s.State() == StateRunning
}

// Start connects to the stream and launches the receive loop. Starting an
// already running service is a no-op. A connection that cannot be
// established at all is returned as a StreamInitError.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.mu.Unlock()

	client, err := s.newClient(s.cfg.Stream, s.log)
	if err != nil {
		s.mu.Lock()
		if s.state == StateStarting {
			s.state = StateStopped
		}
		s.mu.Unlock()
		return &StreamInitError{Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	// Stop may have raced us while the client was connecting. Abort instead
	// of resurrecting a service the caller already shut down.
	if s.state != StateStarting {
		s.mu.Unlock()
		cancel()
		if cerr := client.Close(); cerr != nil {
			s.log.Warnw("error closing stream client", "error", cerr)
		}
		return nil
	}
	s.client = client
	s.cancel = cancel
	s.done = done
	s.state = StateRunning
	s.mu.Unlock()

	metrics.ComponentHealthSet("indexer", true)
	s.log.Infow("indexer started",
		"network", s.cfg.Network,
		"streamURL", s.cfg.Stream.ServerURL,
		"contracts", s.addresses)

	go func() {
		defer close(done)
		s.run(runCtx, client)
	}()

	return nil
}

// Stop cancels the receive loop, closes the connection and waits for the
// loop to exit or the context to expire.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	cancel := s.cancel
	client := s.client
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client != nil {
		if err := client.Close(); err != nil {
			s.log.Warnw("error closing stream client", "error", err)
		}
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for receive loop to stop: %w", ctx.Err())
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.client = nil
	s.mu.Unlock()

	metrics.ComponentHealthSet("indexer", false)
	s.log.Info("indexer stopped")

	return nil
}

// run is the receive loop: subscribe, consume, and on any failure
// resubscribe after the configured delay with a cursor re-derived from the
// store. Stop always wins over a pending retry.
func (s *Service) run(ctx context.Context, client stream.Client) {
	for {
		if ctx.Err() != nil {
			return
		}

		cursor, err := s.resumeCursor(ctx)
		if err != nil {
			s.log.Errorw("failed to derive resume cursor", "error", err)
			if !s.waitRetry(ctx) {
				return
			}
			continue
		}

		req, err := s.subscribeRequest(cursor)
		if err != nil {
			s.log.Errorw("invalid stream configuration", "error", err)
			return
		}

		sub, err := client.Subscribe(ctx, req)
		if err != nil {
			s.log.Warnw("stream subscription failed, retrying",
				"cursor", cursor, "retryDelay", s.cfg.Stream.RetryDelay.Duration, "error", err)
			metrics.StreamReconnectInc()
			if !s.waitRetry(ctx) {
				return
			}
			continue
		}

		s.log.Infow("stream subscribed", "cursor", cursor)

		if err := s.consume(ctx, sub); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warnw("stream receive failed, resubscribing",
				"retryDelay", s.cfg.Stream.RetryDelay.Duration, "error", err)
			metrics.StreamReconnectInc()
			if !s.waitRetry(ctx) {
				return
			}
		}
	}
}

func (s *Service) consume(ctx context.Context, sub stream.Subscription) error {
	for {
		resp, err := sub.Recv()
		if err != nil {
			return err
		}

		if resp.Heartbeat {
			continue
		}
		if resp.Data == nil {
			continue
		}

		for _, blk := range resp.Data.Blocks {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.ingestor.ProcessBlock(ctx, blk)
		}
	}
}

// waitRetry sleeps for the configured retry delay. Returns false when the
// context was cancelled while waiting.
func (s *Service) waitRetry(ctx context.Context) bool {
	select {
	case <-time.After(s.cfg.Stream.RetryDelay.Duration):
		return true
	case <-ctx.Done():
		return false
	}
}

// resumeCursor derives the next block to request: one past the highest
// stored block, or the configured starting block for an empty store.
func (s *Service) resumeCursor(ctx context.Context) (uint64, error) {
	maxBlock, ok, err := s.events.MaxBlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return s.cfg.Stream.StartingBlock, nil
	}
	return maxBlock + 1, nil
}

func (s *Service) subscribeRequest(cursor uint64) (*stream.StreamDataRequest, error) {
	finality, err := stream.FinalityFromString(s.cfg.Stream.Finality)
	if err != nil {
		return nil, err
	}

	filter := &stream.EventFilter{}
	for _, addr := range s.addresses {
		filter.Addresses = append(filter.Addresses, felt.FromHex(addr))
	}

	return &stream.StreamDataRequest{
		StartingCursor: &stream.Cursor{OrderKey: cursor},
		Finality:       finality,
		BatchSize:      s.cfg.Stream.BatchSize,
		Filter:         filter,
	}, nil
}

// Status describes the service for the operator API.
type Status struct {
	State                    State    `json:"state"`
	Network                  string   `json:"network"`
	StartingBlock            uint64   `json:"startingBlock"`
	LastStoredBlock          *uint64  `json:"lastStoredBlock,omitempty"`
	LastStoredBlockTimestamp *int64   `json:"lastStoredBlockTimestamp,omitempty"`
	NextCursor               uint64   `json:"nextCursor"`
	TotalEvents              int64    `json:"totalEvents"`
	UnprocessedEvents        int64    `json:"unprocessedEvents"`
	Contracts                []string `json:"contracts"`
}

// Status reports the current indexing position and backlog.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		State:         s.State(),
		Network:       s.cfg.Network,
		StartingBlock: s.cfg.Stream.StartingBlock,
		Contracts:     s.addresses,
	}

	maxBlock, maxTimestamp, ok, err := s.events.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		st.LastStoredBlock = &maxBlock
		st.LastStoredBlockTimestamp = &maxTimestamp
		st.NextCursor = maxBlock + 1
	} else {
		st.NextCursor = s.cfg.Stream.StartingBlock
	}

	if st.TotalEvents, err = s.events.CountTotal(ctx); err != nil {
		return nil, err
	}
	if st.UnprocessedEvents, err = s.events.CountUnprocessed(ctx); err != nil {
		return nil, err
	}

	return st, nil
}

// ScanResult summarizes a manual block range scan.
type ScanResult struct {
	FromBlock       uint64 `json:"fromBlock"`
	ToBlock         uint64 `json:"toBlock"`
	BlocksProcessed int    `json:"blocksProcessed"`
	EventsStored    int    `json:"eventsStored"`
	EventsProjected int    `json:"eventsProjected"`
	EventsDeferred  int    `json:"eventsDeferred"`
	EventsFailed    int    `json:"eventsFailed"`
}

// Scan re-ingests a block range over a dedicated connection. It is safe to
// run while the live subscription is active: ingestion is idempotent, so
// overlapping deliveries cannot duplicate state. A zero toBlock scans just
// fromBlock.
func (s *Service) Scan(ctx context.Context, fromBlock, toBlock uint64) (*ScanResult, error) {
	if toBlock == 0 {
		toBlock = fromBlock
	}
	if toBlock < fromBlock {
		return nil, fmt.Errorf("invalid scan range: toBlock %d before fromBlock %d", toBlock, fromBlock)
	}

	client, err := s.newClient(s.cfg.Stream, s.log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect for scan: %w", err)
	}
	defer client.Close() //nolint:errcheck

	req, err := s.subscribeRequest(fromBlock)
	if err != nil {
		return nil, err
	}

	sub, err := client.Subscribe(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe for scan: %w", err)
	}

	result := &ScanResult{FromBlock: fromBlock, ToBlock: toBlock}

	for {
		resp, err := sub.Recv()
		if err != nil {
			return result, fmt.Errorf("scan stream failed after %d blocks: %w", result.BlocksProcessed, err)
		}

		if resp.Data == nil {
			continue
		}

		for _, blk := range resp.Data.Blocks {
			if blk.Header.BlockNumber > toBlock {
				return result, nil
			}
			if blk.Header.BlockNumber < fromBlock {
				continue
			}

			br := s.ingestor.ProcessBlock(ctx, blk)
			result.BlocksProcessed++
			result.EventsStored += br.Stored
			result.EventsProjected += br.Projected
			result.EventsDeferred += br.Deferred
			result.EventsFailed += br.Failed
		}

		if resp.Data.EndCursor != nil && resp.Data.EndCursor.OrderKey > toBlock {
			return result, nil
		}
	}
}

// MaintenanceResult summarizes a database maintenance run.
type MaintenanceResult struct {
	WALCheckpointed bool  `json:"walCheckpointed"`
	Vacuumed        bool  `json:"vacuumed"`
	DBSizeBytes     int64 `json:"dbSizeBytes"`
}

// RunMaintenance checkpoints the write-ahead log and optionally vacuums the
// database, then reports the resulting on-disk size.
func (s *Service) RunMaintenance(ctx context.Context, vacuum bool) (*MaintenanceResult, error) {
	result := &MaintenanceResult{}

	if err := db.WALCheckpoint(s.sqlDB); err != nil {
		return nil, err
	}
	result.WALCheckpointed = true

	if vacuum {
		if err := db.Vacuum(s.sqlDB); err != nil {
			return nil, err
		}
		result.Vacuumed = true
	}

	size, err := db.DBTotalSize(s.cfg.DB.Path)
	if err != nil {
		return nil, err
	}
	result.DBSizeBytes = size

	s.log.Infow("database maintenance completed",
		"vacuumed", result.Vacuumed, "dbSizeBytes", result.DBSizeBytes)

	return result, nil
}

// Events queries the stored contract events.
func (s *Service) Events(ctx context.Context, qp store.QueryParams) ([]*store.ChainEvent, int, error) {
	return s.events.QueryEvents(ctx, qp)
}

// IndexedExam is an exam read straight off a stored ExamCreated event.
type IndexedExam struct {
	ExamID         string `json:"examId"`
	Name           string `json:"name"`
	Creator        string `json:"creator,omitempty"`
	TxHash         string `json:"txHash"`
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp int64  `json:"blockTimestamp"`
	Processed      bool   `json:"processed"`
}

// IndexedRegistration is a registration read off a stored UserRegistered
// event.
type IndexedRegistration struct {
	ExamID         string `json:"examId"`
	UserAddress    string `json:"userAddress"`
	TxHash         string `json:"txHash"`
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp int64  `json:"blockTimestamp"`
	Processed      bool   `json:"processed"`
}

// IndexedResult is an exam outcome read off a stored ExamCompleted event.
type IndexedResult struct {
	ExamID         string `json:"examId"`
	UserAddress    string `json:"userAddress"`
	Score          string `json:"score"`
	Passed         bool   `json:"passed"`
	TxHash         string `json:"txHash"`
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp int64  `json:"blockTimestamp"`
	Processed      bool   `json:"processed"`
}

// IndexedExams projects the stored ExamCreated events. Deferred events are
// included, so the view is complete even while a projection waits on a
// precondition.
func (s *Service) IndexedExams(ctx context.Context, limit, offset int) ([]*IndexedExam, int, error) {
	events, total, err := s.events.QueryEvents(ctx, store.QueryParams{
		EventName: event.ExamCreated.String(),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, 0, err
	}

	exams := make([]*IndexedExam, 0, len(events))
	for _, evt := range events {
		exams = append(exams, &IndexedExam{
			ExamID:         evt.Payload.String("examId"),
			Name:           evt.Payload.String("name"),
			Creator:        evt.Payload.String("creator"),
			TxHash:         evt.TxHash.Hex(),
			BlockNumber:    evt.BlockNumber,
			BlockTimestamp: evt.BlockTimestamp,
			Processed:      evt.Processed,
		})
	}

	return exams, total, nil
}

// IndexedRegistrations projects the stored UserRegistered events, optionally
// filtered by the exam id in the decoded payload.
func (s *Service) IndexedRegistrations(
	ctx context.Context,
	examID string,
	limit, offset int,
) ([]*IndexedRegistration, int, error) {
	qp := store.QueryParams{
		EventName: event.UserRegistered.String(),
		Limit:     limit,
		Offset:    offset,
	}
	if examID != "" {
		qp.Payload = map[string]string{"examId": examID}
	}

	events, total, err := s.events.QueryEvents(ctx, qp)
	if err != nil {
		return nil, 0, err
	}

	regs := make([]*IndexedRegistration, 0, len(events))
	for _, evt := range events {
		regs = append(regs, &IndexedRegistration{
			ExamID:         evt.Payload.String("examId"),
			UserAddress:    evt.Payload.String("user"),
			TxHash:         evt.TxHash.Hex(),
			BlockNumber:    evt.BlockNumber,
			BlockTimestamp: evt.BlockTimestamp,
			Processed:      evt.Processed,
		})
	}

	return regs, total, nil
}

// IndexedResults projects the stored ExamCompleted events, optionally
// filtered by exam id and by user wallet. The wallet may be given as the
// stored decimal form or as 0x-prefixed hex, which is normalized before
// matching the payload.
func (s *Service) IndexedResults(
	ctx context.Context,
	examID, userAddress string,
	limit, offset int,
) ([]*IndexedResult, int, error) {
	qp := store.QueryParams{
		EventName: event.ExamCompleted.String(),
		Limit:     limit,
		Offset:    offset,
	}

	payload := map[string]string{}
	if examID != "" {
		payload["examId"] = examID
	}
	if userAddress != "" {
		wallet := userAddress
		if strings.HasPrefix(strings.ToLower(userAddress), "0x") {
			wallet = felt.ToDecimal(felt.FromHex(userAddress))
		}
		payload["user"] = wallet
	}
	if len(payload) > 0 {
		qp.Payload = payload
	}

	events, total, err := s.events.QueryEvents(ctx, qp)
	if err != nil {
		return nil, 0, err
	}

	results := make([]*IndexedResult, 0, len(events))
	for _, evt := range events {
		results = append(results, &IndexedResult{
			ExamID:         evt.Payload.String("examId"),
			UserAddress:    evt.Payload.String("user"),
			Score:          evt.Payload.String("score"),
			Passed:         evt.Payload.Bool("passed"),
			TxHash:         evt.TxHash.Hex(),
			BlockNumber:    evt.BlockNumber,
			BlockTimestamp: evt.BlockTimestamp,
			Processed:      evt.Processed,
		})
	}

	return results, total, nil
}
