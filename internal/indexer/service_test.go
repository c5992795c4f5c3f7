package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	xcommon "github.com/skillnet-labs/examchain-backend/internal/common"
	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/db"
	"github.com/skillnet-labs/examchain-backend/internal/decoder"
	"github.com/skillnet-labs/examchain-backend/internal/domain"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/felt"
	"github.com/skillnet-labs/examchain-backend/internal/ingest"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/migrations"
	"github.com/skillnet-labs/examchain-backend/internal/projector"
	"github.com/skillnet-labs/examchain-backend/internal/store"
	"github.com/skillnet-labs/examchain-backend/internal/stream"
)

const testContract = "0x04c0a5193d58f74fbb3717b5dff2e0993fdbcdee142eebbb2579d837a2e85f2d"

type fakeSub struct {
	ctx       context.Context
	responses chan *stream.StreamDataResponse
	errCh     chan error
}

func newFakeSub() *fakeSub {
	return &fakeSub{
		ctx:       context.Background(),
		responses: make(chan *stream.StreamDataResponse, 16),
		errCh:     make(chan error, 1),
	}
}

// Recv mirrors a real gRPC stream: it fails once the subscription context
// is cancelled.
func (s *fakeSub) Recv() (*stream.StreamDataResponse, error) {
	select {
	case r := <-s.responses:
		return r, nil
	case err := <-s.errCh:
		return nil, err
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

type fakeClient struct {
	mu      sync.Mutex
	cursors []uint64
	subs    chan *fakeSub
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(chan *fakeSub, 4)}
}

func (c *fakeClient) Subscribe(ctx context.Context, req *stream.StreamDataRequest) (stream.Subscription, error) {
	c.mu.Lock()
	c.cursors = append(c.cursors, req.StartingCursor.OrderKey)
	c.mu.Unlock()

	select {
	case sub := <-c.subs:
		sub.ctx = ctx
		return sub, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeClient) Close() error { return nil }

func (c *fakeClient) subscribeCursors() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.cursors...)
}

func newTestService(t *testing.T) (*Service, *store.EventStore, *domain.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "indexer_test.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	sqlDB, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	log := logger.NewNopLogger()

	cfg := &config.Config{
		Network: "sepolia",
		Stream: config.StreamConfig{
			ServerURL:     "stream.test:443",
			StartingBlock: 500000,
			RetryDelay:    xcommon.NewDuration(10 * time.Millisecond),
		},
		Contracts: []config.ContractConfig{{Name: "exam", Address: testContract}},
		DB:        config.DatabaseConfig{Path: dbPath},
	}
	cfg.ApplyDefaults()

	dec, err := decoder.New(cfg.Contracts, log)
	require.NoError(t, err)

	events := store.NewEventStore(sqlDB, log)
	domainStore := domain.NewStore(sqlDB, log)
	ingestor := ingest.New(dec, events, projector.NewRegistry(domainStore, log), log)

	return New(cfg, sqlDB, events, ingestor, log), events, domainStore
}

func examCreatedBlock(number uint64, txHash string, examID int64, name string) stream.Block {
	return stream.Block{
		Header: stream.BlockHeader{BlockNumber: number, Timestamp: 1700000000},
		Events: []stream.EventWithTransaction{
			{
				TransactionHash: common.HexToHash(txHash),
				Event: stream.Event{
					FromAddress: common.HexToHash(testContract),
					Keys: []common.Hash{
						felt.Selector(event.ExamCreated.String()),
						felt.FromBig(big.NewInt(examID)),
						common.HexToHash("0xc0ffee"),
					},
					Data: []common.Hash{felt.FromString(name)},
				},
			},
		},
	}
}

func dataResponse(blocks ...stream.Block) *stream.StreamDataResponse {
	end := blocks[len(blocks)-1].Header.BlockNumber + 1
	return &stream.StreamDataResponse{
		Data: &stream.Data{
			Cursor:    &stream.Cursor{OrderKey: blocks[0].Header.BlockNumber},
			EndCursor: &stream.Cursor{OrderKey: end},
			Blocks:    blocks,
		},
	}
}

func TestStart_StreamInitError(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	svc.SetClientFactory(func(config.StreamConfig, *logger.Logger) (stream.Client, error) {
		return nil, errors.New("dial refused")
	})

	err := svc.Start(context.Background())

	var initErr *StreamInitError
	require.ErrorAs(t, err, &initErr)
	require.Equal(t, StateStopped, svc.State())
}

func TestStartStop_Lifecycle(t *testing.T) {
	t.Parallel()

	svc, events, domainStore := newTestService(t)

	client := newFakeClient()
	svc.SetClientFactory(func(config.StreamConfig, *logger.Logger) (stream.Client, error) {
		return client, nil
	})

	sub := newFakeSub()
	sub.responses <- &stream.StreamDataResponse{Heartbeat: true}
	sub.responses <- dataResponse(examCreatedBlock(500100, "0xa1", 42, "Cairo 101"))
	client.subs <- sub

	require.NoError(t, svc.Start(context.Background()))
	require.Equal(t, StateRunning, svc.State())

	// double start is a no-op
	require.NoError(t, svc.Start(context.Background()))

	// first subscription uses the configured starting block (empty store)
	require.Eventually(t, func() bool {
		total, err := events.CountTotal(context.Background())
		return err == nil && total == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []uint64{500000}, client.subscribeCursors())

	exam, err := domainStore.GetExam(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, exam)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
	require.Equal(t, StateStopped, svc.State())

	// stop again is a no-op
	require.NoError(t, svc.Stop(stopCtx))
}

func TestRun_ResubscribesWithFreshCursor(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)

	client := newFakeClient()
	svc.SetClientFactory(func(config.StreamConfig, *logger.Logger) (stream.Client, error) {
		return client, nil
	})

	first := newFakeSub()
	first.responses <- dataResponse(examCreatedBlock(500100, "0xa1", 42, "Cairo 101"))
	client.subs <- first

	require.NoError(t, svc.Start(context.Background()))

	require.Eventually(t, func() bool {
		total, err := events.CountTotal(context.Background())
		return err == nil && total == 1
	}, 2*time.Second, 10*time.Millisecond)

	// kill the stream; the service must resubscribe one past the stored block
	second := newFakeSub()
	client.subs <- second
	first.errCh <- errors.New("stream reset")

	require.Eventually(t, func() bool {
		cursors := client.subscribeCursors()
		return len(cursors) == 2 && cursors[1] == 500101
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))
}

func TestScan_ProcessesRange(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)

	client := newFakeClient()
	svc.SetClientFactory(func(config.StreamConfig, *logger.Logger) (stream.Client, error) {
		return client, nil
	})

	sub := newFakeSub()
	sub.responses <- dataResponse(
		examCreatedBlock(500100, "0xa1", 1, "One"),
		examCreatedBlock(500101, "0xa2", 2, "Two"),
		examCreatedBlock(500102, "0xa3", 3, "Three"),
	)
	client.subs <- sub

	result, err := svc.Scan(context.Background(), 500100, 500101)
	require.NoError(t, err)
	require.Equal(t, 2, result.BlocksProcessed)
	require.Equal(t, 2, result.EventsStored)
	require.Equal(t, 2, result.EventsProjected)

	total, err := events.CountTotal(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
}

func TestScan_InvalidRange(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	_, err := svc.Scan(context.Background(), 100, 50)
	require.ErrorContains(t, err, "invalid scan range")
}

func TestStatus(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)
	ctx := context.Background()

	st, err := svc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, StateStopped, st.State)
	require.Nil(t, st.LastStoredBlock)
	require.EqualValues(t, 500000, st.NextCursor)
	require.Zero(t, st.TotalEvents)

	_, _, err = events.FindOrCreate(ctx, &store.ChainEvent{
		ContractAddress: common.HexToHash(testContract),
		EventName:       "ExamCreated",
		TxHash:          common.HexToHash("0xa1"),
		BlockNumber:     500150,
		BlockTimestamp:  1700000123,
		Payload:         event.Payload{"examId": "1"},
	})
	require.NoError(t, err)

	st, err = svc.Status(ctx)
	require.NoError(t, err)
	require.NotNil(t, st.LastStoredBlock)
	require.EqualValues(t, 500150, *st.LastStoredBlock)
	require.NotNil(t, st.LastStoredBlockTimestamp)
	require.EqualValues(t, 1700000123, *st.LastStoredBlockTimestamp)
	require.EqualValues(t, 500151, st.NextCursor)
	require.EqualValues(t, 1, st.TotalEvents)
	require.EqualValues(t, 1, st.UnprocessedEvents)
}

func TestRunMaintenance(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)
	ctx := context.Background()

	_, _, err := events.FindOrCreate(ctx, &store.ChainEvent{
		ContractAddress: common.HexToHash(testContract),
		EventName:       "ExamCreated",
		TxHash:          common.HexToHash("0xa1"),
		BlockNumber:     500100,
		Payload:         event.Payload{"examId": "1"},
	})
	require.NoError(t, err)

	result, err := svc.RunMaintenance(ctx, true)
	require.NoError(t, err)
	require.True(t, result.WALCheckpointed)
	require.True(t, result.Vacuumed)
	require.Positive(t, result.DBSizeBytes)
}

func TestStop_DuringStartAbortsStartup(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	client := newFakeClient()
	connecting := make(chan struct{})
	release := make(chan struct{})
	svc.SetClientFactory(func(config.StreamConfig, *logger.Logger) (stream.Client, error) {
		close(connecting)
		<-release
		return client, nil
	})

	startErr := make(chan error, 1)
	go func() { startErr <- svc.Start(context.Background()) }()

	<-connecting
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Stop(stopCtx))

	close(release)
	require.NoError(t, <-startErr)

	// the stop must not be lost: no receive loop, no running state
	require.Equal(t, StateStopped, svc.State())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateStopped, svc.State())
	require.Empty(t, client.subscribeCursors())
}

// seedStoredEvent stores a decoded event the way the ingestion path would.
func seedStoredEvent(
	t *testing.T,
	events *store.EventStore,
	kind event.Kind,
	txHash string,
	block uint64,
	payload event.Payload,
	processed bool,
) {
	t.Helper()
	ctx := context.Background()

	evt, _, err := events.FindOrCreate(ctx, &store.ChainEvent{
		ContractAddress: common.HexToHash(testContract),
		EventName:       kind.String(),
		TxHash:          common.HexToHash(txHash),
		BlockNumber:     block,
		BlockTimestamp:  1700000000,
		Payload:         payload,
	})
	require.NoError(t, err)
	if processed {
		require.NoError(t, events.MarkProcessed(ctx, evt.ID))
	}
}

func TestIndexedExams_IncludesDeferredEvents(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)
	ctx := context.Background()

	seedStoredEvent(t, events, event.ExamCreated, "0xa1", 500100,
		event.Payload{"examId": "42", "name": "Cairo 101", "creator": "123456"}, true)
	seedStoredEvent(t, events, event.ExamCreated, "0xa2", 500101,
		event.Payload{"examId": "43", "name": "Cairo 201"}, false)
	seedStoredEvent(t, events, event.UserRegistered, "0xa3", 500102,
		event.Payload{"examId": "42", "user": "999888"}, false)

	// newest block first; the deferred exam is visible, flagged unprocessed
	exams, total, err := svc.IndexedExams(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, exams, 2)
	require.Equal(t, "43", exams[0].ExamID)
	require.False(t, exams[0].Processed)

	require.Equal(t, "42", exams[1].ExamID)
	require.Equal(t, "Cairo 101", exams[1].Name)
	require.Equal(t, "123456", exams[1].Creator)
	require.True(t, exams[1].Processed)
}

func TestIndexedRegistrations_ExamFilter(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)
	ctx := context.Background()

	seedStoredEvent(t, events, event.UserRegistered, "0xb1", 500100,
		event.Payload{"examId": "42", "user": "999888"}, true)
	seedStoredEvent(t, events, event.UserRegistered, "0xb2", 500101,
		event.Payload{"examId": "43", "user": "999888"}, false)

	regs, total, err := svc.IndexedRegistrations(ctx, "42", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, regs, 1)
	require.Equal(t, "42", regs[0].ExamID)
	require.Equal(t, "999888", regs[0].UserAddress)

	all, total, err := svc.IndexedRegistrations(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, all, 2)
}

func TestIndexedResults_HexWalletNormalized(t *testing.T) {
	t.Parallel()

	svc, events, _ := newTestService(t)
	ctx := context.Background()

	// the decoder stores wallets in decimal form
	wallet := felt.ToDecimal(felt.FromHex("0xabc123"))
	seedStoredEvent(t, events, event.ExamCompleted, "0xc1", 500100,
		event.Payload{"examId": "42", "user": wallet, "score": "85", "passed": "1"}, false)

	byHex, total, err := svc.IndexedResults(ctx, "42", "0xabc123", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, byHex, 1)
	require.Equal(t, wallet, byHex[0].UserAddress)
	require.Equal(t, "85", byHex[0].Score)
	require.True(t, byHex[0].Passed)
	require.False(t, byHex[0].Processed)

	byDecimal, _, err := svc.IndexedResults(ctx, "42", wallet, 0, 0)
	require.NoError(t, err)
	require.Len(t, byDecimal, 1)

	none, total, err := svc.IndexedResults(ctx, "42", "0xffff", 0, 0)
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, none)
}
