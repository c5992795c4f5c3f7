package ingest

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/skillnet-labs/examchain-backend/internal/config"
	"github.com/skillnet-labs/examchain-backend/internal/db"
	"github.com/skillnet-labs/examchain-backend/internal/decoder"
	"github.com/skillnet-labs/examchain-backend/internal/domain"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/felt"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/migrations"
	"github.com/skillnet-labs/examchain-backend/internal/projector"
	"github.com/skillnet-labs/examchain-backend/internal/store"
	"github.com/skillnet-labs/examchain-backend/internal/stream"
)

const testContract = "0x04c0a5193d58f74fbb3717b5dff2e0993fdbcdee142eebbb2579d837a2e85f2d"

type testEnv struct {
	ingestor *Ingestor
	events   *store.EventStore
	domain   *domain.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ingest_test.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	sqlDB, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	log := logger.NewNopLogger()

	contractCfg := config.ContractConfig{Name: "exam", Address: testContract}
	contractCfg.ApplyDefaults()
	dec, err := decoder.New([]config.ContractConfig{contractCfg}, log)
	require.NoError(t, err)

	events := store.NewEventStore(sqlDB, log)
	domainStore := domain.NewStore(sqlDB, log)
	registry := projector.NewRegistry(domainStore, log)

	return &testEnv{
		ingestor: New(dec, events, registry, log),
		events:   events,
		domain:   domainStore,
	}
}

func rawEvent(kind event.Kind, txHash string, keys, data []common.Hash) stream.EventWithTransaction {
	return stream.EventWithTransaction{
		TransactionHash: common.HexToHash(txHash),
		Event: stream.Event{
			FromAddress: common.HexToHash(testContract),
			Keys:        append([]common.Hash{felt.Selector(kind.String())}, keys...),
			Data:        data,
		},
	}
}

func examCreatedEvent(txHash string, examID int64, name string) stream.EventWithTransaction {
	return rawEvent(event.ExamCreated, txHash,
		[]common.Hash{felt.FromBig(big.NewInt(examID)), common.HexToHash("0xc0ffee")},
		[]common.Hash{felt.FromString(name)})
}

func userRegisteredEvent(txHash string, examID, user int64) stream.EventWithTransaction {
	return rawEvent(event.UserRegistered, txHash,
		[]common.Hash{felt.FromBig(big.NewInt(examID)), felt.FromBig(big.NewInt(user))},
		nil)
}

func block(number uint64, events ...stream.EventWithTransaction) stream.Block {
	return stream.Block{
		Header: stream.BlockHeader{BlockNumber: number, Timestamp: 1700000000},
		Events: events,
	}
}

func TestProcessBlock_StoresAndProjects(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	result := env.ingestor.ProcessBlock(ctx, block(100,
		examCreatedEvent("0xa1", 42, "Cairo 101"),
		userRegisteredEvent("0xa2", 42, 777),
	))

	require.Equal(t, 2, result.Stored)
	require.Equal(t, 2, result.Projected)
	require.Zero(t, result.Failed)
	require.Zero(t, result.Deferred)

	exam, err := env.domain.GetExam(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, exam)
	require.Equal(t, "Cairo 101", exam.Name)

	user, err := env.domain.GetUserByWallet(ctx, "777")
	require.NoError(t, err)
	require.NotNil(t, user)

	unprocessed, err := env.events.CountUnprocessed(ctx)
	require.NoError(t, err)
	require.Zero(t, unprocessed)
}

func TestProcessBlock_RedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	blk := block(100, examCreatedEvent("0xa1", 42, "Cairo 101"))

	first := env.ingestor.ProcessBlock(ctx, blk)
	require.Equal(t, 1, first.Stored)
	require.Equal(t, 1, first.Projected)

	second := env.ingestor.ProcessBlock(ctx, blk)
	require.Zero(t, second.Stored)
	require.Equal(t, 1, second.Duplicates)
	require.Zero(t, second.Projected)

	total, err := env.events.CountTotal(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, total)

	_, totalExams, err := env.domain.ListExams(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, totalExams)
}

func TestProcessBlock_DeferredUntilPreconditionMet(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// registration arrives before its exam
	regBlock := block(100, userRegisteredEvent("0xb1", 42, 777))

	result := env.ingestor.ProcessBlock(ctx, regBlock)
	require.Equal(t, 1, result.Stored)
	require.Equal(t, 1, result.Deferred)
	require.Zero(t, result.Projected)

	unprocessed, err := env.events.CountUnprocessed(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, unprocessed)

	// the exam shows up
	env.ingestor.ProcessBlock(ctx, block(101, examCreatedEvent("0xb2", 42, "Cairo 101")))

	// redelivery of the original block now projects the registration
	retry := env.ingestor.ProcessBlock(ctx, regBlock)
	require.Zero(t, retry.Stored)
	require.Equal(t, 1, retry.Projected)

	unprocessed, err = env.events.CountUnprocessed(ctx)
	require.NoError(t, err)
	require.Zero(t, unprocessed)
}

func TestProcessBlock_BadEventDoesNotStopBlock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	// truncated ExamCreated decodes to a raw payload and is deferred,
	// while the valid event in the same block still projects
	truncated := rawEvent(event.ExamCreated, "0xc1",
		[]common.Hash{felt.FromBig(big.NewInt(1))}, nil)

	result := env.ingestor.ProcessBlock(ctx, block(100,
		truncated,
		examCreatedEvent("0xc2", 42, "Cairo 101"),
	))

	require.Equal(t, 2, result.Stored)
	require.Equal(t, 1, result.Projected)
	require.Equal(t, 1, result.Deferred)

	exam, err := env.domain.GetExam(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, exam)
}

func TestProcessBlock_EmptyBlock(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	result := env.ingestor.ProcessBlock(context.Background(), block(100))
	require.Zero(t, result.Stored)
	require.Zero(t, result.Failed)
}
