package projector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/skillnet-labs/examchain-backend/internal/db"
	"github.com/skillnet-labs/examchain-backend/internal/domain"
	"github.com/skillnet-labs/examchain-backend/internal/event"
	"github.com/skillnet-labs/examchain-backend/internal/logger"
	"github.com/skillnet-labs/examchain-backend/internal/migrations"
	"github.com/skillnet-labs/examchain-backend/internal/store"
)

func newTestRegistry(t *testing.T) (*Registry, *domain.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "projector_test.db")
	require.NoError(t, migrations.RunMigrations(dbPath))

	sqlDB, err := db.NewSQLiteDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	domainStore := domain.NewStore(sqlDB, logger.NewNopLogger())
	return NewRegistry(domainStore, logger.NewNopLogger()), domainStore
}

func chainEvent(kind event.Kind, payload event.Payload) *store.ChainEvent {
	return &store.ChainEvent{
		ID:              "evt-" + string(kind),
		ContractAddress: common.HexToHash("0x1"),
		EventName:       kind.String(),
		TxHash:          common.HexToHash("0xabc"),
		BlockNumber:     500100,
		BlockTimestamp:  1700000000,
		Payload:         payload,
	}
}

func TestRegistry_CoversAllKinds(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)
	for _, kind := range event.AllKinds {
		_, ok := r.Resolve(kind)
		require.True(t, ok, kind)
	}
	require.Len(t, r.Kinds(), len(event.AllKinds))
}

func TestExamCreated(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	handled, err := r.Apply(ctx, chainEvent(event.ExamCreated, event.Payload{
		"examId":  "42",
		"creator": "123456",
		"name":    "Cairo 101",
	}))
	require.NoError(t, err)
	require.True(t, handled)

	exam, err := ds.GetExam(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, exam)
	require.Equal(t, "Cairo 101", exam.Name)
	require.True(t, exam.IsCertification)

	// global notification asking admins to fill in the exam details
	notifs, total, err := ds.ListNotifications(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Nil(t, notifs[0].UserID)
	require.Equal(t, domain.NotificationInfo, notifs[0].Type)
	require.Contains(t, notifs[0].Message, "admin panel")
}

func TestExamCreated_EmptyNameGetsPlaceholder(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	handled, err := r.Apply(ctx, chainEvent(event.ExamCreated, event.Payload{
		"examId": "7",
		"name":   "",
	}))
	require.NoError(t, err)
	require.True(t, handled)

	exam, err := ds.GetExam(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "Exam 7", exam.Name)
}

func TestExamCreated_Idempotent(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	evt := chainEvent(event.ExamCreated, event.Payload{"examId": "42", "name": "Cairo 101"})

	for range 3 {
		handled, err := r.Apply(ctx, evt)
		require.NoError(t, err)
		require.True(t, handled)
	}

	_, total, err := ds.ListExams(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	// only the first application notifies
	_, total, err = ds.ListNotifications(ctx, "", 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestExamCreated_RawPayloadNotHandled(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	handled, err := r.Apply(context.Background(), chainEvent(event.ExamCreated, event.Payload{
		event.RawKeysField: []string{"0x01"},
		event.RawDataField: []string{},
	}))
	require.NoError(t, err)
	require.False(t, handled)
}

func TestUserRegistered_RequiresExam(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	reg := chainEvent(event.UserRegistered, event.Payload{"examId": "42", "user": "999888"})

	// exam not indexed yet
	handled, err := r.Apply(ctx, reg)
	require.NoError(t, err)
	require.False(t, handled)

	// once the exam exists the same event projects
	_, err = r.Apply(ctx, chainEvent(event.ExamCreated, event.Payload{"examId": "42", "name": "Cairo 101"}))
	require.NoError(t, err)

	handled, err = r.Apply(ctx, reg)
	require.NoError(t, err)
	require.True(t, handled)

	user, err := ds.GetUserByWallet(ctx, "999888")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, "user_999888", user.Username)

	stored, err := ds.GetRegistration(ctx, user.ID, "42")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, domain.RegistrationStatusConfirmed, stored.Status)
	require.Equal(t, domain.PaymentStatusCompleted, stored.PaymentStatus)
}

func TestExamCompleted_FullFlow(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	completed := chainEvent(event.ExamCompleted, event.Payload{
		"examId": "42",
		"user":   "999888",
		"score":  "85",
		"passed": "1",
	})

	// missing exam, user and registration
	handled, err := r.Apply(ctx, completed)
	require.NoError(t, err)
	require.False(t, handled)

	_, err = r.Apply(ctx, chainEvent(event.ExamCreated, event.Payload{"examId": "42", "name": "Cairo 101"}))
	require.NoError(t, err)
	_, err = r.Apply(ctx, chainEvent(event.UserRegistered, event.Payload{"examId": "42", "user": "999888"}))
	require.NoError(t, err)

	handled, err = r.Apply(ctx, completed)
	require.NoError(t, err)
	require.True(t, handled)

	user, err := ds.GetUserByWallet(ctx, "999888")
	require.NoError(t, err)

	results, total, err := ds.ListResults(ctx, "42", user.ID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, 85, results[0].Score)
	require.True(t, results[0].IsPassed)
	require.EqualValues(t, 1700000000, *results[0].CompletionTime)
}

func TestExamCompleted_ZeroPassedIsFailure(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Apply(ctx, chainEvent(event.ExamCreated, event.Payload{"examId": "42", "name": "Cairo 101"}))
	require.NoError(t, err)
	_, err = r.Apply(ctx, chainEvent(event.UserRegistered, event.Payload{"examId": "42", "user": "7"}))
	require.NoError(t, err)

	handled, err := r.Apply(ctx, chainEvent(event.ExamCompleted, event.Payload{
		"examId": "42",
		"user":   "7",
		"score":  "40",
		"passed": "0",
	}))
	require.NoError(t, err)
	require.True(t, handled)

	results, _, err := ds.ListResults(ctx, "42", "", 0, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].IsPassed)

	// a failed attempt is informational, not a warning
	user, err := ds.GetUserByWallet(ctx, "7")
	require.NoError(t, err)
	notifs, _, err := ds.ListNotifications(ctx, user.ID, 0, 0)
	require.NoError(t, err)

	var completionNotif *domain.Notification
	for _, n := range notifs {
		if n.Title == "Exam Not Passed" {
			completionNotif = n
		}
	}
	require.NotNil(t, completionNotif)
	require.Equal(t, domain.NotificationInfo, completionNotif.Type)
}

func TestApply_UnregisteredKindIsDeferred(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	handled, err := r.Apply(context.Background(), chainEvent(event.Kind("ExamArchived"), event.Payload{
		"examId": "42",
	}))
	require.NoError(t, err)
	require.False(t, handled)
}

func TestCertificateIssued_FanOut(t *testing.T) {
	t.Parallel()

	r, ds := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Apply(ctx, chainEvent(event.ExamCreated, event.Payload{"examId": "42", "name": "Cairo 101"}))
	require.NoError(t, err)

	users := []struct {
		wallet string
		score  string
		passed string
	}{
		{"1001", "90", "1"},
		{"1002", "80", "1"},
		{"1003", "75", "1"},
		{"1004", "40", "0"},
	}

	for _, u := range users {
		_, err = r.Apply(ctx, chainEvent(event.UserRegistered, event.Payload{"examId": "42", "user": u.wallet}))
		require.NoError(t, err)

		evt := chainEvent(event.ExamCompleted, event.Payload{
			"examId": "42", "user": u.wallet, "score": u.score, "passed": u.passed,
		})
		evt.TxHash = common.HexToHash("0x" + u.wallet)
		handled, err := r.Apply(ctx, evt)
		require.NoError(t, err)
		require.True(t, handled)
	}

	handled, err := r.Apply(ctx, chainEvent(event.CertificateIssued, event.Payload{
		"examId":         "42",
		"certificateURI": "ipfs://cert",
	}))
	require.NoError(t, err)
	require.True(t, handled)

	results, _, err := ds.ListResults(ctx, "42", "", 0, 0)
	require.NoError(t, err)

	var withCert int
	for _, res := range results {
		if res.CertificateURL != nil {
			withCert++
			require.Equal(t, "ipfs://cert", *res.CertificateURL)
			require.True(t, res.IsPassed)
		}
	}
	require.Equal(t, 3, withCert)
}

func TestCertificateIssued_RequiresExam(t *testing.T) {
	t.Parallel()

	r, _ := newTestRegistry(t)

	handled, err := r.Apply(context.Background(), chainEvent(event.CertificateIssued, event.Payload{
		"examId":         "42",
		"certificateURI": "ipfs://cert",
	}))
	require.NoError(t, err)
	require.False(t, handled)
}
