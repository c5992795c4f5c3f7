package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/russross/meddler"

	"github.com/skillnet-labs/examchain-backend/internal/logger"
)

const eventsTable = "contract_events"

// EventStore persists and queries contract events.
type EventStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewEventStore creates an event store on an open database.
func NewEventStore(db *sql.DB, log *logger.Logger) *EventStore {
	return &EventStore{
		db:  db,
		log: log,
	}
}

// FindOrCreate inserts the event unless a row with the same transaction
// hash, event name and contract address already exists. It returns the
// stored row and whether this call created it. On conflict the original
// row, including its payload, is kept untouched.
func (s *EventStore) FindOrCreate(ctx context.Context, evt *ChainEvent) (*ChainEvent, bool, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}

	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO `+eventsTable+`
		(id, contract_address, event_name, tx_hash, block_number, block_timestamp, payload, processed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		evt.ID,
		evt.ContractAddress.Hex(),
		evt.EventName,
		evt.TxHash.Hex(),
		evt.BlockNumber,
		evt.BlockTimestamp,
		string(payload),
		time.Now().UTC(),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert event: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to read insert result: %w", err)
	}
	created := affected > 0

	stored, err := s.findByNaturalKey(evt)
	if err != nil {
		return nil, false, err
	}

	return stored, created, nil
}

func (s *EventStore) findByNaturalKey(evt *ChainEvent) (*ChainEvent, error) {
	stored := &ChainEvent{}
	err := meddler.QueryRow(s.db, stored, `
		SELECT * FROM `+eventsTable+`
		WHERE tx_hash = ? AND event_name = ? AND contract_address = ?`,
		evt.TxHash.Hex(), evt.EventName, evt.ContractAddress.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to load event: %w", err)
	}

	return stored, nil
}

// MarkProcessed flags the event as projected and stamps the processing time.
func (s *EventStore) MarkProcessed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE `+eventsTable+` SET processed = 1, processed_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("event %s not found", id)
	}

	return nil
}

// MaxBlockNumber returns the highest stored block number. The second return
// value is false when the store is empty.
func (s *EventStore) MaxBlockNumber(ctx context.Context) (uint64, bool, error) {
	var maxBlock sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(block_number) FROM `+eventsTable).Scan(&maxBlock)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to query max block number: %w", err)
	}

	if !maxBlock.Valid {
		return 0, false, nil
	}

	return uint64(maxBlock.Int64), true, nil
}

// LatestBlock returns the number and timestamp of the highest stored block.
// The third return value is false when the store is empty.
func (s *EventStore) LatestBlock(ctx context.Context) (uint64, int64, bool, error) {
	var blockNumber uint64
	var blockTimestamp int64
	err := s.db.QueryRowContext(ctx, `
		SELECT block_number, block_timestamp FROM `+eventsTable+`
		ORDER BY block_number DESC LIMIT 1`).Scan(&blockNumber, &blockTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to query latest block: %w", err)
	}

	return blockNumber, blockTimestamp, true, nil
}

// CountUnprocessed returns the number of stored events that have not been
// projected yet.
func (s *EventStore) CountUnprocessed(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+eventsTable+` WHERE processed = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unprocessed events: %w", err)
	}
	return count, nil
}

// CountTotal returns the total number of stored events.
func (s *EventStore) CountTotal(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+eventsTable).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// QueryParams filters and pages event queries.
type QueryParams struct {
	EventName string
	Processed *bool
	FromBlock *uint64
	ToBlock   *uint64

	// Payload matches decoded payload fields by exact string value.
	Payload map[string]string

	Limit  int
	Offset int
}

const defaultQueryLimit = 50

// QueryEvents retrieves stored events matching the query parameters,
// newest block first, together with the total match count.
func (s *EventStore) QueryEvents(ctx context.Context, qp QueryParams) ([]*ChainEvent, int, error) {
	query := "SELECT * FROM " + eventsTable
	args := []interface{}{}
	var conditions []string

	if qp.EventName != "" {
		conditions = append(conditions, "event_name = ?")
		args = append(args, qp.EventName)
	}
	if qp.Processed != nil {
		conditions = append(conditions, "processed = ?")
		args = append(args, *qp.Processed)
	}
	if qp.FromBlock != nil {
		conditions = append(conditions, "block_number >= ?")
		args = append(args, *qp.FromBlock)
	}
	if qp.ToBlock != nil {
		conditions = append(conditions, "block_number <= ?")
		args = append(args, *qp.ToBlock)
	}
	if len(qp.Payload) > 0 {
		keys := make([]string, 0, len(qp.Payload))
		for k := range qp.Payload {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			conditions = append(conditions, "json_extract(payload, ?) = ?")
			args = append(args, "$."+k, qp.Payload[k])
		}
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := strings.Replace(query, "SELECT *", "SELECT COUNT(*)", 1)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to get total count: %w", err)
	}

	limit := qp.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	query += " ORDER BY block_number DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, qp.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*ChainEvent
	if err := meddler.ScanAll(rows, &events); err != nil {
		return nil, 0, fmt.Errorf("failed to scan events: %w", err)
	}

	return events, total, nil
}
