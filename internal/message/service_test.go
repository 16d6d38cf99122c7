package message

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRow struct {
	scanFunc func(dest ...any) error
}

func (r *fakeRow) Scan(dest ...any) error {
	return r.scanFunc(dest...)
}

type fakeQuerier struct {
	row pgx.Row
}

func (q *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (q *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return q.row
}

const (
	convID   = "3f1c8a52-0b1e-4f3a-9d21-6a9be6a1c010"
	tenantID = "3f1c8a52-0b1e-4f3a-9d21-6a9be6a1c011"
)

func TestPersistDuplicateExternalID(t *testing.T) {
	q := &fakeQuerier{row: &fakeRow{scanFunc: func(...any) error {
		return &pgconn.PgError{Code: "23505", ConstraintName: "messages_external_id_idx"}
	}}}
	s := NewService(nil, q)

	_, err := s.Persist(context.Background(), PersistInput{
		ConversationID:    convID,
		TenantID:          tenantID,
		SenderType:        SenderLead,
		Content:           "hello",
		ExternalMessageID: "wamid.AAA",
	})
	require.ErrorIs(t, err, ErrDuplicateMessage)
}

func TestPersistReturnsRow(t *testing.T) {
	q := &fakeQuerier{row: &fakeRow{scanFunc: func(dest ...any) error {
		var id pgtype.UUID
		require.NoError(t, id.Scan("3f1c8a52-0b1e-4f3a-9d21-6a9be6a1c012"))
		var cid, tid pgtype.UUID
		require.NoError(t, cid.Scan(convID))
		require.NoError(t, tid.Scan(tenantID))
		*dest[0].(*pgtype.UUID) = id
		*dest[1].(*pgtype.UUID) = cid
		*dest[2].(*pgtype.UUID) = tid
		*dest[3].(*string) = SenderAI
		*dest[4].(*string) = "generated"
		*dest[5].(*pgtype.Text) = pgtype.Text{}
		*dest[6].(*pgtype.Timestamptz) = pgtype.Timestamptz{Valid: true}
		return nil
	}}}
	s := NewService(nil, q)

	msg, err := s.Persist(context.Background(), PersistInput{
		ConversationID: convID,
		TenantID:       tenantID,
		SenderType:     SenderAI,
		Content:        "generated",
	})
	require.NoError(t, err)
	assert.Equal(t, SenderAI, msg.SenderType)
	assert.Equal(t, "generated", msg.Content)
}

func TestPersistRequiresSenderType(t *testing.T) {
	s := NewService(nil, &fakeQuerier{})
	_, err := s.Persist(context.Background(), PersistInput{
		ConversationID: convID,
		TenantID:       tenantID,
		Content:        "x",
	})
	require.Error(t, err)
}
