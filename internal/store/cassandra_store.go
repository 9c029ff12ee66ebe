package store

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/domain"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/snowflake"
)

const cassandraSchema = `CREATE TABLE IF NOT EXISTS messages_by_room (
	room_id     text,
	message_id  bigint,
	sender_id   text,
	sender_name text,
	content     text,
	created_at  timestamp,
	PRIMARY KEY ((room_id), message_id)
) WITH CLUSTERING ORDER BY (message_id DESC)`

// CassandraStore keeps one partition per room clustered by snowflake id, so
// id order and time order coincide and a page is a single slice read.
type CassandraStore struct {
	session *gocql.Session
	ids     *snowflake.Node
}

func NewCassandraStore(cfg config.CassandraConfig, ids *snowflake.Node) (*CassandraStore, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	cluster.Consistency = parseConsistency(cfg.Consistency)

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	if err := session.Query(cassandraSchema).Exec(); err != nil {
		session.Close()
		return nil, fmt.Errorf("failed to ensure messages table: %w", err)
	}

	return &CassandraStore{session: session, ids: ids}, nil
}

func parseConsistency(s string) gocql.Consistency {
	switch s {
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "ONE":
		return gocql.One
	case "QUORUM":
		return gocql.Quorum
	default:
		return gocql.LocalOne
	}
}

func (s *CassandraStore) Append(ctx context.Context, roomID string, sender domain.Principal, text string) (*domain.Message, error) {
	if text == "" {
		return nil, ErrEmptyContent
	}

	id, err := s.ids.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate message id: %w", err)
	}

	msg := &domain.Message{
		ID:         id,
		RoomID:     roomID,
		SenderID:   senderID(sender),
		SenderName: sender.Username,
		Content:    text,
		CreatedAt:  s.ids.Time(id).UTC(),
	}

	err = s.session.Query(
		`INSERT INTO messages_by_room (room_id, message_id, sender_id, sender_name, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.RoomID, msg.ID, msg.SenderID, msg.SenderName, msg.Content, msg.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to insert message")
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	return msg, nil
}

func (s *CassandraStore) History(ctx context.Context, roomID string, before int64, limit int) ([]domain.Message, error) {
	var q *gocql.Query
	if before > 0 {
		q = s.session.Query(
			`SELECT message_id, sender_id, sender_name, content, created_at
			 FROM messages_by_room WHERE room_id = ? AND message_id < ? LIMIT ?`,
			roomID, before, clampLimit(limit))
	} else {
		q = s.session.Query(
			`SELECT message_id, sender_id, sender_name, content, created_at
			 FROM messages_by_room WHERE room_id = ? LIMIT ?`,
			roomID, clampLimit(limit))
	}

	iter := q.WithContext(ctx).Iter()

	var msgs []domain.Message
	msg := domain.Message{RoomID: roomID}
	for iter.Scan(&msg.ID, &msg.SenderID, &msg.SenderName, &msg.Content, &msg.CreatedAt) {
		msg.CreatedAt = msg.CreatedAt.UTC()
		msgs = append(msgs, msg)
		msg = domain.Message{RoomID: roomID}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	reverse(msgs)
	return msgs, nil
}

func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}
