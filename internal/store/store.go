package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var (
	ErrUserNotExist    = errors.New("user does not exist")
	ErrChatNotExist    = errors.New("chat does not exist")
	ErrMessageNotExist = errors.New("message does not exist")
	ErrPeerDeclines    = errors.New("peer does not accept messages from strangers")
	ErrMessageBadChat  = errors.New("bad chat id")
	ErrMessageBadUser  = errors.New("bad sender id")
)

// Store owns all reads and writes of chat and message rows.
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

func New(logger *zap.SugaredLogger, pool *pgxpool.Pool) *Store {
	return &Store{logger: logger, db: pool}
}

func (s *Store) Close() {
	s.db.Close()
}

// InsertMessages bulk-inserts a flushed batch in buffer order and returns the
// new ids, index-aligned with rows. The sender is seeded into read_by so a
// message never counts as unread for its own author.
func (s *Store) InsertMessages(ctx context.Context, rows []NewMessage) ([]int64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	s.logger.Debugf("Inserting %d messages", len(rows))

	b := &pgx.Batch{}
	sql := `insert into messages (chat_id, sender_id, text, ts, read_by)
            values ($1, $2, $3, $4, array[$2]::bigint[])
            returning id`
	for _, row := range rows {
		b.Queue(sql, row.ChatID, row.SenderID, row.Text, row.Timestamp)
	}

	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	ids := make([]int64, len(rows))
	for i := range rows {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
				switch pgErr.ConstraintName {
				case "messages_chat_id_fkey":
					return nil, ErrMessageBadChat
				case "messages_sender_id_fkey":
					return nil, ErrMessageBadUser
				}
			}
			return nil, fmt.Errorf("insert message %d/%d: %w", i+1, len(rows), err)
		}
	}

	return ids, nil
}

// SetLastMessages points each chat at its most recent message and bumps the
// chat's updated_at, one bulk round trip for the whole flush.
func (s *Store) SetLastMessages(ctx context.Context, lastByChat map[int64]int64) error {
	if len(lastByChat) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	sql := "update chats set last_message = $2, updated_at = now() where id = $1"
	for chatID, msgID := range lastByChat {
		b.Queue(sql, chatID, msgID)
	}

	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	for range lastByChat {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("update chat pointer: %w", err)
		}
	}

	return nil
}

// MarkMessagesRead merges the given reader ids into read_by for every message
// of each chat. Rows that already contain all readers are skipped, which makes
// redelivered seen jobs idempotent.
func (s *Store) MarkMessagesRead(ctx context.Context, readersByChat map[int64][]int64) error {
	if len(readersByChat) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	sql := `update messages
               set read_by = (select array_agg(distinct v) from unnest(read_by || $2::bigint[]) as t(v))
             where chat_id = $1
               and not (read_by @> $2::bigint[])`
	for chatID, readers := range readersByChat {
		b.Queue(sql, chatID, readers)
	}

	br := s.db.SendBatch(ctx, b)
	defer br.Close()

	for range readersByChat {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("merge read_by: %w", err)
		}
	}

	return nil
}

// MessagesByChat returns one page of chat history, newest first, excluding
// messages the caller has deleted for themselves.
func (s *Store) MessagesByChat(ctx context.Context, chatID, callerID int64, page, limit int) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for chat %d, page %d", chatID, page)

	sql := `select id, chat_id, sender_id, text, ts, attachments, read_by, deleted_for_everyone
              from messages
             where chat_id = $1
               and not (deleted_for @> array[$2]::bigint[])
             order by ts desc, id desc
             limit $3 offset $4`

	rows, err := s.db.Query(ctx, sql, chatID, callerID, limit, page*limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		err = rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Timestamp,
			&m.Attachments, &m.ReadBy, &m.DeletedForEveryone)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// UnreadCount counts messages in a chat not yet read and not deleted by the user.
func (s *Store) UnreadCount(ctx context.Context, chatID, userID int64) (int64, error) {
	sql := `select count(*) from messages
             where chat_id = $1
               and not (read_by @> array[$2]::bigint[])
               and not (deleted_for @> array[$2]::bigint[])`

	var n int64
	err := s.db.QueryRow(ctx, sql, chatID, userID).Scan(&n)
	return n, err
}

// DeleteForMe hides a message from one participant. Once every chat
// participant has hidden it the row is physically removed.
func (s *Store) DeleteForMe(ctx context.Context, messageID, userID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	sql := `update messages
               set deleted_for = (select array_agg(distinct v) from unnest(deleted_for || array[$2]::bigint[]) as t(v))
             where id = $1
            returning chat_id, deleted_for`

	var chatID int64
	var deletedFor []int64
	if err := tx.QueryRow(ctx, sql, messageID, userID).Scan(&chatID, &deletedFor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrMessageNotExist
		}
		return err
	}

	var participants []int64
	if err := tx.QueryRow(ctx, "select participants from chats where id = $1", chatID).Scan(&participants); err != nil {
		return err
	}

	if containsAll(deletedFor, participants) {
		if _, err := tx.Exec(ctx, "delete from messages where id = $1", messageID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// DeleteForEveryone blanks the message text and raises the tombstone flag.
func (s *Store) DeleteForEveryone(ctx context.Context, messageID int64) error {
	tag, err := s.db.Exec(ctx,
		"update messages set deleted_for_everyone = true, text = '' where id = $1", messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMessageNotExist
	}
	return nil
}

// ClearChat hides every message of a chat from one participant.
func (s *Store) ClearChat(ctx context.Context, chatID, userID int64) error {
	sql := `update messages
               set deleted_for = (select array_agg(distinct v) from unnest(deleted_for || array[$2]::bigint[]) as t(v))
             where chat_id = $1
               and not (deleted_for @> array[$2]::bigint[])`
	_, err := s.db.Exec(ctx, sql, chatID, userID)
	return err
}

// CreateChat finds or creates the chat between two users; created reports
// which happened. A chat the caller had previously deleted for themselves is
// revived instead of duplicated.
func (s *Store) CreateChat(ctx context.Context, userID, peerID int64) (id int64, created bool, err error) {
	s.logger.Debugf("Creating chat between %d and %d", userID, peerID)

	var accepts bool
	err = s.db.QueryRow(ctx, "select accept_messages from users where id = $1", peerID).Scan(&accepts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, ErrUserNotExist
		}
		return 0, false, err
	}
	if !accepts {
		return 0, false, ErrPeerDeclines
	}

	sql := `update chats
               set deleted_for = array_remove(deleted_for, $1)
             where participants @> array[$1, $2]::bigint[]
               and cardinality(participants) = 2
            returning id`
	err = s.db.QueryRow(ctx, sql, userID, peerID).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	err = s.db.QueryRow(ctx,
		"insert into chats (participants) values (array[$1, $2]::bigint[]) returning id",
		userID, peerID).Scan(&id)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ChatsByUser lists the caller's chats, most recently active first, with a
// last-message preview and the caller's unread count per chat.
func (s *Store) ChatsByUser(ctx context.Context, userID int64) ([]Chat, error) {
	s.logger.Debugf("Retrieving chats for user %d", userID)

	sql := `select c.id, c.participants, c.updated_at,
                   m.id, m.sender_id, m.text, m.ts,
                   (select count(*) from messages um
                     where um.chat_id = c.id
                       and not (um.read_by @> array[$1]::bigint[])
                       and not (um.deleted_for @> array[$1]::bigint[])) as unread
              from chats c
              left join messages m on m.id = c.last_message
             where c.participants @> array[$1]::bigint[]
               and not (c.deleted_for @> array[$1]::bigint[])
             order by c.updated_at desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var msgID, senderID *int64
		var text *string
		var ts *time.Time
		err = rows.Scan(&c.ID, &c.Participants, &c.UpdatedAt, &msgID, &senderID, &text, &ts, &c.UnreadCount)
		if err != nil {
			return nil, err
		}
		if msgID != nil {
			c.LastMessage = &Message{ID: *msgID, ChatID: c.ID, SenderID: *senderID, Text: *text, Timestamp: *ts}
		}
		chats = append(chats, c)
	}

	return chats, rows.Err()
}

// DeleteChat is two-phase: the first participant to delete is only added to
// deleted_for; when the other side deletes too, chat and messages are removed.
func (s *Store) DeleteChat(ctx context.Context, chatID, userID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(context.Background())

	var deletedFor []int64
	err = tx.QueryRow(ctx, "select deleted_for from chats where id = $1", chatID).Scan(&deletedFor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrChatNotExist
		}
		return err
	}

	if len(deletedFor) > 0 {
		if _, err := tx.Exec(ctx, "delete from chats where id = $1", chatID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		"update chats set deleted_for = array[$2]::bigint[] where id = $1", chatID, userID); err != nil {
		return err
	}
	sql := `update messages
               set deleted_for = (select array_agg(distinct v) from unnest(deleted_for || array[$2]::bigint[]) as t(v))
             where chat_id = $1
               and not (deleted_for @> array[$2]::bigint[])`
	if _, err := tx.Exec(ctx, sql, chatID, userID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// UserExists reports whether a user row is present.
func (s *Store) UserExists(ctx context.Context, userID int64) (bool, error) {
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from users where id = $1", userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func containsAll(haystack, needles []int64) bool {
	set := make(map[int64]struct{}, len(haystack))
	for _, v := range haystack {
		set[v] = struct{}{}
	}
	for _, v := range needles {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}
