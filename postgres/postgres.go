// Package postgres implements the persistence gateway in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/actogram/server/chat"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and pings it to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// notFound maps the driver's empty-result error onto the shared taxonomy.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", chat.ErrNotFound, what, id)
	}
	return err
}

// FindUserByID returns the user with the given id.
func (pg *Postgres) FindUserByID(ctx context.Context, id string) (chat.User, error) {
	var u user
	err := pg.bun.NewSelect().Model(&u).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return chat.User{}, fmt.Errorf("scan: %w", notFound(err, "user", id))
	}
	return u.domain(), nil
}

// FindUsersByID returns the users matching the given ids. Missing ids are
// skipped, not errors: chats can reference deleted accounts.
func (pg *Postgres) FindUsersByID(ctx context.Context, ids ...string) ([]chat.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []user
	err := pg.bun.NewSelect().Model(&users).Where("id IN (?)", bun.In(ids)).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]chat.User, len(users))
	for i, u := range users {
		out[i] = u.domain()
	}
	return out, nil
}

// FindUserByHandle returns the user with the given handle.
func (pg *Postgres) FindUserByHandle(ctx context.Context, handle string) (chat.User, error) {
	var u user
	err := pg.bun.NewSelect().Model(&u).Where("handle = ?", handle).Scan(ctx)
	if err != nil {
		return chat.User{}, fmt.Errorf("scan: %w", notFound(err, "user", handle))
	}
	return u.domain(), nil
}

// UpdateUserPresence writes the user's presence and last-seen timestamp.
// Banned is terminal: a non-banned write to a banned row is a no-op, so the
// offline transitions of force-closed sessions cannot lift a ban.
func (pg *Postgres) UpdateUserPresence(ctx context.Context, id string, presence chat.Presence, lastSeen time.Time) error {
	q := pg.bun.NewUpdate().
		Model((*user)(nil)).
		Set("presence = ?", string(presence)).
		Set("last_seen = ?", lastSeen).
		Where("id = ?", id)
	if presence != chat.PresenceBanned {
		q = q.Where("presence <> ?", string(chat.PresenceBanned))
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	return nil
}

// UpdateUserProfile writes the bounded profile fields.
func (pg *Postgres) UpdateUserProfile(ctx context.Context, id, displayName, bio string) error {
	_, err := pg.bun.NewUpdate().
		Model((*user)(nil)).
		Set("display_name = ?", displayName).
		Set("bio = ?", bio).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

// EnsureUser inserts the user unless the handle is already taken. Used at
// startup to guarantee the bot identity exists; not part of the gateway
// interface.
func (pg *Postgres) EnsureUser(ctx context.Context, u chat.User) error {
	row := &user{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		Verified:    u.Verified,
		Presence:    string(u.Presence),
		LastSeen:    u.LastSeen,
	}
	_, err := pg.bun.NewInsert().
		Model(row).
		On("CONFLICT (handle) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

// FindChatByID returns the chat with the given id.
func (pg *Postgres) FindChatByID(ctx context.Context, id string) (chat.Chat, error) {
	var c chatRow
	err := pg.bun.NewSelect().Model(&c).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return chat.Chat{}, fmt.Errorf("scan: %w", notFound(err, "chat", id))
	}
	return c.domain(), nil
}

// FindChatsByParticipant returns every chat the user participates in.
func (pg *Postgres) FindChatsByParticipant(ctx context.Context, userID string) ([]chat.Chat, error) {
	var rows []chatRow
	err := pg.bun.NewSelect().
		Model(&rows).
		Where("? = ANY(participants)", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]chat.Chat, len(rows))
	for i, c := range rows {
		out[i] = c.domain()
	}
	return out, nil
}

// CreateChatIfAbsent inserts the chat unless its id already exists. The
// primary-key conflict makes the operation atomic: two racing creators get
// exactly one row, and both receive it. The boolean reports whether this
// call performed the insert.
func (pg *Postgres) CreateChatIfAbsent(ctx context.Context, c chat.Chat) (chat.Chat, bool, error) {
	row := chatRowFrom(c)
	res, err := pg.bun.NewInsert().
		Model(row).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return chat.Chat{}, false, fmt.Errorf("insert: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return chat.Chat{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if inserted > 0 {
		return row.domain(), true, nil
	}

	// Lost the race (or the chat predates this call): fetch the winner's row.
	existing, err := pg.FindChatByID(ctx, c.ID)
	if err != nil {
		return chat.Chat{}, false, err
	}
	return existing, false, nil
}

// CreateMessage inserts a message. The returned message holds the generated
// id and timestamp, which define per-chat delivery order.
func (pg *Postgres) CreateMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	m := messageFrom(msg)
	if _, err := pg.bun.NewInsert().Model(m).Returning("*").Exec(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("insert: %w", err)
	}
	return m.domain(), nil
}

// FindMessageByID returns the message with the given id.
func (pg *Postgres) FindMessageByID(ctx context.Context, id string) (chat.Message, error) {
	var m message
	err := pg.bun.NewSelect().Model(&m).Where("id = ?", id).Scan(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("scan: %w", notFound(err, "message", id))
	}
	return m.domain(), nil
}

// FindMessagesByChat returns the chat's messages in persisted order.
func (pg *Postgres) FindMessagesByChat(ctx context.Context, chatID string) ([]chat.Message, error) {
	var msgs []message
	err := pg.bun.NewSelect().
		Model(&msgs).
		Where("chat_id = ?", chatID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.domain()
	}
	return out, nil
}

// LastMessageByChat returns the most recently persisted message of the chat.
func (pg *Postgres) LastMessageByChat(ctx context.Context, chatID string) (chat.Message, error) {
	var m message
	err := pg.bun.NewSelect().
		Model(&m).
		Where("chat_id = ?", chatID).
		Order("created_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return chat.Message{}, fmt.Errorf("scan: %w", notFound(err, "last message of chat", chatID))
	}
	return m.domain(), nil
}

// CountMessagesByChat returns the number of messages in the chat.
func (pg *Postgres) CountMessagesByChat(ctx context.Context, chatID string) (int, error) {
	count, err := pg.bun.NewSelect().
		Model((*message)(nil)).
		Where("chat_id = ?", chatID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// UpdateMessageReactions overwrites the message's reaction list.
func (pg *Postgres) UpdateMessageReactions(ctx context.Context, messageID string, reactions []chat.Reaction) error {
	if reactions == nil {
		reactions = []chat.Reaction{}
	}
	encoded, err := json.Marshal(reactions)
	if err != nil {
		return fmt.Errorf("marshal reactions: %w", err)
	}
	_, err = pg.bun.NewUpdate().
		Model((*message)(nil)).
		Set("reactions = ?", string(encoded)).
		Where("id = ?", messageID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update reactions: %w", err)
	}
	return nil
}

// DeleteMessagesByChat removes every message of the chat.
func (pg *Postgres) DeleteMessagesByChat(ctx context.Context, chatID string) error {
	_, err := pg.bun.NewDelete().
		Model((*message)(nil)).
		Where("chat_id = ?", chatID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return nil
}

// CountUsers returns the number of registered users. Used by the health
// endpoint.
func (pg *Postgres) CountUsers(ctx context.Context) (int, error) {
	count, err := pg.bun.NewSelect().Model((*user)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// CountChats returns the number of chats. Used by the health endpoint.
func (pg *Postgres) CountChats(ctx context.Context) (int, error) {
	count, err := pg.bun.NewSelect().Model((*chatRow)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// CountMessages returns the number of messages. Used by the health endpoint.
func (pg *Postgres) CountMessages(ctx context.Context) (int, error) {
	count, err := pg.bun.NewSelect().Model((*message)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}
