package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrMirrorExists is returned by CreateMirror when the same
// (source, target, topic) route is already configured.
var ErrMirrorExists = errors.New("mirror already exists")

// channelIDFloor is the largest Bot API id a channel or supergroup can have.
// Ids above it belong to users and basic groups.
const channelIDFloor = -1000000000000

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertChat inserts a chat or refreshes its metadata. Role flags are only ever set, never cleared.
	UpsertChat(ctx context.Context, chat *Chat) error
	// GetChat returns nil, nil when the chat is unknown.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)
	ListChats(ctx context.Context) ([]Chat, error)

	UpsertUser(ctx context.Context, user *User) error
	// GetUser returns nil, nil when the user has never been seen.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// SaveMessage records an inbound source message, updating the row on re-delivery.
	SaveMessage(ctx context.Context, message *Message) error
	// IncrementMirrorCount bumps mirror_count for a recorded source message.
	IncrementMirrorCount(ctx context.Context, chatID int64, telegramID int) error

	// CreateMirror inserts a new mirror and fills its ID. Returns ErrMirrorExists for duplicate routes.
	CreateMirror(ctx context.Context, mirror *Mirror) error
	// GetMirror returns nil, nil when the mirror does not exist.
	GetMirror(ctx context.Context, id int64) (*Mirror, error)
	ListMirrors(ctx context.Context) ([]Mirror, error)
	ListActiveMirrorsBySource(ctx context.Context, sourceChatID int64) ([]Mirror, error)
	// DeleteMirror removes a mirror and its mappings. Reports whether a row was deleted.
	DeleteMirror(ctx context.Context, id int64) (bool, error)
	SetMirrorActive(ctx context.Context, id int64, active bool) error

	// SaveMapping records a delivery. Returns false when the mapping already existed.
	SaveMapping(ctx context.Context, mapping *MessageMapping) (bool, error)
	// GetMapping returns nil, nil when the mirror has not delivered the source message.
	GetMapping(ctx context.Context, mirrorID, sourceChatID int64, sourceMessageID int) (*MessageMapping, error)
	// ListMappingsBySource returns the mappings of the given source messages. A zero
	// sourceChatID matches any user or basic group chat, whose message ids are unique
	// per account.
	ListMappingsBySource(ctx context.Context, sourceChatID int64, sourceMessageIDs []int) ([]MessageMapping, error)
	DeleteMappings(ctx context.Context, ids []int64) error
	// PruneMappings deletes mappings created before the cutoff and returns the count.
	PruneMappings(ctx context.Context, before time.Time) (int64, error)
	// PruneMessages deletes logged source messages created before the cutoff and returns the count.
	PruneMessages(ctx context.Context, before time.Time) (int64, error)

	GetStats(ctx context.Context) (*Stats, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
// Queries are written with ? placeholders and rebound for the active driver.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// namedReturningID binds a named INSERT ... RETURNING id query and scans the id.
func (s *sqlxStore) namedReturningID(ctx context.Context, q sqlx.QueryerContext, query string, arg any) (int64, error) {
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return 0, fmt.Errorf("failed to bind named query: %w", err)
	}
	var id int64
	if err := q.QueryRowxContext(ctx, s.db.Rebind(bound), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *sqlxStore) UpsertChat(ctx context.Context, chat *Chat) error {
	if chat == nil {
		return fmt.Errorf("cannot save nil chat")
	}
	if chat.ID == 0 {
		return fmt.Errorf("chat must have a non-zero id")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now().UTC()
	chat.CreatedAt = now
	chat.UpdatedAt = now

	query := `
        INSERT INTO chats (id, title, username, type, is_source, is_target, created_at, updated_at)
        VALUES (:id, :title, :username, :type, :is_source, :is_target, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            title = CASE WHEN excluded.title <> '' THEN excluded.title ELSE chats.title END,
            username = CASE WHEN excluded.username <> '' THEN excluded.username ELSE chats.username END,
            type = CASE WHEN excluded.type <> '' THEN excluded.type ELSE chats.type END,
            is_source = (chats.is_source OR excluded.is_source),
            is_target = (chats.is_target OR excluded.is_target),
            updated_at = excluded.updated_at;
    `
	bound, args, err := sqlx.Named(query, chat)
	if err != nil {
		return fmt.Errorf("failed to bind chat upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(bound), args...); err != nil {
		if isContextErr(err) {
			return err
		}
		s.logger.ErrorContext(ctx, "Error saving chat", "chat_id", chat.ID, "error", err)
		return fmt.Errorf("failed to save chat %d: %w", chat.ID, err)
	}
	return nil
}

func (s *sqlxStore) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var chat Chat
	query := s.db.Rebind(`SELECT id, title, username, type, is_source, is_target, created_at, updated_at
	          FROM chats WHERE id = ?`)
	err := s.db.GetContext(ctx, &chat, query, chatID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case isContextErr(err):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching chat", "chat_id", chatID, "error", err)
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting chat", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}
	return &chat, nil
}

func (s *sqlxStore) ListChats(ctx context.Context) ([]Chat, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var chats []Chat
	query := `SELECT id, title, username, type, is_source, is_target, created_at, updated_at
	          FROM chats ORDER BY updated_at DESC`
	if err := s.db.SelectContext(ctx, &chats, query); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing chats", "error", err)
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return chats, nil
}

func (s *sqlxStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot save nil user")
	}
	if user.ID == 0 {
		return fmt.Errorf("user must have a non-zero id")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
        INSERT INTO users (id, username, first_name, last_name, is_admin, is_allowed, created_at, updated_at)
        VALUES (:id, :username, :first_name, :last_name, :is_admin, :is_allowed, :created_at, :updated_at)
        ON CONFLICT (id) DO UPDATE SET
            username = excluded.username,
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            is_admin = excluded.is_admin,
            is_allowed = excluded.is_allowed,
            updated_at = excluded.updated_at;
    `
	bound, args, err := sqlx.Named(query, user)
	if err != nil {
		return fmt.Errorf("failed to bind user upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(bound), args...); err != nil {
		if isContextErr(err) {
			return err
		}
		s.logger.ErrorContext(ctx, "Error saving user", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to save user %d: %w", user.ID, err)
	}
	return nil
}

func (s *sqlxStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	query := s.db.Rebind(`SELECT id, username, first_name, last_name, is_admin, is_allowed, created_at, updated_at
	          FROM users WHERE id = ?`)
	err := s.db.GetContext(ctx, &user, query, userID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case isContextErr(err):
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &user, nil
}

func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.TelegramID == 0 {
		return fmt.Errorf("message must have a non-zero telegram_id")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	query := `
        INSERT INTO messages (chat_id, telegram_id, user_id, text, media_type, media_file_id,
            reply_to_message_id, message_thread_id, is_forwarded, forward_from_user_id,
            forward_from_chat_id, mirror_count, created_at, updated_at)
        VALUES (:chat_id, :telegram_id, :user_id, :text, :media_type, :media_file_id,
            :reply_to_message_id, :message_thread_id, :is_forwarded, :forward_from_user_id,
            :forward_from_chat_id, :mirror_count, :created_at, :updated_at)
        ON CONFLICT (chat_id, telegram_id) DO UPDATE SET
            text = excluded.text,
            media_type = excluded.media_type,
            media_file_id = excluded.media_file_id,
            updated_at = excluded.updated_at
        RETURNING id;
    `
	id, err := s.namedReturningID(ctx, s.db, query, message)
	if err != nil {
		if isContextErr(err) {
			return err
		}
		s.logger.ErrorContext(ctx, "Error saving message", "chat_id", message.ChatID, "telegram_id", message.TelegramID, "error", err)
		return fmt.Errorf("failed to save message (chat %d, message %d): %w", message.ChatID, message.TelegramID, err)
	}
	message.ID = id

	s.logger.DebugContext(ctx, "Message saved successfully", "chat_id", message.ChatID, "telegram_id", message.TelegramID, "id", id)
	return nil
}

func (s *sqlxStore) IncrementMirrorCount(ctx context.Context, chatID int64, telegramID int) error {
	query := s.db.Rebind(`UPDATE messages SET mirror_count = mirror_count + 1, updated_at = ?
	          WHERE chat_id = ? AND telegram_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), chatID, telegramID); err != nil {
		if isContextErr(err) {
			return err
		}
		return fmt.Errorf("failed to increment mirror count (chat %d, message %d): %w", chatID, telegramID, err)
	}
	return nil
}

func (s *sqlxStore) CreateMirror(ctx context.Context, mirror *Mirror) error {
	if mirror == nil {
		return fmt.Errorf("cannot save nil mirror")
	}
	if mirror.SourceChatID == 0 || mirror.TargetChatID == 0 {
		return fmt.Errorf("mirror must have non-zero source and target chat ids")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	now := time.Now().UTC()
	mirror.CreatedAt = now
	mirror.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for creating mirror", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var existing int
	check := tx.Rebind(`SELECT COUNT(*) FROM mirrors
	          WHERE source_chat_id = ? AND target_chat_id = ? AND COALESCE(target_topic_id, 0) = ?`)
	if err := tx.GetContext(ctx, &existing, check, mirror.SourceChatID, mirror.TargetChatID, mirror.TopicID()); err != nil {
		return fmt.Errorf("failed to check existing mirrors: %w", err)
	}
	if existing > 0 {
		return ErrMirrorExists
	}

	query := `
        INSERT INTO mirrors (source_chat_id, target_chat_id, target_topic_id, is_active,
            render_as_image, include_media, include_replies, created_at, updated_at)
        VALUES (:source_chat_id, :target_chat_id, :target_topic_id, :is_active,
            :render_as_image, :include_media, :include_replies, :created_at, :updated_at)
        RETURNING id;
    `
	id, err := s.namedReturningID(ctx, tx, query, mirror)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error creating mirror",
			"source_chat_id", mirror.SourceChatID, "target_chat_id", mirror.TargetChatID, "error", err)
		return fmt.Errorf("failed to create mirror: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	mirror.ID = id

	s.logger.InfoContext(ctx, "Mirror created", "mirror_id", id,
		"source_chat_id", mirror.SourceChatID, "target_chat_id", mirror.TargetChatID, "topic_id", mirror.TopicID())
	return nil
}

const mirrorColumns = `id, source_chat_id, target_chat_id, target_topic_id, is_active,
	render_as_image, include_media, include_replies, created_at, updated_at`

func (s *sqlxStore) GetMirror(ctx context.Context, id int64) (*Mirror, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var mirror Mirror
	err := s.db.GetContext(ctx, &mirror, s.db.Rebind(`SELECT `+mirrorColumns+` FROM mirrors WHERE id = ?`), id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case isContextErr(err):
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting mirror", "mirror_id", id, "error", err)
		return nil, fmt.Errorf("failed to get mirror %d: %w", id, err)
	}
	return &mirror, nil
}

func (s *sqlxStore) ListMirrors(ctx context.Context) ([]Mirror, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var mirrors []Mirror
	if err := s.db.SelectContext(ctx, &mirrors, `SELECT `+mirrorColumns+` FROM mirrors ORDER BY id`); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing mirrors", "error", err)
		return nil, fmt.Errorf("failed to list mirrors: %w", err)
	}
	return mirrors, nil
}

func (s *sqlxStore) ListActiveMirrorsBySource(ctx context.Context, sourceChatID int64) ([]Mirror, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var mirrors []Mirror
	query := s.db.Rebind(`SELECT ` + mirrorColumns + ` FROM mirrors
	          WHERE source_chat_id = ? AND is_active = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &mirrors, query, sourceChatID, true); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing mirrors for source", "source_chat_id", sourceChatID, "error", err)
		return nil, fmt.Errorf("failed to list mirrors for chat %d: %w", sourceChatID, err)
	}
	return mirrors, nil
}

func (s *sqlxStore) DeleteMirror(ctx context.Context, id int64) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM message_mappings WHERE mirror_id = ?`), id); err != nil {
		return false, fmt.Errorf("failed to delete mappings of mirror %d: %w", id, err)
	}
	result, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM mirrors WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete mirror %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	if affected > 0 {
		s.logger.InfoContext(ctx, "Mirror deleted", "mirror_id", id)
	}
	return affected > 0, nil
}

func (s *sqlxStore) SetMirrorActive(ctx context.Context, id int64, active bool) error {
	query := s.db.Rebind(`UPDATE mirrors SET is_active = ?, updated_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, active, time.Now().UTC(), id); err != nil {
		if isContextErr(err) {
			return err
		}
		return fmt.Errorf("failed to update mirror %d: %w", id, err)
	}
	return nil
}

func (s *sqlxStore) SaveMapping(ctx context.Context, mapping *MessageMapping) (bool, error) {
	if mapping == nil {
		return false, fmt.Errorf("cannot save nil mapping")
	}
	if mapping.MirrorID == 0 || mapping.SourceChatID == 0 || mapping.TargetChatID == 0 {
		return false, fmt.Errorf("mapping must reference a mirror, a source chat and a target chat")
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	mapping.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO message_mappings (mirror_id, source_chat_id, source_message_id,
            target_chat_id, target_topic_id, target_message_id, kind, created_at)
        VALUES (:mirror_id, :source_chat_id, :source_message_id,
            :target_chat_id, :target_topic_id, :target_message_id, :kind, :created_at)
        ON CONFLICT (mirror_id, source_chat_id, source_message_id) DO NOTHING
        RETURNING id;
    `
	id, err := s.namedReturningID(ctx, s.db, query, mapping)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "Mapping already recorded", "mirror_id", mapping.MirrorID,
			"source_chat_id", mapping.SourceChatID, "source_message_id", mapping.SourceMessageID)
		return false, nil
	case isContextErr(err):
		return false, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error saving mapping", "mirror_id", mapping.MirrorID, "error", err)
		return false, fmt.Errorf("failed to save mapping: %w", err)
	}
	mapping.ID = id
	return true, nil
}

const mappingColumns = `id, mirror_id, source_chat_id, source_message_id, target_chat_id,
	target_topic_id, target_message_id, kind, created_at`

func (s *sqlxStore) GetMapping(ctx context.Context, mirrorID, sourceChatID int64, sourceMessageID int) (*MessageMapping, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var mapping MessageMapping
	query := s.db.Rebind(`SELECT ` + mappingColumns + ` FROM message_mappings
	          WHERE mirror_id = ? AND source_chat_id = ? AND source_message_id = ?`)
	err := s.db.GetContext(ctx, &mapping, query, mirrorID, sourceChatID, sourceMessageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case isContextErr(err):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return &mapping, nil
}

func (s *sqlxStore) ListMappingsBySource(ctx context.Context, sourceChatID int64, sourceMessageIDs []int) ([]MessageMapping, error) {
	if len(sourceMessageIDs) == 0 {
		return nil, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var (
		query string
		args  []any
		err   error
	)
	if sourceChatID != 0 {
		query, args, err = sqlx.In(`SELECT `+mappingColumns+` FROM message_mappings
		          WHERE source_chat_id = ? AND source_message_id IN (?) ORDER BY id`, sourceChatID, sourceMessageIDs)
	} else {
		query, args, err = sqlx.In(`SELECT `+mappingColumns+` FROM message_mappings
		          WHERE source_chat_id > ? AND source_message_id IN (?) ORDER BY id`, int64(channelIDFloor), sourceMessageIDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build mapping query: %w", err)
	}

	var mappings []MessageMapping
	if err := s.db.SelectContext(ctx, &mappings, s.db.Rebind(query), args...); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error listing mappings", "source_chat_id", sourceChatID, "error", err)
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return mappings, nil
}

func (s *sqlxStore) DeleteMappings(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM message_mappings WHERE id IN (?)`, ids)
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		if isContextErr(err) {
			return err
		}
		return fmt.Errorf("failed to delete mappings: %w", err)
	}
	return nil
}

func (s *sqlxStore) PruneMappings(ctx context.Context, before time.Time) (int64, error) {
	return s.pruneBefore(ctx, "message_mappings", before)
}

func (s *sqlxStore) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	return s.pruneBefore(ctx, "messages", before)
}

func (s *sqlxStore) pruneBefore(ctx context.Context, table string, before time.Time) (int64, error) {
	if ctx.Err() != nil {
		return 0, ctx.Err()
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM `+table+` WHERE created_at < ?`), before.UTC())
	if err != nil {
		if isContextErr(err) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to prune %s: %w", table, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected, nil
}

func (s *sqlxStore) GetStats(ctx context.Context) (*Stats, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var stats Stats
	query := s.db.Rebind(`SELECT
            (SELECT COUNT(*) FROM chats) AS chats,
            (SELECT COUNT(*) FROM users) AS users,
            (SELECT COUNT(*) FROM messages) AS messages,
            (SELECT COUNT(*) FROM mirrors) AS mirrors,
            (SELECT COUNT(*) FROM mirrors WHERE is_active = ?) AS active_mirrors,
            (SELECT COUNT(*) FROM message_mappings) AS mappings`)
	if err := s.db.GetContext(ctx, &stats, query, true); err != nil {
		if isContextErr(err) {
			return nil, err
		}
		s.logger.ErrorContext(ctx, "Error collecting stats", "error", err)
		return nil, fmt.Errorf("failed to collect stats: %w", err)
	}
	return &stats, nil
}

// RunSQLMaintenance reclaims space and refreshes planner statistics.
// VACUUM cannot run inside a transaction on either backend.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	statements := []string{"VACUUM", "ANALYZE"}
	if s.db.DriverName() == DriverPostgres {
		statements = []string{"VACUUM ANALYZE"}
	}

	s.logger.InfoContext(ctx, "Starting database maintenance", "statements", statements)
	for _, stmt := range statements {
		_, err := s.db.ExecContext(ctx, stmt)
		switch {
		case isContextErr(err):
			s.logger.WarnContext(ctx, "Maintenance statement timed out or was cancelled", "statement", stmt, "error", err)
			return fmt.Errorf("database maintenance (%s) timed out: %w", stmt, err)
		case err != nil:
			s.logger.ErrorContext(ctx, "Maintenance statement failed", "statement", stmt, "error", err)
			return fmt.Errorf("database maintenance (%s) failed: %w", stmt, err)
		}
	}

	s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	return nil
}
