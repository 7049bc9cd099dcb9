package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/render"
)

// MirrorOptions are the per-mirror switches set at creation time.
type MirrorOptions struct {
	RenderAsImage  bool
	IncludeMedia   bool
	IncludeReplies bool
}

// DefaultMirrorOptions enables every feature. Rendering still depends on the
// global switch at delivery time.
func DefaultMirrorOptions() MirrorOptions {
	return MirrorOptions{RenderAsImage: true, IncludeMedia: true, IncludeReplies: true}
}

// CreateMirror validates and stores a new route from sourceID to targetID.
// Both chats must be reachable through the active transport.
func (s *Service) CreateMirror(ctx context.Context, sourceID, targetID int64, topicID int, opts MirrorOptions) (*database.Mirror, error) {
	switch {
	case sourceID == 0 || targetID == 0:
		return nil, fmt.Errorf("%w: chat ids must be non-zero", ErrInvalidMirror)
	case sourceID == targetID:
		return nil, fmt.Errorf("%w: source and target are the same chat", ErrInvalidMirror)
	case topicID < 0:
		return nil, fmt.Errorf("%w: topic id must not be negative", ErrInvalidMirror)
	}

	mirrors, err := s.store.ListMirrors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mirrors: %w", err)
	}
	if reaches(mirrors, targetID, sourceID) {
		return nil, ErrMirrorCycle
	}

	source, err := s.ResolveChat(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("source %d: %w", sourceID, err)
	}
	target, err := s.ResolveChat(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("target %d: %w", targetID, err)
	}

	m := &database.Mirror{
		SourceChatID:   sourceID,
		TargetChatID:   targetID,
		IsActive:       true,
		RenderAsImage:  opts.RenderAsImage,
		IncludeMedia:   opts.IncludeMedia,
		IncludeReplies: opts.IncludeReplies,
	}
	if topicID > 0 {
		m.TargetTopicID = sql.NullInt64{Int64: int64(topicID), Valid: true}
	}
	if err := s.store.CreateMirror(ctx, m); err != nil {
		return nil, err
	}

	s.upsertChat(ctx, source, true, false)
	s.upsertChat(ctx, target, false, true)

	s.logger.InfoContext(ctx, "Mirror created", "mirror_id", m.ID,
		"source_chat_id", sourceID, "target_chat_id", targetID, "topic_id", topicID)
	return m, nil
}

// reaches reports whether messages posted in from would eventually arrive in
// to through the existing mirrors.
func reaches(mirrors []database.Mirror, from, to int64) bool {
	edges := make(map[int64][]int64, len(mirrors))
	for _, m := range mirrors {
		edges[m.SourceChatID] = append(edges[m.SourceChatID], m.TargetChatID)
	}
	seen := map[int64]bool{}
	stack := []int64{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, edges[cur]...)
	}
	return false
}

// ResolveChat asks the transport for chat metadata.
func (s *Service) ResolveChat(ctx context.Context, chatID int64) (*Chat, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.SendTimeout)
	defer cancel()
	chat, err := s.sender.ResolveChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrChatUnavailable, err)
	}
	return chat, nil
}

func (s *Service) upsertChat(ctx context.Context, chat *Chat, source, target bool) {
	if chat == nil {
		return
	}
	row := &database.Chat{
		ID:       chat.ID,
		Title:    chat.Title,
		Username: chat.Username,
		Type:     chat.Type,
		IsSource: source,
		IsTarget: target,
	}
	if err := s.store.UpsertChat(ctx, row); err != nil {
		s.logger.WarnContext(ctx, "Failed to record chat", "chat_id", chat.ID, "error", err)
	}
}

// RemoveMirror deletes a mirror and its mappings.
func (s *Service) RemoveMirror(ctx context.Context, id int64) error {
	ok, err := s.store.DeleteMirror(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrMirrorNotFound
	}
	s.logger.InfoContext(ctx, "Mirror removed", "mirror_id", id)
	return nil
}

// ToggleMirror flips a mirror between active and paused and returns the new state.
func (s *Service) ToggleMirror(ctx context.Context, id int64) (bool, error) {
	m, err := s.store.GetMirror(ctx, id)
	if err != nil {
		return false, err
	}
	if m == nil {
		return false, ErrMirrorNotFound
	}
	active := !m.IsActive
	if err := s.store.SetMirrorActive(ctx, id, active); err != nil {
		return false, err
	}
	s.logger.InfoContext(ctx, "Mirror toggled", "mirror_id", id, "active", active)
	return active, nil
}

// ListMirrors returns every configured mirror.
func (s *Service) ListMirrors(ctx context.Context) ([]database.Mirror, error) {
	return s.store.ListMirrors(ctx)
}

// ListChats returns every chat the bot knows about.
func (s *Service) ListChats(ctx context.Context) ([]database.Chat, error) {
	return s.store.ListChats(ctx)
}

// ChatName returns a readable label for a chat id, falling back to the id.
func (s *Service) ChatName(ctx context.Context, chatID int64) string {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return database.Chat{ID: chatID}.DisplayName()
	}
	return chat.DisplayName()
}

// LookupUser returns what is known about a user, or nil when the user has
// never been seen or the lookup fails.
func (s *Service) LookupUser(ctx context.Context, userID int64) *database.User {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to look up user", "user_id", userID, "error", err)
		return nil
	}
	return user
}

// Status is a snapshot for the /status command.
type Status struct {
	Uptime       time.Duration
	RenderImages bool
	Database     *database.Stats
	Renders      render.FileStats
}

// Status collects counters from the store and the render directory.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	stats, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats: %w", err)
	}
	st := &Status{
		Uptime:       time.Since(s.started),
		RenderImages: s.RenderImages(),
		Database:     stats,
	}
	if store, ok := s.currentRenderer().(renderStore); ok {
		files, err := store.Stats()
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to read render directory", "error", err)
		}
		st.Renders = files
	}
	return st, nil
}
