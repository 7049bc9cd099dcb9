package mirror

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/render"
)

// Options tunes delivery.
type Options struct {
	Workers       int           // concurrent deliveries per inbound message
	RatePerSecond float64       // sends per second per target chat
	Burst         int           // burst per target chat
	SendTimeout   time.Duration // deadline for a single Telegram call
	RenderImages  bool          // global switch for mirrors with render_as_image
}

// Service is the mirror pipeline. It is safe for concurrent use.
type Service struct {
	store    database.Store
	sender   Sender
	renderer atomic.Pointer[rendererRef]
	access   Access
	opts     Options
	guard    *guard
	metrics  *Metrics
	logger   *slog.Logger

	renderImages atomic.Bool
	inflight     sync.Map // deliveryKey -> struct{}
	started      time.Time
}

// NewService wires the pipeline. metrics may be nil.
func NewService(store database.Store, sender Sender, renderer Renderer, access Access, opts Options, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}

	s := &Service{
		store:   store,
		sender:  sender,
		access:  access,
		opts:    opts,
		metrics: metrics,
		logger:  logger.With("component", "mirror"),
		started: time.Now(),
	}
	s.guard = newGuard(newLimiterPool(opts.RatePerSecond, opts.Burst), opts.SendTimeout, metrics, s.logger)
	s.renderer.Store(&rendererRef{renderer})
	s.renderImages.Store(opts.RenderImages)
	return s
}

type rendererRef struct{ Renderer }

// SetRenderer replaces the card renderer for deliveries and edits that start
// after the call.
func (s *Service) SetRenderer(r Renderer) {
	s.renderer.Store(&rendererRef{r})
	s.logger.Info("Card renderer replaced")
}

func (s *Service) currentRenderer() Renderer {
	return s.renderer.Load().Renderer
}

// RenderImages reports the global render switch.
func (s *Service) RenderImages() bool {
	return s.renderImages.Load()
}

// SetRenderImages flips the global render switch at runtime.
func (s *Service) SetRenderImages(enabled bool) {
	s.renderImages.Store(enabled)
	s.logger.Info("Image rendering toggled", "enabled", enabled)
}

// Result summarises what happened to one inbound message.
type Result struct {
	Delivered []database.MessageMapping
	Skipped   []int64         // mirror ids that already had the message or had nothing to send
	Failed    map[int64]error // mirror id -> delivery error
}

func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for id, err := range r.Failed {
		errs = append(errs, fmt.Errorf("mirror %d: %w", id, err))
	}
	return errors.Join(errs...)
}

type deliveryKey struct {
	mirrorID  int64
	chatID    int64
	messageID int
}

// HandleMessage delivers a new source message to every active mirror of its
// chat. A failing mirror does not stop the others; failures are reported in
// the Result. The returned error covers only lookup failures.
func (s *Service) HandleMessage(ctx context.Context, msg *Message) (*Result, error) {
	result := &Result{Failed: map[int64]error{}}
	if msg == nil || msg.Chat.ID == 0 || msg.ID == 0 {
		return result, fmt.Errorf("incomplete message")
	}
	log := s.logger.With("chat_id", msg.Chat.ID, "message_id", msg.ID)

	if !s.access.IsSourceChat(msg.Chat.ID) {
		log.DebugContext(ctx, "Ignoring message from chat outside the source list")
		return result, nil
	}
	if msg.From != nil && !s.access.IsAllowedUser(msg.From.ID) {
		log.DebugContext(ctx, "Ignoring message from user outside the allow list", "user_id", msg.From.ID)
		return result, nil
	}

	mirrors, err := s.store.ListActiveMirrorsBySource(ctx, msg.Chat.ID)
	s.recordInbound(ctx, msg, len(mirrors) > 0 || s.access.ListsSourceChat(msg.Chat.ID))
	if err != nil {
		return result, fmt.Errorf("failed to look up mirrors: %w", err)
	}
	if len(mirrors) == 0 {
		return result, nil
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for _, m := range mirrors {
		g.Go(func() error {
			mapping, err := s.deliver(ctx, m, msg)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed[m.ID] = err
			case mapping == nil:
				result.Skipped = append(result.Skipped, m.ID)
			default:
				result.Delivered = append(result.Delivered, *mapping)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.InfoContext(ctx, "Message mirrored",
		"mirrors", len(mirrors), "delivered", len(result.Delivered),
		"skipped", len(result.Skipped), "failed", len(result.Failed))
	return result, nil
}

// recordInbound keeps chat, user and message rows current. The chat is
// flagged as a source only when isSource is set. Failures are logged and do
// not block delivery.
func (s *Service) recordInbound(ctx context.Context, msg *Message, isSource bool) {
	chat := &database.Chat{ID: msg.Chat.ID, Title: msg.Chat.Title, Username: msg.Chat.Username, Type: msg.Chat.Type, IsSource: isSource}
	if err := s.store.UpsertChat(ctx, chat); err != nil {
		s.logger.WarnContext(ctx, "Failed to record chat", "chat_id", msg.Chat.ID, "error", err)
	}

	record := &database.Message{
		ChatID:           msg.Chat.ID,
		TelegramID:       msg.ID,
		Text:             msg.Text,
		MediaType:        msg.MediaType,
		MediaFileID:      msg.MediaFileID,
		ReplyToMessageID: msg.ReplyToID,
		MessageThreadID:  msg.ThreadID,
	}
	if msg.From != nil {
		record.UserID = msg.From.ID
		user := &database.User{
			ID:        msg.From.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
			IsAdmin:   s.access.IsAdmin(msg.From.ID),
			IsAllowed: s.access.IsAllowedUser(msg.From.ID),
		}
		if err := s.store.UpsertUser(ctx, user); err != nil {
			s.logger.WarnContext(ctx, "Failed to record user", "user_id", msg.From.ID, "error", err)
		}
	}
	if msg.Forward != nil {
		record.IsForwarded = true
		record.ForwardFromUserID = msg.Forward.FromUserID
		record.ForwardFromChatID = msg.Forward.FromChatID
	}
	if err := s.store.SaveMessage(ctx, record); err != nil {
		s.logger.WarnContext(ctx, "Failed to record message", "chat_id", msg.Chat.ID, "message_id", msg.ID, "error", err)
	}
}

// deliver sends msg through one mirror. It returns nil, nil when there was
// nothing to do.
func (s *Service) deliver(ctx context.Context, m database.Mirror, msg *Message) (*database.MessageMapping, error) {
	log := s.logger.With("mirror_id", m.ID, "source_chat_id", msg.Chat.ID, "message_id", msg.ID,
		"target_chat_id", m.TargetChatID, "topic_id", m.TopicID())

	if !s.access.IsTargetChat(m.TargetChatID) {
		log.WarnContext(ctx, "Mirror target is outside the target list, skipping")
		return nil, nil
	}

	key := deliveryKey{mirrorID: m.ID, chatID: msg.Chat.ID, messageID: msg.ID}
	if _, busy := s.inflight.LoadOrStore(key, struct{}{}); busy {
		log.DebugContext(ctx, "Delivery already in progress, skipping")
		return nil, nil
	}
	defer s.inflight.Delete(key)

	existing, err := s.store.GetMapping(ctx, m.ID, msg.Chat.ID, msg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check mapping: %w", err)
	}
	if existing != nil {
		log.DebugContext(ctx, "Message already mirrored", "target_message_id", existing.TargetMessageID)
		return nil, nil
	}

	target := Target{ChatID: m.TargetChatID, TopicID: m.TopicID()}
	if m.IncludeReplies && msg.ReplyToID != 0 {
		parent, err := s.store.GetMapping(ctx, m.ID, msg.Chat.ID, msg.ReplyToID)
		if err != nil {
			log.WarnContext(ctx, "Failed to look up reply parent", "reply_to", msg.ReplyToID, "error", err)
		} else if parent != nil {
			target.ReplyToID = parent.TargetMessageID
		}
	}

	var (
		kind database.MappingKind
		send func(ctx context.Context) (int, error)
	)
	switch {
	case m.RenderAsImage && s.RenderImages():
		data, err := s.renderCard(msg, m)
		if err != nil {
			s.metrics.delivery(string(database.MappingKindRender), "error")
			return nil, err
		}
		name := render.FileName(msg.Chat.ID, msg.ID, m.ID)
		if store, ok := s.currentRenderer().(renderStore); ok {
			if _, err := store.Save(name, data); err != nil {
				log.WarnContext(ctx, "Failed to keep rendered card", "error", err)
			}
		}
		kind = database.MappingKindRender
		send = func(ctx context.Context) (int, error) { return s.sender.SendPhoto(ctx, target, name, data) }
	case msg.HasMedia() && !m.IncludeMedia:
		if strings.TrimSpace(msg.Text) == "" {
			log.DebugContext(ctx, "Media-only message on a mirror without media, skipping")
			return nil, nil
		}
		kind = database.MappingKindText
		send = func(ctx context.Context) (int, error) { return s.sender.SendText(ctx, target, msg.Text) }
	default:
		kind = database.MappingKindCopy
		send = func(ctx context.Context) (int, error) {
			return s.sender.CopyMessage(ctx, msg.Chat.ID, msg.ID, target)
		}
	}

	var targetID int
	err = s.guard.call(ctx, m.TargetChatID, func(ctx context.Context) error {
		var err error
		targetID, err = send(ctx)
		return err
	})
	if err != nil {
		s.metrics.delivery(string(kind), "error")
		log.ErrorContext(ctx, "Delivery failed", "kind", kind, "error", err)
		return nil, fmt.Errorf("delivery to %d failed: %w", m.TargetChatID, err)
	}
	s.metrics.delivery(string(kind), "ok")

	mapping := &database.MessageMapping{
		MirrorID:        m.ID,
		SourceChatID:    msg.Chat.ID,
		SourceMessageID: msg.ID,
		TargetChatID:    m.TargetChatID,
		TargetTopicID:   m.TopicID(),
		TargetMessageID: targetID,
		Kind:            kind,
	}
	if _, err := s.store.SaveMapping(ctx, mapping); err != nil {
		// The message is out; losing the mapping only costs edit propagation.
		log.ErrorContext(ctx, "Failed to save mapping", "target_message_id", targetID, "error", err)
	}
	if err := s.store.IncrementMirrorCount(ctx, msg.Chat.ID, msg.ID); err != nil {
		log.WarnContext(ctx, "Failed to bump mirror count", "error", err)
	}

	log.DebugContext(ctx, "Delivered", "kind", kind, "target_message_id", targetID)
	return mapping, nil
}

func (s *Service) renderCard(msg *Message, m database.Mirror) ([]byte, error) {
	card := render.Card{
		ChatTitle: msg.Chat.DisplayName(),
		Author:    authorName(msg),
		Time:      msg.Date,
		Text:      msg.Text,
	}
	if m.IncludeReplies {
		card.ReplyToID = msg.ReplyToID
	}
	if m.IncludeMedia {
		card.MediaType = msg.MediaType
	}
	if msg.Forward != nil {
		card.ForwardedFrom = msg.Forward.Name
	}

	start := time.Now()
	data, err := s.currentRenderer().Render(card)
	s.metrics.renderSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return data, nil
}

// authorName credits channel posts to the channel itself.
func authorName(msg *Message) string {
	if msg.From == nil && msg.Chat.Title != "" {
		return msg.Chat.Title
	}
	return msg.From.DisplayName()
}

// HandleEdit applies an edited source message to every delivered copy and
// returns how many target messages were updated.
func (s *Service) HandleEdit(ctx context.Context, msg *Message) (int, error) {
	if msg == nil || msg.Chat.ID == 0 || msg.ID == 0 {
		return 0, fmt.Errorf("incomplete message")
	}
	if !s.access.IsSourceChat(msg.Chat.ID) {
		return 0, nil
	}
	log := s.logger.With("chat_id", msg.Chat.ID, "message_id", msg.ID)

	mappings, err := s.store.ListMappingsBySource(ctx, msg.Chat.ID, []int{msg.ID})
	s.recordInbound(ctx, msg, len(mappings) > 0 || s.access.ListsSourceChat(msg.Chat.ID))
	if err != nil {
		return 0, fmt.Errorf("failed to look up mappings: %w", err)
	}
	if len(mappings) == 0 {
		return 0, nil
	}

	mirrors := map[int64]*database.Mirror{}
	updated := 0
	var errs []error
	for _, mapping := range mappings {
		m, ok := mirrors[mapping.MirrorID]
		if !ok {
			m, err = s.store.GetMirror(ctx, mapping.MirrorID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			mirrors[mapping.MirrorID] = m
		}
		if m == nil {
			continue
		}

		if err := s.applyEdit(ctx, *m, mapping, msg); err != nil {
			if errors.Is(err, ErrNotModified) {
				s.metrics.propagation("edit", "unchanged")
				continue
			}
			s.metrics.propagation("edit", "error")
			log.ErrorContext(ctx, "Failed to propagate edit", "mirror_id", mapping.MirrorID,
				"target_chat_id", mapping.TargetChatID, "target_message_id", mapping.TargetMessageID, "error", err)
			errs = append(errs, fmt.Errorf("mirror %d: %w", mapping.MirrorID, err))
			continue
		}
		s.metrics.propagation("edit", "ok")
		updated++
	}

	log.InfoContext(ctx, "Edit propagated", "targets", len(mappings), "updated", updated)
	return updated, errors.Join(errs...)
}

func (s *Service) applyEdit(ctx context.Context, m database.Mirror, mapping database.MessageMapping, msg *Message) error {
	chatID, msgID := mapping.TargetChatID, mapping.TargetMessageID

	var edit func(ctx context.Context) error
	switch mapping.Kind {
	case database.MappingKindRender:
		data, err := s.renderCard(msg, m)
		if err != nil {
			return err
		}
		name := render.FileName(msg.Chat.ID, msg.ID, m.ID)
		if store, ok := s.currentRenderer().(renderStore); ok {
			if _, err := store.Save(name, data); err != nil {
				s.logger.WarnContext(ctx, "Failed to keep rendered card", "error", err)
			}
		}
		edit = func(ctx context.Context) error { return s.sender.EditPhoto(ctx, chatID, msgID, name, data) }
	case database.MappingKindText:
		if strings.TrimSpace(msg.Text) == "" {
			return ErrNotModified
		}
		edit = func(ctx context.Context) error { return s.sender.EditText(ctx, chatID, msgID, msg.Text) }
	default:
		if msg.HasMedia() {
			edit = func(ctx context.Context) error { return s.sender.EditCaption(ctx, chatID, msgID, msg.Text) }
		} else {
			edit = func(ctx context.Context) error { return s.sender.EditText(ctx, chatID, msgID, msg.Text) }
		}
	}
	return s.guard.call(ctx, chatID, edit)
}

// HandleDelete removes the delivered copies of deleted source messages and
// drops their mappings. It returns how many target messages were deleted.
func (s *Service) HandleDelete(ctx context.Context, ev DeleteEvent) (int, error) {
	if len(ev.MessageIDs) == 0 {
		return 0, nil
	}
	if ev.ChatID != 0 && !s.access.IsSourceChat(ev.ChatID) {
		return 0, nil
	}
	log := s.logger.With("chat_id", ev.ChatID, "message_ids", ev.MessageIDs)

	mappings, err := s.store.ListMappingsBySource(ctx, ev.ChatID, ev.MessageIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to look up mappings: %w", err)
	}
	if len(mappings) == 0 {
		return 0, nil
	}

	type batch struct {
		messageIDs []int
		mappingIDs []int64
	}
	byTarget := map[int64]*batch{}
	var order []int64
	for _, mapping := range mappings {
		b, ok := byTarget[mapping.TargetChatID]
		if !ok {
			b = &batch{}
			byTarget[mapping.TargetChatID] = b
			order = append(order, mapping.TargetChatID)
		}
		b.messageIDs = append(b.messageIDs, mapping.TargetMessageID)
		b.mappingIDs = append(b.mappingIDs, mapping.ID)
	}

	deleted := 0
	var done []int64
	var errs []error
	for _, chatID := range order {
		b := byTarget[chatID]
		err := s.guard.call(ctx, chatID, func(ctx context.Context) error {
			return s.sender.DeleteMessages(ctx, chatID, b.messageIDs)
		})
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err != nil {
			s.metrics.propagation("delete", "error")
			log.ErrorContext(ctx, "Failed to propagate delete", "target_chat_id", chatID, "error", err)
			errs = append(errs, fmt.Errorf("target %d: %w", chatID, err))
			continue
		}
		s.metrics.propagation("delete", "ok")
		deleted += len(b.messageIDs)
		done = append(done, b.mappingIDs...)
	}

	if err := s.store.DeleteMappings(ctx, done); err != nil {
		errs = append(errs, fmt.Errorf("failed to drop mappings: %w", err))
	}

	log.InfoContext(ctx, "Delete propagated", "targets", len(order), "deleted", deleted)
	return deleted, errors.Join(errs...)
}
