package mirror

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/render"
)

const (
	sourceChat  int64 = -1001000000001
	targetChat  int64 = -1001000000002
	otherTarget int64 = -1001000000003
	basicGroup  int64 = -4242
)

type sentCall struct {
	Op        string
	ChatID    int64
	MessageID int
	Target    Target
	Text      string
	IDs       []int
}

type fakeSender struct {
	mu     sync.Mutex
	nextID int
	calls  []sentCall
	fail   map[int64]error // target chat -> error for every call
	edit   error           // returned by every edit
	chats  map[int64]*Chat
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		nextID: 100,
		fail:   map[int64]error{},
		chats: map[int64]*Chat{
			sourceChat:  {ID: sourceChat, Title: "Source", Type: "channel"},
			targetChat:  {ID: targetChat, Title: "Target", Type: "supergroup"},
			otherTarget: {ID: otherTarget, Title: "Other", Type: "channel"},
			basicGroup:  {ID: basicGroup, Title: "Group", Type: "group"},
		},
	}
}

func (f *fakeSender) record(c sentCall) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat := c.ChatID
	if chat == 0 {
		chat = c.Target.ChatID
	}
	if err := f.fail[chat]; err != nil {
		return 0, err
	}
	f.calls = append(f.calls, c)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeSender) CopyMessage(_ context.Context, fromChatID int64, messageID int, to Target) (int, error) {
	return f.record(sentCall{Op: "copy", MessageID: messageID, Target: to, Text: fmt.Sprint(fromChatID)})
}

func (f *fakeSender) SendText(_ context.Context, to Target, text string) (int, error) {
	return f.record(sentCall{Op: "text", Target: to, Text: text})
}

func (f *fakeSender) SendPhoto(_ context.Context, to Target, filename string, _ []byte) (int, error) {
	return f.record(sentCall{Op: "photo", Target: to, Text: filename})
}

func (f *fakeSender) edited(op string, chatID int64, messageID int, text string) error {
	if f.edit != nil {
		return f.edit
	}
	_, err := f.record(sentCall{Op: op, ChatID: chatID, MessageID: messageID, Text: text})
	return err
}

func (f *fakeSender) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	return f.edited("edit_text", chatID, messageID, text)
}

func (f *fakeSender) EditCaption(_ context.Context, chatID int64, messageID int, caption string) error {
	return f.edited("edit_caption", chatID, messageID, caption)
}

func (f *fakeSender) EditPhoto(_ context.Context, chatID int64, messageID int, filename string, _ []byte) error {
	return f.edited("edit_photo", chatID, messageID, filename)
}

func (f *fakeSender) DeleteMessages(_ context.Context, chatID int64, messageIDs []int) error {
	ids := append([]int(nil), messageIDs...)
	sort.Ints(ids)
	_, err := f.record(sentCall{Op: "delete", ChatID: chatID, IDs: ids})
	return err
}

func (f *fakeSender) ResolveChat(_ context.Context, chatID int64) (*Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return nil, errors.New("chat not found")
	}
	c := *chat
	return &c, nil
}

func (f *fakeSender) Calls() []sentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCall(nil), f.calls...)
}

type fakeRenderer struct {
	mu    sync.Mutex
	cards []render.Card
}

func (r *fakeRenderer) Render(card render.Card) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cards = append(r.cards, card)
	return []byte("png"), nil
}

type fakeAccess struct {
	sources map[int64]bool // nil allows every chat
	denied  map[int64]bool
}

func (a fakeAccess) IsSourceChat(id int64) bool    { return a.sources == nil || a.sources[id] }
func (a fakeAccess) ListsSourceChat(id int64) bool { return a.sources[id] }
func (a fakeAccess) IsTargetChat(int64) bool       { return true }
func (a fakeAccess) IsAllowedUser(id int64) bool   { return !a.denied[id] }
func (a fakeAccess) IsAdmin(id int64) bool         { return id == 1 }

type testEnv struct {
	svc      *Service
	store    database.Store
	sender   *fakeSender
	renderer *fakeRenderer
	reg      *prometheus.Registry
}

func newTestEnv(t *testing.T, access Access) *testEnv {
	t.Helper()
	db, err := database.NewDB("sqlite:///"+filepath.Join(t.TempDir(), "mirror.db"), 1)
	if err != nil {
		t.Fatalf("NewDB() unexpected error: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	if access == nil {
		access = fakeAccess{}
	}
	env := &testEnv{
		store:    database.NewStore(db, nil),
		sender:   newFakeSender(),
		renderer: &fakeRenderer{},
		reg:      prometheus.NewRegistry(),
	}
	env.svc = NewService(env.store, env.sender, env.renderer, access, Options{
		Workers:       4,
		RatePerSecond: 1000,
		Burst:         100,
		SendTimeout:   5 * time.Second,
		RenderImages:  true,
	}, NewMetrics(env.reg), nil)
	return env
}

func (e *testEnv) addMirror(t *testing.T, source, target int64, topic int, opts MirrorOptions) *database.Mirror {
	t.Helper()
	m, err := e.svc.CreateMirror(context.Background(), source, target, topic, opts)
	if err != nil {
		t.Fatalf("CreateMirror(%d, %d) unexpected error: %v", source, target, err)
	}
	return m
}

func textMessage(id int, text string) *Message {
	return &Message{
		Chat: Chat{ID: sourceChat, Title: "Source", Type: "channel"},
		ID:   id,
		From: &User{ID: 7, FirstName: "Ada"},
		Date: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Text: text,
	}
}

var copyOnly = MirrorOptions{IncludeMedia: true, IncludeReplies: true}

func TestHandleMessageDeliversOncePerMirror(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	m1 := env.addMirror(t, sourceChat, targetChat, 0, copyOnly)
	m2 := env.addMirror(t, sourceChat, otherTarget, 5, copyOnly)

	res, err := env.svc.HandleMessage(ctx, textMessage(10, "hello"))
	if err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(res.Delivered) != 2 || len(res.Failed) != 0 {
		t.Fatalf("HandleMessage() = %+v, want 2 deliveries", res)
	}

	for _, m := range []*database.Mirror{m1, m2} {
		mapping, err := env.store.GetMapping(ctx, m.ID, sourceChat, 10)
		if err != nil || mapping == nil {
			t.Fatalf("GetMapping(%d) = %v, %v", m.ID, mapping, err)
		}
		if mapping.Kind != database.MappingKindCopy {
			t.Errorf("mapping kind = %q, want copy", mapping.Kind)
		}
		if mapping.TargetTopicID != m.TopicID() {
			t.Errorf("mapping topic = %d, want %d", mapping.TargetTopicID, m.TopicID())
		}
	}

	// Re-delivery of the same update is a no-op.
	res, err = env.svc.HandleMessage(ctx, textMessage(10, "hello"))
	if err != nil {
		t.Fatalf("HandleMessage() second call unexpected error: %v", err)
	}
	if len(res.Delivered) != 0 || len(res.Skipped) != 2 {
		t.Errorf("second HandleMessage() = %+v, want 2 skipped", res)
	}
	if got := len(env.sender.Calls()); got != 2 {
		t.Errorf("sender calls = %d, want 2", got)
	}
	if got := testutil.ToFloat64(env.svc.metrics.deliveries.WithLabelValues("copy", "ok")); got != 2 {
		t.Errorf("deliveries_total{copy,ok} = %v, want 2", got)
	}

	var topicCall *sentCall
	for _, c := range env.sender.Calls() {
		if c.Target.ChatID == otherTarget {
			topicCall = &c
		}
	}
	if topicCall == nil || topicCall.Target.TopicID != 5 {
		t.Errorf("topic delivery = %+v, want topic 5", topicCall)
	}
}

func TestHandleMessageRendersCards(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, DefaultMirrorOptions())

	msg := textMessage(11, "rendered")
	msg.Forward = &Forward{Name: "@news"}
	res, err := env.svc.HandleMessage(ctx, msg)
	if err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(res.Delivered) != 1 || res.Delivered[0].Kind != database.MappingKindRender {
		t.Fatalf("HandleMessage() = %+v, want one render delivery", res)
	}
	calls := env.sender.Calls()
	if calls[0].Op != "photo" || calls[0].Text != render.FileName(sourceChat, 11, res.Delivered[0].MirrorID) {
		t.Errorf("sender call = %+v, want photo", calls[0])
	}
	want := render.Card{ChatTitle: "Source", Author: "Ada", Time: msg.Date, Text: "rendered", ForwardedFrom: "@news"}
	if diff := cmp.Diff(want, env.renderer.cards[0]); diff != "" {
		t.Errorf("card mismatch (-want +got):\n%s", diff)
	}

	// The global switch turns rendering off without touching the mirror.
	env.svc.SetRenderImages(false)
	res, err = env.svc.HandleMessage(ctx, textMessage(12, "plain"))
	if err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(res.Delivered) != 1 || res.Delivered[0].Kind != database.MappingKindCopy {
		t.Errorf("HandleMessage() with rendering off = %+v, want copy", res)
	}

	// A replaced renderer draws every card from then on.
	env.svc.SetRenderImages(true)
	replacement := &fakeRenderer{}
	env.svc.SetRenderer(replacement)
	if _, err := env.svc.HandleMessage(ctx, textMessage(13, "restyled")); err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(replacement.cards) != 1 || replacement.cards[0].Text != "restyled" {
		t.Errorf("replacement renderer cards = %+v, want the new message", replacement.cards)
	}
	if len(env.renderer.cards) != 1 {
		t.Errorf("old renderer drew %d cards, want 1", len(env.renderer.cards))
	}
}

func TestHandleMessageWithoutMedia(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, MirrorOptions{IncludeReplies: true})

	captioned := textMessage(20, "look at this")
	captioned.MediaType = "photo"
	res, err := env.svc.HandleMessage(ctx, captioned)
	if err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(res.Delivered) != 1 || res.Delivered[0].Kind != database.MappingKindText {
		t.Fatalf("HandleMessage() = %+v, want text delivery", res)
	}
	if c := env.sender.Calls()[0]; c.Op != "text" || c.Text != "look at this" {
		t.Errorf("sender call = %+v, want caption sent as text", c)
	}

	bare := textMessage(21, "")
	bare.MediaType = "sticker"
	res, err = env.svc.HandleMessage(ctx, bare)
	if err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(res.Delivered) != 0 || len(res.Skipped) != 1 {
		t.Errorf("HandleMessage() media-only = %+v, want skipped", res)
	}
}

func TestHandleMessageThreadsReplies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)

	res, err := env.svc.HandleMessage(ctx, textMessage(30, "parent"))
	if err != nil || len(res.Delivered) != 1 {
		t.Fatalf("HandleMessage(parent) = %+v, %v", res, err)
	}
	parentTarget := res.Delivered[0].TargetMessageID

	reply := textMessage(31, "child")
	reply.ReplyToID = 30
	if _, err := env.svc.HandleMessage(ctx, reply); err != nil {
		t.Fatalf("HandleMessage(reply) unexpected error: %v", err)
	}
	orphan := textMessage(32, "orphan")
	orphan.ReplyToID = 1
	if _, err := env.svc.HandleMessage(ctx, orphan); err != nil {
		t.Fatalf("HandleMessage(orphan) unexpected error: %v", err)
	}

	calls := env.sender.Calls()
	if got := calls[1].Target.ReplyToID; got != parentTarget {
		t.Errorf("reply target = %d, want %d", got, parentTarget)
	}
	if got := calls[2].Target.ReplyToID; got != 0 {
		t.Errorf("orphan reply target = %d, want 0", got)
	}
}

func TestHandleMessageIsolatesFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	bad := env.addMirror(t, sourceChat, targetChat, 0, copyOnly)
	env.addMirror(t, sourceChat, otherTarget, 0, copyOnly)
	env.sender.fail[targetChat] = errors.New("bot was kicked")

	res, err := env.svc.HandleMessage(ctx, textMessage(40, "x"))
	if err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}
	if len(res.Delivered) != 1 || res.Delivered[0].TargetChatID != otherTarget {
		t.Errorf("delivered = %+v, want only the healthy target", res.Delivered)
	}
	if _, ok := res.Failed[bad.ID]; !ok || res.Err() == nil {
		t.Errorf("failed = %v, want mirror %d", res.Failed, bad.ID)
	}
	if mapping, _ := env.store.GetMapping(ctx, bad.ID, sourceChat, 40); mapping != nil {
		t.Error("failed delivery left a mapping behind")
	}
}

func TestHandleMessageFiltersAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, fakeAccess{sources: map[int64]bool{sourceChat: true}, denied: map[int64]bool{9: true}})
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)

	denied := textMessage(50, "x")
	denied.From = &User{ID: 9}
	if res, _ := env.svc.HandleMessage(ctx, denied); len(res.Delivered) != 0 {
		t.Errorf("message from denied user was delivered")
	}

	foreign := textMessage(51, "x")
	foreign.Chat.ID = otherTarget
	if res, _ := env.svc.HandleMessage(ctx, foreign); len(res.Delivered) != 0 {
		t.Errorf("message from non-source chat was delivered")
	}

	post := textMessage(52, "channel post")
	post.From = nil
	res, err := env.svc.HandleMessage(ctx, post)
	if err != nil || len(res.Delivered) != 1 {
		t.Errorf("channel post = %+v, %v, want delivered", res, err)
	}
}

func TestHandleMessageKeepsTargetChatsOutOfSources(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)

	// Traffic seen inside a target chat must not mark it as a source.
	inTarget := textMessage(60, "reply in archive")
	inTarget.Chat = Chat{ID: targetChat, Title: "Archive", Type: "supergroup"}
	res, err := env.svc.HandleMessage(ctx, inTarget)
	if err != nil || len(res.Delivered) != 0 {
		t.Fatalf("HandleMessage(target chat) = %+v, %v, want nothing delivered", res, err)
	}
	inTarget.Text = "reply in archive, edited"
	if _, err := env.svc.HandleEdit(ctx, inTarget); err != nil {
		t.Fatalf("HandleEdit(target chat) unexpected error: %v", err)
	}
	if _, err := env.svc.HandleMessage(ctx, textMessage(61, "news")); err != nil {
		t.Fatalf("HandleMessage(source) unexpected error: %v", err)
	}

	target, err := env.store.GetChat(ctx, targetChat)
	if err != nil || target == nil {
		t.Fatalf("GetChat(target) = %v, %v", target, err)
	}
	if target.IsSource || !target.IsTarget {
		t.Errorf("target chat flags = source:%v target:%v, want source:false target:true", target.IsSource, target.IsTarget)
	}
	source, err := env.store.GetChat(ctx, sourceChat)
	if err != nil || source == nil || !source.IsSource {
		t.Errorf("GetChat(source) = %+v, %v, want source flag set", source, err)
	}

	listed := newTestEnv(t, fakeAccess{sources: map[int64]bool{otherTarget: true}})
	quiet := textMessage(62, "no mirrors yet")
	quiet.Chat.ID = otherTarget
	if _, err := listed.svc.HandleMessage(ctx, quiet); err != nil {
		t.Fatalf("HandleMessage(listed source) unexpected error: %v", err)
	}
	if chat, err := listed.store.GetChat(ctx, otherTarget); err != nil || chat == nil || !chat.IsSource {
		t.Errorf("configured source without mirrors = %+v, %v, want source flag set", chat, err)
	}
}

func TestHandleEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)
	env.addMirror(t, sourceChat, otherTarget, 0, DefaultMirrorOptions())

	media := textMessage(60, "caption")
	media.MediaType = "photo"
	res, err := env.svc.HandleMessage(ctx, media)
	if err != nil || len(res.Delivered) != 2 {
		t.Fatalf("HandleMessage() = %+v, %v", res, err)
	}

	media.Text = "new caption"
	n, err := env.svc.HandleEdit(ctx, media)
	if err != nil {
		t.Fatalf("HandleEdit() unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("HandleEdit() updated %d, want 2", n)
	}
	ops := map[string]int64{}
	for _, c := range env.sender.Calls()[2:] {
		ops[c.Op] = c.ChatID
	}
	if diff := cmp.Diff(map[string]int64{"edit_caption": targetChat, "edit_photo": otherTarget}, ops); diff != "" {
		t.Errorf("edit calls mismatch (-want +got):\n%s", diff)
	}

	env.sender.edit = ErrNotModified
	n, err = env.svc.HandleEdit(ctx, media)
	if err != nil || n != 0 {
		t.Errorf("HandleEdit() unchanged = %d, %v, want 0, nil", n, err)
	}

	n, err = env.svc.HandleEdit(ctx, textMessage(999, "never mirrored"))
	if err != nil || n != 0 {
		t.Errorf("HandleEdit() unmapped = %d, %v, want 0, nil", n, err)
	}
}

func TestHandleDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)
	env.addMirror(t, basicGroup, otherTarget, 0, copyOnly)

	var targets []int
	for _, id := range []int{70, 71} {
		res, err := env.svc.HandleMessage(ctx, textMessage(id, "x"))
		if err != nil || len(res.Delivered) != 1 {
			t.Fatalf("HandleMessage(%d) = %+v, %v", id, res, err)
		}
		targets = append(targets, res.Delivered[0].TargetMessageID)
	}
	group := textMessage(72, "in a basic group")
	group.Chat = Chat{ID: basicGroup, Title: "Group", Type: "group"}
	if _, err := env.svc.HandleMessage(ctx, group); err != nil {
		t.Fatalf("HandleMessage(group) unexpected error: %v", err)
	}

	n, err := env.svc.HandleDelete(ctx, DeleteEvent{ChatID: sourceChat, MessageIDs: []int{70, 71, 5}})
	if err != nil {
		t.Fatalf("HandleDelete() unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("HandleDelete() deleted %d, want 2", n)
	}
	calls := env.sender.Calls()
	last := calls[len(calls)-1]
	sort.Ints(targets)
	if diff := cmp.Diff(sentCall{Op: "delete", ChatID: targetChat, IDs: targets}, last); diff != "" {
		t.Errorf("delete call mismatch (-want +got):\n%s", diff)
	}
	if left, _ := env.store.ListMappingsBySource(ctx, sourceChat, []int{70, 71}); len(left) != 0 {
		t.Errorf("mappings left after delete: %+v", left)
	}

	// Deletions without a chat resolve basic group messages by id.
	n, err = env.svc.HandleDelete(ctx, DeleteEvent{MessageIDs: []int{72}})
	if err != nil || n != 1 {
		t.Errorf("HandleDelete() without chat = %d, %v, want 1, nil", n, err)
	}
}
