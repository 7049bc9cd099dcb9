package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseURL(t *testing.T) {
	t.Parallel()

	const pragmas = "?" + sqlitePragmas
	tests := []struct {
		name       string
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{name: "sqlite relative", url: "sqlite://./telegram_mirror.db", wantDriver: DriverSQLite, wantDSN: "./telegram_mirror.db" + pragmas},
		{name: "sqlalchemy relative", url: "sqlite+aiosqlite:///./telegram_mirror.db", wantDriver: DriverSQLite, wantDSN: "./telegram_mirror.db" + pragmas},
		{name: "sqlalchemy absolute", url: "sqlite:////var/lib/mirror.db", wantDriver: DriverSQLite, wantDSN: "/var/lib/mirror.db" + pragmas},
		{name: "joined absolute path", url: "sqlite:///" + filepath.Join("/tmp", "run", "test.db"), wantDriver: DriverSQLite, wantDSN: "/tmp/run/test.db" + pragmas},
		{name: "three slashes stay relative", url: "sqlite:///tmp/test.db", wantDriver: DriverSQLite, wantDSN: "tmp/test.db" + pragmas},
		{name: "memory", url: "sqlite:///:memory:", wantDriver: DriverSQLite, wantDSN: ":memory:"},
		{name: "bare path", url: "data.db", wantDriver: DriverSQLite, wantDSN: "data.db" + pragmas},
		{name: "file uri with query", url: "file:data.db?cache=shared", wantDriver: DriverSQLite, wantDSN: "file:data.db?cache=shared&" + sqlitePragmas},
		{name: "postgres", url: "postgres://u:p@localhost:5432/mirror?sslmode=disable", wantDriver: DriverPostgres, wantDSN: "postgres://u:p@localhost:5432/mirror?sslmode=disable"},
		{name: "postgresql asyncpg", url: "postgresql+asyncpg://u:p@db/mirror", wantDriver: DriverPostgres, wantDSN: "postgres://u:p@db/mirror"},
		{name: "unsupported", url: "mysql://u:p@db/mirror", wantErr: true},
		{name: "empty", url: "  ", wantErr: true},
		{name: "sqlite without path", url: "sqlite://", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			driver, dsn, err := ParseURL(tc.url)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseURL(%q) expected error, got driver=%q dsn=%q", tc.url, driver, dsn)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseURL(%q) unexpected error: %v", tc.url, err)
			}
			if driver != tc.wantDriver || dsn != tc.wantDSN {
				t.Errorf("ParseURL(%q) = (%q, %q), want (%q, %q)", tc.url, driver, dsn, tc.wantDriver, tc.wantDSN)
			}
		})
	}
}

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := NewDB("sqlite:///"+filepath.Join(t.TempDir(), "test.db"), 1)
	if err != nil {
		t.Fatalf("NewDB() unexpected error: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

func newMirror(source, target int64, topic int64) *Mirror {
	m := &Mirror{
		SourceChatID:   source,
		TargetChatID:   target,
		IsActive:       true,
		RenderAsImage:  true,
		IncludeMedia:   true,
		IncludeReplies: true,
	}
	if topic != 0 {
		m.TargetTopicID = sql.NullInt64{Int64: topic, Valid: true}
	}
	return m
}

func TestStoreMirrorLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	first := newMirror(-1001, -1002, 0)
	if err := store.CreateMirror(ctx, first); err != nil {
		t.Fatalf("CreateMirror() unexpected error: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("CreateMirror() did not set ID")
	}

	if err := store.CreateMirror(ctx, newMirror(-1001, -1002, 0)); !errors.Is(err, ErrMirrorExists) {
		t.Fatalf("CreateMirror() duplicate error = %v, want ErrMirrorExists", err)
	}

	topic := newMirror(-1001, -1002, 42)
	if err := store.CreateMirror(ctx, topic); err != nil {
		t.Fatalf("CreateMirror() with topic unexpected error: %v", err)
	}
	other := newMirror(-1003, -1002, 0)
	if err := store.CreateMirror(ctx, other); err != nil {
		t.Fatalf("CreateMirror() other source unexpected error: %v", err)
	}

	active, err := store.ListActiveMirrorsBySource(ctx, -1001)
	if err != nil {
		t.Fatalf("ListActiveMirrorsBySource() unexpected error: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("ListActiveMirrorsBySource() returned %d mirrors, want 2", len(active))
	}
	if active[1].TopicID() != 42 {
		t.Errorf("TopicID() = %d, want 42", active[1].TopicID())
	}

	if err := store.SetMirrorActive(ctx, topic.ID, false); err != nil {
		t.Fatalf("SetMirrorActive() unexpected error: %v", err)
	}
	active, err = store.ListActiveMirrorsBySource(ctx, -1001)
	if err != nil {
		t.Fatalf("ListActiveMirrorsBySource() unexpected error: %v", err)
	}
	if len(active) != 1 || active[0].ID != first.ID {
		t.Fatalf("ListActiveMirrorsBySource() after deactivation = %+v", active)
	}

	got, err := store.GetMirror(ctx, topic.ID)
	if err != nil || got == nil {
		t.Fatalf("GetMirror() = %v, %v", got, err)
	}
	if got.IsActive {
		t.Error("GetMirror() IsActive = true after deactivation")
	}

	deleted, err := store.DeleteMirror(ctx, first.ID)
	if err != nil || !deleted {
		t.Fatalf("DeleteMirror() = %v, %v; want true, nil", deleted, err)
	}
	deleted, err = store.DeleteMirror(ctx, first.ID)
	if err != nil || deleted {
		t.Fatalf("DeleteMirror() second call = %v, %v; want false, nil", deleted, err)
	}
	missing, err := store.GetMirror(ctx, first.ID)
	if err != nil || missing != nil {
		t.Fatalf("GetMirror() after delete = %v, %v; want nil, nil", missing, err)
	}

	all, err := store.ListMirrors(ctx)
	if err != nil {
		t.Fatalf("ListMirrors() unexpected error: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("ListMirrors() returned %d mirrors, want 2", len(all))
	}
}

func TestStoreMappings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	channelMirror := newMirror(-1001234567890, -1005678901234, 0)
	groupMirror := newMirror(-4242, -1005678901234, 7)
	for _, m := range []*Mirror{channelMirror, groupMirror} {
		if err := store.CreateMirror(ctx, m); err != nil {
			t.Fatalf("CreateMirror() unexpected error: %v", err)
		}
	}

	mapping := &MessageMapping{
		MirrorID:        channelMirror.ID,
		SourceChatID:    -1001234567890,
		SourceMessageID: 10,
		TargetChatID:    -1005678901234,
		TargetMessageID: 500,
		Kind:            MappingKindRender,
	}
	inserted, err := store.SaveMapping(ctx, mapping)
	if err != nil || !inserted {
		t.Fatalf("SaveMapping() = %v, %v; want true, nil", inserted, err)
	}
	dup := *mapping
	dup.TargetMessageID = 501
	inserted, err = store.SaveMapping(ctx, &dup)
	if err != nil || inserted {
		t.Fatalf("SaveMapping() duplicate = %v, %v; want false, nil", inserted, err)
	}

	groupMapping := &MessageMapping{
		MirrorID:        groupMirror.ID,
		SourceChatID:    -4242,
		SourceMessageID: 10,
		TargetChatID:    -1005678901234,
		TargetTopicID:   7,
		TargetMessageID: 502,
		Kind:            MappingKindCopy,
	}
	if _, err := store.SaveMapping(ctx, groupMapping); err != nil {
		t.Fatalf("SaveMapping() unexpected error: %v", err)
	}

	got, err := store.GetMapping(ctx, channelMirror.ID, -1001234567890, 10)
	if err != nil || got == nil {
		t.Fatalf("GetMapping() = %v, %v", got, err)
	}
	if got.TargetMessageID != 500 || got.Kind != MappingKindRender {
		t.Errorf("GetMapping() = %+v, want target 500 kind render", got)
	}
	none, err := store.GetMapping(ctx, channelMirror.ID, -1001234567890, 11)
	if err != nil || none != nil {
		t.Fatalf("GetMapping() missing = %v, %v; want nil, nil", none, err)
	}

	byChat, err := store.ListMappingsBySource(ctx, -1001234567890, []int{10, 11})
	if err != nil {
		t.Fatalf("ListMappingsBySource() unexpected error: %v", err)
	}
	if len(byChat) != 1 || byChat[0].ID != mapping.ID {
		t.Fatalf("ListMappingsBySource(channel) = %+v", byChat)
	}

	// Without a chat id only user and basic group sources match.
	anyGroup, err := store.ListMappingsBySource(ctx, 0, []int{10})
	if err != nil {
		t.Fatalf("ListMappingsBySource() unexpected error: %v", err)
	}
	if len(anyGroup) != 1 || anyGroup[0].ID != groupMapping.ID {
		t.Fatalf("ListMappingsBySource(0) = %+v, want only the basic group mapping", anyGroup)
	}

	if err := store.DeleteMappings(ctx, []int64{groupMapping.ID}); err != nil {
		t.Fatalf("DeleteMappings() unexpected error: %v", err)
	}
	anyGroup, err = store.ListMappingsBySource(ctx, 0, []int{10})
	if err != nil || len(anyGroup) != 0 {
		t.Fatalf("ListMappingsBySource(0) after delete = %+v, %v", anyGroup, err)
	}

	pruned, err := store.PruneMappings(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneMappings() unexpected error: %v", err)
	}
	if pruned != 1 {
		t.Errorf("PruneMappings() = %d, want 1", pruned)
	}
}

func TestStoreChatsAndMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.UpsertChat(ctx, &Chat{ID: -1001, Title: "Source", Type: "channel", IsSource: true}); err != nil {
		t.Fatalf("UpsertChat() unexpected error: %v", err)
	}
	// A later sighting without a title or flags must not erase what is known.
	if err := store.UpsertChat(ctx, &Chat{ID: -1001, IsTarget: true}); err != nil {
		t.Fatalf("UpsertChat() unexpected error: %v", err)
	}

	chat, err := store.GetChat(ctx, -1001)
	if err != nil || chat == nil {
		t.Fatalf("GetChat() = %v, %v", chat, err)
	}
	want := Chat{ID: -1001, Title: "Source", Type: "channel", IsSource: true, IsTarget: true}
	got := Chat{ID: chat.ID, Title: chat.Title, Type: chat.Type, IsSource: chat.IsSource, IsTarget: chat.IsTarget}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetChat() mismatch (-want +got):\n%s", diff)
	}

	if err := store.UpsertUser(ctx, &User{ID: 5, FirstName: "Ada", Username: "ada"}); err != nil {
		t.Fatalf("UpsertUser() unexpected error: %v", err)
	}
	if user, err := store.GetUser(ctx, 5); err != nil || user == nil || user.DisplayName() != "Ada" || user.Username != "ada" {
		t.Errorf("GetUser(5) = %+v, %v", user, err)
	}
	if user, err := store.GetUser(ctx, 6); err != nil || user != nil {
		t.Errorf("GetUser(unknown) = %+v, %v, want nil, nil", user, err)
	}

	msg := &Message{ChatID: -1001, TelegramID: 99, UserID: 5, Text: "hello"}
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() unexpected error: %v", err)
	}
	firstID := msg.ID
	again := &Message{ChatID: -1001, TelegramID: 99, UserID: 5, Text: "hello, edited"}
	if err := store.SaveMessage(ctx, again); err != nil {
		t.Fatalf("SaveMessage() re-delivery unexpected error: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("SaveMessage() re-delivery id = %d, want %d", again.ID, firstID)
	}
	if err := store.IncrementMirrorCount(ctx, -1001, 99); err != nil {
		t.Fatalf("IncrementMirrorCount() unexpected error: %v", err)
	}

	if err := store.CreateMirror(ctx, newMirror(-1001, -1002, 0)); err != nil {
		t.Fatalf("CreateMirror() unexpected error: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() unexpected error: %v", err)
	}
	wantStats := &Stats{Chats: 1, Users: 1, Messages: 1, Mirrors: 1, ActiveMirrors: 1}
	if diff := cmp.Diff(wantStats, stats); diff != "" {
		t.Errorf("GetStats() mismatch (-want +got):\n%s", diff)
	}

	chats, err := store.ListChats(ctx)
	if err != nil || len(chats) != 1 {
		t.Fatalf("ListChats() = %v, %v", chats, err)
	}

	pruned, err := store.PruneMessages(ctx, time.Now().Add(-time.Hour))
	if err != nil || pruned != 0 {
		t.Fatalf("PruneMessages() = %d, %v; want 0, nil", pruned, err)
	}

	if err := store.RunSQLMaintenance(ctx); err != nil {
		t.Fatalf("RunSQLMaintenance() unexpected error: %v", err)
	}
}

func TestChatDisplayName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		chat Chat
		want string
	}{
		{Chat{ID: 1, Title: "News"}, "News"},
		{Chat{ID: 2, Username: "newsbot"}, "@newsbot"},
		{Chat{ID: -1003}, "-1003"},
	}
	for _, tc := range tests {
		if got := tc.chat.DisplayName(); got != tc.want {
			t.Errorf("DisplayName() = %q, want %q", got, tc.want)
		}
	}
}
