package mirror

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/edgard/tgmirror/internal/database"
)

func TestCreateMirrorValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)
	env.addMirror(t, targetChat, otherTarget, 0, copyOnly)

	tests := []struct {
		name    string
		source  int64
		target  int64
		topic   int
		wantErr error
	}{
		{name: "same chat", source: sourceChat, target: sourceChat, wantErr: ErrInvalidMirror},
		{name: "zero source", source: 0, target: targetChat, wantErr: ErrInvalidMirror},
		{name: "negative topic", source: sourceChat, target: otherTarget, topic: -1, wantErr: ErrInvalidMirror},
		{name: "direct cycle", source: targetChat, target: sourceChat, wantErr: ErrMirrorCycle},
		{name: "indirect cycle", source: otherTarget, target: sourceChat, wantErr: ErrMirrorCycle},
		{name: "duplicate", source: sourceChat, target: targetChat, wantErr: ErrMirrorExists},
		{name: "unknown chat", source: sourceChat, target: -1009999999999, wantErr: ErrChatUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.svc.CreateMirror(ctx, tc.source, tc.target, tc.topic, copyOnly)
			if !errors.Is(err, tc.wantErr) {
				t.Errorf("CreateMirror() error = %v, want %v", err, tc.wantErr)
			}
		})
	}

	// A second topic in the same target is a distinct route.
	m, err := env.svc.CreateMirror(ctx, sourceChat, targetChat, 12, copyOnly)
	if err != nil {
		t.Fatalf("CreateMirror() with topic unexpected error: %v", err)
	}
	if m.TopicID() != 12 {
		t.Errorf("TopicID() = %d, want 12", m.TopicID())
	}

	chat, err := env.store.GetChat(ctx, targetChat)
	if err != nil || chat == nil {
		t.Fatalf("GetChat() = %v, %v", chat, err)
	}
	if !chat.IsTarget || !chat.IsSource || chat.Title != "Target" {
		t.Errorf("target chat row = %+v, want titled source and target", chat)
	}
}

func TestReaches(t *testing.T) {
	t.Parallel()

	mirrors := []database.Mirror{
		{SourceChatID: 1, TargetChatID: 2},
		{SourceChatID: 2, TargetChatID: 3},
		{SourceChatID: 3, TargetChatID: 2},
		{SourceChatID: 4, TargetChatID: 5},
	}
	tests := []struct {
		from, to int64
		want     bool
	}{
		{1, 3, true},
		{2, 2, true},
		{3, 1, false},
		{5, 4, false},
		{9, 9, true},
	}
	for _, tc := range tests {
		if got := reaches(mirrors, tc.from, tc.to); got != tc.want {
			t.Errorf("reaches(%d, %d) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestToggleAndRemoveMirror(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	m := env.addMirror(t, sourceChat, targetChat, 0, copyOnly)

	active, err := env.svc.ToggleMirror(ctx, m.ID)
	if err != nil || active {
		t.Fatalf("ToggleMirror() = %v, %v, want false, nil", active, err)
	}
	res, err := env.svc.HandleMessage(ctx, textMessage(80, "paused"))
	if err != nil || len(res.Delivered) != 0 {
		t.Errorf("paused mirror delivered: %+v, %v", res, err)
	}
	if active, _ := env.svc.ToggleMirror(ctx, m.ID); !active {
		t.Error("second ToggleMirror() did not reactivate the mirror")
	}

	if err := env.svc.RemoveMirror(ctx, m.ID); err != nil {
		t.Fatalf("RemoveMirror() unexpected error: %v", err)
	}
	if err := env.svc.RemoveMirror(ctx, m.ID); !errors.Is(err, ErrMirrorNotFound) {
		t.Errorf("RemoveMirror() twice error = %v, want ErrMirrorNotFound", err)
	}
	if _, err := env.svc.ToggleMirror(ctx, m.ID); !errors.Is(err, ErrMirrorNotFound) {
		t.Errorf("ToggleMirror() removed error = %v, want ErrMirrorNotFound", err)
	}
	mirrors, err := env.svc.ListMirrors(ctx)
	if err != nil || len(mirrors) != 0 {
		t.Errorf("ListMirrors() = %v, %v, want empty", mirrors, err)
	}
}

func TestCopyMessages(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)

	var calls atomic.Int64
	res, err := env.svc.CopyMessages(ctx, sourceChat, []int{1, 2, 3, 4}, Target{ChatID: targetChat, TopicID: 3},
		func(done, total int) {
			if total != 4 {
				t.Errorf("progress total = %d, want 4", total)
			}
			if done < 1 || done > total {
				t.Errorf("progress done = %d out of range", done)
			}
			calls.Add(1)
		})
	if err != nil {
		t.Fatalf("CopyMessages() unexpected error: %v", err)
	}
	if res.Copied != 4 || len(res.Failed) != 0 {
		t.Errorf("CopyMessages() = %+v, want 4 copied", res)
	}
	if calls.Load() != 4 {
		t.Errorf("progress called %d times, want 4", calls.Load())
	}
	for _, c := range env.sender.Calls() {
		if c.Op != "copy" || c.Target.TopicID != 3 {
			t.Errorf("unexpected call %+v", c)
		}
	}

	env.sender.fail[otherTarget] = errors.New("forbidden")
	res, err = env.svc.CopyMessages(ctx, sourceChat, []int{5, 6}, Target{ChatID: otherTarget}, nil)
	if err != nil {
		t.Fatalf("CopyMessages() unexpected error: %v", err)
	}
	if res.Copied != 0 || len(res.Failed) != 2 {
		t.Errorf("CopyMessages() failing = %+v, want 2 failed", res)
	}

	if _, err := env.svc.CopyMessages(ctx, sourceChat, []int{1}, Target{ChatID: sourceChat}, nil); !errors.Is(err, ErrInvalidMirror) {
		t.Errorf("CopyMessages() to itself error = %v, want ErrInvalidMirror", err)
	}
}

func TestStatusAndChatName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t, nil)
	env.addMirror(t, sourceChat, targetChat, 0, copyOnly)
	if _, err := env.svc.HandleMessage(ctx, textMessage(90, "x")); err != nil {
		t.Fatalf("HandleMessage() unexpected error: %v", err)
	}

	st, err := env.svc.Status(ctx)
	if err != nil {
		t.Fatalf("Status() unexpected error: %v", err)
	}
	want := database.Stats{Chats: 2, Users: 1, Messages: 1, Mirrors: 1, ActiveMirrors: 1, Mappings: 1}
	if *st.Database != want {
		t.Errorf("Status().Database = %+v, want %+v", *st.Database, want)
	}
	if !st.RenderImages {
		t.Error("Status().RenderImages = false, want true")
	}

	if got := env.svc.ChatName(ctx, targetChat); got != "Target" {
		t.Errorf("ChatName(known) = %q, want Target", got)
	}
	if got := env.svc.ChatName(ctx, 555); got != "555" {
		t.Errorf("ChatName(unknown) = %q, want 555", got)
	}
}
