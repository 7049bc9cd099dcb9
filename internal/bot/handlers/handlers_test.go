package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-telegram/bot/models"
	"github.com/google/go-cmp/cmp"

	"github.com/edgard/tgmirror/internal/config"
	"github.com/edgard/tgmirror/internal/database"
	"github.com/edgard/tgmirror/internal/mirror"
	"github.com/edgard/tgmirror/internal/render"
)

func TestParseAddMirror(t *testing.T) {
	t.Parallel()

	all := addMirrorArgs{RenderAsImage: true, IncludeMedia: true, IncludeReplies: true}
	with := func(f func(*addMirrorArgs)) addMirrorArgs {
		a := all
		a.Source, a.Target = -1001, -1002
		f(&a)
		return a
	}

	tests := []struct {
		name    string
		args    string
		want    addMirrorArgs
		wantErr bool
	}{
		{name: "source and target", args: "-1001 -1002", want: with(func(*addMirrorArgs) {})},
		{name: "with topic", args: "-1001 -1002 7", want: with(func(a *addMirrorArgs) { a.Topic = 7 })},
		{name: "options", args: "-1001 -1002 no_render --no-media", want: with(func(a *addMirrorArgs) {
			a.RenderAsImage, a.IncludeMedia = false, false
		})},
		{name: "topic and option", args: "-1001 -1002 3 no_replies", want: with(func(a *addMirrorArgs) {
			a.Topic, a.IncludeReplies = 3, false
		})},
		{name: "missing target", args: "-1001", wantErr: true},
		{name: "bad source", args: "abc -1002", wantErr: true},
		{name: "zero target", args: "-1001 0", wantErr: true},
		{name: "negative topic", args: "-1001 -1002 -3", wantErr: true},
		{name: "topic after option", args: "-1001 -1002 no_media 3", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseAddMirror(commandArgs("/add_mirror " + tc.args))
			if tc.wantErr {
				if !errors.Is(err, errUsage) {
					t.Fatalf("parseAddMirror(%q) error = %v, want usage error", tc.args, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAddMirror(%q) unexpected error: %v", tc.args, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("parseAddMirror(%q) mismatch (-want +got):\n%s", tc.args, diff)
			}
		})
	}
}

func TestParseCopyMessage(t *testing.T) {
	t.Parallel()

	got, err := parseCopyMessage(commandArgs("/copy_message -1001 5 7-9 5 -1002"))
	if err != nil {
		t.Fatalf("parseCopyMessage() unexpected error: %v", err)
	}
	want := copyArgs{Source: -1001, Target: -1002, MessageIDs: []int{5, 7, 8, 9}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("parseCopyMessage() mismatch (-want +got):\n%s", diff)
	}

	for _, bad := range []string{
		"/copy_message -1001 -1002",
		"/copy_message -1001 x -1002",
		"/copy_message -1001 9-7 -1002",
		"/copy_message -1001 1-500 -1002",
		"/copy_message -1001 0 -1002",
	} {
		if _, err := parseCopyMessage(commandArgs(bad)); !errors.Is(err, errUsage) {
			t.Errorf("parseCopyMessage(%q) error = %v, want usage error", bad, err)
		}
	}
}

func TestParseMirrorIDAndSwitch(t *testing.T) {
	t.Parallel()

	if id, err := parseMirrorID([]string{"12"}); err != nil || id != 12 {
		t.Errorf("parseMirrorID(12) = %d, %v", id, err)
	}
	for _, bad := range [][]string{nil, {"0"}, {"x"}, {"1", "2"}} {
		if _, err := parseMirrorID(bad); err == nil {
			t.Errorf("parseMirrorID(%v) expected error", bad)
		}
	}

	tests := []struct {
		args      []string
		value, ok bool
		wantErr   bool
	}{
		{args: nil},
		{args: []string{"on"}, value: true, ok: true},
		{args: []string{"OFF"}, ok: true},
		{args: []string{"maybe"}, wantErr: true},
		{args: []string{"on", "off"}, wantErr: true},
	}
	for _, tc := range tests {
		value, ok, err := parseSwitch(tc.args)
		if (err != nil) != tc.wantErr || value != tc.value || ok != tc.ok {
			t.Errorf("parseSwitch(%v) = %v, %v, %v", tc.args, value, ok, err)
		}
	}
}

func TestCommandArgs(t *testing.T) {
	t.Parallel()

	if got := commandArgs("/status"); got != nil {
		t.Errorf("commandArgs(/status) = %v, want nil", got)
	}
	if diff := cmp.Diff([]string{"a", "b"}, commandArgs("/cmd@mirror_bot  a \n b")); diff != "" {
		t.Errorf("commandArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatMirror(t *testing.T) {
	t.Parallel()

	names := map[int64]string{-1001: "News", -1002: "Archive"}
	name := func(id int64) string { return names[id] }
	m := database.Mirror{
		ID:             3,
		SourceChatID:   -1001,
		TargetChatID:   -1002,
		TargetTopicID:  sql.NullInt64{Int64: 9, Valid: true},
		IsActive:       false,
		IncludeMedia:   true,
		IncludeReplies: true,
		CreatedAt:      time.Now().Add(-2 * time.Hour),
	}
	got := formatMirror(m, name)
	want := "#3 [paused] News (-1001) -> Archive (-1002) topic 9 {media, replies}, added 2 hours ago"
	if got != want {
		t.Errorf("formatMirror() =\n%q\nwant\n%q", got, want)
	}

	list := formatMirrors([]database.Mirror{m, m}, name)
	if !strings.HasPrefix(list, "Mirrors (2):\n#3") || strings.Count(list, "\n") != 2 {
		t.Errorf("formatMirrors() = %q", list)
	}
}

func TestFormatChats(t *testing.T) {
	t.Parallel()

	got := formatChats([]database.Chat{
		{ID: -1001, Title: "News", Type: "channel", IsSource: true},
		{ID: -1002, Username: "archive", IsSource: true, IsTarget: true},
	})
	want := "Known chats (2):\nNews (-1001) channel [source]\n@archive (-1002) [source, target]"
	if got != want {
		t.Errorf("formatChats() =\n%q\nwant\n%q", got, want)
	}
}

func TestFormatStatus(t *testing.T) {
	t.Parallel()

	got := formatStatus(&mirror.Status{
		Uptime:       90*time.Minute + 500*time.Millisecond,
		RenderImages: true,
		Database:     &database.Stats{Chats: 4, Users: 12, Messages: 12345, Mirrors: 3, ActiveMirrors: 2, Mappings: 2500},
		Renders:      render.FileStats{Files: 2, Bytes: 2048},
	}, "userbot")
	for _, want := range []string{
		"Transport: userbot",
		"Uptime: 1h30m0s",
		"Image rendering: on",
		"Mirrors: 3 (2 active)",
		"Messages seen: 12,345",
		"Delivered copies: 2,500",
		"Rendered files: 2 (2.0 kB)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatStatus() missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatCopyResult(t *testing.T) {
	t.Parallel()

	if got := formatCopyResult(&mirror.CopyResult{Copied: 3}, 3); got != "Copied 3 of 3 messages." {
		t.Errorf("formatCopyResult() = %q", got)
	}
	got := formatCopyResult(&mirror.CopyResult{Copied: 1, Failed: map[int]error{9: errors.New("x"), 4: errors.New("y")}}, 3)
	if got != "Copied 1 of 3 messages.\nFailed: 4, 9" {
		t.Errorf("formatCopyResult() = %q", got)
	}
}

func TestChunkLines(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := range 50 {
		lines = append(lines, fmt.Sprintf("line %02d", i))
	}
	text := strings.Join(lines, "\n")
	chunks := chunkLines(text, 40)
	if len(chunks) < 2 {
		t.Fatalf("chunkLines() returned %d chunks", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 40 {
			t.Errorf("chunk exceeds limit: %q", c)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Error("chunkLines() lost content")
	}
}

func TestMessageTexts(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Messages: config.MessagesConfig{
		Help:           "Ask @botname",
		GeneralError:   "oops",
		MirrorNotFound: "no such mirror",
	}}
	deps := HandlerDeps{Config: cfg}
	if got := helpText(deps); got != "Ask @botname" {
		t.Errorf("helpText() without bot info = %q", got)
	}
	cfg.Telegram.BotInfo = &models.User{Username: "mirror_bot"}
	if got := helpText(deps); got != "Ask @mirror_bot" {
		t.Errorf("helpText() = %q", got)
	}

	tests := []struct {
		err  error
		want string
	}{
		{mirror.ErrMirrorNotFound, "no such mirror"},
		{fmt.Errorf("wrapped: %w", mirror.ErrMirrorExists), "That mirror already exists."},
		{mirror.ErrMirrorCycle, "That mirror would send messages back to their source chat."},
		{fmt.Errorf("%w: same chat", mirror.ErrInvalidMirror), "Cannot do that: invalid mirror: same chat"},
		{errors.New("disk full"), "oops"},
	}
	for _, tc := range tests {
		if got := mirrorErrorText(tc.err, cfg); got != tc.want {
			t.Errorf("mirrorErrorText(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}

	if got := usageText(errUsage, "Usage: x"); got != "Usage: x" {
		t.Errorf("usageText(errUsage) = %q", got)
	}
	if got := usageText(fmt.Errorf("%w: bad id", errUsage), "Usage: x"); got != "invalid arguments: bad id\nUsage: x" {
		t.Errorf("usageText(wrapped) = %q", got)
	}
}

func TestCopyProgress(t *testing.T) {
	t.Parallel()

	var edits []string
	p := newCopyProgress(10, func(text string) { edits = append(edits, text) })
	for _, done := range []int{1, 10, 9, 20, 10, 25, 30} {
		p.report(done, 30)
	}
	want := []string{"Copying 10/30...", "Copying 20/30..."}
	if diff := cmp.Diff(want, edits); diff != "" {
		t.Errorf("progress edits mismatch (-want +got):\n%s", diff)
	}

	var concurrent atomic.Int64
	q := newCopyProgress(1, func(string) { concurrent.Add(1) })
	var wg sync.WaitGroup
	for i := 1; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.report(i, 50)
		}()
	}
	wg.Wait()
	if n := concurrent.Load(); n < 1 || n > 49 {
		t.Errorf("concurrent progress edits = %d, want between 1 and 49", n)
	}
}
