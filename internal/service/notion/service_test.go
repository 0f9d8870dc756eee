package notion

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/service/summarize"

	"github.com/jomei/notionapi"
	"go.uber.org/zap"
)

func TestChunkText(t *testing.T) {
	t.Run("splits at the boundary", func(t *testing.T) {
		in := strings.Repeat("a", 2500)
		chunks := ChunkText(in, 1000)
		if len(chunks) != 3 {
			t.Fatalf("got %d chunks, want 3", len(chunks))
		}
		if len(chunks[0]) != 1000 || len(chunks[2]) != 500 {
			t.Errorf("chunk sizes: %d %d %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
		}
		if strings.Join(chunks, "") != in {
			t.Error("chunks must reassemble to the input")
		}
	})

	t.Run("rune safe for multibyte text", func(t *testing.T) {
		in := strings.Repeat("議", 2000)
		chunks := ChunkText(in, 1950)
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		for _, c := range chunks {
			if !strings.HasPrefix(c, "議") {
				t.Error("chunk split a rune")
			}
		}
		if got := len([]rune(chunks[0])); got != 1950 {
			t.Errorf("first chunk = %d runes, want 1950", got)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if got := ChunkText("", 100); got != nil {
			t.Errorf("empty input should yield no chunks, got %v", got)
		}
	})
}

func TestTranscriptBlocks(t *testing.T) {
	blocks := transcriptBlocks(strings.Repeat("あ", 2000))
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want heading + 2 paragraphs", len(blocks))
	}
	heading, ok := blocks[0].(*notionapi.Heading2Block)
	if !ok {
		t.Fatalf("first block is %T, want heading", blocks[0])
	}
	if heading.Heading2.RichText[0].Text.Content != "文字起こし全文" {
		t.Errorf("heading text = %q", heading.Heading2.RichText[0].Text.Content)
	}

	if got := transcriptBlocks(""); got != nil {
		t.Errorf("empty transcript should yield no blocks, got %d", len(got))
	}
	if got := transcriptBlocks("   \n"); got != nil {
		t.Error("whitespace transcript should yield no blocks")
	}
}

func TestParseMeetingDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2024年5月1日", "2024-05-01", true},
		{"2024/12/03", "2024-12-03", true},
		{"2023-11-20", "2023-11-20", true},
		{"不明", "", false},
		{"", "", false},
		{"5月1日", "", false},
	}
	for _, tt := range tests {
		got, ok := parseMeetingDate(tt.in)
		if ok != tt.ok {
			t.Errorf("parseMeetingDate(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			continue
		}
		if ok && got.Format(time.DateOnly) != tt.want {
			t.Errorf("parseMeetingDate(%q) = %s, want %s", tt.in, got.Format(time.DateOnly), tt.want)
		}
	}
}

func TestBuildProperties(t *testing.T) {
	svc := NewService("secret", "db", zap.NewNop())
	props := svc.buildProperties(&PageInput{
		Summary: &models.SummaryDocument{
			MeetingName:   "定例会議",
			MeetingInfo:   "基本情報",
			Agenda:        "アジェンダ",
			Discussion:    "議論",
			ScheduleTasks: "スケジュール",
			SharedInfo:    "資料",
			OtherNotes:    "特記事項",
		},
		Info:      summarize.MeetingInfo{Date: "2024年5月1日", Client: "ACME", Consultant: "山田"},
		Permalink: "https://example.slack.com/files/F1",
		FileName:  "meeting.mp4",
	})

	title, ok := props["会議名"].(notionapi.TitleProperty)
	if !ok || title.Title[0].Text.Content != "定例会議" {
		t.Errorf("title property wrong: %+v", props["会議名"])
	}
	shared, ok := props["共有情報・添付資料"].(notionapi.RichTextProperty)
	if !ok {
		t.Fatalf("shared info property wrong type: %T", props["共有情報・添付資料"])
	}
	if !strings.Contains(shared.RichText[0].Text.Content, "元ファイル (Slack): https://example.slack.com/files/F1") {
		t.Errorf("permalink not appended: %q", shared.RichText[0].Text.Content)
	}
	if _, ok := props["日時"].(notionapi.DateProperty); !ok {
		t.Error("date property missing for parseable date")
	}

	// 不明 date: property omitted, title falls back to the file name.
	props = svc.buildProperties(&PageInput{
		Summary:  &models.SummaryDocument{MeetingName: "  "},
		Info:     summarize.MeetingInfo{Date: "不明"},
		FileName: "meeting.mp4",
	})
	if _, ok := props["日時"]; ok {
		t.Error("unparseable date must omit the property")
	}
	title = props["会議名"].(notionapi.TitleProperty)
	if title.Title[0].Text.Content != "meeting.mp4" {
		t.Errorf("title fallback = %q", title.Title[0].Text.Content)
	}
}

func TestPersistUnconfiguredReturnsSentinel(t *testing.T) {
	svc := NewService("", "", zap.NewNop())
	url, err := svc.Persist(context.Background(), &PageInput{
		Summary: models.DegradedSummary("x"),
	})
	if err != nil {
		t.Fatalf("unconfigured persist must not error: %v", err)
	}
	if url != "about:blank#error-notion-config-missing" {
		t.Errorf("sentinel url = %q", url)
	}
}
