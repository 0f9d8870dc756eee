package notion

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/service/summarize"

	"github.com/jomei/notionapi"
	"go.uber.org/zap"
)

// chunkSize is the per-paragraph rich text limit applied to the
// transcript body, counted in runes. Notion rejects blocks over 2000
// characters; 1950 leaves headroom.
const chunkSize = 1950

// configMissingURL is the sentinel recorded as the page URL when the
// persistence target is not configured. Downstream notifications still
// run; the sentinel makes the degradation visible in the final message.
const configMissingURL = "about:blank#error-notion-config-missing"

// PageInput carries everything a stored summary page needs.
type PageInput struct {
	Summary    *models.SummaryDocument
	Info       summarize.MeetingInfo
	Transcript string
	Permalink  string
	FileName   string
}

// Service persists meeting summaries as pages in a Notion database.
type Service struct {
	client     *notionapi.Client
	databaseID string
	logger     *zap.Logger
}

func NewService(apiKey, databaseID string, logger *zap.Logger) *Service {
	s := &Service{databaseID: databaseID, logger: logger}
	if apiKey == "" || databaseID == "" {
		logger.Warn("notion credentials not set, persistence will be degraded")
		return s
	}
	s.client = notionapi.NewClient(notionapi.Token(apiKey))
	return s
}

// Configured reports whether pages can actually be created.
func (s *Service) Configured() bool {
	return s != nil && s.client != nil
}

// Persist creates the summary page and returns its URL. An unconfigured
// service returns the sentinel URL with no error; an actual API failure
// is returned to the caller and fails the job, since a summary that was
// never stored must not be reported as success.
func (s *Service) Persist(ctx context.Context, in *PageInput) (string, error) {
	if !s.Configured() {
		s.logger.Warn("notion not configured, skipping page creation")
		return configMissingURL, nil
	}

	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.databaseID),
		},
		Properties: s.buildProperties(in),
		Children:   transcriptBlocks(in.Transcript),
	}

	page, err := s.client.Page.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create notion page: %w", err)
	}

	url := page.URL
	if url == "" {
		url = "https://www.notion.so/" + strings.ReplaceAll(string(page.ID), "-", "")
	}
	s.logger.Info("summary page created", zap.String("url", url))
	return url, nil
}

func (s *Service) buildProperties(in *PageInput) notionapi.Properties {
	title := in.Summary.MeetingName
	if strings.TrimSpace(title) == "" {
		title = in.FileName
	}

	sharedInfo := in.Summary.SharedInfo
	if in.Permalink != "" {
		sharedInfo += "\n\n元ファイル (Slack): " + in.Permalink
	}

	props := notionapi.Properties{
		"会議名": notionapi.TitleProperty{
			Title: richText(title),
		},
		"クライアント名": notionapi.RichTextProperty{
			RichText: richText(in.Info.Client),
		},
		"コンサルタント名": notionapi.RichTextProperty{
			RichText: richText(in.Info.Consultant),
		},
		"会議の基本情報": notionapi.RichTextProperty{
			RichText: richText(in.Summary.MeetingInfo),
		},
		"会議の目的とアジェンダ": notionapi.RichTextProperty{
			RichText: richText(in.Summary.Agenda),
		},
		"会議の内容（議論と決定事項）": notionapi.RichTextProperty{
			RichText: richText(in.Summary.Discussion),
		},
		"今後のスケジュール": notionapi.RichTextProperty{
			RichText: richText(in.Summary.ScheduleTasks),
		},
		"共有情報・添付資料": notionapi.RichTextProperty{
			RichText: richText(sharedInfo),
		},
		"その他特記事項": notionapi.RichTextProperty{
			RichText: richText(in.Summary.OtherNotes),
		},
	}

	if start, ok := parseMeetingDate(in.Info.Date); ok {
		d := notionapi.Date(start)
		props["日時"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}
	return props
}

// transcriptBlocks renders the full transcript as a heading followed by
// paragraph chunks. An empty transcript yields no blocks at all.
func transcriptBlocks(transcript string) []notionapi.Block {
	if strings.TrimSpace(transcript) == "" {
		return nil
	}
	chunks := ChunkText(transcript, chunkSize)
	blocks := make([]notionapi.Block, 0, len(chunks)+1)
	blocks = append(blocks, &notionapi.Heading2Block{
		BasicBlock: notionapi.BasicBlock{
			Object: notionapi.ObjectTypeBlock,
			Type:   notionapi.BlockTypeHeading2,
		},
		Heading2: notionapi.Heading{RichText: richText("文字起こし全文")},
	})
	for _, chunk := range chunks {
		blocks = append(blocks, &notionapi.ParagraphBlock{
			BasicBlock: notionapi.BasicBlock{
				Object: notionapi.ObjectTypeBlock,
				Type:   notionapi.BlockTypeParagraph,
			},
			Paragraph: notionapi.Paragraph{RichText: richText(chunk)},
		})
	}
	return blocks
}

// ChunkText splits s into rune-safe pieces of at most size runes,
// preserving order with no gaps or overlaps.
func ChunkText(s string, size int) []string {
	if s == "" || size <= 0 {
		return nil
	}
	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

var dateDigits = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)

// parseMeetingDate normalizes forms like 2024年5月1日 or 2024/5/1 to a
// calendar date. Unparseable text (including 不明) reports !ok and the
// date property is simply omitted.
func parseMeetingDate(raw string) (time.Time, bool) {
	n := strings.NewReplacer("年", "-", "月", "-", "日", "", "/", "-").Replace(strings.TrimSpace(raw))
	m := dateDigits.FindStringSubmatch(n)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-1-2", fmt.Sprintf("%s-%s-%s", m[1], m[2], m[3]))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: content},
	}}
}
