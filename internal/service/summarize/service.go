package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wktk1187/dagitoru/internal/config"
	"github.com/wktk1187/dagitoru/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// ChatModel is the subset of the eino chat model the summarizer needs.
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

const systemPrompt = `あなたは会議の文字起こしを整理するアシスタントです。
与えられた文字起こしから会議サマリーを作成し、必ず次の7つのキーを持つJSONオブジェクトのみを出力してください。
各値は日本語の文字列です。該当する内容がない場合は「特になし」と記載してください。

{
  "meetingName": "会議名",
  "meetingInfo": "日時・参加者などの基本情報",
  "agenda": "会議の目的とアジェンダ",
  "discussion": "議論の内容と決定事項",
  "scheduleTasks": "今後のスケジュールとタスク",
  "sharedInfo": "共有された資料や情報",
  "otherNotes": "その他特記事項"
}

JSON以外のテキストは一切出力しないでください。`

// Service produces a structured meeting summary from a transcript. A
// misconfigured or failing model never fails the job: the service falls
// back to a degraded document carrying the diagnostic.
type Service struct {
	chatModel ChatModel
	logger    *zap.Logger
}

// NewService builds the configured chat model. Construction errors leave
// the model nil and are logged, so every later Summarize call degrades
// instead of crashing the worker.
func NewService(ctx context.Context, cfg *config.Config, logger *zap.Logger) *Service {
	s := &Service{logger: logger}

	provider := cfg.Summary.Provider
	provCfg, ok := cfg.Providers[provider]
	if !ok || provCfg.APIKey == "" {
		logger.Warn("summary provider not configured, summaries will be degraded", zap.String("provider", provider))
		return s
	}
	modelType := cfg.Summary.Model
	if modelType == "" {
		modelType = provCfg.Model
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   modelType,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err == nil {
			chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
				Client: client,
				Model:  modelType,
			})
		}
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     modelType,
			BaseURL:   baseURLPtr,
			MaxTokens: 4096,
		})
	default:
		logger.Warn("unknown summary provider, summaries will be degraded", zap.String("provider", provider))
		return s
	}
	if err != nil {
		logger.Warn("summary model init failed, summaries will be degraded", zap.String("provider", provider), zap.Error(err))
		return s
	}

	s.chatModel = chatModel
	return s
}

// NewServiceWithModel wires an explicit model, mainly for tests.
func NewServiceWithModel(chatModel ChatModel, logger *zap.Logger) *Service {
	return &Service{chatModel: chatModel, logger: logger}
}

// Summarize turns the transcript into a seven-section document. It never
// returns an error: every failure mode degrades to a well-formed
// document whose sections carry the diagnostic, so persistence and
// notification still run.
func (s *Service) Summarize(ctx context.Context, transcript string, info MeetingInfo) *models.SummaryDocument {
	if s.chatModel == nil {
		return models.DegradedSummary("要約モデルが設定されていないため、要約を生成できませんでした。")
	}
	if strings.TrimSpace(transcript) == "" {
		return models.DegradedSummary("文字起こしが空のため、要約を生成できませんでした。")
	}

	userPrompt := fmt.Sprintf("会議日時: %s\nクライアント名: %s\nコンサルタント名: %s\n\n文字起こし:\n%s",
		info.Date, info.Client, info.Consultant, transcript)

	resp, err := s.chatModel.Generate(ctx, []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: userPrompt},
	})
	if err != nil {
		s.logger.Warn("summary generation failed", zap.Error(err))
		return models.DegradedSummary(fmt.Sprintf("要約の生成に失敗しました: %v", err))
	}

	doc, err := parseSummary(resp.Content)
	if err != nil {
		s.logger.Warn("summary response unparseable", zap.Error(err))
		return models.DegradedSummary(fmt.Sprintf("要約の解析に失敗しました: %v", err))
	}
	return doc
}

// parseSummary decodes the model output into a document, tolerating
// markdown code fences, and requires all seven keys to be strings.
func parseSummary(raw string) (*models.SummaryDocument, error) {
	cleaned := stripCodeFence(raw)

	var generic map[string]any
	if err := json.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil, fmt.Errorf("decode summary json: %w", err)
	}
	for _, key := range models.SummaryKeys {
		v, ok := generic[key]
		if !ok {
			return nil, fmt.Errorf("summary missing key %q", key)
		}
		if _, ok := v.(string); !ok {
			return nil, fmt.Errorf("summary key %q is not a string", key)
		}
	}

	var doc models.SummaryDocument
	if err := json.Unmarshal([]byte(cleaned), &doc); err != nil {
		return nil, fmt.Errorf("decode summary json: %w", err)
	}
	return &doc, nil
}

func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
