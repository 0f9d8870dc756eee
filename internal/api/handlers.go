package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/service/slackapi"
)

// FileResolver resolves uploaded file metadata.
type FileResolver interface {
	FileInfo(ctx context.Context, fileID string) (*slackapi.FileInfo, error)
	BotToken() string
	Configured() bool
}

// EventStore is the ingestion-side slice of the job store.
type EventStore interface {
	MarkEventHandled(ctx context.Context, eventID, eventType string) (bool, error)
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	MergeMessageText(ctx context.Context, fileID, text string) (string, error)
}

// JobPublisher enqueues job messages for the pipeline worker.
type JobPublisher interface {
	Publish(ctx context.Context, msg *models.JobMessage) error
}

// JobFinisher completes a job from its transcript.
type JobFinisher interface {
	Finish(ctx context.Context, payload *models.CallbackPayload) (string, error)
}

// ThreadNotifier posts threaded status replies. Failures are best-effort
// for the gateway.
type ThreadNotifier interface {
	ReplyInThread(ctx context.Context, channelID, threadTS, text string) error
}

// Handler wires the ingestion gateway and the stage-completion callback.
type Handler struct {
	files         FileResolver
	store         EventStore
	publisher     JobPublisher
	finisher      JobFinisher
	notifier      ThreadNotifier
	signingSecret string
	logger        *zap.Logger
}

func NewHandler(files FileResolver, store EventStore, publisher JobPublisher,
	finisher JobFinisher, notifier ThreadNotifier, signingSecret string, logger *zap.Logger) *Handler {
	return &Handler{
		files:         files,
		store:         store,
		publisher:     publisher,
		finisher:      finisher,
		notifier:      notifier,
		signingSecret: signingSecret,
		logger:        logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	router.POST("/slack/events", h.handleEvents)
	router.POST("/jobs/callback", h.handleCallback)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// eventEnvelope is the outer events-API payload.
type eventEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
}

type innerEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	BotID     string `json:"bot_id"`
	UserID    string `json:"user_id"`
	User      string `json:"user"`
	FileID    string `json:"file_id"`
	ChannelID string `json:"channel_id"`
	Channel   string `json:"channel"`
	TS        string `json:"ts"`
	ThreadTS  string `json:"thread_ts"`
	EventTS   string `json:"event_ts"`
	Text      string `json:"text"`
	Message   *struct {
		Text string `json:"text"`
	} `json:"message"`
	Files []struct {
		ID             string `json:"id"`
		InitialComment struct {
			Comment string `json:"comment"`
		} `json:"initial_comment"`
	} `json:"files"`
}

// handleEvents is the webhook entry point. The verification challenge is
// answered before signature checking; everything else must carry a valid
// v0 signature and a not-yet-seen event id.
func (h *Handler) handleEvents(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// Some deliveries arrive form-encoded with the JSON in "payload".
		if vals, perr := url.ParseQuery(string(raw)); perr == nil && vals.Get("payload") != "" {
			if err := json.Unmarshal([]byte(vals.Get("payload")), &env); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
				return
			}
		} else {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
			return
		}
	}

	if env.Type == "url_verification" {
		c.String(http.StatusOK, strings.TrimSpace(env.Challenge))
		return
	}

	if err := slackapi.VerifySignature(h.signingSecret, c.Request.Header, raw); err != nil {
		h.logger.Warn("request signature rejected", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	if env.Type != "event_callback" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event type not handled"})
		return
	}
	if env.EventID == "" || len(env.Event) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}

	var ev innerEvent
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event payload"})
		return
	}

	first, err := h.store.MarkEventHandled(c.Request.Context(), env.EventID, ev.Type)
	if err != nil {
		h.logger.Error("event dedup check failed", zap.String("eventId", env.EventID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "event ledger unavailable"})
		return
	}
	if !first {
		h.logger.Info("duplicate event delivery ignored", zap.String("eventId", env.EventID))
		c.JSON(http.StatusOK, gin.H{"ok": true, "note": "already handled"})
		return
	}

	if ev.BotID != "" || ev.Subtype == "bot_message" {
		c.JSON(http.StatusOK, gin.H{"ok": true, "note": "bot event skipped"})
		return
	}

	switch ev.Type {
	case "file_shared":
		h.handleFileShared(c, &ev)
	case "message":
		h.handleMessage(c, &ev)
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "note": "event ignored"})
	}
}

// handleFileShared mints a job for the uploaded file and enqueues it.
// The message text usually arrives in a separate event, so the job may
// start in the text-pending holding state.
func (h *Handler) handleFileShared(c *gin.Context, ev *innerEvent) {
	ctx := c.Request.Context()

	requester := ev.UserID
	if requester == "" {
		requester = ev.User
	}
	if ev.FileID == "" || requester == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and file_id are required"})
		return
	}
	if !h.files.Configured() {
		h.logger.Error("cannot resolve file, slack client not configured", zap.String("fileId", ev.FileID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "slack client not configured"})
		return
	}
	info, err := h.files.FileInfo(ctx, ev.FileID)
	if err != nil {
		h.logger.Error("file resolution failed", zap.String("fileId", ev.FileID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file resolution failed"})
		return
	}

	text := messageText(ev)
	jobID := uuid.NewString()

	job := &models.Job{
		JobID:                 jobID,
		SourceFileID:          ev.FileID,
		DownloadURL:           info.DownloadURL,
		OriginalFileName:      info.Name,
		OriginalFileExtension: info.Filetype,
		ChannelID:             ev.ChannelID,
		ThreadTS:              threadTS(ev),
		Permalink:             info.Permalink,
		RequesterID:           requester,
		OriginalMessageText:   text,
		State:                 models.JobStateCreated,
	}
	if text == "" {
		job.State = models.JobStateTextPending
	}
	if err := h.store.CreateJob(ctx, job); err != nil {
		h.logger.Error("job creation failed", zap.String("jobId", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job creation failed"})
		return
	}

	msg := jobMessage(job, h.files.BotToken(), ev.EventTS)
	if err := h.publisher.Publish(ctx, msg); err != nil {
		h.logger.Error("job publish failed", zap.String("jobId", jobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job enqueue failed"})
		return
	}

	if job.State == models.JobStateTextPending {
		c.JSON(http.StatusAccepted, gin.H{"ok": true, "jobId": jobID, "note": "Awaiting messageText"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "jobId": jobID})
}

// handleMessage attaches later-arriving message text to a job that is
// holding for it, then releases the job back onto the queue.
func (h *Handler) handleMessage(c *gin.Context, ev *innerEvent) {
	ctx := c.Request.Context()
	text := messageText(ev)
	if text == "" || len(ev.Files) == 0 {
		c.JSON(http.StatusOK, gin.H{"ok": true, "note": "no text to merge"})
		return
	}

	for _, f := range ev.Files {
		jobID, err := h.store.MergeMessageText(ctx, f.ID, text)
		if err != nil {
			h.logger.Error("text merge failed", zap.String("fileId", f.ID), zap.Error(err))
			continue
		}
		if jobID == "" {
			continue
		}
		job, err := h.store.GetJob(ctx, jobID)
		if err != nil {
			h.logger.Error("load merged job failed", zap.String("jobId", jobID), zap.Error(err))
			continue
		}
		msg := jobMessage(job, h.files.BotToken(), ev.EventTS)
		if err := h.publisher.Publish(ctx, msg); err != nil {
			h.logger.Error("republish after merge failed", zap.String("jobId", jobID), zap.Error(err))
			continue
		}
		h.logger.Info("message text merged", zap.String("jobId", jobID), zap.String("fileId", f.ID))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleCallback finishes a job from its transcript. An absent
// transcript field is a contract violation; an empty one is a valid
// silent recording.
func (h *Handler) handleCallback(c *gin.Context) {
	var payload models.CallbackPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid callback body"})
		return
	}
	if payload.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId is required"})
		return
	}
	if payload.Transcript == nil {
		h.logger.Warn("callback without transcript field", zap.String("jobId", payload.JobID))
		h.warnThread(c.Request.Context(), &payload, ":warning: 文字起こし結果を受け取れませんでした。処理を完了できません。")
		c.JSON(http.StatusBadRequest, gin.H{"error": "transcript is required"})
		return
	}

	pageURL, err := h.finisher.Finish(c.Request.Context(), &payload)
	if err != nil {
		h.logger.Error("job completion failed", zap.String("jobId", payload.JobID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "job completion failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "notionPageUrl": pageURL})
}

// warnThread posts a warning into the originating thread when the
// payload carries enough routing to reach it.
func (h *Handler) warnThread(ctx context.Context, payload *models.CallbackPayload, text string) {
	if h.notifier == nil || payload.SlackChannelID == "" {
		return
	}
	if err := h.notifier.ReplyInThread(ctx, payload.SlackChannelID, payload.SlackThreadTS, text); err != nil {
		h.logger.Warn("thread notification failed", zap.String("jobId", payload.JobID), zap.Error(err))
	}
}

// threadTS picks the reply anchor: an existing thread, the message
// itself, then the event timestamp.
func threadTS(ev *innerEvent) string {
	if ev.ThreadTS != "" {
		return ev.ThreadTS
	}
	if ev.TS != "" {
		return ev.TS
	}
	return ev.EventTS
}

// messageText extracts the user's text with the documented fallback
// chain: edited message body, raw text, then the file's initial comment.
func messageText(ev *innerEvent) string {
	if ev.Message != nil && ev.Message.Text != "" {
		return ev.Message.Text
	}
	if ev.Text != "" {
		return ev.Text
	}
	if len(ev.Files) > 0 {
		return ev.Files[0].InitialComment.Comment
	}
	return ""
}

func jobMessage(job *models.Job, botToken, eventTS string) *models.JobMessage {
	return &models.JobMessage{
		JobID:                 job.JobID,
		OriginalFileID:        job.SourceFileID,
		SlackFileDownloadURL:  job.DownloadURL,
		SlackBotToken:         botToken,
		OriginalFileName:      job.OriginalFileName,
		OriginalFileExtension: job.OriginalFileExtension,
		SlackChannelID:        job.ChannelID,
		SlackThreadTS:         job.ThreadTS,
		SlackFilePermalink:    job.Permalink,
		SlackUserID:           job.RequesterID,
		OriginalMessageText:   job.OriginalMessageText,
		EventTS:               eventMillis(eventTS),
	}
}

// eventMillis converts a "seconds.micros" event timestamp to epoch
// milliseconds; unparseable input yields zero.
func eventMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return int64(f * 1000)
}
