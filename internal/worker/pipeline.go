package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/service/media"
	"github.com/wktk1187/dagitoru/internal/storage"

	"go.uber.org/zap"
)

// JobStore is the durable job record as the pipeline uses it.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	Advance(ctx context.Context, jobID string, next models.JobState) error
	Fail(ctx context.Context, jobID, reason string) error
	SetAudioURI(ctx context.Context, jobID, uri string) error
	SetTranscript(ctx context.Context, jobID, transcript string) error
	SetSummary(ctx context.Context, jobID, summaryJSON string) error
	SetPageURL(ctx context.Context, jobID, pageURL string) error
}

// MediaExtractor runs download, audio normalization and upload.
type MediaExtractor interface {
	Extract(ctx context.Context, msg *models.JobMessage, progress func(media.Phase)) (string, error)
}

// Transcriber converts uploaded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURI string) (string, error)
}

// Notifier posts threaded status messages. All notification failures are
// best-effort for the pipeline.
type Notifier interface {
	ReplyInThread(ctx context.Context, channelID, threadTS, text string) error
}

// Claimer grants first-delivery claims for side-effecting stages.
type Claimer interface {
	Claim(ctx context.Context, jobID, stage string) bool
}

// Requeuer re-enqueues messages, optionally after a delay.
type Requeuer interface {
	Publish(ctx context.Context, msg *models.JobMessage) error
	PublishAfter(ctx context.Context, msg *models.JobMessage, delay time.Duration)
}

// SummaryFinisher completes the back half of the pipeline: summarize,
// persist, notify.
type SummaryFinisher interface {
	Finish(ctx context.Context, payload *models.CallbackPayload) (string, error)
}

const textPendingRequeueDelay = time.Minute

// Runner executes the front half of the pipeline for one dequeued job:
// media extraction and transcription. It then either posts the result to
// the configured callback endpoint or finishes inline.
type Runner struct {
	store       JobStore
	extractor   MediaExtractor
	transcriber Transcriber
	notifier    Notifier
	guard       Claimer
	requeue     Requeuer
	finisher    SummaryFinisher

	callbackURL       string
	textPendingWindow time.Duration
	httpClient        *http.Client
	logger            *zap.Logger
}

func NewRunner(store JobStore, extractor MediaExtractor, transcriber Transcriber,
	notifier Notifier, guard Claimer, requeue Requeuer, finisher SummaryFinisher,
	callbackURL string, textPendingWindow time.Duration, logger *zap.Logger) *Runner {
	if textPendingWindow <= 0 {
		textPendingWindow = 10 * time.Minute
	}
	return &Runner{
		store:             store,
		extractor:         extractor,
		transcriber:       transcriber,
		notifier:          notifier,
		guard:             guard,
		requeue:           requeue,
		finisher:          finisher,
		callbackURL:       callbackURL,
		textPendingWindow: textPendingWindow,
		httpClient:        &http.Client{Timeout: 2 * time.Minute},
		logger:            logger,
	}
}

// Process runs one job message end to end. Delivery is at-least-once, so
// every externally visible side effect sits behind a stage claim and the
// state machine rejects rewinds on redelivered messages.
func (r *Runner) Process(ctx context.Context, msg *models.JobMessage) {
	log := r.logger.With(zap.String("jobId", msg.JobID))

	job, err := r.store.GetJob(ctx, msg.JobID)
	if errors.Is(err, storage.ErrJobNotFound) {
		log.Warn("dropping message for unknown job")
		return
	}
	if err != nil {
		log.Error("load job failed", zap.Error(err))
		return
	}
	if job.State.Terminal() {
		log.Info("job already finished, ignoring redelivery", zap.String("state", string(job.State)))
		return
	}

	// A job still waiting for its message text gets held for a bounded
	// window. Once the window passes it proceeds with whatever text it has.
	if job.State == models.JobStateTextPending {
		if time.Since(job.CreatedAt) < r.textPendingWindow {
			log.Info("message text still pending, requeueing")
			r.requeue.PublishAfter(ctx, msg, textPendingRequeueDelay)
			return
		}
		log.Info("text wait window elapsed, proceeding without message text")
	}
	if job.OriginalMessageText != "" {
		msg.OriginalMessageText = job.OriginalMessageText
	}

	if r.guard.Claim(ctx, msg.JobID, "accepted") {
		r.notify(ctx, msg, ":hourglass: 動画を受け付けました。文字起こしと要約を開始します。")
	}

	audioURI, err := r.extractor.Extract(ctx, msg, func(phase media.Phase) {
		var state models.JobState
		switch phase {
		case media.PhaseDownloading:
			state = models.JobStateDownloading
		case media.PhaseTranscoding:
			state = models.JobStateTranscoding
		case media.PhaseUploading:
			state = models.JobStateUploading
		default:
			return
		}
		if err := r.store.Advance(ctx, msg.JobID, state); err != nil {
			log.Warn("state advance failed", zap.String("state", string(state)), zap.Error(err))
		}
	})
	if err != nil {
		r.failJob(ctx, msg, fmt.Sprintf("音声の抽出に失敗しました: %v", err))
		return
	}
	if err := r.store.SetAudioURI(ctx, msg.JobID, audioURI); err != nil {
		log.Warn("record audio uri failed", zap.Error(err))
	}

	if err := r.store.Advance(ctx, msg.JobID, models.JobStateTranscribing); err != nil {
		log.Warn("state advance failed", zap.String("state", string(models.JobStateTranscribing)), zap.Error(err))
	}
	transcript, err := r.transcriber.Transcribe(ctx, audioURI)
	if err != nil {
		r.failJob(ctx, msg, fmt.Sprintf("文字起こしに失敗しました: %v", err))
		return
	}
	if err := r.store.SetTranscript(ctx, msg.JobID, transcript); err != nil {
		log.Warn("record transcript failed", zap.Error(err))
	}

	payload := &models.CallbackPayload{
		Transcript:          &transcript,
		JobID:               msg.JobID,
		OriginalFileName:    msg.OriginalFileName,
		SlackChannelID:      msg.SlackChannelID,
		SlackThreadTS:       msg.SlackThreadTS,
		SlackFilePermalink:  msg.SlackFilePermalink,
		OriginalMessageText: msg.OriginalMessageText,
		GCSAudioURI:         audioURI,
	}

	if r.callbackURL != "" {
		if err := r.postCallback(ctx, payload); err != nil {
			r.failJob(ctx, msg, fmt.Sprintf("処理結果の通知に失敗しました: %v", err))
		}
		return
	}
	if _, err := r.finisher.Finish(ctx, payload); err != nil {
		log.Error("finish failed", zap.Error(err))
	}
}

// postCallback delivers the transcript to the summarization endpoint.
func (r *Runner) postCallback(ctx context.Context, payload *models.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal callback payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.callbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post callback: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

// failJob records the terminal failure and tells the thread about it.
func (r *Runner) failJob(ctx context.Context, msg *models.JobMessage, reason string) {
	r.logger.Error("job failed", zap.String("jobId", msg.JobID), zap.String("reason", reason))
	if err := r.store.Fail(ctx, msg.JobID, reason); err != nil {
		r.logger.Error("record failure failed", zap.String("jobId", msg.JobID), zap.Error(err))
	}
	r.notify(ctx, msg, ":warning: "+reason)
}

func (r *Runner) notify(ctx context.Context, msg *models.JobMessage, text string) {
	if r.notifier == nil || msg.SlackChannelID == "" {
		return
	}
	if err := r.notifier.ReplyInThread(ctx, msg.SlackChannelID, msg.SlackThreadTS, text); err != nil {
		r.logger.Warn("thread notification failed", zap.String("jobId", msg.JobID), zap.Error(err))
	}
}
