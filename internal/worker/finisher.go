package worker

import (
	"context"
	"fmt"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/service/notion"
	"github.com/wktk1187/dagitoru/internal/service/summarize"

	"go.uber.org/zap"
)

// Summarizer produces the structured summary document. It degrades
// internally and never errors.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string, info summarize.MeetingInfo) *models.SummaryDocument
}

// PagePersister stores the finished summary and returns its URL.
type PagePersister interface {
	Persist(ctx context.Context, in *notion.PageInput) (string, error)
}

// Finisher runs the back half of the pipeline: summarization,
// persistence and the final thread notification. Summarization failures
// degrade; persistence failures are fatal to the job, since an unstored
// summary must never be reported as a success.
type Finisher struct {
	store      JobStore
	summarizer Summarizer
	pages      PagePersister
	notifier   Notifier
	guard      Claimer
	logger     *zap.Logger
}

func NewFinisher(store JobStore, summarizer Summarizer, pages PagePersister,
	notifier Notifier, guard Claimer, logger *zap.Logger) *Finisher {
	return &Finisher{
		store:      store,
		summarizer: summarizer,
		pages:      pages,
		notifier:   notifier,
		guard:      guard,
		logger:     logger,
	}
}

// Finish completes the job from transcript to stored page and returns
// the page URL.
func (f *Finisher) Finish(ctx context.Context, payload *models.CallbackPayload) (string, error) {
	log := f.logger.With(zap.String("jobId", payload.JobID))

	job, err := f.store.GetJob(ctx, payload.JobID)
	if err != nil {
		return "", fmt.Errorf("load job %s: %w", payload.JobID, err)
	}
	if job.State.Terminal() {
		log.Info("job already finished, ignoring duplicate completion", zap.String("state", string(job.State)))
		return job.PageURL, nil
	}

	transcript := ""
	if payload.Transcript != nil {
		transcript = *payload.Transcript
	}
	info := summarize.ExtractMeetingInfo(payload.OriginalMessageText)

	if err := f.store.Advance(ctx, payload.JobID, models.JobStateSummarizing); err != nil {
		log.Warn("state advance failed", zap.String("state", string(models.JobStateSummarizing)), zap.Error(err))
	}
	doc := f.summarizer.Summarize(ctx, transcript, info)
	if err := f.store.SetSummary(ctx, payload.JobID, doc.Encode()); err != nil {
		log.Warn("record summary failed", zap.Error(err))
	}

	if err := f.store.Advance(ctx, payload.JobID, models.JobStatePersisting); err != nil {
		log.Warn("state advance failed", zap.String("state", string(models.JobStatePersisting)), zap.Error(err))
	}

	pageURL := job.PageURL
	if pageURL == "" && !f.guard.Claim(ctx, payload.JobID, "persist") {
		// Another delivery already created the page; pick up its URL.
		if refreshed, rerr := f.store.GetJob(ctx, payload.JobID); rerr == nil {
			pageURL = refreshed.PageURL
		}
	}
	if pageURL == "" {
		pageURL, err = f.pages.Persist(ctx, &notion.PageInput{
			Summary:    doc,
			Info:       info,
			Transcript: transcript,
			Permalink:  payload.SlackFilePermalink,
			FileName:   payload.OriginalFileName,
		})
		if err != nil {
			reason := fmt.Sprintf("議事録の保存に失敗しました: %v", err)
			if ferr := f.store.Fail(ctx, payload.JobID, reason); ferr != nil {
				log.Error("record failure failed", zap.Error(ferr))
			}
			f.notify(ctx, payload, ":warning: "+reason)
			return "", fmt.Errorf("persist summary: %w", err)
		}
		if err := f.store.SetPageURL(ctx, payload.JobID, pageURL); err != nil {
			log.Warn("record page url failed", zap.Error(err))
		}
	}

	if err := f.store.Advance(ctx, payload.JobID, models.JobStateNotifying); err != nil {
		log.Warn("state advance failed", zap.String("state", string(models.JobStateNotifying)), zap.Error(err))
	}
	if f.guard.Claim(ctx, payload.JobID, "notify") {
		f.notify(ctx, payload, fmt.Sprintf(":white_check_mark: 議事録の作成が完了しました！\n%s", pageURL))
	}

	if err := f.store.Advance(ctx, payload.JobID, models.JobStateCompleted); err != nil {
		log.Warn("state advance failed", zap.String("state", string(models.JobStateCompleted)), zap.Error(err))
	}
	log.Info("job completed", zap.String("pageUrl", pageURL))
	return pageURL, nil
}

func (f *Finisher) notify(ctx context.Context, payload *models.CallbackPayload, text string) {
	if f.notifier == nil || payload.SlackChannelID == "" {
		return
	}
	if err := f.notifier.ReplyInThread(ctx, payload.SlackChannelID, payload.SlackThreadTS, text); err != nil {
		f.logger.Warn("thread notification failed", zap.String("jobId", payload.JobID), zap.Error(err))
	}
}
