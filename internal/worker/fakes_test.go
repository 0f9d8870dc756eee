package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"
	"github.com/wktk1187/dagitoru/internal/service/media"
	"github.com/wktk1187/dagitoru/internal/service/notion"
	"github.com/wktk1187/dagitoru/internal/service/summarize"
	"github.com/wktk1187/dagitoru/internal/storage"
)

type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newFakeStore(jobs ...*models.Job) *fakeStore {
	s := &fakeStore{jobs: make(map[string]*models.Job)}
	for _, j := range jobs {
		s.jobs[j.JobID] = j
	}
	return s
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) Advance(ctx context.Context, jobID string, next models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	if job.State.Terminal() {
		return storage.ErrTerminalState
	}
	if !job.State.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", storage.ErrInvalidTransition, job.State, next)
	}
	job.State = next
	return nil
}

func (s *fakeStore) Fail(ctx context.Context, jobID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	if job.State.Terminal() {
		return nil
	}
	job.State = models.JobStateFailed
	job.FailReason = reason
	return nil
}

func (s *fakeStore) SetAudioURI(ctx context.Context, jobID, uri string) error {
	return s.set(jobID, func(j *models.Job) { j.NormalizedAudioURI = uri })
}

func (s *fakeStore) SetTranscript(ctx context.Context, jobID, transcript string) error {
	return s.set(jobID, func(j *models.Job) { j.Transcript = transcript })
}

func (s *fakeStore) SetSummary(ctx context.Context, jobID, summaryJSON string) error {
	return s.set(jobID, func(j *models.Job) { j.SummaryJSON = summaryJSON })
}

func (s *fakeStore) SetPageURL(ctx context.Context, jobID, pageURL string) error {
	return s.set(jobID, func(j *models.Job) { j.PageURL = pageURL })
}

func (s *fakeStore) set(jobID string, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return storage.ErrJobNotFound
	}
	if job.State.Terminal() {
		return storage.ErrTerminalState
	}
	apply(job)
	return nil
}

type fakeExtractor struct {
	uri    string
	err    error
	called bool
}

func (f *fakeExtractor) Extract(ctx context.Context, msg *models.JobMessage, progress func(media.Phase)) (string, error) {
	f.called = true
	if progress != nil {
		progress(media.PhaseDownloading)
		progress(media.PhaseTranscoding)
		progress(media.PhaseUploading)
	}
	return f.uri, f.err
}

type fakeTranscriber struct {
	transcript string
	err        error
	called     bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioURI string) (string, error) {
	f.called = true
	return f.transcript, f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) ReplyInThread(ctx context.Context, channelID, threadTS, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...)
}

// fakeGuard grants every claim once per key, like the redis-backed guard.
type fakeGuard struct {
	mu     sync.Mutex
	denied map[string]bool
	seen   map[string]bool
}

func (f *fakeGuard) Claim(ctx context.Context, jobID, stage string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := jobID + ":" + stage
	if f.denied[stage] {
		return false
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}

type fakeRequeuer struct {
	mu        sync.Mutex
	published []*models.JobMessage
	delayed   []*models.JobMessage
}

func (f *fakeRequeuer) Publish(ctx context.Context, msg *models.JobMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeRequeuer) PublishAfter(ctx context.Context, msg *models.JobMessage, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, msg)
}

type fakeFinisher struct {
	mu      sync.Mutex
	payload *models.CallbackPayload
	pageURL string
	err     error
}

func (f *fakeFinisher) Finish(ctx context.Context, payload *models.CallbackPayload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = payload
	return f.pageURL, f.err
}

type fakeSummarizer struct {
	doc        *models.SummaryDocument
	transcript string
	info       summarize.MeetingInfo
}

func (f *fakeSummarizer) Summarize(ctx context.Context, transcript string, info summarize.MeetingInfo) *models.SummaryDocument {
	f.transcript = transcript
	f.info = info
	if f.doc != nil {
		return f.doc
	}
	return models.DegradedSummary("diag")
}

type fakePersister struct {
	url   string
	err   error
	input *notion.PageInput
	calls int
}

func (f *fakePersister) Persist(ctx context.Context, in *notion.PageInput) (string, error) {
	f.calls++
	f.input = in
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}

var errBoom = errors.New("boom")
