package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"
)

var (
	// ErrTerminalState is returned when a write targets a job that has
	// already completed or failed.
	ErrTerminalState = errors.New("job is in a terminal state")
	// ErrInvalidTransition is returned for out-of-order state changes.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrJobNotFound is returned when the job id is unknown.
	ErrJobNotFound = errors.New("job not found")
)

// JobStore is the durable per-job record plus the event dedup ledger.
type JobStore struct {
	db     *sql.DB
	driver string
}

func NewJobStore(db *sql.DB, driver string) *JobStore {
	return &JobStore{db: db, driver: strings.ToLower(driver)}
}

// MarkEventHandled atomically records an inbound event id. It reports
// true when this delivery is the first one seen; duplicate deliveries of
// the same event id report false without error.
func (s *JobStore) MarkEventHandled(ctx context.Context, eventID, eventType string) (bool, error) {
	ev := models.InboundEvent{EventID: eventID, Type: eventType, ReceivedAt: time.Now().UTC()}
	var stmt string
	switch s.driver {
	case "mysql":
		stmt = `INSERT IGNORE INTO slack_events (event_id, event_type, received_at) VALUES (?, ?, ?)`
	default:
		stmt = `INSERT OR IGNORE INTO slack_events (event_id, event_type, received_at) VALUES (?, ?, ?)`
	}
	res, err := s.db.ExecContext(ctx, stmt, ev.EventID, ev.Type, ev.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("record event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record event %s: %w", eventID, err)
	}
	return n > 0, nil
}

// CreateJob persists a freshly minted job record.
func (s *JobStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job == nil || job.JobID == "" {
		return errors.New("job id required")
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.State == "" {
		job.State = models.JobStateCreated
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, source_file_id, download_url, file_name, file_ext,
			channel_id, thread_ts, permalink, requester_id, message_text,
			state, fail_reason, audio_uri, transcript, summary_json, page_url,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '', '', '', ?, ?)`,
		job.JobID, job.SourceFileID, job.DownloadURL, job.OriginalFileName,
		job.OriginalFileExtension, job.ChannelID, job.ThreadTS, job.Permalink,
		job.RequesterID, job.OriginalMessageText, string(job.State),
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.JobID, err)
	}
	return nil
}

// GetJob loads the full job record.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, source_file_id, download_url, file_name, file_ext,
			channel_id, thread_ts, permalink, requester_id, message_text,
			state, fail_reason, audio_uri, transcript, summary_json, page_url,
			created_at, updated_at
		FROM jobs WHERE job_id = ?`, jobID)

	var job models.Job
	var state string
	err := row.Scan(&job.JobID, &job.SourceFileID, &job.DownloadURL,
		&job.OriginalFileName, &job.OriginalFileExtension, &job.ChannelID,
		&job.ThreadTS, &job.Permalink, &job.RequesterID, &job.OriginalMessageText,
		&state, &job.FailReason, &job.NormalizedAudioURI, &job.Transcript,
		&job.SummaryJSON, &job.PageURL, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	job.State = models.JobState(state)
	return &job, nil
}

// Advance moves the job into the next pipeline state. The transition is
// validated against the current state and persisted with an optimistic
// guard, so a concurrent redelivery cannot rewind the record.
func (s *JobStore) Advance(ctx context.Context, jobID string, next models.JobState) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return ErrTerminalState
	}
	if !job.State.CanAdvanceTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.State, next)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, updated_at = ? WHERE job_id = ? AND state = ?`,
		string(next), time.Now().UTC(), jobID, string(job.State))
	if err != nil {
		return fmt.Errorf("advance job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: state changed concurrently", ErrInvalidTransition)
	}
	return nil
}

// Fail marks the job failed with a human-readable reason. A job already
// in a terminal state is left untouched.
func (s *JobStore) Fail(ctx context.Context, jobID, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, fail_reason = ?, updated_at = ?
		WHERE job_id = ? AND state NOT IN (?, ?)`,
		string(models.JobStateFailed), reason, time.Now().UTC(), jobID,
		string(models.JobStateCompleted), string(models.JobStateFailed))
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// SetAudioURI records the media stage artifact.
func (s *JobStore) SetAudioURI(ctx context.Context, jobID, uri string) error {
	return s.setArtifact(ctx, jobID, "audio_uri", uri)
}

// SetTranscript records the transcription stage artifact.
func (s *JobStore) SetTranscript(ctx context.Context, jobID, transcript string) error {
	return s.setArtifact(ctx, jobID, "transcript", transcript)
}

// SetSummary records the summarization stage artifact.
func (s *JobStore) SetSummary(ctx context.Context, jobID, summaryJSON string) error {
	return s.setArtifact(ctx, jobID, "summary_json", summaryJSON)
}

// SetPageURL records the persistence stage artifact.
func (s *JobStore) SetPageURL(ctx context.Context, jobID, pageURL string) error {
	return s.setArtifact(ctx, jobID, "page_url", pageURL)
}

// setArtifact writes one stage-owned field in a single statement guarded
// against terminal states, giving field-level atomicity per stage.
func (s *JobStore) setArtifact(ctx context.Context, jobID, column, value string) error {
	stmt := fmt.Sprintf(
		`UPDATE jobs SET %s = ?, updated_at = ? WHERE job_id = ? AND state NOT IN (?, ?)`,
		column)
	res, err := s.db.ExecContext(ctx, stmt, value, time.Now().UTC(), jobID,
		string(models.JobStateCompleted), string(models.JobStateFailed))
	if err != nil {
		return fmt.Errorf("set %s for job %s: %w", column, jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTerminalState
	}
	return nil
}

// MergeMessageText attaches later-arriving message text to the pending
// job for the given file and releases it from the holding state. Returns
// the job id, or empty when no job was waiting for text.
func (s *JobStore) MergeMessageText(ctx context.Context, fileID, text string) (string, error) {
	var jobID string
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id FROM jobs WHERE source_file_id = ? AND state = ?`,
		fileID, string(models.JobStateTextPending)).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup pending job for file %s: %w", fileID, err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET message_text = ?, state = ?, updated_at = ?
		WHERE job_id = ? AND state = ?`,
		text, string(models.JobStateCreated), time.Now().UTC(), jobID,
		string(models.JobStateTextPending))
	if err != nil {
		return "", fmt.Errorf("merge text into job %s: %w", jobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", nil
	}
	return jobID, nil
}
