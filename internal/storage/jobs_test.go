package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/wktk1187/dagitoru/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewJobStore(db, "sqlite3")
}

func testJob(id string) *models.Job {
	return &models.Job{
		JobID:               id,
		SourceFileID:        "F123",
		DownloadURL:         "https://files.example.com/v.mp4",
		OriginalFileName:    "meeting.mp4",
		ChannelID:           "C1",
		ThreadTS:            "1712345678.000100",
		RequesterID:         "U1",
		OriginalMessageText: "kickoff",
		State:               models.JobStateCreated,
	}
}

func TestMarkEventHandledDeduplicates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.MarkEventHandled(ctx, "Ev1", "file_shared")
	if err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if !first {
		t.Fatal("first delivery should report true")
	}
	again, err := store.MarkEventHandled(ctx, "Ev1", "file_shared")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if again {
		t.Fatal("duplicate delivery should report false")
	}
	other, err := store.MarkEventHandled(ctx, "Ev2", "message")
	if err != nil || !other {
		t.Fatalf("distinct event id should be first: %v %v", other, err)
	}
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.CreateJob(ctx, testJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SourceFileID != "F123" || got.State != models.JobStateCreated {
		t.Errorf("unexpected job: %+v", got)
	}

	if _, err := store.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job: got %v, want ErrJobNotFound", err)
	}
}

func TestAdvanceEnforcesOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateJob(ctx, testJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.Advance(ctx, "j1", models.JobStateDownloading); err != nil {
		t.Fatalf("created -> downloading: %v", err)
	}
	if err := store.Advance(ctx, "j1", models.JobStateCreated); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("rewind: got %v, want ErrInvalidTransition", err)
	}
	if err := store.Advance(ctx, "j1", models.JobStateTranscribing); err != nil {
		t.Fatalf("downloading -> transcribing: %v", err)
	}

	got, _ := store.GetJob(ctx, "j1")
	if got.State != models.JobStateTranscribing {
		t.Errorf("state = %s, want transcribing", got.State)
	}
}

func TestTerminalStateFreezesRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateJob(ctx, testJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Fail(ctx, "j1", "boom"); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := store.Advance(ctx, "j1", models.JobStateDownloading); !errors.Is(err, ErrTerminalState) {
		t.Errorf("advance after fail: got %v, want ErrTerminalState", err)
	}
	if err := store.SetTranscript(ctx, "j1", "late"); !errors.Is(err, ErrTerminalState) {
		t.Errorf("artifact write after fail: got %v, want ErrTerminalState", err)
	}

	// A second fail must not clobber the original reason.
	if err := store.Fail(ctx, "j1", "other"); err != nil {
		t.Fatalf("second fail: %v", err)
	}
	got, _ := store.GetJob(ctx, "j1")
	if got.FailReason != "boom" {
		t.Errorf("fail reason = %q, want boom", got.FailReason)
	}
}

func TestArtifactWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.CreateJob(ctx, testJob("j1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.SetAudioURI(ctx, "j1", "gs://b/audio/a.wav"); err != nil {
		t.Fatalf("set audio uri: %v", err)
	}
	if err := store.SetTranscript(ctx, "j1", ""); err != nil {
		t.Fatalf("empty transcript is a valid artifact: %v", err)
	}
	if err := store.SetPageURL(ctx, "j1", "https://www.notion.so/abc"); err != nil {
		t.Fatalf("set page url: %v", err)
	}

	got, _ := store.GetJob(ctx, "j1")
	if got.NormalizedAudioURI != "gs://b/audio/a.wav" || got.PageURL != "https://www.notion.so/abc" {
		t.Errorf("artifacts not recorded: %+v", got)
	}
}

func TestMergeMessageText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pending := testJob("j1")
	pending.OriginalMessageText = ""
	pending.State = models.JobStateTextPending
	if err := store.CreateJob(ctx, pending); err != nil {
		t.Fatalf("create: %v", err)
	}

	jobID, err := store.MergeMessageText(ctx, "F123", "クライアント名: 株式会社テスト")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if jobID != "j1" {
		t.Fatalf("merged job id = %q, want j1", jobID)
	}

	got, _ := store.GetJob(ctx, "j1")
	if got.OriginalMessageText != "クライアント名: 株式会社テスト" {
		t.Errorf("text not merged: %q", got.OriginalMessageText)
	}
	if got.State != models.JobStateCreated {
		t.Errorf("state = %s, want created", got.State)
	}

	// Nothing waiting: merge is a no-op, not an error.
	jobID, err = store.MergeMessageText(ctx, "F999", "text")
	if err != nil || jobID != "" {
		t.Errorf("merge with no pending job: got %q %v", jobID, err)
	}
}
