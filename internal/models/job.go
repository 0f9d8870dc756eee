package models

import "time"

// JobState tracks each pipeline stage for a single meeting-video job.
type JobState string

const (
	JobStateCreated      JobState = "created"
	JobStateTextPending  JobState = "text_pending"
	JobStateDownloading  JobState = "downloading"
	JobStateTranscoding  JobState = "transcoding"
	JobStateUploading    JobState = "uploading"
	JobStateTranscribing JobState = "transcribing"
	JobStateSummarizing  JobState = "summarizing"
	JobStatePersisting   JobState = "persisting"
	JobStateNotifying    JobState = "notifying"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
)

var stateOrder = map[JobState]int{
	JobStateCreated:      0,
	JobStateTextPending:  1,
	JobStateDownloading:  2,
	JobStateTranscoding:  3,
	JobStateUploading:    4,
	JobStateTranscribing: 5,
	JobStateSummarizing:  6,
	JobStatePersisting:   7,
	JobStateNotifying:    8,
	JobStateCompleted:    9,
}

// Terminal reports whether no further transitions are allowed.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanAdvanceTo reports whether next is a legal transition from s.
// Transitions are one-directional; Failed is reachable from any
// non-terminal state.
func (s JobState) CanAdvanceTo(next JobState) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStateFailed {
		return true
	}
	cur, ok := stateOrder[s]
	if !ok {
		return false
	}
	n, ok := stateOrder[next]
	if !ok {
		return false
	}
	return n > cur
}

// Job is one end-to-end unit of work transforming one uploaded file into
// one stored summary. Each stage exclusively owns its artifact field.
type Job struct {
	JobID                 string    `json:"job_id"`
	SourceFileID          string    `json:"source_file_id"`
	DownloadURL           string    `json:"download_url"`
	OriginalFileName      string    `json:"original_file_name"`
	OriginalFileExtension string    `json:"original_file_extension"`
	ChannelID             string    `json:"channel_id"`
	ThreadTS              string    `json:"thread_ts"`
	Permalink             string    `json:"permalink"`
	RequesterID           string    `json:"requester_id"`
	OriginalMessageText   string    `json:"original_message_text"`
	State                 JobState  `json:"state"`
	FailReason            string    `json:"fail_reason,omitempty"`
	NormalizedAudioURI    string    `json:"normalized_audio_uri,omitempty"`
	Transcript            string    `json:"transcript,omitempty"`
	SummaryJSON           string    `json:"summary_json,omitempty"`
	PageURL               string    `json:"page_url,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// JobMessage is the queue payload published by the ingestion gateway and
// consumed by the pipeline worker. Field names are the wire contract.
type JobMessage struct {
	JobID                 string `json:"jobId"`
	OriginalFileID        string `json:"originalFileId"`
	SlackFileDownloadURL  string `json:"slackFileDownloadUrl"`
	SlackBotToken         string `json:"slackBotToken"`
	OriginalFileName      string `json:"originalFileName"`
	OriginalFileExtension string `json:"originalFileExtension"`
	SlackChannelID        string `json:"slackChannelId"`
	SlackThreadTS         string `json:"slackThreadTs"`
	SlackFilePermalink    string `json:"slackFilePermalink"`
	SlackUserID           string `json:"slackUserId"`
	OriginalMessageText   string `json:"originalMessageText"`
	EventTS               int64  `json:"eventTs"`
}

// CallbackPayload is the stage-completion callback posted after
// transcription. Transcript is a pointer so that an absent field can be
// told apart from a legitimately empty transcript.
type CallbackPayload struct {
	Transcript          *string `json:"transcript"`
	JobID               string  `json:"jobId"`
	OriginalFileName    string  `json:"originalFileName"`
	SlackChannelID      string  `json:"slackChannelId"`
	SlackThreadTS       string  `json:"slackThreadTs"`
	SlackFilePermalink  string  `json:"slackFilePermalink"`
	OriginalMessageText string  `json:"originalMessageText"`
	GCSAudioURI         string  `json:"gcsAudioUri,omitempty"`
}
