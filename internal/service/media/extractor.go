package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wktk1187/dagitoru/internal/models"

	"go.uber.org/zap"
)

// ErrOutputMissing reports the known silent-failure mode of the
// transform: a success exit code with no output file on disk.
var ErrOutputMissing = errors.New("transcode output not found")

// Phase identifies the sub-step an extraction is entering. Callers use
// it to record per-stage progress on the job.
type Phase string

const (
	PhaseDownloading Phase = "downloading"
	PhaseTranscoding Phase = "transcoding"
	PhaseUploading   Phase = "uploading"
)

// ffmpegArgs are the fixed normalization parameters. The transcription
// API requires exactly mono 16 kHz 16-bit linear PCM; anything else is a
// contract violation, not a tunable.
func ffmpegArgs(in, out string) []string {
	return []string{"-i", in, "-vn", "-acodec", "pcm_s16le", "-ar", "16000", "-ac", "1", out}
}

// Extractor downloads the source media, normalizes its audio track and
// uploads the result to object storage. Scratch files are removed on
// every exit path.
type Extractor struct {
	httpClient *http.Client
	uploader   Uploader
	scratchDir string
	ffmpegPath string
	logger     *zap.Logger
}

func NewExtractor(uploader Uploader, scratchDir, ffmpegPath string, logger *zap.Logger) *Extractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Extractor{
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		uploader:   uploader,
		scratchDir: scratchDir,
		ffmpegPath: ffmpegPath,
		logger:     logger,
	}
}

// Extract runs the media stage for one job and returns the gs:// URI of
// the normalized audio. progress, when non-nil, is called as each phase
// begins.
func (e *Extractor) Extract(ctx context.Context, msg *models.JobMessage, progress func(Phase)) (uri string, err error) {
	if progress == nil {
		progress = func(Phase) {}
	}
	if e.uploader == nil {
		return "", errors.New("object storage not configured")
	}
	if err := os.MkdirAll(e.scratchDir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}

	ext := msg.OriginalFileExtension
	if ext == "" {
		ext = "mp4"
	}
	base := fmt.Sprintf("video_%s_%s", msg.OriginalFileID, msg.JobID)
	tempVideoPath := filepath.Join(e.scratchDir, base+"."+ext)
	tempAudioPath := filepath.Join(e.scratchDir, base+".wav")

	defer func() {
		e.removeScratch(tempVideoPath)
		e.removeScratch(tempAudioPath)
	}()

	progress(PhaseDownloading)
	if err := e.download(ctx, msg.SlackFileDownloadURL, msg.SlackBotToken, tempVideoPath); err != nil {
		return "", fmt.Errorf("download source media: %w", err)
	}
	e.logger.Info("source media downloaded", zap.String("jobId", msg.JobID), zap.String("path", tempVideoPath))

	progress(PhaseTranscoding)
	if err := e.transcode(ctx, tempVideoPath, tempAudioPath); err != nil {
		return "", err
	}
	e.logger.Info("audio normalized", zap.String("jobId", msg.JobID), zap.String("path", tempAudioPath))

	progress(PhaseUploading)
	objectPath := "audio/" + filepath.Base(tempAudioPath)
	uri, err = e.uploader.Upload(ctx, tempAudioPath, objectPath)
	if err != nil {
		return "", fmt.Errorf("upload normalized audio: %w", err)
	}
	return uri, nil
}

// download streams the source file to scratch storage. Completion is the
// writer's Close result, not a byte count.
func (e *Extractor) download(ctx context.Context, url, bearer, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// transcode invokes the external transform and verifies both its exit
// code and the presence of the output file; ffmpeg is known to exit zero
// without producing output in some failure modes.
func (e *Extractor) transcode(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, ffmpegArgs(in, out)...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w (output: %s)", err, truncate(string(output), 2000))
	}
	if _, statErr := os.Stat(out); statErr != nil {
		return fmt.Errorf("%w: ffmpeg exited 0 but %s is missing", ErrOutputMissing, filepath.Base(out))
	}
	return nil
}

// removeScratch deletes a scratch file; deletion failure is logged only,
// never escalated.
func (e *Extractor) removeScratch(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("scratch file cleanup failed", zap.String("path", path), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
