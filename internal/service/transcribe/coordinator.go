package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
)

// Coordinator drives long-running speech recognition against audio
// already uploaded to object storage. Recordings run long, so the
// synchronous recognize call is never an option.
type Coordinator struct {
	client       *speech.Client
	languageCode string
	waitTimeout  time.Duration
	logger       *zap.Logger
}

func NewCoordinator(ctx context.Context, languageCode string, waitTimeout time.Duration, logger *zap.Logger) (*Coordinator, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	if languageCode == "" {
		languageCode = "ja-JP"
	}
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Minute
	}
	return &Coordinator{
		client:       client,
		languageCode: languageCode,
		waitTimeout:  waitTimeout,
		logger:       logger,
	}, nil
}

// Transcribe starts a long-running recognition job for the object at
// audioURI and waits for it, bounded by the configured timeout. Segment
// transcripts are joined with newlines; no speech at all yields an empty
// transcript, which is a valid result, not an error.
func (c *Coordinator) Transcribe(ctx context.Context, audioURI string) (string, error) {
	if !strings.HasPrefix(audioURI, "gs://") {
		return "", fmt.Errorf("audio uri %q is not a gs:// object", audioURI)
	}

	req := &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            16000,
			LanguageCode:               c.languageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Uri{Uri: audioURI},
		},
	}

	op, err := c.client.LongRunningRecognize(ctx, req)
	if err != nil {
		return "", fmt.Errorf("start recognition: %w", err)
	}
	c.logger.Info("recognition started", zap.String("uri", audioURI), zap.String("operation", op.Name()))

	waitCtx, cancel := context.WithTimeout(ctx, c.waitTimeout)
	defer cancel()

	resp, err := op.Wait(waitCtx)
	if err != nil {
		if errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("recognition timed out after %s: %w", c.waitTimeout, err)
		}
		return "", fmt.Errorf("wait for recognition: %w", err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		alts := result.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		parts = append(parts, alts[0].GetTranscript())
	}
	transcript := strings.Join(parts, "\n")
	c.logger.Info("recognition finished", zap.String("uri", audioURI), zap.Int("segments", len(parts)), zap.Int("chars", len(transcript)))
	return transcript, nil
}

func (c *Coordinator) Close() error {
	return c.client.Close()
}
