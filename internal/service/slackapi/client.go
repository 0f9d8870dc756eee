package slackapi

import (
	"context"
	"errors"
	"fmt"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// FileInfo is the subset of file metadata the pipeline needs.
type FileInfo struct {
	DownloadURL string
	Name        string
	Filetype    string
	Permalink   string
}

// Client wraps the Slack web API for file resolution and threaded
// replies. With no bot token it stays unconfigured and every call
// reports so, leaving the owning stage degraded instead of crashing.
type Client struct {
	api      *slack.Client
	botToken string
	logger   *zap.Logger
}

func New(botToken string, logger *zap.Logger) *Client {
	c := &Client{botToken: botToken, logger: logger}
	if botToken == "" {
		logger.Warn("slack bot token not set, slack api calls will be skipped")
		return c
	}
	c.api = slack.New(botToken)
	return c
}

// Configured reports whether the underlying web client exists.
func (c *Client) Configured() bool {
	return c != nil && c.api != nil
}

// BotToken returns the credential used for authenticated file downloads.
func (c *Client) BotToken() string {
	return c.botToken
}

// FileInfo resolves download URL, name, extension and permalink for an
// uploaded file.
func (c *Client) FileInfo(ctx context.Context, fileID string) (*FileInfo, error) {
	if !c.Configured() {
		return nil, errors.New("slack client not configured")
	}
	file, _, _, err := c.api.GetFileInfoContext(ctx, fileID, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch file info %s: %w", fileID, err)
	}
	if file.URLPrivateDownload == "" {
		return nil, fmt.Errorf("file %s has no private download url", fileID)
	}
	return &FileInfo{
		DownloadURL: file.URLPrivateDownload,
		Name:        file.Name,
		Filetype:    file.Filetype,
		Permalink:   file.Permalink,
	}, nil
}

// ReplyInThread posts a threaded status message. Callers treat failures
// as best-effort: a job never fails because its notification did.
func (c *Client) ReplyInThread(ctx context.Context, channelID, threadTS, text string) error {
	if !c.Configured() {
		return errors.New("slack client not configured")
	}
	_, _, err := c.api.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(threadTS))
	if err != nil {
		return fmt.Errorf("post message to %s: %w", channelID, err)
	}
	return nil
}
