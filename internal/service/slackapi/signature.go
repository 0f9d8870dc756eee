package slackapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/slack-go/slack"
)

// ErrSecretMissing means signature verification cannot run at all.
var ErrSecretMissing = errors.New("signing secret not configured")

// VerifySignature checks the v0 request signature (HMAC over
// "v0:<timestamp>:<body>") in constant time and rejects timestamps more
// than five minutes from now. The verification-challenge handshake is the
// only request allowed to bypass this.
func VerifySignature(secret string, header http.Header, body []byte) error {
	if secret == "" {
		return ErrSecretMissing
	}
	sv, err := slack.NewSecretsVerifier(header, secret)
	if err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if _, err := sv.Write(body); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	if err := sv.Ensure(); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}
	return nil
}
