package notify

import (
	"context"
	"fmt"

	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// SendEmail mails event to the configured recipients. An unconfigured Graph
// setup is a no-op.
func SendEmail(ctx context.Context, client *GraphClient, cfg *GraphConfig, event Event) error {
	if !IsConfigured(cfg) {
		return nil
	}
	recipients := ParseRecipients(cfg.Recipients)
	if len(recipients) == 0 {
		return fmt.Errorf("no valid recipients")
	}
	if err := client.SendMail(ctx, recipients, event.Subject(), event.Body()); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}
