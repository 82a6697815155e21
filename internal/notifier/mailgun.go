package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	conf "github.com/clinicore/report-exporter/config"
	"github.com/clinicore/report-exporter/internal/errors"
	"github.com/clinicore/report-exporter/internal/model"
)

const sendTimeout = 30 * time.Second

// MailgunNotifier delivers artifacts as email attachments.
type MailgunNotifier struct {
	mg   mailgun.Mailgun
	from string
}

func NewMailgunNotifier(cfg *conf.MailgunConfig) (*MailgunNotifier, error) {
	if cfg == nil || cfg.Domain == "" || cfg.Key == "" || cfg.From == "" {
		return nil, errors.Internal("invalid mailgun configuration",
			errors.WithID("notifier.mailgun.new.config"))
	}
	return &MailgunNotifier{
		mg:   mailgun.NewMailgun(cfg.Domain, cfg.Key),
		from: cfg.From,
	}, nil
}

func (n *MailgunNotifier) Send(ctx context.Context, recipient string, artifact *model.Artifact) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subject := fmt.Sprintf("Scheduled export: %s", artifact.FileName)
	body := fmt.Sprintf("The export %s is attached.", artifact.FileName)

	message := n.mg.NewMessage(n.from, subject, body, recipient)
	message.AddBufferAttachment(artifact.FileName, artifact.Data)

	if _, _, err := n.mg.Send(ctx, message); err != nil {
		return errors.Delivery("mailgun send failed for "+recipient,
			errors.WithID("notifier.mailgun.send"), errors.WithCause(err))
	}
	return nil
}
