// Package notifier is the delivery boundary. The dispatcher fans out over
// the Notifier interface; mailgun is the production transport.
package notifier

import (
	"context"

	"github.com/clinicore/report-exporter/internal/model"
)

type Notifier interface {
	Send(ctx context.Context, recipient string, artifact *model.Artifact) error
}
