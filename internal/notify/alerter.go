package notify

import (
	"context"
	"fmt"

	"github.com/gabikreal1/LiquiDOT-sub001/internal/domain"
)

// Alerter bridges position alerts onto the notification channels. Severity
// maps to the event type, so operators can filter (e.g. receive only
// critical liquidation failures).
type Alerter struct {
	notifier *Notifier
}

// NewAlerter wraps a Notifier as a domain Alerter.
func NewAlerter(n *Notifier) *Alerter {
	return &Alerter{notifier: n}
}

// Notify forwards a position alert. Critical alerts bypass the event filter;
// lower severities honor it.
func (a *Alerter) Notify(ctx context.Context, severity domain.Severity, positionID int64, message string) error {
	title := fmt.Sprintf("[%s] position %d", severity, positionID)
	if severity == domain.SeverityCritical {
		return a.notifier.NotifyAll(ctx, title, message)
	}
	return a.notifier.Notify(ctx, string(severity), title, message)
}

var _ domain.Alerter = (*Alerter)(nil)
