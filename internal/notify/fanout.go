package notify

import (
	"context"
	"errors"

	"github.com/micro-ha/follower-watch/internal/model"
)

// Notifier receives alerts.
type Notifier interface {
	Notify(ctx context.Context, alert model.Alert) error
}

// Fanout delivers every alert to all sinks and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, alert model.Alert) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
