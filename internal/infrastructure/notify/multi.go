package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/vitos/volume_anomaly_bot/internal/domain"
)

// Multi fans an event out to every sink. One failing sink does not stop the others.
type Multi []domain.Notifier

func (m Multi) Notify(ctx context.Context, ev domain.Event) error {
	var errs []error
	for i, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
