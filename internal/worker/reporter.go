package worker

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/crucible/internal/storage"
)

// Reporter writes submission status transitions. Writes that the store
// rejects because the row already moved on are logged and returned as
// storage.ErrNotTransitioned.
type Reporter struct {
	store storage.Store
	log   *logrus.Entry
}

func NewReporter(store storage.Store, log *logrus.Entry) *Reporter {
	return &Reporter{store: store, log: log}
}

func (r *Reporter) MarkRunning(ctx context.Context, id string) error {
	return r.check(id, storage.StatusRunning, r.store.MarkRunning(ctx, id))
}

func (r *Reporter) MarkCompleted(ctx context.Context, id, outputKey string) error {
	err := r.store.Finish(ctx, id, storage.Outcome{
		Status:    storage.StatusCompleted,
		OutputKey: optional(outputKey),
	})
	return r.check(id, storage.StatusCompleted, err)
}

// MarkFailed records an error outcome. outputKey is empty when the job
// failed before any output was written.
func (r *Reporter) MarkFailed(ctx context.Context, id, outputKey, message string) error {
	err := r.store.Finish(ctx, id, storage.Outcome{
		Status:       storage.StatusError,
		OutputKey:    optional(outputKey),
		ErrorMessage: &message,
	})
	return r.check(id, storage.StatusError, err)
}

func (r *Reporter) check(id string, to storage.Status, err error) error {
	if errors.Is(err, storage.ErrNotTransitioned) {
		r.log.WithFields(logrus.Fields{
			"submission_id": id,
			"status":        to,
		}).Info("status write skipped, submission already moved on")
	}
	return err
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
