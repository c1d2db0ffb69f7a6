// Package submission accepts source code for execution and reports on it.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/crucible/internal/blob"
	"github.com/michaelbrown/crucible/internal/lang"
	"github.com/michaelbrown/crucible/internal/metrics"
	"github.com/michaelbrown/crucible/internal/queue"
	"github.com/michaelbrown/crucible/internal/storage"
)

// ErrValidation wraps every input rejection from Submit.
var ErrValidation = errors.New("invalid submission")

// MaxSourceBytes caps the size of submitted source.
const MaxSourceBytes = 64 << 10

// StatusView is what callers see when polling a submission. Output is set
// only once the submission is terminal.
type StatusView struct {
	SubmissionID string         `json:"submissionId" yaml:"submissionId"`
	Status       storage.Status `json:"status" yaml:"status"`
	Language     string         `json:"language" yaml:"language"`
	CreatedAt    time.Time      `json:"createdAt" yaml:"createdAt"`
	CompletedAt  *time.Time     `json:"completedAt" yaml:"completedAt"`
	Output       *string        `json:"output" yaml:"output"`
}

type Service struct {
	store   storage.Store
	blobs   blob.Store
	queue   queue.Queue
	langs   *lang.Registry
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewService(store storage.Store, blobs blob.Store, q queue.Queue, langs *lang.Registry, m *metrics.Metrics, log *logrus.Logger) *Service {
	if langs == nil {
		langs = lang.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:   store,
		blobs:   blobs,
		queue:   q,
		langs:   langs,
		metrics: m,
		log:     log.WithField("component", "submission"),
	}
}

// Languages lists the accepted language identifiers.
func (s *Service) Languages() []string {
	return s.langs.Names()
}

// Submit stores the source, records a pending submission and enqueues it.
func (s *Service) Submit(ctx context.Context, language, code string) (*storage.Submission, error) {
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: code is required", ErrValidation)
	}
	if len(code) > MaxSourceBytes {
		return nil, fmt.Errorf("%w: code exceeds %d bytes", ErrValidation, MaxSourceBytes)
	}
	strategy, err := s.langs.Lookup(language)
	if err != nil {
		return nil, fmt.Errorf("%w: unsupported language %q", ErrValidation, language)
	}

	id := uuid.NewString()
	sub := &storage.Submission{
		ID:        id,
		Language:  language,
		SourceKey: blob.SourceKey(id, strategy.Extension()),
		Status:    storage.StatusPending,
	}

	if err := s.blobs.Put(ctx, sub.SourceKey, []byte(code)); err != nil {
		return nil, fmt.Errorf("storing source: %w", err)
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("recording submission: %w", err)
	}

	body, err := queue.Encode(queue.Job{SubmissionID: id, Language: language, SourceKey: sub.SourceKey})
	if err != nil {
		return nil, fmt.Errorf("encoding job: %w", err)
	}
	if err := s.queue.Send(ctx, body); err != nil {
		// Nothing will ever pick the row up, so close it out.
		msg := "could not enqueue submission"
		if ferr := s.store.Finish(ctx, id, storage.Outcome{Status: storage.StatusError, ErrorMessage: &msg}); ferr != nil {
			s.log.WithError(ferr).WithField("submission_id", id).Warn("closing unqueued submission failed")
		}
		return nil, fmt.Errorf("enqueueing job: %w", err)
	}

	s.metrics.RecordSubmission(language)
	s.log.WithFields(logrus.Fields{"submission_id": id, "language": language}).Info("submission queued")
	return sub, nil
}

// Status returns the current view of a submission. For terminal
// submissions the output blob is preferred, falling back to the stored
// error text when the blob is absent or unreadable.
func (s *Service) Status(ctx context.Context, id string) (*StatusView, error) {
	sub, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &StatusView{
		SubmissionID: sub.ID,
		Status:       sub.Status,
		Language:     sub.Language,
		CreatedAt:    sub.CreatedAt,
		CompletedAt:  sub.CompletedAt,
	}
	if !sub.Status.Terminal() {
		return view, nil
	}

	if sub.OutputKey != nil {
		data, err := s.blobs.Get(ctx, *sub.OutputKey)
		if err != nil {
			s.log.WithError(err).WithField("submission_id", id).Warn("reading output failed")
		} else if len(data) > 0 {
			out := string(data)
			view.Output = &out
		}
	}
	if view.Output == nil && sub.ErrorMessage != nil && *sub.ErrorMessage != "" {
		out := *sub.ErrorMessage
		view.Output = &out
	}
	return view, nil
}

// DefaultWaitInterval is used by Wait for a non-positive interval.
const DefaultWaitInterval = time.Second

// Wait polls Status until the submission is terminal or ctx ends.
func (s *Service) Wait(ctx context.Context, id string, interval time.Duration) (*StatusView, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := s.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.Status.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) List(ctx context.Context, opts storage.ListOptions) ([]storage.Submission, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, opts.Status)
	}
	return s.store.List(ctx, opts)
}
