// Package worker pulls jobs off the queue and runs them in the sandbox.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/michaelbrown/crucible/internal/blob"
	"github.com/michaelbrown/crucible/internal/cleanup"
	"github.com/michaelbrown/crucible/internal/lang"
	"github.com/michaelbrown/crucible/internal/metrics"
	"github.com/michaelbrown/crucible/internal/queue"
	"github.com/michaelbrown/crucible/internal/sandbox"
	"github.com/michaelbrown/crucible/internal/storage"
)

// Job outcomes recorded in metrics besides the terminal statuses.
const (
	outcomeMalformed = "malformed"
	outcomeDuplicate = "duplicate"
	outcomePanic     = "panic"
)

// DefaultImage is the sandbox image used when Config.Image is nil.
const DefaultImage = "code-executor-image"

type Config struct {
	BatchSize    int
	WaitTime     time.Duration
	ErrorBackoff time.Duration
	ScratchDir   string
	// Image picks the sandbox image for a language.
	Image func(language string) string
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Queue     queue.Queue
	Blobs     blob.Store
	Store     storage.Store
	Languages *lang.Registry
	Sandbox   sandbox.Sandbox
	Metrics   *metrics.Metrics
	Log       *logrus.Logger
}

type Worker struct {
	cfg      Config
	queue    queue.Queue
	blobs    blob.Store
	langs    *lang.Registry
	sandbox  sandbox.Sandbox
	reporter *Reporter
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func New(cfg Config, deps Deps) *Worker {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.ScratchDir == "" {
		cfg.ScratchDir = os.TempDir()
	}
	if cfg.Image == nil {
		cfg.Image = func(string) string { return DefaultImage }
	}
	if deps.Languages == nil {
		deps.Languages = lang.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	log := deps.Log.WithField("component", "worker")
	return &Worker{
		cfg:      cfg,
		queue:    deps.Queue,
		blobs:    deps.Blobs,
		langs:    deps.Languages,
		sandbox:  deps.Sandbox,
		reporter: NewReporter(deps.Store, log),
		metrics:  deps.Metrics,
		log:      log,
	}
}

// Run polls until ctx is cancelled. Each batch is processed to completion
// before the next receive.
func (w *Worker) Run(ctx context.Context) error {
	w.log.WithFields(logrus.Fields{
		"batch_size": w.cfg.BatchSize,
		"wait_time":  w.cfg.WaitTime,
	}).Info("worker started")

	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopped")
			return nil
		}

		msgs, err := w.queue.Receive(ctx, w.cfg.BatchSize, w.cfg.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.log.WithError(err).Error("receive failed")
			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.ErrorBackoff):
			}
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		w.ProcessBatch(ctx, msgs)
	}
}

// ProcessBatch handles every message concurrently and returns when all are
// done. Jobs keep running if ctx is cancelled mid-batch.
func (w *Worker) ProcessBatch(ctx context.Context, msgs []queue.Message) {
	jobCtx := context.WithoutCancel(ctx)

	var wg conc.WaitGroup
	for _, msg := range msgs {
		wg.Go(func() {
			w.handle(jobCtx, msg)
		})
	}
	wg.Wait()
}

// handle owns one message. Whatever happens, the message is deleted once.
func (w *Worker) handle(ctx context.Context, msg queue.Message) {
	defer w.ack(ctx, msg)

	job, err := queue.Decode(msg.Body)
	if err != nil {
		log := w.log.WithError(err).WithFields(logrus.Fields{
			"handle":        msg.Handle,
			"submission_id": job.SubmissionID,
		})
		log.Warn("dropping malformed job")
		if job.SubmissionID != "" {
			w.fail(ctx, job, "", err.Error(), log)
		}
		w.metrics.RecordJob("", outcomeMalformed)
		return
	}

	log := w.log.WithFields(logrus.Fields{
		"submission_id": job.SubmissionID,
		"language":      job.Language,
	})

	var outcome string
	var pc panics.Catcher
	pc.Try(func() {
		outcome = w.execute(ctx, job, log)
	})
	if r := pc.Recovered(); r != nil {
		log.WithField("panic", r.Value).Errorf("job panicked\n%s", r.Stack)
		w.fail(ctx, job, "", fmt.Sprintf("internal error: %v", r.Value), log)
		outcome = outcomePanic
	}
	w.metrics.RecordJob(job.Language, outcome)
}

func (w *Worker) ack(ctx context.Context, msg queue.Message) {
	err := w.queue.Delete(ctx, msg.Handle)
	w.metrics.RecordAck(err == nil)
	if err != nil {
		w.log.WithError(err).WithField("handle", msg.Handle).Error("delete failed")
	}
}

// execute runs one job and records its terminal status. It returns the
// outcome for metrics.
func (w *Worker) execute(ctx context.Context, job queue.Job, log *logrus.Entry) string {
	log.Info("processing job")

	strategy, err := w.langs.Lookup(job.Language)
	if err != nil {
		log.WithError(err).Warn("job rejected")
		return w.fail(ctx, job, "", err.Error(), log)
	}

	source, err := w.blobs.Get(ctx, job.SourceKey)
	if err != nil {
		return w.infraFail(ctx, job, fmt.Errorf("loading source: %w", err), log)
	}

	dir, err := os.MkdirTemp(w.cfg.ScratchDir, "job-"+job.SubmissionID+"-*")
	if err != nil {
		return w.infraFail(ctx, job, fmt.Errorf("creating scratch dir: %w", err), log)
	}
	cm := cleanup.New(log)
	defer cm.Run()
	cm.Track(dir)

	unit := strategy.Prepare(string(source))
	srcPath := filepath.Join(dir, unit.FileName)
	cm.Track(srcPath)
	for _, a := range unit.BuildArtifacts {
		cm.Track(filepath.Join(dir, a))
	}
	if err := os.WriteFile(srcPath, source, 0o644); err != nil {
		return w.infraFail(ctx, job, fmt.Errorf("writing source: %w", err), log)
	}

	if err := w.reporter.MarkRunning(ctx, job.SubmissionID); err != nil {
		if errors.Is(err, storage.ErrNotTransitioned) {
			return outcomeDuplicate
		}
		return w.infraFail(ctx, job, fmt.Errorf("marking running: %w", err), log)
	}

	res, err := w.sandbox.Exec(ctx, sandbox.ExecOpts{
		Image:    w.cfg.Image(job.Language),
		Command:  strategy.Command(unit),
		HostPath: srcPath,
		FileName: unit.FileName,
	})
	if err != nil {
		return w.infraFail(ctx, job, err, log)
	}
	w.metrics.RecordSandbox(job.Language, res.Duration)

	outKey := blob.OutputKey(job.SubmissionID)
	if err := w.blobs.Put(ctx, outKey, []byte(res.Output())); err != nil {
		return w.infraFail(ctx, job, fmt.Errorf("storing output: %w", err), log)
	}

	log = log.WithFields(logrus.Fields{
		"exit_code":   res.ExitCode,
		"timed_out":   res.TimedOut,
		"duration_ms": res.Duration.Milliseconds(),
	})

	if res.Failed() {
		msg := res.Stderr
		if msg == "" {
			msg = fmt.Sprintf("exited with code %d", res.ExitCode)
		}
		log.Info("job finished with execution error")
		return w.fail(ctx, job, outKey, msg, log)
	}

	if err := w.reporter.MarkCompleted(ctx, job.SubmissionID, outKey); err != nil {
		if errors.Is(err, storage.ErrNotTransitioned) {
			return outcomeDuplicate
		}
		log.WithError(err).Error("recording completion failed")
	}
	log.Info("job completed")
	return string(storage.StatusCompleted)
}

func (w *Worker) infraFail(ctx context.Context, job queue.Job, err error, log *logrus.Entry) string {
	log.WithError(err).Error("job failed")
	return w.fail(ctx, job, "", err.Error(), log)
}

// fail marks the submission as errored on a best-effort basis.
func (w *Worker) fail(ctx context.Context, job queue.Job, outputKey, message string, log *logrus.Entry) string {
	err := w.reporter.MarkFailed(ctx, job.SubmissionID, outputKey, message)
	if err != nil && !errors.Is(err, storage.ErrNotTransitioned) {
		log.WithError(err).Error("recording failure failed")
	}
	return string(storage.StatusError)
}
