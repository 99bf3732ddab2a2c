package intake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/platform/blobstore"
	"github.com/intake/intake/internal/platform/queue"
)

// Worker consumes reconciliation jobs: fetch the artifact, decode it, run the
// reconciler, and publish the result as the task status. Delivery is at least
// once; reprocessing a job is safe because reconciliation is idempotent.
type Worker struct {
	queue        queue.Queue
	status       queue.StatusStore
	store        blobstore.BlobStore
	reconciler   *Reconciler
	logger       zerolog.Logger
	storeTimeout time.Duration
	retryDelay   time.Duration
}

func NewWorker(q queue.Queue, status queue.StatusStore, store blobstore.BlobStore, reconciler *Reconciler, logger zerolog.Logger, storeTimeout time.Duration) *Worker {
	return &Worker{
		queue:        q,
		status:       status,
		store:        store,
		reconciler:   reconciler,
		logger:       logger,
		storeTimeout: storeTimeout,
		retryDelay:   time.Second,
	}
}

// Run consumes jobs until ctx is cancelled. A failed dequeue is logged and
// retried after a short delay so a transient broker error never kills the
// consumer loop.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Msg("worker started")
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info().Msg("worker stopped")
				return nil
			}
			w.logger.Error().Err(err).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				w.logger.Info().Msg("worker stopped")
				return nil
			case <-time.After(w.retryDelay):
			}
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *queue.Job) {
	log := w.logger.With().
		Str("task_id", job.TaskID).
		Str("csv_filename", job.ArtifactKey).
		Logger()
	log.Info().Msg("processing batch")

	w.setStatus(ctx, queue.TaskStatus{
		TaskID: job.TaskID,
		State:  queue.StateRunning,
	})

	getCtx, cancel := context.WithTimeout(ctx, w.storeTimeout)
	data, err := w.store.Get(getCtx, job.ArtifactKey)
	cancel()
	if err != nil {
		log.Error().Err(err).Msg("fetch artifact failed")
		w.fail(ctx, job.TaskID, "fetch artifact: "+err.Error())
		return
	}

	records, err := DecodeCSV(data)
	if err != nil {
		log.Error().Err(err).Msg("decode artifact failed")
		w.fail(ctx, job.TaskID, "decode artifact: "+err.Error())
		return
	}

	result := w.reconciler.Run(ctx, job.ArtifactKey, records)

	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Msg("marshal result failed")
		w.fail(ctx, job.TaskID, "marshal result: "+err.Error())
		return
	}
	w.setStatus(ctx, queue.TaskStatus{
		TaskID: job.TaskID,
		State:  queue.StateCompleted,
		Result: payload,
	})

	log.Info().
		Int("total_records", result.TotalRecords).
		Int("patients_created", result.PatientsCreated).
		Int("persons_updated", result.PersonsUpdated).
		Int("visits_added", result.VisitsAdded).
		Int("visits_skipped", result.VisitsSkipped).
		Int("error_count", result.ErrorCount).
		Msg("batch reconciled")
}

func (w *Worker) fail(ctx context.Context, taskID, reason string) {
	w.setStatus(ctx, queue.TaskStatus{
		TaskID: taskID,
		State:  queue.StateFailed,
		Error:  reason,
	})
}

func (w *Worker) setStatus(ctx context.Context, status queue.TaskStatus) {
	status.UpdatedAt = time.Now().UTC()
	if err := w.status.Set(ctx, status); err != nil {
		w.logger.Error().Err(err).Str("task_id", status.TaskID).Msg("update task status failed")
	}
}
