package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/platform/blobstore"
	"github.com/intake/intake/internal/platform/queue"
)

// Service handles the synchronous half of ingestion: validate the batch,
// encode the CSV artifact, store it, and enqueue the reconciliation job. All
// relational writes happen later in the worker.
type Service struct {
	store        blobstore.BlobStore
	queue        queue.Queue
	status       queue.StatusStore
	keys         *KeyGenerator
	logger       zerolog.Logger
	storeTimeout time.Duration
}

func NewService(store blobstore.BlobStore, q queue.Queue, status queue.StatusStore, logger zerolog.Logger, storeTimeout time.Duration) *Service {
	return &Service{
		store:        store,
		queue:        q,
		status:       status,
		keys:         NewKeyGenerator(),
		logger:       logger,
		storeTimeout: storeTimeout,
	}
}

// IngestResult is the synchronous ingest response. The task id is the handle
// for out-of-band status lookup.
type IngestResult struct {
	Message         string      `json:"message"`
	RecordsReceived int         `json:"records_received"`
	RejectedRecords []Rejection `json:"rejected_records,omitempty"`
	CSVFilename     string      `json:"csv_filename"`
	TaskID          string      `json:"task_id"`
}

// Ingest validates raws, stores the artifact, and dispatches the job. It
// returns ErrEmptyBatch for an empty array and *NoValidRecordsError when
// every record is invalid; in both cases nothing is stored or enqueued.
func (s *Service) Ingest(ctx context.Context, raws []RawRecord) (*IngestResult, error) {
	if len(raws) == 0 {
		return nil, ErrEmptyBatch
	}

	records, rejections := ValidateBatch(raws)
	if len(records) == 0 {
		return nil, &NoValidRecordsError{Rejections: rejections}
	}

	data, err := EncodeCSV(records)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	key := s.keys.Next()
	putCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.store.Put(putCtx, key, data, "text/csv"); err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	taskID := uuid.New().String()
	now := time.Now().UTC()
	if err := s.status.Set(ctx, queue.TaskStatus{
		TaskID:    taskID,
		State:     queue.StateQueued,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("record task status: %w", err)
	}
	if err := s.queue.Enqueue(ctx, queue.Job{
		TaskID:      taskID,
		ArtifactKey: key,
		EnqueuedAt:  now,
	}); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	s.logger.Info().
		Str("task_id", taskID).
		Str("csv_filename", key).
		Int("records_received", len(records)).
		Int("records_rejected", len(rejections)).
		Msg("batch accepted")

	return &IngestResult{
		Message:         "batch accepted for processing",
		RecordsReceived: len(records),
		RejectedRecords: rejections,
		CSVFilename:     key,
		TaskID:          taskID,
	}, nil
}

// TaskStatus returns the current status of a dispatched task, or
// queue.ErrTaskNotFound.
func (s *Service) TaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error) {
	return s.status.Get(ctx, taskID)
}
