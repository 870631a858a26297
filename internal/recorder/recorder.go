package recorder

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealscan-gateway/internal/apperr"
	"mealscan-gateway/internal/blobstore"
	"mealscan-gateway/internal/metrics"
)

const (
	DefaultQueueSize   = 256
	DefaultWorkers     = 2
	DefaultSaveTimeout = 10 * time.Second
)

// Job asks the recorder to persist rec. When Image is set and a blob store
// is configured, the image is uploaded first and its URL stored.
type Job struct {
	Record      Record
	Image       []byte
	ContentType string
}

type Config struct {
	QueueSize   int           `yaml:"queue_size"`
	Workers     int           `yaml:"workers"`
	SaveTimeout time.Duration `yaml:"save_timeout"`
}

func (c Config) WithDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
	return c
}

// Recorder writes records from a bounded queue. Failures are logged and
// counted, never returned to the submitter.
type Recorder struct {
	store  Store
	blob   blobstore.Store
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan Job
	wg     sync.WaitGroup
}

// New starts cfg.Workers workers. blob may be nil.
func New(store Store, blob blobstore.Store, cfg Config, logger *zap.Logger) *Recorder {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Recorder{
		store:  store,
		blob:   blob,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan Job, cfg.QueueSize),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	logger.Info("analysis recorder started",
		zap.Int("workers", cfg.Workers),
		zap.Int("queue_size", cfg.QueueSize),
	)
	return r
}

// Submit enqueues job without blocking. It reports false when the job was
// dropped because the queue is full or the recorder is closed.
func (r *Recorder) Submit(job Job) bool {
	if job.Record.ID == "" {
		job.Record.ID = uuid.NewString()
	}
	if job.Record.CreatedAt.IsZero() {
		job.Record.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.RecorderEventsTotal.WithLabelValues("dropped").Inc()
		return false
	}

	select {
	case r.jobs <- job:
		metrics.RecorderEventsTotal.WithLabelValues("queued").Inc()
		return true
	default:
		metrics.RecorderEventsTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("analysis_record_dropped",
			zap.String("record_id", job.Record.ID),
			zap.String("reason", "queue_full"),
		)
		return false
	}
}

// Close stops accepting jobs and waits for queued ones to be written, or for
// ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return r.store.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) worker(id int) {
	defer r.wg.Done()
	for job := range r.jobs {
		r.process(id, job)
	}
}

func (r *Recorder) process(worker int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SaveTimeout)
	defer cancel()

	rec := job.Record
	logger := r.logger.With(
		zap.Int("worker", worker),
		zap.String("record_id", rec.ID),
		zap.String("caller_id", rec.CallerID),
	)

	// A misbehaving store or blob backend loses this record, not the worker.
	defer func() {
		if p := recover(); p != nil {
			metrics.RecorderEventsTotal.WithLabelValues("failed").Inc()
			logger.Error("analysis_record_panic",
				zap.Any("error", p),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()

	if r.blob != nil && len(job.Image) > 0 && rec.ImageURL == "" {
		key := blobstore.ImageKey(rec.ImageHash, job.ContentType)
		url, err := r.blob.Put(ctx, key, job.Image, job.ContentType)
		if err != nil {
			// Save the record without the image.
			metrics.RecorderEventsTotal.WithLabelValues("blob_failed").Inc()
			logger.Warn("analysis_image_upload_failed", zap.Error(err))
		} else {
			rec.ImageURL = url
		}
	}

	if err := r.store.Save(ctx, rec); err != nil {
		metrics.RecorderEventsTotal.WithLabelValues("failed").Inc()
		logger.Error("analysis_record_failed",
			zap.String("kind", string(apperr.KindOf(err))),
			zap.Bool("timeout", errors.Is(err, context.DeadlineExceeded)),
			zap.Error(err),
		)
		return
	}

	metrics.RecorderEventsTotal.WithLabelValues("saved").Inc()
	logger.Debug("analysis_record_saved",
		zap.String("outcome", rec.Outcome),
		zap.Bool("cached", rec.Cached),
	)
}
