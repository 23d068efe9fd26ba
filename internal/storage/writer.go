package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// AuditRecord bundles one finished execution with the violations its
// static scan raised, so both land in the store together.
type AuditRecord struct {
	Execution  *Execution
	Violations []ViolationRecord
}

// AuditWriter decouples request handling from database latency. Records
// are buffered and written by a background goroutine; a full buffer
// drops the record rather than blocking the response path.
type AuditWriter struct {
	db   *DB
	ch   chan *AuditRecord
	wg   sync.WaitGroup
	done chan struct{}
}

func NewAuditWriter(db *DB, bufferSize int) *AuditWriter {
	if bufferSize < 1 {
		bufferSize = 10000
	}
	return &AuditWriter{
		db:   db,
		ch:   make(chan *AuditRecord, bufferSize),
		done: make(chan struct{}),
	}
}

func (w *AuditWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Log enqueues a record without blocking.
func (w *AuditWriter) Log(rec *AuditRecord) {
	select {
	case w.ch <- rec:
	default:
		log.Warn().Str("exec_id", rec.Execution.ID).Msg("audit buffer full, dropping record")
	}
}

// Flush drains the buffer and stops the writer, waiting up to timeout.
func (w *AuditWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("audit writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("audit writer flush timed out")
	}
}

func (w *AuditWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			// Drain remaining records
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *AuditWriter) writeWithRetry(rec *AuditRecord) {
	const maxRetries = 3

	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.writeRecord(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		if attempt < maxRetries {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * 100 * time.Millisecond
			log.Warn().
				Err(err).
				Str("exec_id", rec.Execution.ID).
				Int("attempt", attempt+1).
				Dur("backoff", backoff).
				Msg("audit write failed, retrying")
			time.Sleep(backoff)
		} else {
			log.Error().
				Err(err).
				Str("exec_id", rec.Execution.ID).
				Msg("audit write failed permanently after retries")
		}
	}
}

func (w *AuditWriter) writeRecord(ctx context.Context, rec *AuditRecord) error {
	if err := w.db.LogExecution(ctx, rec.Execution); err != nil {
		return err
	}
	for i := range rec.Violations {
		rec.Violations[i].ExecutionID = rec.Execution.ID
		if err := w.db.LogViolation(ctx, &rec.Violations[i]); err != nil {
			return err
		}
	}
	return nil
}
