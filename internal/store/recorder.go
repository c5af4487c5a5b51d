package store

import (
	"context"
	"log/slog"
	"time"

	"dogechat/server/internal/core"
	"dogechat/server/internal/metrics"
)

const writeTimeout = 5 * time.Second

// Recorder feeds moderation records from the hub into the store. Record never
// blocks the hub: when the queue is full the record is dropped and counted.
type Recorder struct {
	store *Store
	queue chan core.AuditRecord
}

// NewRecorder returns a recorder with room for buffer pending records.
func NewRecorder(st *Store, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 128
	}
	return &Recorder{store: st, queue: make(chan core.AuditRecord, buffer)}
}

// Record implements core.Auditor.
func (r *Recorder) Record(rec core.AuditRecord) {
	select {
	case r.queue <- rec:
	default:
		metrics.AuditWrites.WithLabelValues("dropped").Inc()
		slog.Warn("audit queue full, record dropped", "room", rec.Room, "action", rec.Action)
	}
}

// Run writes queued records until ctx is canceled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-ctx.Done():
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec core.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	err := r.store.InsertAudit(ctx, AuditEntry{
		Room:      rec.Room,
		Actor:     rec.Actor,
		Action:    rec.Action,
		Target:    rec.Target,
		Affected:  rec.Affected,
		CreatedAt: rec.At,
	})
	if err != nil {
		metrics.AuditWrites.WithLabelValues("error").Inc()
		slog.Error("write audit record", "room", rec.Room, "action", rec.Action, "err", err)
		return
	}
	metrics.AuditWrites.WithLabelValues("ok").Inc()
}
