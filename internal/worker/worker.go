// Package worker implements the paged ingestion loop for one job.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
	"github.com/JakeFAU/lawdata-collector/internal/config"
)

const publishTimeout = 30 * time.Second

// Config controls Worker behavior.
type Config struct {
	// TransactionMode is config.TransactionPerRun or config.TransactionPerItem.
	TransactionMode string
	ArchivePrefix   string
	Topic           string
}

// Worker pages through one job's list endpoint, enriches and normalizes each
// item and upserts it into the store.
type Worker struct {
	job       collector.Job
	fetcher   collector.Fetcher
	store     collector.Store
	blobStore collector.BlobStore
	publisher collector.Publisher
	hasher    collector.Hasher
	clock     collector.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. blobStore, publisher and hasher may be nil.
func New(
	job collector.Job,
	fetcher collector.Fetcher,
	store collector.Store,
	blobStore collector.BlobStore,
	publisher collector.Publisher,
	hasher collector.Hasher,
	clock collector.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TransactionMode == "" {
		cfg.TransactionMode = config.TransactionPerRun
	}
	return &Worker{
		job:       job,
		fetcher:   fetcher,
		store:     store,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.String("job", string(job.Name()))),
	}
}

// run holds the state of one Run call.
type run struct {
	params    collector.RunParams
	stats     collector.RunStats
	session   collector.Session
	pending   []collector.Notification
	committed []collector.Notification
}

// Run executes one ingestion run. Item-level failures are counted and
// skipped. A collector.PersistenceError rolls back uncommitted work and
// aborts the run. On cancellation the work done so far is committed and
// ctx.Err() is returned. Stats are returned in every case.
func (w *Worker) Run(ctx context.Context, params collector.RunParams) (collector.RunStats, error) {
	r := &run{params: params}
	start := params.StartPage
	if start < 1 {
		start = 1
	}
	pages := max(params.Pages, 1)

	if w.perRun() {
		sess, err := w.store.Begin(ctx)
		if err != nil {
			return r.stats, err
		}
		r.session = sess
	}

	err := w.pages(ctx, r, start, pages)
	switch {
	case err != nil:
		w.rollback(ctx, r)
		w.logger.Error("run aborted", zap.Error(err), zap.Any("stats", r.stats))
	case r.session != nil:
		err = w.commit(ctx, r)
	}
	w.publish(ctx, r)

	if err != nil {
		return r.stats, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		w.logger.Warn("run canceled", zap.Any("stats", r.stats))
		return r.stats, ctxErr
	}
	return r.stats, nil
}

func (w *Worker) perRun() bool {
	return w.cfg.TransactionMode != config.TransactionPerItem
}

func (w *Worker) pages(ctx context.Context, r *run, start, pages int) error {
	for page := start; page < start+pages; page++ {
		if ctx.Err() != nil {
			return nil
		}
		req := w.job.ListRequest(r.params, page)
		w.logger.Info("requesting list page", zap.Int("page", page), zap.String("query", r.params.Query))
		resp, err := w.fetcher.Fetch(ctx, req.Path, req.Query)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.stats.Failures++
			w.logger.Error("list page fetch failed", zap.Int("page", page), zap.Error(err))
			continue
		}
		r.stats.Pages++
		w.archive(ctx, r.params.CollectionID, page, resp)

		items := w.job.ExtractItems(resp.JSON)
		if len(items) == 0 {
			w.logger.Warn("no items returned", zap.Int("page", page), zap.String("query", r.params.Query))
			continue
		}
		for _, item := range items {
			if ctx.Err() != nil {
				return nil
			}
			if err := w.item(ctx, r, item, resp); err != nil {
				if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
					return nil
				}
				return err
			}
		}
	}
	return nil
}

// item processes one list item. Only persistence failures are returned.
func (w *Worker) item(ctx context.Context, r *run, item map[string]any, list *collector.Response) error {
	requestURL := list.URL
	var detail map[string]any
	if w.job.HasDetail() {
		if req, ok := w.job.DetailRequest(item); ok {
			resp, err := w.fetcher.Fetch(ctx, req.Path, req.Query)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.stats.Failures++
				w.logger.Error("detail fetch failed", zap.Any("params", req.Query), zap.Error(err))
				return nil
			}
			requestURL = resp.URL
			if m, ok := resp.JSON.(map[string]any); ok {
				detail = m
			}
		} else {
			w.logger.Warn("missing identifier for detail fetch")
		}
	}

	rec, err := w.job.Normalize(item, detail)
	if err != nil {
		r.stats.Failures++
		w.logger.Error("item normalization failed", zap.Error(err))
		return nil
	}
	meta := collector.RowMeta{CollectionID: r.params.CollectionID, RequestURL: requestURL}

	sess := r.session
	if sess == nil {
		if sess, err = w.store.Begin(ctx); err != nil {
			return err
		}
	}
	inserted, err := sess.Upsert(ctx, rec, meta)
	if err != nil {
		if r.session == nil {
			_ = sess.Rollback(context.WithoutCancel(ctx))
		}
		if collector.IsItemScoped(err) {
			r.stats.Failures++
			w.logger.Error("item rejected", zap.Int64("serial_no", rec.NaturalKey()), zap.Error(err))
			return nil
		}
		return err
	}
	note := w.notification(r, rec, inserted)
	if r.session == nil {
		if err := sess.Commit(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		r.committed = append(r.committed, note)
	} else {
		r.pending = append(r.pending, note)
	}

	if inserted {
		r.stats.Collected++
		w.logger.Info("inserted record", zap.Int64("serial_no", rec.NaturalKey()), zap.String("uuid", rec.Identity()))
	} else {
		r.stats.Duplicates++
		w.logger.Info("updated record", zap.Int64("serial_no", rec.NaturalKey()), zap.String("uuid", rec.Identity()))
	}
	return nil
}

func (w *Worker) notification(r *run, rec collector.Record, inserted bool) collector.Notification {
	return collector.Notification{
		Job:          w.job.Name(),
		CollectionID: r.params.CollectionID,
		SerialNo:     rec.NaturalKey(),
		UUID:         rec.Identity(),
		Inserted:     inserted,
		CollectedAt:  w.now().Format(time.RFC3339),
	}
}

// commit finishes the run transaction. It runs even after cancellation since
// every write in it is an idempotent upsert.
func (w *Worker) commit(ctx context.Context, r *run) error {
	if err := r.session.Commit(context.WithoutCancel(ctx)); err != nil {
		w.rollback(ctx, r)
		w.logger.Error("commit failed", zap.Error(err))
		return err
	}
	r.committed = append(r.committed, r.pending...)
	r.pending = nil
	return nil
}

func (w *Worker) rollback(ctx context.Context, r *run) {
	r.pending = nil
	if r.session == nil {
		return
	}
	if err := r.session.Rollback(context.WithoutCancel(ctx)); err != nil {
		w.logger.Error("rollback failed", zap.Error(err))
	}
}

func (w *Worker) archive(ctx context.Context, collectionID string, page int, resp *collector.Response) {
	if w.blobStore == nil || resp.Text == "" {
		return
	}
	body := []byte(resp.Text)
	path := w.archivePath(collectionID, page, body)
	uri, err := w.blobStore.PutObject(ctx, path, "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("archive page failed", zap.Int("page", page), zap.String("path", path), zap.Error(err))
		return
	}
	w.logger.Debug("archived page", zap.Int("page", page), zap.String("uri", uri))
}

func (w *Worker) archivePath(collectionID string, page int, body []byte) string {
	name := fmt.Sprintf("page-%04d", page)
	if w.hasher != nil {
		if sum, err := w.hasher.Hash(body); err == nil {
			name += "-" + sum
		}
	}
	parts := []string{string(w.job.Name()), collectionID, name + ".json"}
	if prefix := strings.Trim(w.cfg.ArchivePrefix, "/"); prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (w *Worker) publish(ctx context.Context, r *run) {
	if w.publisher == nil || w.cfg.Topic == "" || len(r.committed) == 0 {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, note := range r.committed {
		if _, err := w.publisher.Publish(pubCtx, w.cfg.Topic, note); err != nil {
			w.logger.Warn("publish notification failed", zap.Int64("serial_no", note.SerialNo), zap.Error(err))
		}
	}
	w.logger.Info("notifications published", zap.Int("count", len(r.committed)), zap.String("topic", w.cfg.Topic))
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now().UTC()
}
