// Package ingest implements the ingestion worker (C6): the per-channel
// state machine that pulls chat history, normalizes and embeds it, and
// upserts it into the vector store, on a scheduled cadence.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chatvector/internal/chunk"
	"chatvector/internal/errs"
	"chatvector/internal/logging"
	"chatvector/internal/model"
	"chatvector/internal/telemetry"
	"chatvector/internal/vectorstore"
)

// DefaultConcurrency is the default number of channels processed in flight
// (spec §4.6).
const DefaultConcurrency = 3

// RunReport is the structured record logged at the end of every run (spec
// §4.6's "Logging").
type RunReport struct {
	RunID             string
	Sequence          int
	Start             time.Time
	End               time.Time
	MessagesProcessed int
	MessagesEmbedded  int
	MessagesUpserted  int
	ErrorsByKind      map[errs.Kind]int
	AbortedChannels   []string
}

// Worker drives the per-channel ingestion pipeline with bounded
// concurrency.
type Worker struct {
	chat        ChatSource
	embedder    Embedder
	store       vectorstore.VectorStore
	state       *stateStore
	meters      *telemetry.Meters
	learner     Learner
	chunkOpts   chunk.Options
	log         zerolog.Logger
	concurrency int
}

// NewWorker constructs a Worker. checkpointPath "" disables persistence
// (tests only); meters and learner may be nil. chunkOpts is the configured
// chunk budget/overlap (spec §4.3); its zero value falls back to the
// chunker's own defaults.
func NewWorker(chat ChatSource, embedder Embedder, store vectorstore.VectorStore, checkpointPath string, meters *telemetry.Meters, learner Learner, chunkOpts chunk.Options) (*Worker, error) {
	state, err := newStateStore(checkpointPath)
	if err != nil {
		return nil, err
	}
	return &Worker{
		chat:        chat,
		embedder:    embedder,
		store:       store,
		state:       state,
		meters:      meters,
		learner:     learner,
		chunkOpts:   chunkOpts,
		log:         logging.For("ingest"),
		concurrency: DefaultConcurrency,
	}, nil
}

// Ingest runs one pass over channels with bounded concurrency (spec §4.6).
// Per-channel failures are isolated: a kFatal failure aborts and does not
// advance that channel's checkpoint, but other channels still complete.
func (w *Worker) Ingest(ctx context.Context, channels []string) RunReport {
	seq, err := w.state.NextRunID()
	if err != nil {
		w.log.Warn().Err(err).Msg("failed to persist run sequence id")
	}
	report := RunReport{
		RunID:        time.Now().UTC().Format("20060102T150405Z"),
		Sequence:     seq,
		Start:        time.Now(),
		ErrorsByKind: make(map[errs.Kind]int),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)

	var mu channelReportMutex
	for _, channelID := range channels {
		channelID := channelID
		g.Go(func() error {
			w.ingestOneChannel(gctx, channelID, &report, &mu)
			return nil // per-channel errors never fail the group; isolation per spec §4.6
		})
	}
	_ = g.Wait()

	report.End = time.Now()
	w.logReport(report)
	if w.meters != nil {
		w.meters.IngestRunsTotal.Add(ctx, 1)
		w.meters.IngestMessagesTotal.Add(ctx, int64(report.MessagesProcessed))
	}
	return report
}

// channelReportMutex serializes writes to the shared RunReport from
// concurrent channel workers.
type channelReportMutex struct{ mu sync.Mutex }

func (m *channelReportMutex) merge(report *RunReport, cr *channelReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	report.MessagesProcessed += cr.messagesProcessed
	report.MessagesEmbedded += cr.messagesEmbedded
	report.MessagesUpserted += cr.messagesUpserted
	for k, v := range cr.errorsByKind {
		report.ErrorsByKind[k] += v
	}
}

func (w *Worker) ingestOneChannel(ctx context.Context, channelID string, report *RunReport, mu *channelReportMutex) {
	cp, known := w.state.Checkpoint(channelID)
	isFirstRun := !known

	cr, err := w.processChannel(ctx, channelID, cp, isFirstRun)
	mu.merge(report, cr)

	if err != nil {
		kind, _ := errs.KindOf(err)
		w.log.Error().Err(err).Str("channel", channelID).Str("kind", string(kind)).Msg("channel ingestion aborted")
		mu.mu.Lock()
		report.AbortedChannels = append(report.AbortedChannels, channelID)
		report.ErrorsByKind[kind]++
		mu.mu.Unlock()
		return // kFatal/kTransient exhaustion: checkpoint not advanced (spec §4.6)
	}

	newCP := model.ChannelCheckpoint{
		LastIngestedTS: cr.lastTS,
		LastSuccessAt:  time.Now().UTC(),
		MessageCount:   cr.messagesProcessed,
	}
	if err := w.state.Advance(channelID, newCP); err != nil {
		w.log.Warn().Err(err).Str("channel", channelID).Msg("failed to persist checkpoint")
	}
}

func (w *Worker) logReport(r RunReport) {
	ev := w.log.Info().
		Str("run_id", r.RunID).
		Int("run_sequence", r.Sequence).
		Time("start", r.Start).
		Time("end", r.End).
		Dur("duration", r.End.Sub(r.Start)).
		Int("messages_processed", r.MessagesProcessed).
		Int("messages_embedded", r.MessagesEmbedded).
		Int("messages_upserted", r.MessagesUpserted).
		Strs("aborted_channels", r.AbortedChannels)
	for kind, count := range r.ErrorsByKind {
		ev = ev.Int("errors_"+string(kind), count)
	}
	ev.Msg("ingestion run complete")
}

// Stats exposes the current checkpoint snapshot for the search service's
// stats tool (spec §4.6/§5: read-only access from outside the worker).
func (w *Worker) Stats() model.IngestionState {
	return w.state.Snapshot()
}
