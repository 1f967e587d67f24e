package ingest

import (
	"context"
	"fmt"
	"strings"

	"chatvector/internal/chunk"
	"chatvector/internal/errs"
	"chatvector/internal/model"
	"chatvector/internal/vectorstore"
)

// embedBatchSize is the pipeline's own batching of texts into the embedder,
// distinct from the embedder's own upstream batch ceiling (spec §4.6 step 5).
const embedBatchSize = 64

// threadTailExcerpts bounds how many reply excerpts are folded into a root
// message's embedding text (spec §4.6 step 4's "short tail").
const threadTailExcerpts = 3

// ChatSource is the subset of *chatapi.Client the pipeline depends on.
type ChatSource interface {
	ListChannelHistory(ctx context.Context, channelID, sinceTS string) (<-chan model.Message, <-chan error)
	ListThreadReplies(ctx context.Context, channelID, rootTS string) (<-chan model.Message, <-chan error)
	GetUser(ctx context.Context, userID string) (model.User, error)
	GetChannel(ctx context.Context, channelID string) (model.Channel, error)
	ListReactions(ctx context.Context, channelID, ts string) []model.Reaction
	ExtractCanvas(ctx context.Context, ch model.Channel) (*model.Canvas, error)
	NormalizeText(ctx context.Context, text string) string
}

// Embedder is the subset of *embedclient.Client the pipeline depends on.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([]model.Vector, error)
}

// Learner receives channel/user id-to-name observations as the pipeline
// makes them, feeding the search service's name-filter directory
// (*search.NameIndex satisfies this).
type Learner interface {
	LearnChannel(id, name string)
	LearnUser(id, name string)
}

// messageGroup is a root message plus its thread replies, the unit the
// pipeline embeds and upserts together (spec §4.6 step 2).
type messageGroup struct {
	root    model.Message
	replies []model.Message
}

// channelReport accumulates per-channel counters for the run log (spec
// §4.6's "messages_processed, messages_embedded, messages_upserted,
// errors_by_kind").
type channelReport struct {
	messagesProcessed int
	messagesEmbedded  int
	messagesUpserted  int
	errorsByKind      map[errs.Kind]int
	lastTS            string
}

func newChannelReport() *channelReport {
	return &channelReport{errorsByKind: make(map[errs.Kind]int)}
}

func (r *channelReport) recordError(err error) {
	kind, ok := errs.KindOf(err)
	if !ok {
		kind = errs.KindUpstreamInvalid
	}
	r.errorsByKind[kind]++
}

// processChannel drives the per-channel pipeline of spec §4.6's stages 1-7
// and returns the report plus an error when this channel's run must abort:
// a history fetch failure, any embed failure, or an upsert failure. The
// caller then leaves the channel's checkpoint where it was. A failure to
// fetch a thread's replies is only recorded in the report; the root message
// is still indexed.
func (w *Worker) processChannel(ctx context.Context, channelID string, cp model.ChannelCheckpoint, isFirstRun bool) (*channelReport, error) {
	report := newChannelReport()
	report.lastTS = cp.LastIngestedTS

	sinceTS := cp.LastIngestedTS
	if isFirstRun {
		sinceTS = ""
	}

	groups, canvasOnce, err := w.collectGroups(ctx, channelID, sinceTS, report)
	if err != nil {
		return report, err
	}
	if isFirstRun && canvasOnce != nil {
		groups = append([]messageGroup{{root: *canvasOnce}}, groups...)
	}

	// Drop groups whose normalized root body is empty: nothing left to index
	// (spec §3: "a message whose cleaned text is empty after normalization is
	// dropped").
	kept := make([]messageGroup, 0, len(groups))
	bodies := make([]string, 0, len(groups))
	for _, g := range groups {
		body := w.chat.NormalizeText(ctx, g.root.Text)
		if strings.TrimSpace(body) == "" {
			continue
		}
		kept = append(kept, g)
		bodies = append(bodies, body)
	}
	groups = kept
	if len(groups) == 0 {
		return report, nil
	}

	texts := make([]string, len(groups))
	for i, g := range groups {
		texts[i] = w.buildEmbeddingText(ctx, channelID, bodies[i], g)
	}

	// Chunk every group's text and flatten into one embed unit per chunk, so
	// a message whose text exceeds the chunk budget is split into ≥1 chunks,
	// each indexed under its own vector id (spec §3, §4.3).
	units := make([]embedUnit, 0, len(texts))
	for gi, t := range texts {
		for _, c := range chunk.Split(t, w.chunkOpts) {
			units = append(units, embedUnit{groupIdx: gi, chunkIndex: c.Index, chunkTotal: c.Total, text: c.Text})
		}
	}

	vectors, err := w.embedAll(ctx, units, report)
	if err != nil {
		return report, err
	}

	points := make([]vectorstore.Point, 0, len(units))
	for i, u := range units {
		if vectors[i] == nil {
			continue // the embedder returned no vector for this unit
		}
		g := groups[u.groupIdx]
		points = append(points, vectorstore.Point{
			ID:       model.VectorID(channelID, g.root.TS, u.chunkIndex, u.chunkTotal),
			Vector:   vectors[i],
			Metadata: metadataFor(channelID, g.root, u.chunkIndex, u.chunkTotal, u.text),
		})
	}

	if err := w.upsertAll(ctx, channelID, points, report); err != nil {
		return report, err // upsert failure: checkpoint not advanced for this channel (spec §4.4)
	}

	for _, g := range groups {
		if g.root.TS > report.lastTS {
			report.lastTS = g.root.TS
		}
	}
	return report, nil
}

// embedUnit is one chunk's worth of text to embed, tagged with the group and
// chunk position it belongs to (spec §4.3/§4.6 step 4-5).
type embedUnit struct {
	groupIdx   int
	chunkIndex int
	chunkTotal int
	text       string
}

// collectGroups streams history and inline-fetches thread replies for every
// root message (spec §4.6 steps 1-3).
func (w *Worker) collectGroups(ctx context.Context, channelID, sinceTS string, report *channelReport) ([]messageGroup, *model.Message, error) {
	msgs, errCh := w.chat.ListChannelHistory(ctx, channelID, sinceTS)
	var groups []messageGroup

	for m := range msgs {
		report.messagesProcessed++
		if m.IsThreadRoot || m.ThreadParentTS == "" {
			g := messageGroup{root: m}
			if m.IsThreadRoot {
				replies, repErrCh := w.chat.ListThreadReplies(ctx, channelID, m.TS)
				for r := range replies {
					g.replies = append(g.replies, r)
					report.messagesProcessed++
				}
				if err := <-repErrCh; err != nil {
					report.recordError(err)
				}
			}
			g.root.Reactions = w.chat.ListReactions(ctx, channelID, m.TS)
			groups = append(groups, g)
		}
	}
	if err := <-errCh; err != nil {
		if errs.IsRetryable(err) {
			return groups, nil, errs.Wrap(errs.KindUpstreamThrottled, true, err, "fetching history for channel %s", channelID)
		}
		return groups, nil, err
	}

	var canvasMsg *model.Message
	ch, err := w.chat.GetChannel(ctx, channelID)
	if err == nil && w.learner != nil {
		w.learner.LearnChannel(ch.ID, ch.Name)
	}
	if err == nil && ch.CanvasID != "" {
		canvas, err := w.chat.ExtractCanvas(ctx, ch)
		if err == nil && canvas != nil {
			canvasMsg = &model.Message{
				ChannelID: channelID,
				TS:        "0000000000.000000",
				Text:      canvas.Title + "\n" + canvas.Body,
				Kind:      model.KindCanvas,
			}
		}
	}
	return groups, canvasMsg, nil
}

// buildEmbeddingText assembles the cleaned body, author display name,
// reaction summary, and a short tail of thread reply excerpts (spec §4.6
// step 4).
func (w *Worker) buildEmbeddingText(ctx context.Context, channelID string, body string, g messageGroup) string {
	var sb strings.Builder
	sb.WriteString(body)

	if g.root.AuthorID != "" {
		if u, err := w.chat.GetUser(ctx, g.root.AuthorID); err == nil {
			sb.WriteString(fmt.Sprintf("\nauthor: %s", u.DisplayName))
			if w.learner != nil {
				w.learner.LearnUser(u.ID, u.DisplayName)
			}
		}
	}
	if len(g.root.Reactions) > 0 {
		sb.WriteString("\nreactions: ")
		for i, r := range g.root.Reactions {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s x%d", r.Emoji, r.Count))
		}
	}
	if len(g.replies) > 0 {
		sb.WriteString("\nreplies:")
		tail := g.replies
		if len(tail) > threadTailExcerpts {
			tail = tail[len(tail)-threadTailExcerpts:]
		}
		for _, r := range tail {
			excerpt := w.chat.NormalizeText(ctx, r.Text)
			if len(excerpt) > model.MaxExcerptLen {
				excerpt = excerpt[:model.MaxExcerptLen]
			}
			sb.WriteString("\n- " + excerpt)
		}
	}
	return sb.String()
}

// embedAll embeds every chunk unit in batches of embedBatchSize (spec §4.6
// step 5). Each unit yields at most one vector, at the same index it was
// passed in at. The first failed batch ends the call with its error.
func (w *Worker) embedAll(ctx context.Context, units []embedUnit, report *channelReport) ([]model.Vector, error) {
	out := make([]model.Vector, len(units))
	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.text
	}

	for start := 0; start < len(texts); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := w.embedder.EmbedMany(ctx, texts[start:end])
		if err != nil {
			// Dimension mismatch (kFatal) and transient failures alike abort
			// this channel, so its checkpoint never advances past messages
			// that were not embedded.
			return nil, err
		}
		for j, v := range vecs {
			out[start+j] = v
			report.messagesEmbedded++
		}
	}
	return out, nil
}

// upsertAll writes points in batches of vectorstore.MaxBatch. Every batch is
// still attempted even after an earlier one fails, so partial progress isn't
// needlessly discarded, but any batch failure is surfaced to the caller:
// processChannel then skips advancing this channel's checkpoint so the next
// incremental run retries the un-upserted messages too (spec §4.4: "on
// repeated failure, the governing pipeline records the failing ids and
// advances no checkpoints for that channel").
func (w *Worker) upsertAll(ctx context.Context, channelID string, points []vectorstore.Point, report *channelReport) error {
	var firstErr error
	for start := 0; start < len(points); start += vectorstore.MaxBatch {
		end := start + vectorstore.MaxBatch
		if end > len(points) {
			end = len(points)
		}
		batch := points[start:end]
		if err := w.store.Upsert(ctx, batch); err != nil {
			report.recordError(err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		report.messagesUpserted += len(batch)
	}
	if firstErr != nil {
		return errs.Wrap(errs.KindPersistenceWriteFailed, true, firstErr, "upserting vectors for channel %s", channelID)
	}
	return nil
}

func metadataFor(channelID string, m model.Message, chunkIndex, chunkTotal int, chunkText string) map[string]string {
	excerpt := chunkText
	if len(excerpt) > model.MaxExcerptLen {
		excerpt = excerpt[:model.MaxExcerptLen]
	}
	md := model.Metadata{
		ChannelID:   channelID,
		TS:          m.TS,
		Kind:        string(m.Kind),
		ChunkIndex:  chunkIndex,
		ChunkTotal:  chunkTotal,
		TextExcerpt: excerpt,
	}
	if m.AuthorID != "" {
		md.UserID = m.AuthorID
	}
	out := md.ToMap()
	if unix, err := tsToUnix(m.TS); err == nil {
		out[vectorstore.MetadataTSKey] = fmt.Sprintf("%d", unix)
	} else {
		out[vectorstore.MetadataTSKey] = m.TS
	}
	return out
}

func tsToUnix(ts string) (int64, error) {
	var sec, micro int64
	_, err := fmt.Sscanf(ts, "%d.%d", &sec, &micro)
	return sec, err
}
