package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/papersync/internal/logging"
	"github.com/agentworkforce/papersync/internal/notion"
	"github.com/agentworkforce/papersync/internal/paperless"
)

// Source is the read side of a sync cycle. The paperless client satisfies
// it; tests substitute fakes.
type Source interface {
	ListCorrespondents(ctx context.Context) ([]paperless.Correspondent, error)
	ListTags(ctx context.Context) ([]paperless.Tag, error)
	ListDocuments(ctx context.Context, modifiedAfter *time.Time) ([]paperless.Document, error)
	ListAllDocumentIDs(ctx context.Context) (map[int]struct{}, error)
	GetDocumentFile(ctx context.Context, id int) (paperless.DocumentFile, error)
}

// Sink is the write side. Upserts are idempotent per source id; documents
// that disappear from the source are archived, never deleted.
type Sink interface {
	UpsertCorrespondent(ctx context.Context, correspondent paperless.Correspondent) (notion.Record, error)
	UpsertTag(ctx context.Context, tag paperless.Tag) (notion.Record, error)
	UpsertDocument(ctx context.Context, doc paperless.Document, file *paperless.DocumentFile) (notion.Record, error)
	ListAllDocumentIDs(ctx context.Context) (map[int]string, error)
	ArchiveDocument(ctx context.Context, pageID string) error
}

type Event struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type EventPublisher interface {
	Publish(event Event)
}

const (
	EventSyncStarted   = "sync.started"
	EventSyncProgress  = "sync.progress"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
)

// CategoryCount tracks how a category fared within one cycle.
type CategoryCount struct {
	Synced  int `json:"synced"`
	Skipped int `json:"skipped"`
}

// Status is a point-in-time snapshot of the syncer, served by the admin API.
type Status struct {
	Running         bool           `json:"running"`
	CompletedCycles uint64         `json:"completedCycles"`
	LastSync        *time.Time     `json:"lastSync,omitempty"`
	LastCycleStart  *time.Time     `json:"lastCycleStart,omitempty"`
	LastCycleEnd    *time.Time     `json:"lastCycleEnd,omitempty"`
	LastError       string         `json:"lastError,omitempty"`
	Correspondents  CategoryCount  `json:"correspondents"`
	Tags            CategoryCount  `json:"tags"`
	Documents       CategoryCount  `json:"documents"`
	Archived        int            `json:"archived"`
}

type Options struct {
	StateBackend StateBackend
	Logger       logging.Logger
	Events       EventPublisher
	// SkipFiles disables document file downloads; pages are mirrored
	// without a File property.
	SkipFiles bool
}

type Syncer struct {
	source  Source
	sink    Sink
	backend StateBackend
	logger  logging.Logger
	events  EventPublisher

	skipFiles bool

	mu       sync.Mutex
	loaded   bool
	lastSync *time.Time
	cycles   uint64
	status   Status
}

func New(source Source, sink Sink, opts Options) (*Syncer, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Syncer{
		source:    source,
		sink:      sink,
		backend:   opts.StateBackend,
		logger:    logger,
		events:    opts.Events,
		skipFiles: opts.SkipFiles,
	}, nil
}

// Status returns a copy of the current snapshot.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SyncOnce runs a full reconciliation cycle: correspondents and tags first
// so document relations resolve, then the archive pass for documents that
// vanished from the source, then document upserts. The last-sync timestamp
// advances only when the whole cycle succeeds.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	cycleStart := time.Now().UTC()
	since := s.beginCycle(cycleStart)
	s.publish(EventSyncStarted, map[string]any{"since": formatSince(since)})

	counts, err := s.runCycle(ctx, since)
	if err != nil {
		s.finishCycle(cycleStart, counts, err)
		s.publish(EventSyncFailed, map[string]any{"error": err.Error()})
		return err
	}

	next := State{LastSync: &cycleStart, CompletedCycles: s.completedCycles() + 1}
	if s.backend != nil {
		if saveErr := s.backend.Save(&next); saveErr != nil {
			err = fmt.Errorf("persist sync state: %w", saveErr)
			s.finishCycle(cycleStart, counts, err)
			s.publish(EventSyncFailed, map[string]any{"error": err.Error()})
			return err
		}
	}
	s.commitCycle(cycleStart, counts)
	s.publish(EventSyncCompleted, map[string]any{
		"correspondents": counts.Correspondents.Synced,
		"tags":           counts.Tags.Synced,
		"documents":      counts.Documents.Synced,
		"archived":       counts.Archived,
	})
	return nil
}

type cycleCounts struct {
	Correspondents CategoryCount
	Tags           CategoryCount
	Documents      CategoryCount
	Archived       int
}

func (s *Syncer) runCycle(ctx context.Context, since *time.Time) (cycleCounts, error) {
	var counts cycleCounts

	correspondents, err := s.source.ListCorrespondents(ctx)
	if err != nil {
		return counts, fmt.Errorf("list correspondents: %w", err)
	}
	for _, correspondent := range correspondents {
		if _, err := s.sink.UpsertCorrespondent(ctx, correspondent); err != nil {
			counts.Correspondents.Skipped++
			s.logger.Warn(ctx, "correspondent upsert failed", "id", correspondent.ID, "error", err)
			continue
		}
		counts.Correspondents.Synced++
	}
	s.publish(EventSyncProgress, map[string]any{"stage": "correspondents", "synced": counts.Correspondents.Synced})

	tags, err := s.source.ListTags(ctx)
	if err != nil {
		return counts, fmt.Errorf("list tags: %w", err)
	}
	for _, tag := range tags {
		if _, err := s.sink.UpsertTag(ctx, tag); err != nil {
			counts.Tags.Skipped++
			s.logger.Warn(ctx, "tag upsert failed", "id", tag.ID, "error", err)
			continue
		}
		counts.Tags.Synced++
	}
	s.publish(EventSyncProgress, map[string]any{"stage": "tags", "synced": counts.Tags.Synced})

	archived, err := s.archiveMissing(ctx)
	if err != nil {
		return counts, err
	}
	counts.Archived = archived
	s.publish(EventSyncProgress, map[string]any{"stage": "archive", "archived": archived})

	documents, err := s.source.ListDocuments(ctx, since)
	if err != nil {
		return counts, fmt.Errorf("list documents: %w", err)
	}
	for _, doc := range documents {
		file, ok := s.fetchFile(ctx, doc)
		if !ok {
			counts.Documents.Skipped++
			continue
		}
		if _, err := s.sink.UpsertDocument(ctx, doc, file); err != nil {
			counts.Documents.Skipped++
			s.logger.Warn(ctx, "document upsert failed", "id", doc.ID, "error", err)
			continue
		}
		counts.Documents.Synced++
	}
	s.publish(EventSyncProgress, map[string]any{"stage": "documents", "synced": counts.Documents.Synced})

	return counts, nil
}

// archiveMissing compares full id scans of both sides and archives every
// sink page whose source document no longer exists. It runs before the
// document upserts so a recreated id is not archived in the same cycle.
func (s *Syncer) archiveMissing(ctx context.Context) (int, error) {
	sourceIDs, err := s.source.ListAllDocumentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan source document ids: %w", err)
	}
	sinkIDs, err := s.sink.ListAllDocumentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("scan sink document ids: %w", err)
	}

	missing := make([]int, 0)
	for id := range sinkIDs {
		if _, ok := sourceIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Ints(missing)

	archived := 0
	for _, id := range missing {
		if err := s.sink.ArchiveDocument(ctx, sinkIDs[id]); err != nil {
			s.logger.Warn(ctx, "archive failed", "id", id, "error", err)
			continue
		}
		s.logger.Info(ctx, "document archived", "id", id)
		archived++
	}
	return archived, nil
}

func (s *Syncer) fetchFile(ctx context.Context, doc paperless.Document) (*paperless.DocumentFile, bool) {
	if s.skipFiles {
		return nil, true
	}
	file, err := s.source.GetDocumentFile(ctx, doc.ID)
	if err != nil {
		s.logger.Warn(ctx, "file download failed", "id", doc.ID, "error", err)
		return nil, false
	}
	return &file, true
}

// beginCycle loads persisted state on first use and returns the incremental
// threshold for this cycle.
func (s *Syncer) beginCycle(cycleStart time.Time) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		s.loaded = true
		if s.backend != nil {
			if state, err := s.backend.Load(); err != nil {
				s.logger.Warn(context.Background(), "state load failed; starting from full sync", "error", err)
			} else if state != nil {
				s.lastSync = state.LastSync
				s.cycles = state.CompletedCycles
			}
		}
	}
	s.status.Running = true
	s.status.LastCycleStart = &cycleStart
	return s.lastSync
}

func (s *Syncer) completedCycles() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycles
}

func (s *Syncer) commitCycle(cycleStart time.Time, counts cycleCounts) {
	end := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync = &cycleStart
	s.cycles++
	s.status = Status{
		Running:         false,
		CompletedCycles: s.cycles,
		LastSync:        s.lastSync,
		LastCycleStart:  &cycleStart,
		LastCycleEnd:    &end,
		Correspondents:  counts.Correspondents,
		Tags:            counts.Tags,
		Documents:       counts.Documents,
		Archived:        counts.Archived,
	}
}

func (s *Syncer) finishCycle(cycleStart time.Time, counts cycleCounts, err error) {
	end := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = Status{
		Running:         false,
		CompletedCycles: s.cycles,
		LastSync:        s.lastSync,
		LastCycleStart:  &cycleStart,
		LastCycleEnd:    &end,
		LastError:       err.Error(),
		Correspondents:  counts.Correspondents,
		Tags:            counts.Tags,
		Documents:       counts.Documents,
		Archived:        counts.Archived,
	}
}

func (s *Syncer) publish(eventType string, data map[string]any) {
	if s.events == nil {
		return
	}
	s.events.Publish(Event{Type: eventType, Data: data, Timestamp: time.Now().UTC()})
}

func formatSince(since *time.Time) string {
	if since == nil {
		return ""
	}
	return strings.TrimSpace(since.Format(time.RFC3339))
}
