package syncer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/agentworkforce/papersync/internal/notion"
	"github.com/agentworkforce/papersync/internal/paperless"
)

type fakeSource struct {
	correspondents []paperless.Correspondent
	tags           []paperless.Tag
	documents      []paperless.Document
	allIDs         map[int]struct{}

	listTagsErr      error
	listDocumentsErr error
	fileErrs         map[int]error

	calls         *[]string
	modifiedAfter []*time.Time
}

func (f *fakeSource) ListCorrespondents(ctx context.Context) ([]paperless.Correspondent, error) {
	f.record("list:correspondents")
	return f.correspondents, nil
}

func (f *fakeSource) ListTags(ctx context.Context) ([]paperless.Tag, error) {
	f.record("list:tags")
	if f.listTagsErr != nil {
		return nil, f.listTagsErr
	}
	return f.tags, nil
}

func (f *fakeSource) ListDocuments(ctx context.Context, modifiedAfter *time.Time) ([]paperless.Document, error) {
	f.record("list:documents")
	f.modifiedAfter = append(f.modifiedAfter, modifiedAfter)
	if f.listDocumentsErr != nil {
		return nil, f.listDocumentsErr
	}
	return f.documents, nil
}

func (f *fakeSource) ListAllDocumentIDs(ctx context.Context) (map[int]struct{}, error) {
	f.record("scan:source")
	ids := map[int]struct{}{}
	for id := range f.allIDs {
		ids[id] = struct{}{}
	}
	return ids, nil
}

func (f *fakeSource) GetDocumentFile(ctx context.Context, id int) (paperless.DocumentFile, error) {
	f.record(fmt.Sprintf("file:%d", id))
	if err := f.fileErrs[id]; err != nil {
		return paperless.DocumentFile{}, err
	}
	return paperless.DocumentFile{Name: fmt.Sprintf("doc-%d.pdf", id), URL: "http://files/" + fmt.Sprint(id)}, nil
}

func (f *fakeSource) record(call string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, call)
	}
}

type fakeSink struct {
	pages map[int]string

	upsertTagErr      map[int]error
	upsertDocumentErr map[int]error
	archiveErr        map[int]error

	archivedPages []string
	upsertedDocs  []int

	calls *[]string
}

func newFakeSink() *fakeSink {
	return &fakeSink{pages: map[int]string{}}
}

func (f *fakeSink) UpsertCorrespondent(ctx context.Context, correspondent paperless.Correspondent) (notion.Record, error) {
	f.record(fmt.Sprintf("correspondent:%d", correspondent.ID))
	return notion.Record{PageID: fmt.Sprintf("corr-%d", correspondent.ID), SourceID: correspondent.ID}, nil
}

func (f *fakeSink) UpsertTag(ctx context.Context, tag paperless.Tag) (notion.Record, error) {
	f.record(fmt.Sprintf("tag:%d", tag.ID))
	if err := f.upsertTagErr[tag.ID]; err != nil {
		return notion.Record{}, err
	}
	return notion.Record{PageID: fmt.Sprintf("tag-%d", tag.ID), SourceID: tag.ID}, nil
}

func (f *fakeSink) UpsertDocument(ctx context.Context, doc paperless.Document, file *paperless.DocumentFile) (notion.Record, error) {
	f.record(fmt.Sprintf("document:%d", doc.ID))
	if err := f.upsertDocumentErr[doc.ID]; err != nil {
		return notion.Record{}, err
	}
	pageID := fmt.Sprintf("page-%d", doc.ID)
	f.pages[doc.ID] = pageID
	f.upsertedDocs = append(f.upsertedDocs, doc.ID)
	return notion.Record{PageID: pageID, SourceID: doc.ID}, nil
}

func (f *fakeSink) ListAllDocumentIDs(ctx context.Context) (map[int]string, error) {
	f.record("scan:sink")
	ids := map[int]string{}
	for id, pageID := range f.pages {
		ids[id] = pageID
	}
	return ids, nil
}

func (f *fakeSink) ArchiveDocument(ctx context.Context, pageID string) error {
	f.record("archive:" + pageID)
	f.archivedPages = append(f.archivedPages, pageID)
	for id, page := range f.pages {
		if page == pageID {
			delete(f.pages, id)
		}
	}
	return nil
}

func (f *fakeSink) record(call string) {
	if f.calls != nil {
		*f.calls = append(*f.calls, call)
	}
}

func docs(ids ...int) []paperless.Document {
	out := make([]paperless.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, paperless.Document{ID: id, Title: fmt.Sprintf("Document %d", id)})
	}
	return out
}

func idSet(ids ...int) map[int]struct{} {
	out := map[int]struct{}{}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestSyncOnceArchivesMissingAndUpserts(t *testing.T) {
	source := &fakeSource{
		documents: docs(1, 2, 3),
		allIDs:    idSet(1, 2, 3),
	}
	sink := newFakeSink()
	sink.pages = map[int]string{1: "page-1", 2: "page-2", 4: "page-4"}

	syncer, err := New(source, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(sink.archivedPages) != 1 || sink.archivedPages[0] != "page-4" {
		t.Fatalf("archived pages = %v, want [page-4]", sink.archivedPages)
	}
	if len(sink.upsertedDocs) != 3 {
		t.Fatalf("upserted docs = %v, want 3 entries", sink.upsertedDocs)
	}
	for _, id := range []int{1, 2, 3} {
		if _, ok := sink.pages[id]; !ok {
			t.Fatalf("document %d missing from sink after cycle", id)
		}
	}
	if _, ok := sink.pages[4]; ok {
		t.Fatalf("document 4 should no longer be live in the sink")
	}

	status := syncer.Status()
	if status.Archived != 1 {
		t.Fatalf("status.Archived = %d, want 1", status.Archived)
	}
	if status.Documents.Synced != 3 {
		t.Fatalf("status.Documents.Synced = %d, want 3", status.Documents.Synced)
	}
	if status.CompletedCycles != 1 {
		t.Fatalf("status.CompletedCycles = %d, want 1", status.CompletedCycles)
	}
	if status.LastSync == nil {
		t.Fatalf("status.LastSync should be set after a successful cycle")
	}
}

func TestSyncOnceOrdersReferencesBeforeDocuments(t *testing.T) {
	calls := []string{}
	source := &fakeSource{
		correspondents: []paperless.Correspondent{{ID: 7, Name: "ACME"}},
		tags:           []paperless.Tag{{ID: 3, Name: "invoices"}},
		documents:      docs(1),
		allIDs:         idSet(1),
		calls:          &calls,
	}
	sink := newFakeSink()
	sink.calls = &calls

	syncer, err := New(source, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	positions := map[string]int{}
	for i, call := range calls {
		positions[call] = i
	}
	if positions["correspondent:7"] > positions["tag:3"] {
		t.Fatalf("correspondents must sync before tags: %v", calls)
	}
	if positions["tag:3"] > positions["scan:sink"] {
		t.Fatalf("tags must sync before the archive pass: %v", calls)
	}
	if positions["scan:sink"] > positions["document:1"] {
		t.Fatalf("archive pass must run before document upserts: %v", calls)
	}
}

func TestSyncOncePerEntityFailureContinuesBatch(t *testing.T) {
	source := &fakeSource{
		tags:      []paperless.Tag{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}, {ID: 3, Name: "c"}},
		documents: docs(10, 11),
		allIDs:    idSet(10, 11),
	}
	sink := newFakeSink()
	sink.upsertTagErr = map[int]error{2: errors.New("boom")}
	sink.upsertDocumentErr = map[int]error{10: errors.New("boom")}

	syncer, err := New(source, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce should tolerate per-entity failures: %v", err)
	}

	status := syncer.Status()
	if status.Tags.Synced != 2 || status.Tags.Skipped != 1 {
		t.Fatalf("tags = %+v, want 2 synced 1 skipped", status.Tags)
	}
	if status.Documents.Synced != 1 || status.Documents.Skipped != 1 {
		t.Fatalf("documents = %+v, want 1 synced 1 skipped", status.Documents)
	}
}

func TestSyncOnceListFailureAbortsCycle(t *testing.T) {
	listErr := errors.New("source down")
	source := &fakeSource{
		documents:   docs(1),
		allIDs:      idSet(1),
		listTagsErr: listErr,
	}
	sink := newFakeSink()
	backend := NewInMemoryStateBackend()

	syncer, err := New(source, sink, Options{StateBackend: backend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = syncer.SyncOnce(context.Background())
	if err == nil || !errors.Is(err, listErr) {
		t.Fatalf("SyncOnce error = %v, want wrapped %v", err, listErr)
	}

	state, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state != nil {
		t.Fatalf("state must not be persisted after a failed cycle, got %+v", state)
	}
	status := syncer.Status()
	if status.LastError == "" {
		t.Fatalf("status.LastError should record the failure")
	}
	if status.CompletedCycles != 0 {
		t.Fatalf("status.CompletedCycles = %d, want 0", status.CompletedCycles)
	}
}

func TestSyncOnceAdvancesModifiedThreshold(t *testing.T) {
	source := &fakeSource{documents: docs(1), allIDs: idSet(1)}
	sink := newFakeSink()
	backend := NewInMemoryStateBackend()

	syncer, err := New(source, sink, Options{StateBackend: backend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := time.Now().UTC()
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("first SyncOnce: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("second SyncOnce: %v", err)
	}

	if len(source.modifiedAfter) != 2 {
		t.Fatalf("ListDocuments calls = %d, want 2", len(source.modifiedAfter))
	}
	if source.modifiedAfter[0] != nil {
		t.Fatalf("first cycle must request a full document listing")
	}
	second := source.modifiedAfter[1]
	if second == nil {
		t.Fatalf("second cycle must request an incremental listing")
	}
	if second.Before(before) {
		t.Fatalf("threshold %v predates the first cycle start %v", second, before)
	}

	state, err := backend.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if state == nil || state.CompletedCycles != 2 {
		t.Fatalf("state = %+v, want 2 completed cycles", state)
	}
}

func TestSyncOnceResumesThresholdFromBackend(t *testing.T) {
	saved := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	backend := NewInMemoryStateBackend()
	if err := backend.Save(&State{LastSync: &saved, CompletedCycles: 9}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	source := &fakeSource{documents: docs(1), allIDs: idSet(1)}
	sink := newFakeSink()
	syncer, err := New(source, sink, Options{StateBackend: backend})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(source.modifiedAfter) != 1 || source.modifiedAfter[0] == nil {
		t.Fatalf("expected an incremental listing using the persisted threshold")
	}
	if !source.modifiedAfter[0].Equal(saved) {
		t.Fatalf("threshold = %v, want %v", source.modifiedAfter[0], saved)
	}
	if got := syncer.Status().CompletedCycles; got != 10 {
		t.Fatalf("CompletedCycles = %d, want 10", got)
	}
}

func TestSyncOnceFileFailureSkipsDocument(t *testing.T) {
	source := &fakeSource{
		documents: docs(1, 2),
		allIDs:    idSet(1, 2),
		fileErrs:  map[int]error{1: errors.New("download failed")},
	}
	sink := newFakeSink()

	syncer, err := New(source, sink, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(sink.upsertedDocs) != 1 || sink.upsertedDocs[0] != 2 {
		t.Fatalf("upserted docs = %v, want [2]", sink.upsertedDocs)
	}
	status := syncer.Status()
	if status.Documents.Skipped != 1 {
		t.Fatalf("documents skipped = %d, want 1", status.Documents.Skipped)
	}
}

type recordingPublisher struct {
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.events = append(p.events, event)
}

func TestSyncOncePublishesLifecycleEvents(t *testing.T) {
	source := &fakeSource{documents: docs(1), allIDs: idSet(1)}
	sink := newFakeSink()
	publisher := &recordingPublisher{}

	syncer, err := New(source, sink, Options{Events: publisher})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := syncer.SyncOnce(context.Background()); err != nil {
		t.Fatalf("SyncOnce: %v", err)
	}

	if len(publisher.events) == 0 {
		t.Fatalf("no events published")
	}
	if publisher.events[0].Type != EventSyncStarted {
		t.Fatalf("first event = %s, want %s", publisher.events[0].Type, EventSyncStarted)
	}
	last := publisher.events[len(publisher.events)-1]
	if last.Type != EventSyncCompleted {
		t.Fatalf("last event = %s, want %s", last.Type, EventSyncCompleted)
	}
	if last.Data["documents"] != 1 {
		t.Fatalf("completed event data = %v", last.Data)
	}
}
