package notion

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentworkforce/papersync/internal/logging"
	"github.com/agentworkforce/papersync/internal/paperless"
	"github.com/agentworkforce/papersync/internal/shared"
)

// sourceIDProperty is the number property mirroring the Paperless primary
// key into every sink record; it is the join key between the two systems.
const sourceIDProperty = "paperless_id"

// Record is a sink record handle: the workspace-native page identifier
// plus the mirrored source identifier.
type Record struct {
	PageID   string
	SourceID int
}

type SinkOptions struct {
	DocumentsDB      string
	TagsDB           string
	CorrespondentsDB string
	Logger           logging.Logger
}

// Sink writes mirrored records into the three Notion databases. Upserts
// are lookup-then-branch: best-effort idempotency, not compare-and-swap.
// Two concurrent writers could race and create duplicates; the reconciler
// is the only writer and runs sequentially.
type Sink struct {
	client           *Client
	documentsDB      string
	tagsDB           string
	correspondentsDB string
	logger           logging.Logger
}

func NewSink(client *Client, opts SinkOptions) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("notion client is required")
	}
	documentsDB := strings.TrimSpace(opts.DocumentsDB)
	tagsDB := strings.TrimSpace(opts.TagsDB)
	correspondentsDB := strings.TrimSpace(opts.CorrespondentsDB)
	if documentsDB == "" || tagsDB == "" || correspondentsDB == "" {
		return nil, fmt.Errorf("documents, tags, and correspondents database ids are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Sink{
		client:           client,
		documentsDB:      documentsDB,
		tagsDB:           tagsDB,
		correspondentsDB: correspondentsDB,
		logger:           logger,
	}, nil
}

func (s *Sink) UpsertCorrespondent(ctx context.Context, correspondent paperless.Correspondent) (Record, error) {
	if correspondent.ID <= 0 {
		return Record{}, &shared.ValidationError{Entity: "correspondent", Message: "missing source identifier"}
	}
	properties := map[string]any{
		"Name":           titleProperty(correspondent.Name),
		sourceIDProperty: numberProperty(correspondent.ID),
	}
	return s.upsert(ctx, s.correspondentsDB, correspondent.ID, properties)
}

func (s *Sink) UpsertTag(ctx context.Context, tag paperless.Tag) (Record, error) {
	if tag.ID <= 0 {
		return Record{}, &shared.ValidationError{Entity: "tag", Message: "missing source identifier"}
	}
	properties := map[string]any{
		"Name":           titleProperty(tag.Name),
		sourceIDProperty: numberProperty(tag.ID),
		"Color":          richTextProperty(tag.Color),
	}
	return s.upsert(ctx, s.tagsDB, tag.ID, properties)
}

// UpsertDocument resolves the document's correspondent and tag references
// to their sink records before writing; a reference without a sink record
// fails with ReferenceNotFoundError, so correspondents and tags must be
// synced first. When file is non-nil the document carries an external file
// reference instead of an embedded upload.
func (s *Sink) UpsertDocument(ctx context.Context, doc paperless.Document, file *paperless.DocumentFile) (Record, error) {
	if doc.ID <= 0 {
		return Record{}, &shared.ValidationError{Entity: "document", Message: "missing source identifier"}
	}
	properties := map[string]any{
		"Title":          titleProperty(doc.Title),
		sourceIDProperty: numberProperty(doc.ID),
	}
	if prop, ok := dateProperty(doc.Created); ok {
		properties["Created Date"] = prop
	}
	if prop, ok := dateProperty(doc.Added); ok {
		properties["Added Date"] = prop
	}

	if doc.Correspondent != nil {
		page, err := s.findBySourceID(ctx, s.correspondentsDB, *doc.Correspondent)
		if err != nil {
			return Record{}, err
		}
		if page == nil {
			return Record{}, &shared.ReferenceNotFoundError{Collection: "correspondents", SourceID: *doc.Correspondent}
		}
		properties["Correspondent"] = relationProperty([]string{page.ID})
	}

	if len(doc.Tags) > 0 {
		tagPageIDs := make([]string, 0, len(doc.Tags))
		for _, tagID := range doc.Tags {
			page, err := s.findBySourceID(ctx, s.tagsDB, tagID)
			if err != nil {
				return Record{}, err
			}
			if page == nil {
				return Record{}, &shared.ReferenceNotFoundError{Collection: "tags", SourceID: tagID}
			}
			tagPageIDs = append(tagPageIDs, page.ID)
		}
		properties["Tags"] = relationProperty(tagPageIDs)
	}

	if file != nil && file.URL != "" {
		properties["File"] = filesProperty(truncateFileName(file.Name, maxFileNameLength), file.URL)
	}

	return s.upsert(ctx, s.documentsDB, doc.ID, properties)
}

// ListAllDocumentIDs scans the documents database and maps each mirrored
// source identifier to its page id. Used for deletion detection.
func (s *Sink) ListAllDocumentIDs(ctx context.Context) (map[int]string, error) {
	ids := map[int]string{}
	cursor := ""
	for {
		resp, err := s.client.QueryDatabase(ctx, s.documentsDB, QueryRequest{
			StartCursor: cursor,
			PageSize:    100,
		})
		if err != nil {
			return nil, err
		}
		for _, page := range resp.Results {
			prop, ok := page.Properties[sourceIDProperty]
			if !ok || prop.Number == nil {
				s.logger.Warn(ctx, "sink document page without source identifier", "page", page.ID)
				continue
			}
			ids[int(*prop.Number)] = page.ID
		}
		if !resp.HasMore || resp.NextCursor == nil || *resp.NextCursor == "" {
			return ids, nil
		}
		cursor = *resp.NextCursor
	}
}

// ArchiveDocument flags a sink document record archived; records are never
// deleted.
func (s *Sink) ArchiveDocument(ctx context.Context, pageID string) error {
	if strings.TrimSpace(pageID) == "" {
		return &shared.ValidationError{Entity: "document", Message: "missing sink page id"}
	}
	return s.client.ArchivePage(ctx, pageID)
}

func (s *Sink) upsert(ctx context.Context, databaseID string, sourceID int, properties map[string]any) (Record, error) {
	existing, err := s.findBySourceID(ctx, databaseID, sourceID)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		page, err := s.client.UpdatePage(ctx, existing.ID, properties)
		if err != nil {
			return Record{}, err
		}
		return Record{PageID: page.ID, SourceID: sourceID}, nil
	}
	page, err := s.client.CreatePage(ctx, databaseID, properties)
	if err != nil {
		return Record{}, err
	}
	return Record{PageID: page.ID, SourceID: sourceID}, nil
}

// findBySourceID returns the page mirroring sourceID, or nil when no sink
// record exists, so callers can tell "missing" apart from a transport
// failure without matching error strings.
func (s *Sink) findBySourceID(ctx context.Context, databaseID string, sourceID int) (*Page, error) {
	resp, err := s.client.QueryDatabase(ctx, databaseID, QueryRequest{
		Filter: map[string]any{
			"property": sourceIDProperty,
			"number":   map[string]any{"equals": sourceID},
		},
		PageSize: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	page := resp.Results[0]
	return &page, nil
}
