package paperless

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentworkforce/papersync/internal/logging"
	"github.com/agentworkforce/papersync/internal/shared"
)

const serviceName = "paperless"

// Client reads documents, tags, and correspondents from a Paperless-NGX
// instance. Listing calls do not retry: a non-success status propagates
// immediately as a TransportError and the cycle-level cooldown is the retry
// policy.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	schemas    *schemaSet
	logger     logging.Logger
}

func NewClient(baseURL, token string, httpClient *http.Client, logger logging.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("paperless base url is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("paperless token is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		schemas:    schemas,
		logger:     logger,
	}, nil
}

// ListDocuments returns all documents whose source-tracked modification
// time is at or after modifiedAfter, or every document when it is nil.
func (c *Client) ListDocuments(ctx context.Context, modifiedAfter *time.Time) ([]Document, error) {
	start := c.baseURL + "/api/documents/"
	if modifiedAfter != nil {
		q := url.Values{}
		q.Set("modified__after", modifiedAfter.UTC().Format(time.RFC3339))
		start += "?" + q.Encode()
	}
	raws, err := c.collectPages(ctx, start)
	if err != nil {
		return nil, err
	}
	documents := make([]Document, 0, len(raws))
	for _, raw := range raws {
		if err := c.schemas.validateDocument(raw); err != nil {
			c.logger.Warn(ctx, "skipping invalid document payload", "error", err)
			continue
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			c.logger.Warn(ctx, "skipping undecodable document payload", "error", err)
			continue
		}
		documents = append(documents, doc)
	}
	return documents, nil
}

// ListAllDocumentIDs runs a separately-paginated full scan, independent of
// any modification filter, and projects only identifiers. Used for
// deletion detection.
func (c *Client) ListAllDocumentIDs(ctx context.Context) (map[int]struct{}, error) {
	raws, err := c.collectPages(ctx, c.baseURL+"/api/documents/")
	if err != nil {
		return nil, err
	}
	ids := make(map[int]struct{}, len(raws))
	for _, raw := range raws {
		var projected struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(raw, &projected); err != nil || projected.ID <= 0 {
			c.logger.Warn(ctx, "skipping document payload without usable id")
			continue
		}
		ids[projected.ID] = struct{}{}
	}
	return ids, nil
}

func (c *Client) ListTags(ctx context.Context) ([]Tag, error) {
	raws, err := c.collectPages(ctx, c.baseURL+"/api/tags/")
	if err != nil {
		return nil, err
	}
	tags := make([]Tag, 0, len(raws))
	for _, raw := range raws {
		if err := c.schemas.validateTag(raw); err != nil {
			c.logger.Warn(ctx, "skipping invalid tag payload", "error", err)
			continue
		}
		var tag Tag
		if err := json.Unmarshal(raw, &tag); err != nil {
			c.logger.Warn(ctx, "skipping undecodable tag payload", "error", err)
			continue
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func (c *Client) ListCorrespondents(ctx context.Context) ([]Correspondent, error) {
	raws, err := c.collectPages(ctx, c.baseURL+"/api/correspondents/")
	if err != nil {
		return nil, err
	}
	correspondents := make([]Correspondent, 0, len(raws))
	for _, raw := range raws {
		if err := c.schemas.validateCorrespondent(raw); err != nil {
			c.logger.Warn(ctx, "skipping invalid correspondent payload", "error", err)
			continue
		}
		var correspondent Correspondent
		if err := json.Unmarshal(raw, &correspondent); err != nil {
			c.logger.Warn(ctx, "skipping undecodable correspondent payload", "error", err)
			continue
		}
		correspondents = append(correspondents, correspondent)
	}
	return correspondents, nil
}

// GetDocumentFile fetches the raw content of a document. The filename
// comes from the Content-Disposition header when present.
func (c *Client) GetDocumentFile(ctx context.Context, id int) (DocumentFile, error) {
	fileURL := c.DocumentFileURL(id)
	body, header, err := c.fetchBinary(ctx, fileURL, "document", id)
	if err != nil {
		return DocumentFile{}, err
	}
	name := filenameFromDisposition(header.Get("Content-Disposition"))
	if name == "" {
		name = fmt.Sprintf("document-%d", id)
	}
	return DocumentFile{Name: name, URL: fileURL, Content: body}, nil
}

// GetDocumentPreview fetches the preview/thumbnail rendition of a document.
func (c *Client) GetDocumentPreview(ctx context.Context, id int) ([]byte, error) {
	previewURL := fmt.Sprintf("%s/api/documents/%d/preview/", c.baseURL, id)
	body, _, err := c.fetchBinary(ctx, previewURL, "document preview", id)
	return body, err
}

// DocumentFileURL is the stable download URL for a document, used as the
// sink's external file reference.
func (c *Client) DocumentFileURL(id int) string {
	return fmt.Sprintf("%s/api/documents/%d/download/", c.baseURL, id)
}

type listPage struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

// collectPages accumulates results across pages by following the source's
// next URL. Termination is driven strictly by next being absent, never by
// a page-count heuristic.
func (c *Client) collectPages(ctx context.Context, startURL string) ([]json.RawMessage, error) {
	var results []json.RawMessage
	pageURL := startURL
	for {
		page, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		results = append(results, page.Results...)
		if page.Next == nil || strings.TrimSpace(*page.Next) == "" {
			return results, nil
		}
		pageURL = *page.Next
	}
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (listPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return listPage{}, err
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return listPage{}, &shared.TransportError{Service: serviceName, Message: err.Error()}
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return listPage{}, &shared.TransportError{Service: serviceName, StatusCode: resp.StatusCode, Message: readErr.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return listPage{}, &shared.TransportError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	var page listPage
	if err := json.Unmarshal(body, &page); err != nil {
		return listPage{}, &shared.ValidationError{Entity: "list response", Message: err.Error()}
	}
	return page, nil
}

func (c *Client) fetchBinary(ctx context.Context, binaryURL, resource string, id int) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, binaryURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Token "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &shared.TransportError{Service: serviceName, Message: err.Error()}
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil, &shared.NotFoundError{Resource: resource, ID: id}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, &shared.TransportError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
	}
	if readErr != nil {
		return nil, nil, &shared.TransportError{Service: serviceName, StatusCode: resp.StatusCode, Message: readErr.Error()}
	}
	return body, resp.Header, nil
}

func filenameFromDisposition(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(params["filename"])
}
