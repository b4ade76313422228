// Package search maintains the full-text index of releases. Documents are
// keyed by dedupe key behind a rollover-managed alias, so bulk indexing is
// idempotent and the loop can safely replay a batch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/datallboy/nzbidx/internal/domain"
)

const (
	Alias        = "nzbidx-releases"
	bootstrapIdx = "nzbidx-releases-000001"
)

// Doc is the indexed projection of a release.
type Doc struct {
	NormTitle   string     `json:"norm_title"`
	Category    int        `json:"category"`
	Language    string     `json:"language"`
	Tags        []string   `json:"tags"`
	SourceGroup string     `json:"source_group"`
	SizeBytes   int64      `json:"size_bytes"`
	PostedAt    *time.Time `json:"posted_at"`
	HasParts    bool       `json:"has_parts"`
	PartCount   int        `json:"part_count"`
}

// DocFor projects a release into its index document.
func DocFor(rel *domain.Release) Doc {
	return Doc{
		NormTitle:   rel.NormTitle,
		Category:    rel.CategoryID,
		Language:    rel.Language,
		Tags:        rel.Tags,
		SourceGroup: rel.SourceGroup,
		SizeBytes:   rel.SizeBytes,
		PostedAt:    rel.PostedAt,
		HasParts:    rel.HasParts(),
		PartCount:   rel.PartCount(),
	}
}

type Indexer struct {
	client *opensearch.Client
	log    *slog.Logger
}

// New connects and makes sure the write alias exists.
func New(ctx context.Context, url string, log *slog.Logger) (*Indexer, error) {
	client, err := opensearch.NewClient(opensearch.Config{Addresses: []string{url}})
	if err != nil {
		return nil, fmt.Errorf("failed to build opensearch client: %w", err)
	}

	idx := &Indexer{client: client, log: log.With("component", "search")}
	if err := idx.bootstrap(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

// bootstrap creates the first backing index with the write alias when the
// alias does not exist yet. Rollover keeps appending -00000N siblings.
func (ix *Indexer) bootstrap(ctx context.Context) error {
	res, err := opensearchapi.IndicesExistsAliasRequest{Name: []string{Alias}}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("failed to check alias: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	body := fmt.Sprintf(`{
		"aliases": {%q: {"is_write_index": true}},
		"mappings": {
			"properties": {
				"norm_title":   {"type": "text"},
				"category":     {"type": "integer"},
				"language":     {"type": "keyword"},
				"tags":         {"type": "keyword"},
				"source_group": {"type": "keyword"},
				"size_bytes":   {"type": "long"},
				"posted_at":    {"type": "date"},
				"has_parts":    {"type": "boolean"},
				"part_count":   {"type": "integer"}
			}
		}
	}`, Alias)

	createRes, err := opensearchapi.IndicesCreateRequest{
		Index: bootstrapIdx,
		Body:  strings.NewReader(body),
	}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() && createRes.StatusCode != 400 {
		return fmt.Errorf("failed to create index: %s", createRes.String())
	}
	return nil
}

// Bulk upserts documents keyed by dedupe key. Per-document failures are
// logged and swallowed; the call errors only when the transport or the whole
// request fails.
func (ix *Indexer) Bulk(ctx context.Context, docs map[string]Doc) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := buildBulkBody(docs)
	if err != nil {
		return err
	}

	res, err := opensearchapi.BulkRequest{Body: bytes.NewReader(body)}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("bulk index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("bulk index: %s", res.String())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("bulk index response: %w", err)
	}
	if parsed.Errors {
		for _, item := range parsed.Items {
			if item.Index.Status >= 300 {
				ix.log.Warn("search_doc_failed",
					"id", item.Index.ID,
					"status", item.Index.Status,
					"reason", item.Index.Error.Reason)
			}
		}
	}
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// buildBulkBody renders the NDJSON payload: one action line plus one
// document line per entry.
func buildBulkBody(docs map[string]Doc) ([]byte, error) {
	var buf bytes.Buffer
	for key, doc := range docs {
		action, err := json.Marshal(map[string]any{
			"index": map[string]string{"_index": Alias, "_id": key},
		})
		if err != nil {
			return nil, err
		}
		source, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("marshal doc %s: %w", key, err)
		}
		buf.Write(action)
		buf.WriteByte('\n')
		buf.Write(source)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Delete removes one document (takedown).
func (ix *Indexer) Delete(ctx context.Context, dedupeKey string) error {
	res, err := opensearchapi.DeleteRequest{Index: Alias, DocumentID: dedupeKey}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("delete doc %s: %w", dedupeKey, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("delete doc %s: %s", dedupeKey, res.String())
	}
	return nil
}

// DeleteByIDs removes documents for releases pruned from the store.
func (ix *Indexer) DeleteByIDs(ctx context.Context, dedupeKeys []string) error {
	if len(dedupeKeys) == 0 {
		return nil
	}

	query := map[string]any{
		"query": map[string]any{"ids": map[string]any{"values": dedupeKeys}},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return err
	}

	res, err := opensearchapi.DeleteByQueryRequest{
		Index: []string{Alias},
		Body:  bytes.NewReader(body),
	}.Do(ctx, ix.client)
	if err != nil {
		return fmt.Errorf("delete by ids: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("delete by ids: %s", res.String())
	}
	return nil
}

// Hit is one search result.
type Hit struct {
	DedupeKey string
	Doc       Doc
}

// Query describes an API search.
type Query struct {
	Text       string
	Categories []int
	Limit      int
	Offset     int
}

// Search runs a full-text query against the alias, newest first.
func (ix *Indexer) Search(ctx context.Context, q Query) ([]Hit, int64, error) {
	must := []map[string]any{}
	if q.Text != "" {
		must = append(must, map[string]any{
			"match": map[string]any{
				"norm_title": map[string]any{"query": q.Text, "operator": "and"},
			},
		})
	}

	var filter []map[string]any
	if len(q.Categories) > 0 {
		var ranges []map[string]any
		for _, c := range q.Categories {
			if c%1000 == 0 {
				ranges = append(ranges, map[string]any{
					"range": map[string]any{"category": map[string]any{"gte": c, "lt": c + 1000}},
				})
			} else {
				ranges = append(ranges, map[string]any{
					"term": map[string]any{"category": c},
				})
			}
		}
		filter = append(filter, map[string]any{
			"bool": map[string]any{"should": ranges, "minimum_should_match": 1},
		})
	}

	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": must, "filter": filter}},
		"sort":  []map[string]any{{"posted_at": map[string]any{"order": "desc", "missing": "_last"}}},
		"from":  q.Offset,
		"size":  q.Limit,
	})
	if err != nil {
		return nil, 0, err
	}

	res, err := opensearchapi.SearchRequest{
		Index: []string{Alias},
		Body:  bytes.NewReader(body),
	}.Do(ctx, ix.client)
	if err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, 0, fmt.Errorf("search: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			Hits []struct {
				ID     string `json:"_id"`
				Source Doc    `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{DedupeKey: h.ID, Doc: h.Source})
	}
	return hits, parsed.Hits.Total.Value, nil
}
