package search

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxProjects = "hubo_projects"
	idxTasks    = "hubo_tasks"
	idxIdeas    = "hubo_ideas"
)

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes. An
// unreachable server is logged and retried by the health loop.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

// indexSettings lists every index with the attributes it filters and
// searches on. A project-scoped search filters projects by id and tasks by
// projectId, so both must be filterable.
var indexSettings = []struct {
	uid        string
	filterable []string
	searchable []string
}{
	{uid: idxProjects, filterable: []string{"id", "backlog", "status"}, searchable: []string{"title", "description"}},
	{uid: idxTasks, filterable: []string{"projectId", "backlog", "status"}, searchable: []string{"title", "description"}},
	{uid: idxIdeas, filterable: []string{"status", "source"}, searchable: []string{"title", "description"}},
}

func (m *Meili) configureIndexes() {
	for _, idx := range indexSettings {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: "id",
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterable := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterable[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the selected indexes in one multi-search and merges hits.
func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	queries := searchRequests(q)
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}
	return results, total, nil
}

func searchRequests(q Query) []*meili.SearchRequest {
	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	targets := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxProjects, ResultProject},
		{idxTasks, ResultTask},
		{idxIdeas, ResultIdea},
	}

	var queries []*meili.SearchRequest
	for _, target := range targets {
		if q.FilterType != "" && q.FilterType != target.rtyp {
			continue
		}
		if q.FilterProjectID != "" && target.rtyp == ResultIdea {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              target.uid,
			Query:                 q.Text,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.FilterProjectID != "" {
			field := "projectId"
			if target.rtyp == ResultProject {
				field = "id"
			}
			sr.Filter = fmt.Sprintf("%s = %q", field, q.FilterProjectID)
		}
		queries = append(queries, sr)
	}
	return queries
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxProjects:
		return ResultProject
	case idxTasks:
		return ResultTask
	case idxIdeas:
		return ResultIdea
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{
		Type:    rtyp,
		ID:      decodeString(hit, "id"),
		Backlog: decodeString(hit, "backlog"),
		Status:  decodeString(hit, "status"),
		Title:   firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet: firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
	}
	switch rtyp {
	case ResultProject:
		r.ProjectID = r.ID
	case ResultTask:
		r.ProjectID = decodeString(hit, "projectId")
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	value, _ := formatted[key].(string)
	return strings.TrimSpace(value)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexProjects(projects []ProjectRecord) error {
	if len(projects) == 0 {
		return nil
	}
	_, err := m.client.Index(idxProjects).AddDocuments(projects, nil)
	return err
}

func (m *Meili) IndexTasks(tasks []TaskRecord) error {
	if len(tasks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTasks).AddDocuments(tasks, nil)
	return err
}

func (m *Meili) IndexIdeas(ideas []IdeaRecord) error {
	if len(ideas) == 0 {
		return nil
	}
	_, err := m.client.Index(idxIdeas).AddDocuments(ideas, nil)
	return err
}

func (m *Meili) DeleteProject(id string) error {
	_, err := m.client.Index(idxProjects).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteTask(id string) error {
	_, err := m.client.Index(idxTasks).DeleteDocument(id, nil)
	return err
}

func (m *Meili) DeleteIdea(id string) error {
	_, err := m.client.Index(idxIdeas).DeleteDocument(id, nil)
	return err
}
