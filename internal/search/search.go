// Package search indexes projects, tasks and ideas in Meilisearch and falls
// back to PostgreSQL full-text search when Meilisearch is unavailable.
package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject ResultType = "project"
	ResultTask    ResultType = "task"
	ResultIdea    ResultType = "idea"
)

type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId,omitempty"`
	Backlog   string     `json:"backlog,omitempty"`
	Status    string     `json:"status,omitempty"`
}

type Query struct {
	Text            string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProjects(projects []ProjectRecord) error
	IndexTasks(tasks []TaskRecord) error
	IndexIdeas(ideas []IdeaRecord) error
	DeleteProject(id string) error
	DeleteTask(id string) error
	DeleteIdea(id string) error
}

type ProjectRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Backlog     string `json:"backlog"`
	Status      string `json:"status"`
}

type TaskRecord struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Backlog     string `json:"backlog"`
	Status      string `json:"status"`
}

type IdeaRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Source      string `json:"source"`
	Status      string `json:"status"`
}
