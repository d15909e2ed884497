package search

import (
	"context"
	"log"
)

// RecordLoader reads every searchable row for a full reindex. PgFTS
// satisfies it.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, []IdeaRecord, error)
}

// Index is a searchable index that can also be written to. Meili satisfies it.
type Index interface {
	Searcher
	Indexer
}

// Service is the facade that tries the index first and falls back to PG FTS.
type Service struct {
	index    Index
	fallback Searcher
	loader   RecordLoader
	// async runs index writes; tests replace it to run inline.
	async func(func())
}

// NewService creates a search service. index may be nil when Meilisearch is
// not configured.
func NewService(index Index, fallback Searcher, loader RecordLoader) *Service {
	return &Service{
		index:    index,
		fallback: fallback,
		loader:   loader,
		async:    func(fn func()) { go fn() },
	}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) IndexProject(record ProjectRecord) {
	s.write("index project "+record.ID, func(idx Index) error { return idx.IndexProjects([]ProjectRecord{record}) })
}

func (s *Service) IndexTasks(records []TaskRecord) {
	if len(records) == 0 {
		return
	}
	s.write("index tasks", func(idx Index) error { return idx.IndexTasks(records) })
}

func (s *Service) IndexIdea(record IdeaRecord) {
	s.write("index idea "+record.ID, func(idx Index) error { return idx.IndexIdeas([]IdeaRecord{record}) })
}

func (s *Service) DeleteProject(id string) {
	s.write("delete project "+id, func(idx Index) error { return idx.DeleteProject(id) })
}

func (s *Service) DeleteTask(id string) {
	s.write("delete task "+id, func(idx Index) error { return idx.DeleteTask(id) })
}

func (s *Service) DeleteIdea(id string) {
	s.write("delete idea "+id, func(idx Index) error { return idx.DeleteIdea(id) })
}

// write sends one fire-and-forget update to the index.
func (s *Service) write(what string, fn func(Index) error) {
	if !s.indexReady() {
		return
	}
	idx := s.index
	s.async(func() {
		if err := fn(idx); err != nil {
			log.Printf("search: %s: %v", what, err)
		}
	})
}

// ReindexAll reloads every row from Postgres into the index.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	projects, tasks, ideas, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.index.IndexProjects(projects); err != nil {
		log.Printf("search: reindex projects: %v", err)
	}
	if err := s.index.IndexTasks(tasks); err != nil {
		log.Printf("search: reindex tasks: %v", err)
	}
	if err := s.index.IndexIdeas(ideas); err != nil {
		log.Printf("search: reindex ideas: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
