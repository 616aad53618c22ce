package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexBook indexes a book (fire-and-forget to Meilisearch).
func (s *Service) IndexBook(b BookRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexBook(b); err != nil {
			log.Printf("search: index book %s: %v", b.ID, err)
		}
	}()
}

// IndexChapter indexes a chapter (fire-and-forget to Meilisearch). Callers
// must only pass chapters that are visible to readers.
func (s *Service) IndexChapter(c ChapterRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexChapter(c); err != nil {
			log.Printf("search: index chapter %s: %v", c.ID, err)
		}
	}()
}

// DeleteBook removes a book from the search index (fire-and-forget).
func (s *Service) DeleteBook(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteBook(id); err != nil {
			log.Printf("search: delete book %s: %v", id, err)
		}
	}()
}

// DeleteChapter removes a chapter from the search index (fire-and-forget).
func (s *Service) DeleteChapter(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteChapter(id); err != nil {
			log.Printf("search: delete chapter %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into
// Meilisearch. Called at startup when Meilisearch is configured.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	books, chapters, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexBooks(books); err != nil {
		log.Printf("search: reindex books: %v", err)
	}
	if err := s.meili.IndexChapters(chapters); err != nil {
		log.Printf("search: reindex chapters: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
