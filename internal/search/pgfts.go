package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Unlike the Meilisearch path, which only ever receives visible chapters,
// the fallback queries live tables and must apply the visibility predicate
// itself.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true, if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across books and chapters using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultBook {
		bookWhere := "b.fts @@ " + tsQuery
		if q.FilterCategoryID != "" {
			bookWhere += fmt.Sprintf(" AND b.category_id = $%d", argN)
			args = append(args, q.FilterCategoryID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'book'::text AS type, b.id, b.title,
				ts_headline('english', coalesce(b.synopsis, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				b.id AS book_id, u.username AS author_name,
				coalesce(b.category_id, '') AS category_id,
				ts_rank(b.fts, %s) AS rank
			FROM books b
			JOIN users u ON u.id = b.author_id
			WHERE %s`, tsQuery, tsQuery, bookWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultChapter {
		chapterWhere := "ch.fts @@ " + tsQuery +
			" AND (ch.status = 'published' OR (ch.status = 'scheduled' AND ch.publish_at IS NOT NULL AND ch.publish_at <= NOW()))"
		if q.FilterCategoryID != "" {
			chapterWhere += fmt.Sprintf(" AND b.category_id = $%d", argN)
			args = append(args, q.FilterCategoryID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'chapter'::text AS type, ch.id, ch.title,
				ts_headline('english', coalesce(ch.content, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				ch.book_id, u.username AS author_name,
				coalesce(b.category_id, '') AS category_id,
				ts_rank(ch.fts, %s) AS rank
			FROM chapters ch
			JOIN books b ON b.id = ch.book_id
			JOIN users u ON u.id = b.author_id
			WHERE %s`, tsQuery, tsQuery, chapterWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, book_id, author_name, category_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.BookID, &r.AuthorName, &r.CategoryID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing. Only
// chapters already visible to readers are loaded.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]BookRecord, []ChapterRecord, error) {
	bookRows, err := p.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.synopsis, u.username, coalesce(b.category_id, ''), b.status
		FROM books b
		JOIN users u ON u.id = b.author_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load books: %w", err)
	}
	defer bookRows.Close()

	books := make([]BookRecord, 0)
	for bookRows.Next() {
		var b BookRecord
		if err := bookRows.Scan(&b.ID, &b.Title, &b.Synopsis, &b.AuthorName, &b.CategoryID, &b.Status); err != nil {
			return nil, nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := bookRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate books: %w", err)
	}

	chapterRows, err := p.db.QueryContext(ctx, `
		SELECT ch.id, ch.title, ch.content, ch.book_id, b.title, u.username, coalesce(b.category_id, '')
		FROM chapters ch
		JOIN books b ON b.id = ch.book_id
		JOIN users u ON u.id = b.author_id
		WHERE ch.status = 'published'
			OR (ch.status = 'scheduled' AND ch.publish_at IS NOT NULL AND ch.publish_at <= NOW())
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load chapters: %w", err)
	}
	defer chapterRows.Close()

	chapters := make([]ChapterRecord, 0)
	for chapterRows.Next() {
		var c ChapterRecord
		if err := chapterRows.Scan(&c.ID, &c.Title, &c.Content, &c.BookID, &c.BookTitle, &c.AuthorName, &c.CategoryID); err != nil {
			return nil, nil, fmt.Errorf("scan chapter: %w", err)
		}
		chapters = append(chapters, c)
	}
	if err := chapterRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chapters: %w", err)
	}

	return books, chapters, nil
}
