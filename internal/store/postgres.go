package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"librioo/api/internal/util"
)

// visibleChapter is the SQL mirror of visibility.IsVisible. Every reader-facing
// chapter query must use it with the caller's "now".
const visibleChapter = `(status = 'published' OR (status = 'scheduled' AND publish_at IS NOT NULL AND publish_at <= %s))`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, username string) (User, error) {
	const findUser = `SELECT id, username, email, role FROM users WHERE username = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, username).Scan(&user.ID, &user.Username, &user.Email, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (id, username, email, role)
		VALUES ($1, $2, CONCAT(LOWER($2), '@local.librioo.dev'), 'writer')
		RETURNING id, username, email, role
	`
	if err := s.db.QueryRowContext(ctx, insertUser, newUserID(), username).Scan(&user.ID, &user.Username, &user.Email, &user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, role, created_at FROM users WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.Role, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// ---- books ----

func (s *PostgresStore) InsertBook(ctx context.Context, book Book) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO books (id, author_id, title, synopsis, category_id, status, is_paid, price_cents)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)
	`, book.ID, book.AuthorID, book.Title, book.Synopsis, deref(book.CategoryID), book.Status, book.IsPaid, book.PriceCents)
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBook(ctx context.Context, bookID string) (Book, error) {
	var item Book
	err := s.db.QueryRowContext(ctx, `
		SELECT b.id, b.author_id, u.username, b.title, b.synopsis, b.category_id, b.status, b.is_paid, b.price_cents, b.created_at, b.updated_at
		FROM books b
		JOIN users u ON u.id = b.author_id
		WHERE b.id=$1
	`, bookID).Scan(
		&item.ID,
		&item.AuthorID,
		&item.AuthorName,
		&item.Title,
		&item.Synopsis,
		&item.CategoryID,
		&item.Status,
		&item.IsPaid,
		&item.PriceCents,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Book{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.author_id, u.username, b.title, b.synopsis, b.category_id, b.status, b.is_paid, b.price_cents, b.created_at, b.updated_at
		FROM books b
		JOIN users u ON u.id = b.author_id
		ORDER BY b.updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	items := make([]Book, 0)
	for rows.Next() {
		var item Book
		if err := rows.Scan(
			&item.ID,
			&item.AuthorID,
			&item.AuthorName,
			&item.Title,
			&item.Synopsis,
			&item.CategoryID,
			&item.Status,
			&item.IsPaid,
			&item.PriceCents,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) TouchBook(ctx context.Context, bookID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE books SET updated_at=NOW() WHERE id=$1`, bookID)
	if err != nil {
		return fmt.Errorf("touch book: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsCollaborator(ctx context.Context, bookID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM collaborations WHERE book_id=$1 AND user_id=$2)
	`, bookID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check collaborator: %w", err)
	}
	return exists, nil
}

// ---- chapters ----

func (s *PostgresStore) NextChapterNumber(ctx context.Context, bookID string) (int, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number), 0) + 1 FROM chapters WHERE book_id=$1
	`, bookID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next chapter number: %w", err)
	}
	return next, nil
}

func (s *PostgresStore) InsertChapter(ctx context.Context, chapter Chapter) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapters (id, book_id, number, title, content, content_html, status, publish_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, chapter.ID, chapter.BookID, chapter.Number, chapter.Title, chapter.Content, chapter.ContentHTML, chapter.Status, chapter.PublishAt)
	if err != nil {
		return fmt.Errorf("insert chapter: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChapter(ctx context.Context, chapterID string) (Chapter, error) {
	var item Chapter
	err := s.db.QueryRowContext(ctx, `
		SELECT id, book_id, number, title, content, content_html, status, publish_at, notified_at, created_at, updated_at
		FROM chapters
		WHERE id=$1
	`, chapterID).Scan(
		&item.ID,
		&item.BookID,
		&item.Number,
		&item.Title,
		&item.Content,
		&item.ContentHTML,
		&item.Status,
		&item.PublishAt,
		&item.NotifiedAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Chapter{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListVisibleChapters(ctx context.Context, bookID string, now time.Time) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, number, title, content, content_html, status, publish_at, notified_at, created_at, updated_at
		FROM chapters
		WHERE book_id=$1 AND `+fmt.Sprintf(visibleChapter, "$2")+`
		ORDER BY number ASC
	`, bookID, now)
	if err != nil {
		return nil, fmt.Errorf("list visible chapters: %w", err)
	}
	defer rows.Close()

	items := make([]Chapter, 0)
	for rows.Next() {
		var item Chapter
		if err := rows.Scan(
			&item.ID,
			&item.BookID,
			&item.Number,
			&item.Title,
			&item.Content,
			&item.ContentHTML,
			&item.Status,
			&item.PublishAt,
			&item.NotifiedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapters: %w", err)
	}
	return items, nil
}

// ListDueScheduled returns chapters eligible for promotion. A scheduled
// chapter without a publish time is a defect state and is never selected.
func (s *PostgresStore) ListDueScheduled(ctx context.Context, now time.Time) ([]Chapter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, book_id, number, title, content, content_html, status, publish_at, notified_at, created_at, updated_at
		FROM chapters
		WHERE status='scheduled' AND publish_at IS NOT NULL AND publish_at <= $1
		ORDER BY publish_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list due scheduled chapters: %w", err)
	}
	defer rows.Close()

	items := make([]Chapter, 0)
	for rows.Next() {
		var item Chapter
		if err := rows.Scan(
			&item.ID,
			&item.BookID,
			&item.Number,
			&item.Title,
			&item.Content,
			&item.ContentHTML,
			&item.Status,
			&item.PublishAt,
			&item.NotifiedAt,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan due chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due chapters: %w", err)
	}
	return items, nil
}

// PromoteChapter flips a scheduled chapter to published. The status guard
// makes the promotion a no-op when the chapter was edited away from
// scheduled between selection and update.
func (s *PostgresStore) PromoteChapter(ctx context.Context, chapterID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET status='published' WHERE id=$1 AND status='scheduled'
	`, chapterID)
	if err != nil {
		return false, fmt.Errorf("promote chapter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("promote chapter rows: %w", err)
	}
	return affected > 0, nil
}

// ClaimChapterFanout atomically marks the chapter's one-time notification
// fan-out as taken. Only the caller that sees true may notify subscribers.
func (s *PostgresStore) ClaimChapterFanout(ctx context.Context, chapterID string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chapters SET notified_at=$2 WHERE id=$1 AND notified_at IS NULL
	`, chapterID, now)
	if err != nil {
		return false, fmt.Errorf("claim chapter fanout: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim chapter fanout rows: %w", err)
	}
	return affected > 0, nil
}

// UpdateChapter rewrites every editable chapter field, including status and
// publish_at. Content-only mutations go through UpdateChapterContent.
func (s *PostgresStore) UpdateChapter(ctx context.Context, chapter Chapter) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chapters
		SET title=$2, content=$3, content_html=$4, status=$5, publish_at=$6, updated_at=NOW()
		WHERE id=$1
	`, chapter.ID, chapter.Title, chapter.Content, chapter.ContentHTML, chapter.Status, chapter.PublishAt)
	if err != nil {
		return fmt.Errorf("update chapter: %w", err)
	}
	return nil
}

// DeleteChapter removes the chapter; revisions, views, and poll rows go with
// it via foreign keys.
func (s *PostgresStore) DeleteChapter(ctx context.Context, chapterID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chapters WHERE id=$1`, chapterID)
	if err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	return nil
}

// ListChapterIDs returns every chapter id of a book regardless of
// visibility. Used for index cleanup before a book is deleted.
func (s *PostgresStore) ListChapterIDs(ctx context.Context, bookID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chapters WHERE book_id=$1`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapter ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chapter id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteBook removes the book and, through foreign keys, its chapters,
// subscriptions, shelf items, and engagement rows.
func (s *PostgresStore) DeleteBook(ctx context.Context, bookID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id=$1`, bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChapterContent(ctx context.Context, chapterID, title, content, contentHTML string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chapters
		SET title=$2, content=$3, content_html=$4, updated_at=NOW()
		WHERE id=$1
	`, chapterID, title, content, contentHTML)
	if err != nil {
		return fmt.Errorf("update chapter content: %w", err)
	}
	return nil
}

// ---- revisions ----

func (s *PostgresStore) InsertRevision(ctx context.Context, revision ChapterRevision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_revisions (id, chapter_id, editor_id, title, content, content_html, is_autosave)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, revision.ID, revision.ChapterID, revision.EditorID, revision.Title, revision.Content, revision.ContentHTML, revision.IsAutosave)
	if err != nil {
		return fmt.Errorf("insert revision: %w", err)
	}
	return nil
}

// PruneAutosaves deletes autosave revisions beyond keep, oldest first.
// Manual revisions are never touched. The retained set is computed from a
// single consistent ordering at delete time.
func (s *PostgresStore) PruneAutosaves(ctx context.Context, chapterID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chapter_revisions
		WHERE id IN (
			SELECT id FROM chapter_revisions
			WHERE chapter_id=$1 AND is_autosave
			ORDER BY created_at DESC, id DESC
			OFFSET $2
		)
	`, chapterID, keep)
	if err != nil {
		return 0, fmt.Errorf("prune autosaves: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune autosaves rows: %w", err)
	}
	return int(affected), nil
}

func (s *PostgresStore) ListRevisions(ctx context.Context, chapterID string, limit int) ([]ChapterRevision, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.chapter_id, r.editor_id, u.username, r.title, r.content, r.content_html, r.is_autosave, r.created_at
		FROM chapter_revisions r
		JOIN users u ON u.id = r.editor_id
		WHERE r.chapter_id=$1
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT $2
	`, chapterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	defer rows.Close()

	items := make([]ChapterRevision, 0)
	for rows.Next() {
		var item ChapterRevision
		if err := rows.Scan(
			&item.ID,
			&item.ChapterID,
			&item.EditorID,
			&item.EditorName,
			&item.Title,
			&item.Content,
			&item.ContentHTML,
			&item.IsAutosave,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan revision: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate revisions: %w", err)
	}
	return items, nil
}

// GetRevision resolves a revision only within the stated chapter; a
// revision id belonging to another chapter reads as not found.
func (s *PostgresStore) GetRevision(ctx context.Context, chapterID, revisionID string) (ChapterRevision, error) {
	var item ChapterRevision
	err := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.chapter_id, r.editor_id, u.username, r.title, r.content, r.content_html, r.is_autosave, r.created_at
		FROM chapter_revisions r
		JOIN users u ON u.id = r.editor_id
		WHERE r.chapter_id=$1 AND r.id=$2
	`, chapterID, revisionID).Scan(
		&item.ID,
		&item.ChapterID,
		&item.EditorID,
		&item.EditorName,
		&item.Title,
		&item.Content,
		&item.ContentHTML,
		&item.IsAutosave,
		&item.CreatedAt,
	)
	if err != nil {
		return ChapterRevision{}, err
	}
	return item, nil
}

// ---- subscriptions ----

// ToggleSubscription removes an existing subscription or creates a missing
// one, reporting whether the user ends up subscribed.
func (s *PostgresStore) ToggleSubscription(ctx context.Context, userID, bookID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM book_subscriptions WHERE user_id=$1 AND book_id=$2
	`, userID, bookID)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete subscription rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO book_subscriptions (user_id, book_id) VALUES ($1, $2)
	`, userID, bookID); err != nil {
		return false, fmt.Errorf("insert subscription: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListSubscriberIDs(ctx context.Context, bookID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM book_subscriptions WHERE book_id=$1 ORDER BY created_at ASC
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribers: %w", err)
	}
	return ids, nil
}

func (s *PostgresStore) SubscriberCount(ctx context.Context, bookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM book_subscriptions WHERE book_id=$1
	`, bookID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListSubscribedBookIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT book_id FROM book_subscriptions WHERE user_id=$1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscribed books: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscribed book: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscribed books: %w", err)
	}
	return ids, nil
}

// ListFavoriteCategoryIDs gathers the categories of every book the user has
// shelved, subscribed to, or recently read.
func (s *PostgresStore) ListFavoriteCategoryIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT b.category_id
		FROM books b
		WHERE b.category_id IS NOT NULL AND b.id IN (
			SELECT book_id FROM bookshelf_items WHERE user_id=$1
			UNION
			SELECT book_id FROM book_subscriptions WHERE user_id=$1
			UNION
			SELECT book_id FROM reading_history WHERE user_id=$1
		)
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list favorite categories: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan favorite category: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate favorite categories: %w", err)
	}
	return ids, nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_id, verb, target_kind, target_id)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''))
	`, notification.ID, notification.RecipientID, notification.Verb, string(notification.TargetKind), notification.TargetID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_id, verb, COALESCE(target_kind, ''), COALESCE(target_id, ''), is_read, created_at
		FROM notifications
		WHERE recipient_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		var kind string
		if err := rows.Scan(&item.ID, &item.RecipientID, &item.Verb, &kind, &item.TargetID, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		item.TargetKind = TargetKind(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, recipientID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE recipient_id=$1 AND is_read=FALSE
	`, recipientID)
	if err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

// ---- engagement events ----

func (s *PostgresStore) InsertChapterView(ctx context.Context, chapterID string, userID *string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chapter_views (chapter_id, user_id) VALUES ($1, $2)
	`, chapterID, userID)
	if err != nil {
		return fmt.Errorf("insert chapter view: %w", err)
	}
	return nil
}

// ToggleReaction deletes an existing reaction or creates a missing one,
// reporting whether the reaction ends up set.
func (s *PostgresStore) ToggleReaction(ctx context.Context, userID string, targetKind TargetKind, targetID, kind string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE user_id=$1 AND target_kind=$2 AND target_id=$3 AND kind=$4
	`, userID, string(targetKind), targetID, kind)
	if err != nil {
		return false, fmt.Errorf("delete reaction: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete reaction rows: %w", err)
	}
	if affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO reactions (user_id, target_kind, target_id, kind) VALUES ($1, $2, $3, $4)
	`, userID, string(targetKind), targetID, kind); err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, user_id, target_kind, target_id, parent_id, body, is_quote)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.UserID, string(comment.TargetKind), comment.TargetID, comment.ParentID, comment.Text, comment.IsQuote)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

// UpsertVote records the user's vote for a poll, replacing any earlier vote
// on the same poll. The option must belong to the poll.
func (s *PostgresStore) UpsertVote(ctx context.Context, pollID, optionID, userID string) error {
	var belongs bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM poll_options WHERE id=$1 AND poll_id=$2)
	`, optionID, pollID).Scan(&belongs)
	if err != nil {
		return fmt.Errorf("check poll option: %w", err)
	}
	if !belongs {
		return sql.ErrNoRows
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO poll_votes (poll_id, option_id, user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (poll_id, user_id)
		DO UPDATE SET option_id=EXCLUDED.option_id, created_at=NOW()
	`, pollID, optionID, userID); err != nil {
		return fmt.Errorf("upsert vote: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertShelfItem(ctx context.Context, userID, bookID, status string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bookshelf_items (user_id, book_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, book_id)
		DO UPDATE SET status=EXCLUDED.status
	`, userID, bookID, status)
	if err != nil {
		return fmt.Errorf("upsert shelf item: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertReadingHistory(ctx context.Context, userID, bookID, chapterID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reading_history (user_id, book_id, last_chapter_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, book_id)
		DO UPDATE SET last_chapter_id=EXCLUDED.last_chapter_id, updated_at=NOW()
	`, userID, bookID, chapterID)
	if err != nil {
		return fmt.Errorf("upsert reading history: %w", err)
	}
	return nil
}

// ---- aggregates ----

// BookStatsAll returns one row per book with engagement counts since the
// given instant. Missing aggregates read as zero, never as NULL.
func (s *PostgresStore) BookStatsAll(ctx context.Context, since time.Time) ([]BookStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.author_id, u.username, b.category_id, b.status, b.updated_at,
			COALESCE(v.recent_views, 0),
			COALESCE(sub.subs, 0),
			COALESCE(c.chapters, 0),
			c.latest_published_at,
			COALESCE(c.new_chapters, 0)
		FROM books b
		JOIN users u ON u.id = b.author_id
		LEFT JOIN (
			SELECT ch.book_id, COUNT(*) AS recent_views
			FROM chapter_views cv
			JOIN chapters ch ON ch.id = cv.chapter_id
			WHERE cv.created_at >= $1
			GROUP BY ch.book_id
		) v ON v.book_id = b.id
		LEFT JOIN (
			SELECT book_id, COUNT(*) AS subs
			FROM book_subscriptions
			GROUP BY book_id
		) sub ON sub.book_id = b.id
		LEFT JOIN (
			SELECT book_id,
				COUNT(*) AS chapters,
				MAX(publish_at) FILTER (WHERE status='published') AS latest_published_at,
				COUNT(*) FILTER (WHERE status='published' AND publish_at >= $1) AS new_chapters
			FROM chapters
			GROUP BY book_id
		) c ON c.book_id = b.id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("book stats: %w", err)
	}
	defer rows.Close()

	items := make([]BookStats, 0)
	for rows.Next() {
		var item BookStats
		if err := rows.Scan(
			&item.BookID,
			&item.Title,
			&item.AuthorID,
			&item.AuthorName,
			&item.CategoryID,
			&item.Status,
			&item.UpdatedAt,
			&item.RecentViews,
			&item.Subscribers,
			&item.Chapters,
			&item.LatestPublishedAt,
			&item.NewChapters,
		); err != nil {
			return nil, fmt.Errorf("scan book stats: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate book stats: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CategoryStatsAll(ctx context.Context, since time.Time) ([]CategoryStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cat.id, cat.name, cat.slug,
			COUNT(DISTINCT b.id),
			COALESCE(v.recent_views, 0)
		FROM categories cat
		LEFT JOIN books b ON b.category_id = cat.id
		LEFT JOIN (
			SELECT bk.category_id, COUNT(*) AS recent_views
			FROM chapter_views cv
			JOIN chapters ch ON ch.id = cv.chapter_id
			JOIN books bk ON bk.id = ch.book_id
			WHERE cv.created_at >= $1 AND bk.category_id IS NOT NULL
			GROUP BY bk.category_id
		) v ON v.category_id = cat.id
		GROUP BY cat.id, cat.name, cat.slug, v.recent_views
		ORDER BY COALESCE(v.recent_views, 0) DESC, COUNT(DISTINCT b.id) DESC, cat.name ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("category stats: %w", err)
	}
	defer rows.Close()

	items := make([]CategoryStats, 0)
	for rows.Next() {
		var item CategoryStats
		if err := rows.Scan(&item.CategoryID, &item.Name, &item.Slug, &item.Books, &item.RecentViews); err != nil {
			return nil, fmt.Errorf("scan category stats: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate category stats: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) AuthorStatsAll(ctx context.Context, since time.Time) ([]AuthorStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username,
			COUNT(DISTINCT b.id),
			COUNT(DISTINCT bs.user_id),
			COALESCE(v.recent_views, 0)
		FROM users u
		JOIN books b ON b.author_id = u.id
		LEFT JOIN book_subscriptions bs ON bs.book_id = b.id
		LEFT JOIN (
			SELECT bk.author_id, COUNT(*) AS recent_views
			FROM chapter_views cv
			JOIN chapters ch ON ch.id = cv.chapter_id
			JOIN books bk ON bk.id = ch.book_id
			WHERE cv.created_at >= $1
			GROUP BY bk.author_id
		) v ON v.author_id = u.id
		GROUP BY u.id, u.username, v.recent_views
		ORDER BY COALESCE(v.recent_views, 0) DESC, COUNT(DISTINCT bs.user_id) DESC, COUNT(DISTINCT b.id) DESC, u.username ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("author stats: %w", err)
	}
	defer rows.Close()

	items := make([]AuthorStats, 0)
	for rows.Next() {
		var item AuthorStats
		if err := rows.Scan(&item.AuthorID, &item.Username, &item.Books, &item.Followers, &item.RecentViews); err != nil {
			return nil, fmt.Errorf("scan author stats: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author stats: %w", err)
	}
	return items, nil
}

// WriterDashboard returns lifetime engagement totals for every book owned
// by the author. Absent counts read as zero.
func (s *PostgresStore) WriterDashboard(ctx context.Context, authorID string) ([]DashboardRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.title, b.status,
			COALESCE(v.reads, 0),
			COALESCE(cm.comments, 0),
			COALESCE(r.likes, 0),
			COALESCE(c.chapters, 0),
			COALESCE(sub.subs, 0),
			b.created_at
		FROM books b
		LEFT JOIN (
			SELECT ch.book_id, COUNT(*) AS reads
			FROM chapter_views cv
			JOIN chapters ch ON ch.id = cv.chapter_id
			GROUP BY ch.book_id
		) v ON v.book_id = b.id
		LEFT JOIN (
			SELECT ch.book_id, COUNT(*) AS comments
			FROM comments c
			JOIN chapters ch ON ch.id = c.target_id AND c.target_kind = 'chapter'
			GROUP BY ch.book_id
		) cm ON cm.book_id = b.id
		LEFT JOIN (
			SELECT ch.book_id, COUNT(*) AS likes
			FROM reactions re
			JOIN chapters ch ON ch.id = re.target_id AND re.target_kind = 'chapter'
			WHERE re.kind = 'like'
			GROUP BY ch.book_id
		) r ON r.book_id = b.id
		LEFT JOIN (
			SELECT book_id, COUNT(*) AS chapters FROM chapters GROUP BY book_id
		) c ON c.book_id = b.id
		LEFT JOIN (
			SELECT book_id, COUNT(*) AS subs FROM book_subscriptions GROUP BY book_id
		) sub ON sub.book_id = b.id
		WHERE b.author_id=$1
		ORDER BY b.created_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("writer dashboard: %w", err)
	}
	defer rows.Close()

	items := make([]DashboardRow, 0)
	for rows.Next() {
		var item DashboardRow
		if err := rows.Scan(
			&item.BookID,
			&item.Title,
			&item.Status,
			&item.Reads,
			&item.Comments,
			&item.Likes,
			&item.Chapters,
			&item.Subscribers,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan dashboard row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboard rows: %w", err)
	}
	return items, nil
}

// FreshChapters returns chapters published inside [since, now], newest first.
func (s *PostgresStore) FreshChapters(ctx context.Context, since, now time.Time, limit int) ([]ChapterTeaser, error) {
	if limit <= 0 {
		limit = 12
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT ch.id, ch.title, ch.number, b.id, b.title, u.username, ch.publish_at
		FROM chapters ch
		JOIN books b ON b.id = ch.book_id
		JOIN users u ON u.id = b.author_id
		WHERE ch.status='published' AND ch.publish_at IS NOT NULL
			AND ch.publish_at >= $1 AND ch.publish_at <= $2
		ORDER BY ch.publish_at DESC
		LIMIT $3
	`, since, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fresh chapters: %w", err)
	}
	defer rows.Close()

	items := make([]ChapterTeaser, 0)
	for rows.Next() {
		var item ChapterTeaser
		if err := rows.Scan(&item.ChapterID, &item.Title, &item.Number, &item.BookID, &item.BookTitle, &item.AuthorName, &item.PublishAt); err != nil {
			return nil, fmt.Errorf("scan fresh chapter: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fresh chapters: %w", err)
	}
	return items, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func newUserID() string {
	return util.NewID("usr")
}
