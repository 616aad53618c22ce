package app

import (
	"context"
	"database/sql"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"librioo/api/internal/auth"
	"librioo/api/internal/cache"
	"librioo/api/internal/config"
	"librioo/api/internal/export"
	"librioo/api/internal/media"
	"librioo/api/internal/rbac"
	"librioo/api/internal/search"
	"librioo/api/internal/store"
	"librioo/api/internal/util"
	"librioo/api/internal/visibility"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

type CreateBookInput struct {
	Title      string `json:"title"`
	Synopsis   string `json:"synopsis"`
	CategoryID string `json:"categoryId"`
	IsPaid     bool   `json:"isPaid"`
	PriceCents int    `json:"priceCents"`
}

type CreateChapterInput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHTML string `json:"contentHtml"`
	Status      string `json:"status"`
	PublishAt   string `json:"publishAt"`
}

// UpdateChapterInput carries a chapter edit. Blank fields keep the live
// value; status and publishAt follow the same rules as creation.
type UpdateChapterInput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHTML string `json:"contentHtml"`
	Status      string `json:"status"`
	PublishAt   string `json:"publishAt"`
}

type AutosaveInput struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	ContentHTML string `json:"contentHtml"`
}

type SaveVersionInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type CommentInput struct {
	Text     string  `json:"text"`
	ParentID *string `json:"parentId"`
	IsQuote  bool    `json:"isQuote"`
}

type ReactionInput struct {
	TargetKind string `json:"targetKind"`
	TargetID   string `json:"targetId"`
	Kind       string `json:"kind"`
}

type ShelfInput struct {
	BookID string `json:"bookId"`
	Status string `json:"status"`
}

var allowedChapterStatuses = map[string]struct{}{
	visibility.StatusDraft:     {},
	visibility.StatusScheduled: {},
	visibility.StatusPublished: {},
}

var allowedShelfStatuses = map[string]struct{}{
	"favorite": {},
	"pending":  {},
	"reading":  {},
}

const (
	cacheKeyHome     = "ranking:home"
	cacheKeyDiscover = "ranking:discover"
)

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertBook(context.Context, store.Book) error
	GetBook(context.Context, string) (store.Book, error)
	ListBooks(context.Context) ([]store.Book, error)
	TouchBook(context.Context, string) error
	IsCollaborator(context.Context, string, string) (bool, error)
	NextChapterNumber(context.Context, string) (int, error)
	InsertChapter(context.Context, store.Chapter) error
	GetChapter(context.Context, string) (store.Chapter, error)
	ListVisibleChapters(context.Context, string, time.Time) ([]store.Chapter, error)
	ListDueScheduled(context.Context, time.Time) ([]store.Chapter, error)
	PromoteChapter(context.Context, string) (bool, error)
	ClaimChapterFanout(context.Context, string, time.Time) (bool, error)
	UpdateChapter(context.Context, store.Chapter) error
	UpdateChapterContent(context.Context, string, string, string, string) error
	DeleteChapter(context.Context, string) error
	ListChapterIDs(context.Context, string) ([]string, error)
	DeleteBook(context.Context, string) error
	InsertRevision(context.Context, store.ChapterRevision) error
	PruneAutosaves(context.Context, string, int) (int, error)
	ListRevisions(context.Context, string, int) ([]store.ChapterRevision, error)
	GetRevision(context.Context, string, string) (store.ChapterRevision, error)
	ToggleSubscription(context.Context, string, string) (bool, error)
	ListSubscriberIDs(context.Context, string) ([]string, error)
	SubscriberCount(context.Context, string) (int, error)
	ListSubscribedBookIDs(context.Context, string) ([]string, error)
	ListFavoriteCategoryIDs(context.Context, string) ([]string, error)
	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, int) ([]store.Notification, error)
	MarkNotificationsRead(context.Context, string) error
	InsertChapterView(context.Context, string, *string) error
	ToggleReaction(context.Context, string, store.TargetKind, string, string) (bool, error)
	InsertComment(context.Context, store.Comment) error
	UpsertVote(context.Context, string, string, string) error
	UpsertShelfItem(context.Context, string, string, string) error
	UpsertReadingHistory(context.Context, string, string, string) error
	BookStatsAll(context.Context, time.Time) ([]store.BookStats, error)
	CategoryStatsAll(context.Context, time.Time) ([]store.CategoryStats, error)
	AuthorStatsAll(context.Context, time.Time) ([]store.AuthorStats, error)
	WriterDashboard(context.Context, string) ([]store.DashboardRow, error)
	FreshChapters(context.Context, time.Time, time.Time, int) ([]store.ChapterTeaser, error)
	Ping(ctx context.Context) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	search *search.Service
	cache  *cache.RankingCache
	media  *media.Store
	now    func() time.Time
}

// New wires the service. search, rankingCache, and mediaStore may each be
// nil when the backing system is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service, rankingCache *cache.RankingCache, mediaStore *media.Store) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		search: searchService,
		cache:  rankingCache,
		media:  mediaStore,
		now:    time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) MediaConfigured() bool {
	return s.media != nil
}

// ---- sessions ----

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Reader"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	expiresAt := s.now().Add(s.cfg.SessionTTL)
	token, err := auth.IssueToken([]byte(s.cfg.SessionSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		Role: user.Role,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		Role:      user.Role,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SessionSecret), token)
	if err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		Role:      user.Role,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ---- books ----

func (s *Service) CreateBook(ctx context.Context, session Session, input CreateBookInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	book := store.Book{
		ID:         util.NewID("bk"),
		AuthorID:   session.UserID,
		AuthorName: session.UserName,
		Title:      title,
		Synopsis:   strings.TrimSpace(input.Synopsis),
		Status:     "serial",
		IsPaid:     input.IsPaid,
		PriceCents: input.PriceCents,
	}
	if categoryID := strings.TrimSpace(input.CategoryID); categoryID != "" {
		book.CategoryID = &categoryID
	}
	if err := s.store.InsertBook(ctx, book); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexBook(search.BookRecord{
			ID:         book.ID,
			Title:      book.Title,
			Synopsis:   book.Synopsis,
			AuthorName: book.AuthorName,
			CategoryID: strings.TrimSpace(input.CategoryID),
			Status:     book.Status,
		})
	}

	return bookPayload(book, 0), nil
}

func (s *Service) ListBooks(ctx context.Context) (map[string]any, error) {
	books, err := s.store.ListBooks(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(books))
	for _, book := range books {
		items = append(items, bookPayload(book, -1))
	}
	return map[string]any{"books": items}, nil
}

func (s *Service) GetBookDetail(ctx context.Context, bookID string, now time.Time) (map[string]any, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListVisibleChapters(ctx, bookID, now)
	if err != nil {
		return nil, err
	}
	subscribers, err := s.store.SubscriberCount(ctx, bookID)
	if err != nil {
		return nil, err
	}

	chapterItems := make([]map[string]any, 0, len(chapters))
	for _, chapter := range chapters {
		chapterItems = append(chapterItems, map[string]any{
			"id":        chapter.ID,
			"number":    chapter.Number,
			"title":     chapter.Title,
			"status":    chapter.Status,
			"publishAt": chapter.PublishAt,
		})
	}
	payload := bookPayload(book, subscribers)
	payload["chapters"] = chapterItems
	return payload, nil
}

func (s *Service) ToggleSubscribe(ctx context.Context, session Session, bookID string) (map[string]any, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	subscribed, err := s.store.ToggleSubscription(ctx, session.UserID, bookID)
	if err != nil {
		return nil, err
	}
	if subscribed && book.AuthorID != session.UserID {
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: book.AuthorID,
			Verb:        "New subscriber: " + session.UserName,
			TargetKind:  store.TargetBook,
			TargetID:    book.ID,
		}); err != nil {
			log.Printf("subscribe: notify author of %s: %v", book.ID, err)
		}
	}
	count, err := s.store.SubscriberCount(ctx, bookID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"subscribed": subscribed, "subscribers": count}, nil
}

// ---- chapters ----

func (s *Service) CreateChapter(ctx context.Context, session Session, bookID string, input CreateChapterInput) (map[string]any, error) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	allowed, err := s.canEditBook(ctx, session, book)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = visibility.StatusDraft
	}
	if _, ok := allowedChapterStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be draft, scheduled or published", nil)
	}

	now := s.now()
	var publishAt *time.Time
	if raw := strings.TrimSpace(input.PublishAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "publishAt must be RFC3339", nil)
		}
		publishAt = &parsed
	}
	if status == visibility.StatusScheduled && publishAt == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scheduled chapters need publishAt", nil)
	}
	if status == visibility.StatusPublished && publishAt == nil {
		publishAt = &now
	}

	number, err := s.store.NextChapterNumber(ctx, bookID)
	if err != nil {
		return nil, err
	}
	chapter := store.Chapter{
		ID:          util.NewID("ch"),
		BookID:      bookID,
		Number:      number,
		Title:       title,
		Content:     input.Content,
		ContentHTML: input.ContentHTML,
		Status:      status,
		PublishAt:   publishAt,
	}
	if err := s.store.InsertChapter(ctx, chapter); err != nil {
		return nil, err
	}
	if err := s.store.TouchBook(ctx, bookID); err != nil {
		log.Printf("chapter create: touch book %s: %v", bookID, err)
	}

	if visibility.IsVisible(chapter.Status, chapter.PublishAt, now) {
		if err := s.notifyNewChapter(ctx, chapter, now); err != nil {
			log.Printf("chapter create: fan-out for %s: %v", chapter.ID, err)
		}
	}

	return chapterPayload(chapter), nil
}

// UpdateChapter edits a chapter in place, including moving it between
// draft, scheduled, and published. Publishing through an edit fans out
// exactly like the sweeper would; hiding a chapter drops it from the
// search index.
func (s *Service) UpdateChapter(ctx context.Context, session Session, chapterID string, input UpdateChapterInput) (map[string]any, error) {
	chapter, err := s.editableChapter(ctx, session, chapterID)
	if err != nil {
		return nil, err
	}

	chapter.Title = firstNonBlank(strings.TrimSpace(input.Title), chapter.Title)
	chapter.Content = firstNonBlank(input.Content, chapter.Content)
	chapter.ContentHTML = firstNonBlank(input.ContentHTML, chapter.ContentHTML)

	status := firstNonBlank(strings.TrimSpace(input.Status), chapter.Status)
	if _, ok := allowedChapterStatuses[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be draft, scheduled or published", nil)
	}
	chapter.Status = status

	now := s.now()
	if raw := strings.TrimSpace(input.PublishAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "publishAt must be RFC3339", nil)
		}
		chapter.PublishAt = &parsed
	}
	if chapter.Status == visibility.StatusScheduled && chapter.PublishAt == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "scheduled chapters need publishAt", nil)
	}
	if chapter.Status == visibility.StatusPublished && chapter.PublishAt == nil {
		chapter.PublishAt = &now
	}

	if err := s.store.UpdateChapter(ctx, chapter); err != nil {
		return nil, err
	}
	if err := s.store.TouchBook(ctx, chapter.BookID); err != nil {
		log.Printf("chapter update: touch book %s: %v", chapter.BookID, err)
	}

	if visibility.IsVisible(chapter.Status, chapter.PublishAt, now) {
		// The notified_at claim makes this a no-op when the chapter
		// already fanned out; the index refresh still has to happen.
		if err := s.notifyNewChapter(ctx, chapter, now); err != nil {
			log.Printf("chapter update: fan-out for %s: %v", chapter.ID, err)
		}
		if s.search != nil {
			s.indexChapterForBook(ctx, chapter)
		}
	} else if s.search != nil {
		s.search.DeleteChapter(chapter.ID)
	}

	return chapterPayload(chapter), nil
}

// DeleteChapter removes a chapter and its search index entry. Unlike
// editing, deletion is for the book author or an admin only.
func (s *Service) DeleteChapter(ctx context.Context, session Session, chapterID string) error {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return err
	}
	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		return err
	}
	if !s.canDeleteBook(session, book) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if err := s.store.DeleteChapter(ctx, chapterID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteChapter(chapterID)
	}
	s.invalidateRankings(ctx)
	return nil
}

// DeleteBook removes a book with everything hanging off it and cleans up
// the search index for the book and each of its chapters.
func (s *Service) DeleteBook(ctx context.Context, session Session, bookID string) error {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if !s.canDeleteBook(session, book) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	chapterIDs, err := s.store.ListChapterIDs(ctx, bookID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBook(ctx, bookID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteBook(bookID)
		for _, id := range chapterIDs {
			s.search.DeleteChapter(id)
		}
	}
	s.invalidateRankings(ctx)
	return nil
}

func (s *Service) canDeleteBook(session Session, book store.Book) bool {
	return book.AuthorID == session.UserID || s.Can(session.Role, rbac.ActionAdmin)
}

func (s *Service) indexChapterForBook(ctx context.Context, chapter store.Chapter) {
	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		log.Printf("chapter index: book for %s: %v", chapter.ID, err)
		return
	}
	categoryID := ""
	if book.CategoryID != nil {
		categoryID = *book.CategoryID
	}
	s.search.IndexChapter(search.ChapterRecord{
		ID:         chapter.ID,
		Title:      chapter.Title,
		Content:    chapter.Content,
		BookID:     book.ID,
		BookTitle:  book.Title,
		AuthorName: book.AuthorName,
		CategoryID: categoryID,
	})
}

// ExportChapterPDF renders a chapter as a PDF download. The visibility gate
// matches ReadChapter: hidden chapters export as absent for non-editors.
func (s *Service) ExportChapterPDF(ctx context.Context, session Session, chapterID string) (*export.Result, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		return nil, err
	}
	if !visibility.IsVisible(chapter.Status, chapter.PublishAt, s.now()) {
		editor, err := s.canEditBook(ctx, session, book)
		if err != nil {
			return nil, err
		}
		if !editor {
			return nil, sql.ErrNoRows
		}
	}

	contentHTML := chapter.ContentHTML
	if strings.TrimSpace(contentHTML) == "" {
		contentHTML = plainToHTML(chapter.Content)
	}
	return export.ChapterPDF(export.ChapterData{
		BookTitle:   book.Title,
		AuthorName:  book.AuthorName,
		Number:      chapter.Number,
		Title:       chapter.Title,
		ContentHTML: contentHTML,
		UpdatedAt:   chapter.UpdatedAt,
	})
}

// plainToHTML wraps plain-text paragraphs for chapters saved without a
// rich-text body.
func plainToHTML(content string) string {
	var b strings.Builder
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(template.HTMLEscapeString(para))
		b.WriteString("</p>")
	}
	return b.String()
}

func (s *Service) ReadChapter(ctx context.Context, session Session, chapterID string, now time.Time) (map[string]any, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		return nil, err
	}

	if !visibility.IsVisible(chapter.Status, chapter.PublishAt, now) {
		editor, err := s.canEditBook(ctx, session, book)
		if err != nil {
			return nil, err
		}
		// Hidden chapters read as absent, not forbidden.
		if !editor {
			return nil, sql.ErrNoRows
		}
	}

	if err := s.store.InsertChapterView(ctx, chapterID, &session.UserID); err != nil {
		log.Printf("chapter read: record view for %s: %v", chapterID, err)
	}
	if err := s.store.UpsertReadingHistory(ctx, session.UserID, chapter.BookID, chapterID); err != nil {
		log.Printf("chapter read: history for %s: %v", chapterID, err)
	}

	payload := chapterPayload(chapter)
	payload["book"] = map[string]any{
		"id":     book.ID,
		"title":  book.Title,
		"author": book.AuthorName,
	}
	return payload, nil
}

// ---- scheduled publication ----

// RunSweep promotes every due scheduled chapter and fans out notifications
// for each successful promotion. Failures are per chapter: a broken row is
// logged and skipped, the rest of the batch proceeds. Returns how many
// chapters were promoted.
func (s *Service) RunSweep(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.ListDueScheduled(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due chapters: %w", err)
	}

	promoted := 0
	for _, chapter := range due {
		ok, err := s.store.PromoteChapter(ctx, chapter.ID)
		if err != nil {
			log.Printf("sweep: promote %s: %v", chapter.ID, err)
			continue
		}
		if !ok {
			// Edited away from scheduled since the select; nothing to do.
			continue
		}
		promoted++
		chapter.Status = visibility.StatusPublished
		if err := s.notifyNewChapter(ctx, chapter, now); err != nil {
			log.Printf("sweep: fan-out for %s: %v", chapter.ID, err)
		}
	}
	return promoted, nil
}

// notifyNewChapter is the single fan-out path for a chapter becoming
// visible. The notified_at claim makes it at most once per chapter no
// matter how many triggers race.
func (s *Service) notifyNewChapter(ctx context.Context, chapter store.Chapter, now time.Time) error {
	claimed, err := s.store.ClaimChapterFanout(ctx, chapter.ID, now)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		return err
	}
	subscribers, err := s.store.ListSubscriberIDs(ctx, chapter.BookID)
	if err != nil {
		return err
	}

	verb := "New chapter published: " + chapter.Title
	for _, recipientID := range subscribers {
		if !s.cfg.NotifySelf && recipientID == book.AuthorID {
			continue
		}
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: recipientID,
			Verb:        verb,
			TargetKind:  store.TargetChapter,
			TargetID:    chapter.ID,
		}); err != nil {
			log.Printf("fan-out: notify %s about %s: %v", recipientID, chapter.ID, err)
		}
	}

	if s.search != nil {
		categoryID := ""
		if book.CategoryID != nil {
			categoryID = *book.CategoryID
		}
		s.search.IndexChapter(search.ChapterRecord{
			ID:         chapter.ID,
			Title:      chapter.Title,
			Content:    chapter.Content,
			BookID:     book.ID,
			BookTitle:  book.Title,
			AuthorName: book.AuthorName,
			CategoryID: categoryID,
		})
	}
	s.invalidateRankings(ctx)
	return nil
}

func (s *Service) invalidateRankings(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, cacheKeyHome, cacheKeyDiscover); err != nil {
		log.Printf("cache: invalidate rankings: %v", err)
	}
}

// ---- revisions ----

func (s *Service) Autosave(ctx context.Context, session Session, chapterID string, input AutosaveInput) (time.Time, error) {
	chapter, err := s.editableChapter(ctx, session, chapterID)
	if err != nil {
		return time.Time{}, err
	}

	title := firstNonBlank(strings.TrimSpace(input.Title), chapter.Title)
	content := firstNonBlank(input.Content, chapter.Content)
	contentHTML := firstNonBlank(input.ContentHTML, chapter.ContentHTML)

	if err := s.store.InsertRevision(ctx, store.ChapterRevision{
		ID:          util.NewID("rev"),
		ChapterID:   chapter.ID,
		EditorID:    session.UserID,
		Title:       title,
		Content:     content,
		ContentHTML: contentHTML,
		IsAutosave:  true,
	}); err != nil {
		return time.Time{}, err
	}

	// Published chapters only accumulate revisions; the live text is not
	// touched until an explicit restore.
	if chapter.Status != visibility.StatusPublished {
		if err := s.store.UpdateChapterContent(ctx, chapter.ID, title, content, contentHTML); err != nil {
			return time.Time{}, err
		}
	}

	if _, err := s.store.PruneAutosaves(ctx, chapter.ID, s.cfg.RevisionRetention); err != nil {
		log.Printf("autosave: prune %s: %v", chapter.ID, err)
	}
	return s.now(), nil
}

func (s *Service) SaveVersion(ctx context.Context, session Session, chapterID string, input SaveVersionInput) error {
	chapter, err := s.editableChapter(ctx, session, chapterID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(input.Content) == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required", nil)
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	return s.store.InsertRevision(ctx, store.ChapterRevision{
		ID:          util.NewID("rev"),
		ChapterID:   chapter.ID,
		EditorID:    session.UserID,
		Title:       title,
		Content:     input.Content,
		ContentHTML: chapter.ContentHTML,
		IsAutosave:  false,
	})
}

// RestoreRevision copies a revision back onto the live chapter. The current
// live text is snapshotted as a manual revision first, so a restore is
// itself restorable.
func (s *Service) RestoreRevision(ctx context.Context, session Session, chapterID, revisionID string) error {
	chapter, err := s.editableChapter(ctx, session, chapterID)
	if err != nil {
		return err
	}
	revision, err := s.store.GetRevision(ctx, chapterID, revisionID)
	if err != nil {
		return err
	}

	if err := s.store.InsertRevision(ctx, store.ChapterRevision{
		ID:          util.NewID("rev"),
		ChapterID:   chapter.ID,
		EditorID:    session.UserID,
		Title:       chapter.Title,
		Content:     chapter.Content,
		ContentHTML: chapter.ContentHTML,
		IsAutosave:  false,
	}); err != nil {
		return err
	}

	return s.store.UpdateChapterContent(ctx, chapter.ID, revision.Title, revision.Content, revision.ContentHTML)
}

func (s *Service) ListRevisions(ctx context.Context, session Session, chapterID string) (map[string]any, error) {
	if _, err := s.editableChapter(ctx, session, chapterID); err != nil {
		return nil, err
	}
	revisions, err := s.store.ListRevisions(ctx, chapterID, 50)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(revisions))
	for _, revision := range revisions {
		items = append(items, map[string]any{
			"id":        revision.ID,
			"editor":    revision.EditorName,
			"autosave":  revision.IsAutosave,
			"title":     truncate(revision.Title, 160),
			"createdAt": revision.CreatedAt,
		})
	}
	return map[string]any{"revisions": items}, nil
}

// editableChapter loads the chapter and enforces the edit gate before any
// revision mutation: book author, registered collaborator, or admin.
func (s *Service) editableChapter(ctx context.Context, session Session, chapterID string) (store.Chapter, error) {
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return store.Chapter{}, err
	}
	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		return store.Chapter{}, err
	}
	allowed, err := s.canEditBook(ctx, session, book)
	if err != nil {
		return store.Chapter{}, err
	}
	if !allowed {
		return store.Chapter{}, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return chapter, nil
}

func (s *Service) canEditBook(ctx context.Context, session Session, book store.Book) (bool, error) {
	if book.AuthorID == session.UserID {
		return true, nil
	}
	if s.Can(session.Role, rbac.ActionAdmin) {
		return true, nil
	}
	return s.store.IsCollaborator(ctx, book.ID, session.UserID)
}

// ---- engagement ----

func (s *Service) AddComment(ctx context.Context, session Session, chapterID string, input CommentInput) (map[string]any, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	chapter, err := s.store.GetChapter(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	book, err := s.store.GetBook(ctx, chapter.BookID)
	if err != nil {
		return nil, err
	}
	if !visibility.IsVisible(chapter.Status, chapter.PublishAt, s.now()) {
		editor, err := s.canEditBook(ctx, session, book)
		if err != nil {
			return nil, err
		}
		// Same rule as reading: a hidden chapter must not be confirmable
		// through any other mutation.
		if !editor {
			return nil, sql.ErrNoRows
		}
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		UserID:     session.UserID,
		TargetKind: store.TargetChapter,
		TargetID:   chapterID,
		ParentID:   input.ParentID,
		Text:       text,
		IsQuote:    input.IsQuote,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	if book.AuthorID != session.UserID {
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: book.AuthorID,
			Verb:        "New comment on " + book.Title,
			TargetKind:  store.TargetComment,
			TargetID:    comment.ID,
		}); err != nil {
			log.Printf("comment: notify author of %s: %v", book.ID, err)
		}
	}
	return map[string]any{"ok": true, "id": comment.ID}, nil
}

// AddBookComment attaches a comment to the book itself rather than a
// chapter. Books are always visible, so there is no gate beyond existence.
func (s *Service) AddBookComment(ctx context.Context, session Session, bookID string, input CommentInput) (map[string]any, error) {
	text := strings.TrimSpace(input.Text)
	if text == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "text is required", nil)
	}
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		UserID:     session.UserID,
		TargetKind: store.TargetBook,
		TargetID:   bookID,
		ParentID:   input.ParentID,
		Text:       text,
		IsQuote:    input.IsQuote,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}

	if book.AuthorID != session.UserID {
		if err := s.store.InsertNotification(ctx, store.Notification{
			ID:          util.NewID("ntf"),
			RecipientID: book.AuthorID,
			Verb:        "New comment on " + book.Title,
			TargetKind:  store.TargetComment,
			TargetID:    comment.ID,
		}); err != nil {
			log.Printf("comment: notify author of %s: %v", book.ID, err)
		}
	}
	return map[string]any{"ok": true, "id": comment.ID}, nil
}

func (s *Service) ToggleReaction(ctx context.Context, session Session, input ReactionInput) (map[string]any, error) {
	kind := strings.TrimSpace(input.Kind)
	if kind == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind is required", nil)
	}
	targetKind := store.TargetKind(strings.TrimSpace(input.TargetKind))
	if !store.ValidTargetKind(targetKind) {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid target kind", nil)
	}
	if strings.TrimSpace(input.TargetID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "targetId is required", nil)
	}

	active, err := s.store.ToggleReaction(ctx, session.UserID, targetKind, input.TargetID, kind)
	if err != nil {
		return nil, err
	}
	return map[string]any{"active": active}, nil
}

func (s *Service) VotePoll(ctx context.Context, session Session, pollID, optionID string) (map[string]any, error) {
	if strings.TrimSpace(optionID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "optionId is required", nil)
	}
	if err := s.store.UpsertVote(ctx, pollID, optionID, session.UserID); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) UpsertShelf(ctx context.Context, session Session, input ShelfInput) (map[string]any, error) {
	if _, ok := allowedShelfStatuses[input.Status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be favorite, pending or reading", nil)
	}
	if _, err := s.store.GetBook(ctx, input.BookID); err != nil {
		return nil, err
	}
	if err := s.store.UpsertShelfItem(ctx, session.UserID, input.BookID, input.Status); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// ---- notifications ----

func (s *Service) Notifications(ctx context.Context, session Session) (map[string]any, error) {
	notifications, err := s.store.ListNotifications(ctx, session.UserID, 50)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, notification := range notifications {
		items = append(items, map[string]any{
			"id":         notification.ID,
			"verb":       notification.Verb,
			"targetKind": string(notification.TargetKind),
			"targetId":   notification.TargetID,
			"read":       notification.IsRead,
			"createdAt":  notification.CreatedAt,
		})
	}
	return map[string]any{"notifications": items}, nil
}

func (s *Service) MarkNotificationsRead(ctx context.Context, session Session) error {
	return s.store.MarkNotificationsRead(ctx, session.UserID)
}

// ---- ranking / aggregation ----

type rankingPayload struct {
	Trending     []map[string]any `json:"trending"`
	EditorsPicks []map[string]any `json:"editorsPicks"`
	Fresh        []map[string]any `json:"freshChapters"`
}

// Home returns the reader landing payload. The global sections are cached;
// the personalized section is always computed live for the caller.
func (s *Service) Home(ctx context.Context, session Session, now time.Time) (map[string]any, error) {
	global, err := s.globalRankings(ctx, cacheKeyHome, now)
	if err != nil {
		return nil, err
	}

	newForYou, err := s.newForYou(ctx, session, now)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"trending":      global.Trending,
		"editorsPicks":  global.EditorsPicks,
		"freshChapters": global.Fresh,
		"newForYou":     newForYou,
	}, nil
}

func (s *Service) Discover(ctx context.Context, now time.Time) (map[string]any, error) {
	since := now.Add(-s.cfg.EngagementWindow())

	if s.cache != nil {
		var cached map[string]any
		if err := s.cache.Get(ctx, cacheKeyDiscover, &cached); err == nil {
			return cached, nil
		}
	}

	stats, err := s.store.BookStatsAll(ctx, since)
	if err != nil {
		return nil, err
	}
	sortTrending(stats)

	categories, err := s.store.CategoryStatsAll(ctx, since)
	if err != nil {
		return nil, err
	}
	authors, err := s.store.AuthorStatsAll(ctx, since)
	if err != nil {
		return nil, err
	}

	categoryItems := make([]map[string]any, 0, len(categories))
	for _, category := range categories {
		categoryItems = append(categoryItems, map[string]any{
			"id":          category.CategoryID,
			"name":        category.Name,
			"slug":        category.Slug,
			"books":       category.Books,
			"recentViews": category.RecentViews,
		})
	}
	authorItems := make([]map[string]any, 0, len(authors))
	for _, author := range authors {
		authorItems = append(authorItems, map[string]any{
			"id":          author.AuthorID,
			"username":    author.Username,
			"books":       author.Books,
			"followers":   author.Followers,
			"recentViews": author.RecentViews,
		})
	}

	payload := map[string]any{
		"trending":   statsPayload(topN(stats, 24)),
		"categories": categoryItems,
		"authors":    authorItems,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKeyDiscover, payload); err != nil {
			log.Printf("cache: set discover: %v", err)
		}
	}
	return payload, nil
}

func (s *Service) Dashboard(ctx context.Context, session Session) (map[string]any, error) {
	rows, err := s.store.WriterDashboard(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]any{
			"id":          row.BookID,
			"title":       row.Title,
			"status":      row.Status,
			"reads":       row.Reads,
			"comments":    row.Comments,
			"likes":       row.Likes,
			"chapters":    row.Chapters,
			"subscribers": row.Subscribers,
			"createdAt":   row.CreatedAt,
		})
	}
	return map[string]any{"books": items}, nil
}

func (s *Service) Search(ctx context.Context, text, filterType, categoryID string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:             text,
		FilterType:       search.ResultType(filterType),
		FilterCategoryID: categoryID,
		Limit:            limit,
		Offset:           offset,
	}), nil
}

func (s *Service) globalRankings(ctx context.Context, key string, now time.Time) (rankingPayload, error) {
	if s.cache != nil {
		var cached rankingPayload
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	since := now.Add(-s.cfg.EngagementWindow())
	stats, err := s.store.BookStatsAll(ctx, since)
	if err != nil {
		return rankingPayload{}, err
	}

	trending := make([]store.BookStats, len(stats))
	copy(trending, stats)
	sortTrending(trending)

	picks := make([]store.BookStats, len(stats))
	copy(picks, stats)
	sortEditorsPicks(picks)

	fresh, err := s.store.FreshChapters(ctx, since, now, 12)
	if err != nil {
		return rankingPayload{}, err
	}
	freshItems := make([]map[string]any, 0, len(fresh))
	for _, teaser := range fresh {
		freshItems = append(freshItems, map[string]any{
			"id":        teaser.ChapterID,
			"title":     teaser.Title,
			"number":    teaser.Number,
			"bookId":    teaser.BookID,
			"bookTitle": teaser.BookTitle,
			"author":    teaser.AuthorName,
			"publishAt": teaser.PublishAt,
		})
	}

	payload := rankingPayload{
		Trending:     statsPayload(topN(trending, 12)),
		EditorsPicks: statsPayload(topN(picks, 12)),
		Fresh:        freshItems,
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, payload); err != nil {
			log.Printf("cache: set %s: %v", key, err)
		}
	}
	return payload, nil
}

func (s *Service) newForYou(ctx context.Context, session Session, now time.Time) ([]map[string]any, error) {
	since := now.Add(-s.cfg.EngagementWindow())
	stats, err := s.store.BookStatsAll(ctx, since)
	if err != nil {
		return nil, err
	}
	subscribedIDs, err := s.store.ListSubscribedBookIDs(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	categoryIDs, err := s.store.ListFavoriteCategoryIDs(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	subscribed := make(map[string]bool, len(subscribedIDs))
	for _, id := range subscribedIDs {
		subscribed[id] = true
	}
	favorites := make(map[string]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		favorites[id] = true
	}

	return statsPayload(topN(filterNewForYou(stats, subscribed, favorites, session.UserID), 12)), nil
}

// ---- payload helpers ----

func bookPayload(book store.Book, subscribers int) map[string]any {
	payload := map[string]any{
		"id":        book.ID,
		"title":     book.Title,
		"synopsis":  book.Synopsis,
		"author":    book.AuthorName,
		"authorId":  book.AuthorID,
		"status":    book.Status,
		"isPaid":    book.IsPaid,
		"updatedAt": book.UpdatedAt,
	}
	if book.CategoryID != nil {
		payload["categoryId"] = *book.CategoryID
	}
	if subscribers >= 0 {
		payload["subscribers"] = subscribers
	}
	return payload
}

func chapterPayload(chapter store.Chapter) map[string]any {
	return map[string]any{
		"id":          chapter.ID,
		"bookId":      chapter.BookID,
		"number":      chapter.Number,
		"title":       chapter.Title,
		"content":     chapter.Content,
		"contentHtml": chapter.ContentHTML,
		"status":      chapter.Status,
		"publishAt":   chapter.PublishAt,
	}
}

func statsPayload(items []store.BookStats) []map[string]any {
	payloads := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload := map[string]any{
			"id":          item.BookID,
			"title":       item.Title,
			"author":      item.AuthorName,
			"authorId":    item.AuthorID,
			"recentViews": item.RecentViews,
			"subscribers": item.Subscribers,
			"chapters":    item.Chapters,
			"newChapters": item.NewChapters,
			"updatedAt":   item.UpdatedAt,
		}
		if item.CategoryID != nil {
			payload["categoryId"] = *item.CategoryID
		}
		if item.LatestPublishedAt != nil {
			payload["latestPublishedAt"] = *item.LatestPublishedAt
		}
		payloads = append(payloads, payload)
	}
	return payloads
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
