package store

import "time"

type User struct {
	ID        string
	Username  string
	Email     string
	Role      string
	CreatedAt time.Time
}

type Category struct {
	ID       string
	Name     string
	Slug     string
	ParentID *string
}

type Book struct {
	ID         string
	AuthorID   string
	AuthorName string
	Title      string
	Synopsis   string
	CategoryID *string
	Status     string
	IsPaid     bool
	PriceCents int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Chapter struct {
	ID          string
	BookID      string
	Number      int
	Title       string
	Content     string
	ContentHTML string
	Status      string
	PublishAt   *time.Time
	// NotifiedAt marks that the one-time new-chapter fan-out has run.
	NotifiedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type ChapterRevision struct {
	ID          string
	ChapterID   string
	EditorID    string
	EditorName  string
	Title       string
	Content     string
	ContentHTML string
	IsAutosave  bool
	CreatedAt   time.Time
}

// TargetKind enumerates the entities a notification, comment, or reaction
// may reference. The set is closed on purpose.
type TargetKind string

const (
	TargetChapter TargetKind = "chapter"
	TargetBook    TargetKind = "book"
	TargetComment TargetKind = "comment"
	TargetQuote   TargetKind = "quote"
)

func ValidTargetKind(kind TargetKind) bool {
	switch kind {
	case TargetChapter, TargetBook, TargetComment, TargetQuote:
		return true
	default:
		return false
	}
}

type Notification struct {
	ID          string
	RecipientID string
	Verb        string
	TargetKind  TargetKind
	TargetID    string
	IsRead      bool
	CreatedAt   time.Time
}

type Comment struct {
	ID         string
	UserID     string
	UserName   string
	TargetKind TargetKind
	TargetID   string
	ParentID   *string
	Text       string
	IsQuote    bool
	CreatedAt  time.Time
}

// BookStats is one book's engagement aggregate over a trailing window.
// All counts are zero when no events exist.
type BookStats struct {
	BookID            string
	Title             string
	AuthorID          string
	AuthorName        string
	CategoryID        *string
	Status            string
	UpdatedAt         time.Time
	RecentViews       int
	Subscribers       int
	Chapters          int
	LatestPublishedAt *time.Time
	NewChapters       int
}

type CategoryStats struct {
	CategoryID  string
	Name        string
	Slug        string
	Books       int
	RecentViews int
}

type AuthorStats struct {
	AuthorID    string
	Username    string
	Books       int
	Followers   int
	RecentViews int
}

// DashboardRow is one book's lifetime totals for the writer dashboard.
type DashboardRow struct {
	BookID      string
	Title       string
	Status      string
	Reads       int
	Comments    int
	Likes       int
	Chapters    int
	Subscribers int
	CreatedAt   time.Time
}

// ChapterTeaser is a recently published chapter for the home page.
type ChapterTeaser struct {
	ChapterID  string
	Title      string
	Number     int
	BookID     string
	BookTitle  string
	AuthorName string
	PublishAt  time.Time
}
