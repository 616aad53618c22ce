package app

import (
	"sort"
	"time"

	"librioo/api/internal/store"
)

// Ranking is pure in-memory ordering over aggregate rows the store has
// already COALESCEd to zero. Keeping the comparators out of SQL makes the
// tie-break rules testable without a database.

// sortTrending orders books by recent views, then subscribers, then chapter
// count, then last update. Equal rows fall back to the book id so repeated
// runs over the same data always agree.
func sortTrending(items []store.BookStats) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.RecentViews != b.RecentViews {
			return a.RecentViews > b.RecentViews
		}
		if a.Subscribers != b.Subscribers {
			return a.Subscribers > b.Subscribers
		}
		if a.Chapters != b.Chapters {
			return a.Chapters > b.Chapters
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.BookID < b.BookID
	})
}

// sortEditorsPicks orders books by subscriber count, then most recent
// published chapter, then last update. Books that never published sort last
// within their subscriber band.
func sortEditorsPicks(items []store.BookStats) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Subscribers != b.Subscribers {
			return a.Subscribers > b.Subscribers
		}
		at, bt := publishedAtOrZero(a), publishedAtOrZero(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.BookID < b.BookID
	})
}

// filterNewForYou keeps books with at least one chapter published inside the
// window that the user either subscribes to or that sit in one of their
// favorite categories, excluding the user's own books. Ordered by latest
// recent publish, newest first.
func filterNewForYou(items []store.BookStats, subscribed map[string]bool, favoriteCategories map[string]bool, userID string) []store.BookStats {
	kept := make([]store.BookStats, 0, len(items))
	for _, item := range items {
		if item.NewChapters < 1 {
			continue
		}
		if item.AuthorID == userID {
			continue
		}
		inCategory := item.CategoryID != nil && favoriteCategories[*item.CategoryID]
		if !subscribed[item.BookID] && !inCategory {
			continue
		}
		kept = append(kept, item)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		at, bt := publishedAtOrZero(kept[i]), publishedAtOrZero(kept[j])
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return kept[i].BookID < kept[j].BookID
	})
	return kept
}

func publishedAtOrZero(item store.BookStats) time.Time {
	if item.LatestPublishedAt == nil {
		return time.Time{}
	}
	return *item.LatestPublishedAt
}

func topN(items []store.BookStats, n int) []store.BookStats {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
