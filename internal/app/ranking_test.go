package app

import (
	"testing"
	"time"

	"librioo/api/internal/store"
)

func statsRow(bookID string, recentViews, subscribers, chapters int) store.BookStats {
	return store.BookStats{
		BookID:      bookID,
		AuthorID:    "usr_author",
		RecentViews: recentViews,
		Subscribers: subscribers,
		Chapters:    chapters,
		UpdatedAt:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func bookOrder(items []store.BookStats) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.BookID)
	}
	return ids
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSortTrendingOrdersByViewsThenSubscribers(t *testing.T) {
	items := []store.BookStats{
		statsRow("bk_c", 10, 1, 5),
		statsRow("bk_a", 50, 0, 1),
		statsRow("bk_b", 10, 7, 2),
	}
	sortTrending(items)
	want := []string{"bk_a", "bk_b", "bk_c"}
	if got := bookOrder(items); !sameOrder(got, want) {
		t.Fatalf("got order %v, want %v", got, want)
	}
}

func TestSortTrendingIsDeterministicOnTies(t *testing.T) {
	build := func() []store.BookStats {
		return []store.BookStats{
			statsRow("bk_b", 3, 2, 1),
			statsRow("bk_c", 3, 2, 1),
			statsRow("bk_a", 3, 2, 1),
		}
	}
	first := build()
	sortTrending(first)
	second := build()
	sortTrending(second)

	want := []string{"bk_a", "bk_b", "bk_c"}
	if got := bookOrder(first); !sameOrder(got, want) {
		t.Fatalf("got order %v, want %v", got, want)
	}
	if !sameOrder(bookOrder(first), bookOrder(second)) {
		t.Fatalf("repeated sorts disagree: %v vs %v", bookOrder(first), bookOrder(second))
	}
}

func TestSortEditorsPicksNeverPublishedSortsLast(t *testing.T) {
	published := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	silent := statsRow("bk_silent", 0, 4, 3) // no published chapter yet
	active := statsRow("bk_active", 0, 4, 3)
	active.LatestPublishedAt = &published
	popular := statsRow("bk_popular", 0, 9, 1)

	items := []store.BookStats{silent, active, popular}
	sortEditorsPicks(items)

	want := []string{"bk_popular", "bk_active", "bk_silent"}
	if got := bookOrder(items); !sameOrder(got, want) {
		t.Fatalf("got order %v, want %v", got, want)
	}
}

func TestFilterNewForYouKeepsOnlyRelevantBooks(t *testing.T) {
	fantasy := "cat_fantasy"
	older := time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC)

	subscribedBook := statsRow("bk_sub", 0, 1, 4)
	subscribedBook.NewChapters = 2
	subscribedBook.LatestPublishedAt = &older

	categoryBook := statsRow("bk_cat", 0, 0, 2)
	categoryBook.NewChapters = 1
	categoryBook.CategoryID = &fantasy
	categoryBook.LatestPublishedAt = &newer

	ownBook := statsRow("bk_own", 0, 0, 2)
	ownBook.NewChapters = 3
	ownBook.AuthorID = "usr_me"

	staleBook := statsRow("bk_stale", 0, 5, 9) // subscribed but nothing new
	staleBook.NewChapters = 0

	unrelatedBook := statsRow("bk_other", 0, 0, 1)
	unrelatedBook.NewChapters = 1

	items := []store.BookStats{subscribedBook, categoryBook, ownBook, staleBook, unrelatedBook}
	got := filterNewForYou(items,
		map[string]bool{"bk_sub": true, "bk_stale": true, "bk_own": true},
		map[string]bool{fantasy: true},
		"usr_me")

	want := []string{"bk_cat", "bk_sub"}
	if !sameOrder(bookOrder(got), want) {
		t.Fatalf("got %v, want %v", bookOrder(got), want)
	}
}

func TestTopNClampsLongLists(t *testing.T) {
	items := []store.BookStats{statsRow("bk_a", 0, 0, 0), statsRow("bk_b", 0, 0, 0)}
	if got := topN(items, 5); len(got) != 2 {
		t.Fatalf("expected short list untouched, got %d items", len(got))
	}
	if got := topN(items, 1); len(got) != 1 || got[0].BookID != "bk_a" {
		t.Fatalf("expected first item kept, got %v", bookOrder(got))
	}
}
