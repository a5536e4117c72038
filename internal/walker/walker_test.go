package walker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/places-search/internal/search"
)

func TestWalkStopsAtBudgetWithinPage(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{pages: [][]search.RawPlace{distinct("a", 5)}}
	w := New(prov, Config{}, zap.NewNop())

	places, found, stats := w.Walk(context.Background(), "pizza", "Campinas", 3, NewSeen(), nil)

	require.Equal(t, 3, found)
	require.Len(t, places, 3)
	require.Equal(t, 1, prov.callCount())
	require.False(t, stats.Aborted)
	require.Equal(t, "pizza in Campinas", prov.calls[0].SearchText)
	require.Equal(t, 1, prov.calls[0].PageNumber)
}

func TestWalkStopsAfterTwoEmptyPages(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{pages: [][]search.RawPlace{{}, {}, distinct("late", 3)}}
	w := New(prov, Config{}, nil)

	places, found, stats := w.Walk(context.Background(), "pizza", "Natal", 50, NewSeen(), nil)

	require.Empty(t, places)
	require.Zero(t, found)
	require.Equal(t, 2, prov.callCount())
	require.NoError(t, stats.Err)
}

func TestWalkDuplicatePagesCountAsEmpty(t *testing.T) {
	t.Parallel()

	page := distinct("dup", 4)
	prov := &scriptedProvider{pages: [][]search.RawPlace{page, page, page, distinct("never", 2)}}
	w := New(prov, Config{}, nil)

	places, found, _ := w.Walk(context.Background(), "bar", "Recife", 100, NewSeen(), nil)

	require.Len(t, places, 4)
	require.Equal(t, 4, found)
	require.Equal(t, 3, prov.callCount())
}

func TestWalkEmptyStreakResetsOnNewResults(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{pages: [][]search.RawPlace{
		distinct("p1", 2), {}, distinct("p3", 2), {}, {},
	}}
	w := New(prov, Config{}, nil)

	_, found, _ := w.Walk(context.Background(), "bar", "Recife", 100, NewSeen(), nil)

	require.Equal(t, 4, found)
	require.Equal(t, 5, prov.callCount())
}

func TestWalkHonorsPageCeiling(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{endless: true}
	w := New(prov, Config{}, nil)

	_, found, stats := w.Walk(context.Background(), "gym", "Santos", 10_000, NewSeen(), nil)

	require.Equal(t, defaultMaxPages, prov.callCount())
	require.Equal(t, defaultMaxPages*3, found)
	require.Equal(t, defaultMaxPages, stats.Pages)
}

func TestWalkDeduplicatesByExternalIDThenNameAddress(t *testing.T) {
	t.Parallel()

	id := "cid-1"
	otherID := "cid-2"
	prov := &scriptedProvider{pages: [][]search.RawPlace{
		{
			{Title: "Alpha", Address: "Rua 1", CID: &id},
			{Title: "Alpha renamed", Address: "Rua 9", CID: &id},
			{Title: "Beta", Address: "Rua 2"},
			{Title: "Beta", Address: "Rua 2"},
			{Title: "Beta", Address: "Rua 2", CID: &otherID},
		},
	}}
	w := New(prov, Config{}, nil)

	places, found, _ := w.Walk(context.Background(), "x", "y", 100, NewSeen(), nil)

	require.Equal(t, 3, found)
	require.Equal(t, []string{"Alpha", "Beta", "Beta"}, names(places))
}

func TestWalkSharesSeenAcrossPairs(t *testing.T) {
	t.Parallel()

	seen := NewSeen()
	prov := &scriptedProvider{pages: [][]search.RawPlace{distinct("s", 3)}}
	w := New(prov, Config{}, nil)
	_, first, _ := w.Walk(context.Background(), "x", "A", 100, seen, nil)
	require.Equal(t, 3, first)

	prov2 := &scriptedProvider{pages: [][]search.RawPlace{distinct("s", 3), {}}}
	w2 := New(prov2, Config{}, nil)
	_, second, _ := w2.Walk(context.Background(), "x", "B", 100, seen, nil)
	require.Zero(t, second)
	require.Equal(t, 3, seen.Len())
}

func TestWalkRequestErrorKeepsEarlierPages(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{
		pages:  [][]search.RawPlace{distinct("ok", 2)},
		failAt: 2,
	}
	w := New(prov, Config{}, nil)

	places, found, stats := w.Walk(context.Background(), "x", "y", 100, NewSeen(), nil)

	require.Len(t, places, 2)
	require.Equal(t, 2, found)
	require.True(t, stats.Aborted)
	require.ErrorContains(t, stats.Err, "page 2")
	require.Equal(t, 2, prov.callCount())
}

func TestWalkZeroBudgetMakesNoCalls(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{endless: true}
	w := New(prov, Config{}, nil)

	places, found, _ := w.Walk(context.Background(), "x", "y", 0, NewSeen(), nil)

	require.Nil(t, places)
	require.Zero(t, found)
	require.Zero(t, prov.callCount())
}

func TestWalkReportsEachPage(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{pages: [][]search.RawPlace{distinct("a", 2), distinct("b", 2), {}, {}}}
	w := New(prov, Config{}, nil)

	var reports []int
	w.Walk(context.Background(), "x", "y", 100, NewSeen(), func(found int) {
		reports = append(reports, found)
	})

	require.Equal(t, []int{2, 4, 4, 4}, reports)
}

func TestWalkPageDelayHonorsCancellation(t *testing.T) {
	t.Parallel()

	prov := &scriptedProvider{endless: true}
	w := New(prov, Config{PageDelay: time.Hour}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, found, stats := w.Walk(ctx, "x", "y", 100, NewSeen(), nil)

	require.Equal(t, 3, found)
	require.True(t, stats.Aborted)
	require.True(t, errors.Is(stats.Err, context.DeadlineExceeded))
	require.Equal(t, 1, prov.callCount())
}

type scriptedProvider struct {
	mu      sync.Mutex
	pages   [][]search.RawPlace
	endless bool
	failAt  int
	calls   []search.PageRequest
}

func (p *scriptedProvider) Search(_ context.Context, req search.PageRequest) (search.PageResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.failAt > 0 && req.PageNumber == p.failAt {
		return search.PageResponse{}, errors.New("boom")
	}
	if p.endless {
		return search.PageResponse{Places: distinct(fmt.Sprintf("page%d", req.PageNumber), 3)}, nil
	}
	if req.PageNumber-1 < len(p.pages) {
		return search.PageResponse{Places: p.pages[req.PageNumber-1]}, nil
	}
	return search.PageResponse{}, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func distinct(prefix string, n int) []search.RawPlace {
	out := make([]search.RawPlace, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", prefix, i)
		out = append(out, search.RawPlace{
			Title:   "Place " + id,
			Address: "Street " + id,
			CID:     &id,
		})
	}
	return out
}

func names(places []search.Place) []string {
	out := make([]string, 0, len(places))
	for _, p := range places {
		out = append(out, p.Name)
	}
	return out
}
