package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JakeFAU/equipment-manuals/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScraper serves a fixed catalog. pageCap emulates an upstream that ignores
// limits above its own cap; repeat makes it ignore offsets entirely.
type fakeScraper struct {
	mu            sync.Mutex
	manufacturers []Manufacturer
	models        []Model
	pageCap       int
	repeat        bool
	failAfter     int
	err           error
	pageCalls     []string
	mfrCalls      atomic.Int32
}

func (f *fakeScraper) FetchManufacturers(context.Context) ([]Manufacturer, error) {
	f.mfrCalls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.manufacturers, nil
}

func (f *fakeScraper) FetchModelsPage(_ context.Context, uri string, offset, limit int) ([]Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pageCalls = append(f.pageCalls, fmt.Sprintf("%s@%d/%d", uri, offset, limit))
	if f.err != nil || (f.failAfter > 0 && len(f.pageCalls) > f.failAfter) {
		return nil, errors.New("upstream unavailable")
	}
	if f.repeat {
		offset = 0
	}
	size := limit
	if f.pageCap > 0 && size > f.pageCap {
		size = f.pageCap
	}
	if offset >= len(f.models) {
		return nil, nil
	}
	end := min(offset+size, len(f.models))
	return append([]Model(nil), f.models[offset:end]...), nil
}

func (f *fakeScraper) FetchManualsForModel(context.Context, string, string) ([]ManualReference, error) {
	return nil, nil
}

func (f *fakeScraper) Ready() bool { return true }

func (f *fakeScraper) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pageCalls)
}

type memSnapshots struct {
	mu   sync.Mutex
	docs map[string]any
}

func (m *memSnapshots) ReadJSON(name string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[name]
	if !ok {
		return fmt.Errorf("read %s: %w", name, fs.ErrNotExist)
	}
	switch out := v.(type) {
	case *[]Manufacturer:
		*out = doc.([]Manufacturer)
	case *ModelList:
		*out = doc.(ModelList)
	}
	return nil
}

func (m *memSnapshots) WriteJSON(name string, v any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[name] = v
	return nil
}

func makeModels(n int) []Model {
	out := make([]Model, n)
	for i := range out {
		out[i] = Model{ID: fmt.Sprintf("M%03d", i), Name: fmt.Sprintf("Model %03d", i)}
	}
	return out
}

func newTestFetcher(s Scraper, snaps SnapshotStore) *Fetcher {
	return NewFetcher(s,
		cache.NewMemory[[]Manufacturer](),
		cache.NewMemory[ModelList](),
		snaps,
		DefaultFetcherConfig(),
		nil,
	)
}

var henny = Manufacturer{ID: "henny-penny", Name: "Henny Penny", URI: "henny-penny", ModelCount: 130}

func TestListManufacturersFiltersEmptyAndSearches(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{manufacturers: []Manufacturer{
		henny,
		{ID: "empty", Name: "Empty Co", URI: "empty", ModelCount: 0},
		{ID: "frymaster", Name: "Frymaster", URI: "frymaster", ModelCount: 12},
		{ID: "pitco", Name: "Pitco", URI: "pitco", ModelCount: 3},
	}}
	f := newTestFetcher(scraper, nil)
	ctx := context.Background()

	all, err := f.ListManufacturers(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	found, err := f.ListManufacturers(ctx, "FRY", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "frymaster", found[0].ID)

	limited, err := f.ListManufacturers(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	assert.Equal(t, int32(1), scraper.mfrCalls.Load(), "filters apply after the cache")
}

func TestManufacturerLookup(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(&fakeScraper{manufacturers: []Manufacturer{henny}}, nil)
	m, err := f.Manufacturer(context.Background(), "Henny-Penny")
	require.NoError(t, err)
	assert.Equal(t, "Henny Penny", m.Name)

	_, err = f.Manufacturer(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListModelsDefeatsPageCap(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(130), pageCap: 50}
	f := newTestFetcher(scraper, nil)

	list, err := f.ListModels(context.Background(), "henny-penny", "", 0)
	require.NoError(t, err)
	assert.Len(t, list.Models, 130)
	assert.False(t, list.Partial)
	assert.LessOrEqual(t, scraper.calls(), 6)
	assert.Equal(t, "M000", list.Models[0].ID)
	assert.Equal(t, "M129", list.Models[129].ID)
}

func TestListModelsEscalationReturnsEverything(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(130)}
	cfg := DefaultFetcherConfig()
	cfg.PageSize = 50
	f := NewFetcher(scraper, cache.NewMemory[[]Manufacturer](), cache.NewMemory[ModelList](), nil, cfg, nil)

	list, err := f.ListModels(context.Background(), "henny-penny", "", 0)
	require.NoError(t, err)
	assert.Len(t, list.Models, 130)
	assert.False(t, list.Partial)
	assert.Equal(t, 2, scraper.calls())
}

func TestListModelsCycleGuard(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(130), pageCap: 50, repeat: true}
	f := newTestFetcher(scraper, nil)

	list, err := f.ListModels(context.Background(), "henny-penny", "", 0)
	require.NoError(t, err)
	assert.Len(t, list.Models, 50)
	assert.True(t, list.Partial)
	assert.Equal(t, 3, scraper.calls())
}

func TestListModelsEmptyTailPageIsComplete(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		total   int
		pageCap int
		calls   []string
	}{
		{"capped at 50", 50, 50, []string{"henny-penny@0/100", "henny-penny@0/500", "henny-penny@50/100"}},
		{"exactly one page", 100, 0, []string{"henny-penny@0/100", "henny-penny@0/500", "henny-penny@100/100"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(tc.total), pageCap: tc.pageCap}
			f := newTestFetcher(scraper, nil)

			list, err := f.ListModels(context.Background(), "henny-penny", "", 0)
			require.NoError(t, err)
			assert.Len(t, list.Models, tc.total)
			assert.False(t, list.Partial)
			scraper.mu.Lock()
			assert.Equal(t, tc.calls, scraper.pageCalls)
			scraper.mu.Unlock()
		})
	}
}

func TestListModelsLaterPageErrorIsPartial(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(130), pageCap: 50, failAfter: 2}
	f := newTestFetcher(scraper, nil)

	list, err := f.ListModels(context.Background(), "henny-penny", "", 0)
	require.NoError(t, err)
	assert.Len(t, list.Models, 50)
	assert.True(t, list.Partial)
}

func TestListModelsSearchAndCache(t *testing.T) {
	t.Parallel()

	models := []Model{
		{ID: "500", Name: "500", Description: "Pressure Fryer"},
		{ID: "OFE-321", Name: "OFE-321", Description: "Open Fryer"},
		{Name: "Heated Cabinet"},
	}
	scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: models}
	f := newTestFetcher(scraper, nil)
	ctx := context.Background()

	list, err := f.ListModels(ctx, "henny-penny", "pressure", 0)
	require.NoError(t, err)
	require.Len(t, list.Models, 1)
	assert.Equal(t, "500", list.Models[0].ID)

	list, err = f.ListModels(ctx, "henny-penny", "", 2)
	require.NoError(t, err)
	assert.Len(t, list.Models, 2)

	m, err := f.Model(ctx, "henny-penny", "heated-cabinet")
	require.NoError(t, err)
	assert.Equal(t, "Heated Cabinet", m.ID, "id falls back to name")

	assert.Equal(t, 1, scraper.calls())
	assert.Equal(t, 1, f.CachedModelLists(ctx, []string{"henny-penny", "pitco"}))

	_, err = f.Model(ctx, "henny-penny", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotWarmStart(t *testing.T) {
	t.Parallel()

	snaps := &memSnapshots{docs: map[string]any{}}
	healthy := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(10)}
	_, err := newTestFetcher(healthy, snaps).ListModels(context.Background(), "henny-penny", "", 0)
	require.NoError(t, err)
	require.Contains(t, snaps.docs, "manufacturers.json")
	require.Contains(t, snaps.docs, "models/henny-penny.json")

	broken := &fakeScraper{err: errors.New("browser crashed")}
	f := newTestFetcher(broken, snaps)
	list, err := f.ListModels(context.Background(), "henny-penny", "", 0)
	require.NoError(t, err)
	assert.Len(t, list.Models, 10)

	_, err = newTestFetcher(broken, nil).ListManufacturers(context.Background(), "", 0)
	require.Error(t, err)
}

func TestConcurrentListModelsShareOneFetch(t *testing.T) {
	t.Parallel()

	scraper := &fakeScraper{manufacturers: []Manufacturer{henny}, models: makeModels(20)}
	f := newTestFetcher(scraper, nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			list, err := f.ListModels(ctx, "henny-penny", "", 0)
			assert.NoError(t, err)
			assert.Len(t, list.Models, 20)
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, scraper.calls(), 2)
}

func TestManualTitleAndPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Service & Parts Manual", ManualTitle("spm"))
	assert.Equal(t, "Wiring Diagrams", ManualTitle("WD"))
	assert.Equal(t, "XYZ Manual", ManualTitle("xyz"))
	assert.Less(t, ManualPriority("spm"), ManualPriority("wd"))
	assert.Less(t, ManualPriority("pm"), ManualPriority("iom"))
	assert.Equal(t, len(ManualTypes), ManualPriority("other"))
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "henny-penny", Slugify("Henny Penny"))
	assert.Equal(t, "ofe-321", Slugify("  OFE--321 "))
}
