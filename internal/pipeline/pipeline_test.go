package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-crawler/internal/crawler"
	"github.com/JakeFAU/registry-crawler/internal/extract"
	"github.com/JakeFAU/registry-crawler/internal/hash/sha256"
	"github.com/JakeFAU/registry-crawler/internal/storage/memory"
)

const base = "https://registry.test"

type page struct {
	body  string
	delay time.Duration
	err   error
}

// fakeFetcher serves canned pages and tracks peak concurrency.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]page
	search  page
	calls   atomic.Int32
	active  atomic.Int32
	peak    atomic.Int32
	visited []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.visited = append(f.visited, req.URL)
	p, ok := f.pages[req.URL]
	if strings.Contains(req.URL, "/companies?") {
		p, ok = f.search, true
	}
	f.mu.Unlock()

	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FetchHTTPError, URL: req.URL, StatusCode: 404}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return crawler.FetchResponse{}, ctx.Err()
		}
	}
	if p.err != nil {
		return crawler.FetchResponse{}, p.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(p.body)}, nil
}

func searchHTML(paths ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, p := range paths {
		fmt.Fprintf(&b, `<a class="company_search_result" href="%s">x</a>`, p)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func detailHTML(name string) string {
	return fmt.Sprintf(`<h1>%s</h1><div id="attributes"><dl><dt>Status</dt><dd>Active</dd></dl></div>`, name)
}

func newPipeline(t *testing.T, f crawler.Fetcher, pool *Pool, perRun int, archiver *Archiver) *Pipeline {
	t.Helper()
	x, err := extract.New(base, "")
	require.NoError(t, err)
	return New(Config{BaseURL: base, PerRunParallel: perRun}, NewPageFetcher(f, pool, archiver), x, zap.NewNop())
}

func names(entities []crawler.Entity) []string {
	out := make([]string, 0, len(entities))
	for _, e := range entities {
		out = append(out, e[crawler.LabelCompanyName])
	}
	return out
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://opencorporates.com/companies?utf8=%E2%9C%93&q=acme+holdings&jurisdiction_code=us_de&type=companies",
		SearchURL("https://opencorporates.com/", "  acme   holdings ", "us_de"))
	require.Equal(t,
		"https://opencorporates.com/companies?utf8=%E2%9C%93&q=AT%26T&jurisdiction_code=&type=companies",
		SearchURL("https://opencorporates.com", "AT&T", ""))
}

func TestRunZeroLinksYieldsOneEmptyBatch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{search: page{body: "<html><body>No results</body></html>"}}
	p := newPipeline(t, f, NewPool(4, 2), 4, nil)

	batches := 0
	for batch, err := range p.Run(context.Background(), "nobody", "") {
		require.NoError(t, err)
		require.NotNil(t, batch)
		require.Empty(t, batch)
		batches++
	}
	require.Equal(t, 1, batches)
}

func TestRunPreservesLinkOrder(t *testing.T) {
	t.Parallel()

	paths := []string{"/c/1", "/c/2", "/c/3", "/c/4"}
	f := &fakeFetcher{
		search: page{body: searchHTML(paths...)},
		pages:  map[string]page{},
	}
	// Later links resolve faster.
	for i, path := range paths {
		f.pages[base+path] = page{body: detailHTML(fmt.Sprintf("CO %d", i+1)), delay: time.Duration(len(paths)-i) * 15 * time.Millisecond}
	}
	p := newPipeline(t, f, NewPool(8, 2), 8, nil)

	out, err := p.Collect(context.Background(), "co", "gb")
	require.NoError(t, err)
	require.Equal(t, []string{"CO 1", "CO 2", "CO 3", "CO 4"}, names(out))
	require.Equal(t, base+"/c/1", out[0][crawler.LabelCompanyLink])
	require.Equal(t, "Active", out[0]["Status"])
}

func TestRunIsDeterministic(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		search: page{body: searchHTML("/c/1", "/c/2", "/c/1")},
		pages: map[string]page{
			base + "/c/1": {body: detailHTML("ONE")},
			base + "/c/2": {body: detailHTML("TWO")},
		},
	}
	p := newPipeline(t, f, NewPool(4, 2), 4, nil)

	first, err := p.Collect(context.Background(), "acme", "")
	require.NoError(t, err)
	second, err := p.Collect(context.Background(), "acme", "")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, []string{"ONE", "TWO", "ONE"}, names(first))
}

func TestRunSkipsFailedPages(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		search: page{body: searchHTML("/c/1", "/c/2", "/c/3", "/c/4", "/c/5")},
		pages: map[string]page{
			base + "/c/1": {body: detailHTML("ONE")},
			base + "/c/2": {body: "<p>not a detail page</p>"},
			base + "/c/3": {body: detailHTML("THREE")},
			base + "/c/4": {body: "<div id='attributes'></div>"},
			base + "/c/5": {body: detailHTML("FIVE")},
		},
	}
	p := newPipeline(t, f, NewPool(4, 2), 2, nil)

	out, err := p.Collect(context.Background(), "acme", "")
	require.NoError(t, err)
	require.Equal(t, []string{"ONE", "THREE", "FIVE"}, names(out))
}

func TestRunFailsWhenEveryPageFails(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		search: page{body: searchHTML("/c/1", "/c/2", "/c/3")},
		pages: map[string]page{
			base + "/c/1": {body: "<p>one</p>"},
			base + "/c/2": {body: "<p>two</p>"},
			base + "/c/3": {body: "<p>three</p>"},
		},
	}
	p := newPipeline(t, f, NewPool(4, 2), 4, nil)

	_, err := p.Collect(context.Background(), "acme", "")
	var perr *crawler.PipelineError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, crawler.StageExtract, perr.Stage)
	var extractErr *crawler.ExtractError
	require.ErrorAs(t, err, &extractErr)
}

func TestRunSearchFailure(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{search: page{err: &crawler.FetchError{Kind: crawler.FetchHTTPError, StatusCode: 503}}}
	p := newPipeline(t, f, NewPool(4, 2), 4, nil)

	batches := 0
	for batch, err := range p.Run(context.Background(), "acme", "") {
		batches++
		require.Nil(t, batch)
		stage, ok := crawler.StageOf(err)
		require.True(t, ok)
		require.Equal(t, crawler.StageSearch, stage)
	}
	require.Equal(t, 1, batches)
	require.EqualValues(t, 1, f.calls.Load())
}

func TestRunIsNotRestartable(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{search: page{body: searchHTML()}}
	p := newPipeline(t, f, NewPool(4, 2), 4, nil)
	seq := p.Run(context.Background(), "acme", "")
	require.EqualValues(t, 0, f.calls.Load(), "run must be lazy")

	_, err := Drain(seq)
	require.NoError(t, err)
	_, err = Drain(seq)
	require.ErrorIs(t, err, crawler.ErrSequenceConsumed)
	require.EqualValues(t, 1, f.calls.Load())
}

func TestRunRespectsPerRunLimit(t *testing.T) {
	t.Parallel()

	paths := make([]string, 12)
	f := &fakeFetcher{pages: map[string]page{}}
	for i := range paths {
		paths[i] = fmt.Sprintf("/c/%d", i)
		f.pages[base+paths[i]] = page{body: detailHTML("X"), delay: 10 * time.Millisecond}
	}
	f.search = page{body: searchHTML(paths...)}
	p := newPipeline(t, f, NewPool(32, 4), 3, nil)

	out, err := p.Collect(context.Background(), "acme", "")
	require.NoError(t, err)
	require.Len(t, out, 12)
	require.LessOrEqual(t, f.peak.Load(), int32(3))
}

func TestSharedPoolBoundsConcurrentRuns(t *testing.T) {
	t.Parallel()

	paths := make([]string, 6)
	f := &fakeFetcher{pages: map[string]page{}}
	for i := range paths {
		paths[i] = fmt.Sprintf("/c/%d", i)
		f.pages[base+paths[i]] = page{body: detailHTML("X"), delay: 5 * time.Millisecond}
	}
	f.search = page{body: searchHTML(paths...)}
	pool := NewPool(2, 1)
	p := newPipeline(t, f, pool, 6, nil)

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Collect(context.Background(), "acme", "")
			if err == nil && len(out) != 6 {
				err = fmt.Errorf("got %d entities", len(out))
			}
			if err != nil {
				t.Errorf("collect: %v", err)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, f.peak.Load(), int32(2))
}

func TestRunCanceledByCaller(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		search: page{body: searchHTML("/c/1", "/c/2")},
		pages: map[string]page{
			base + "/c/1": {body: detailHTML("ONE"), delay: time.Second},
			base + "/c/2": {body: detailHTML("TWO"), delay: time.Second},
		},
	}
	p := newPipeline(t, f, NewPool(4, 2), 4, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := p.Collect(ctx, "acme", "")
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.Less(t, time.Since(start), 900*time.Millisecond)
}

func TestRunArchivesPages(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		search: page{body: searchHTML("/c/1")},
		pages:  map[string]page{base + "/c/1": {body: detailHTML("ONE")}},
	}
	blobs := memory.NewBlobStore()
	archiver := NewArchiver(blobs, sha256.New(), "pages", zap.NewNop())
	p := newPipeline(t, f, NewPool(4, 2), 4, archiver)

	_, err := p.Collect(context.Background(), "acme", "")
	require.NoError(t, err)
	paths := blobs.Paths()
	require.Len(t, paths, 2)
	for _, path := range paths {
		require.True(t, strings.HasPrefix(path, "pages/"))
		require.True(t, strings.HasSuffix(path, ".html"))
	}
	require.Nil(t, NewArchiver(nil, sha256.New(), "pages", nil))
}
