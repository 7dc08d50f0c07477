package search

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/pkg/firecrawl"
	"github.com/sells-group/visitor-cli/pkg/jina"
)

func profileMarkdown(name string) string {
	return "# " + name + "\n\nVP of Engineering at Acme Robotics\n\n" +
		strings.Repeat("Builds robots and the teams that build robots. ", 10)
}

func candidates(urls ...string) []model.CandidateContact {
	out := make([]model.CandidateContact, len(urls))
	for i, u := range urls {
		out[i] = model.CandidateContact{ProfileURL: u, Title: "t" + u}
	}
	return out
}

func readResp(content string, tokens int) *jina.ReadResponse {
	return &jina.ReadResponse{Code: 200, Data: jina.ReadData{Content: content, Usage: jina.ReadUsage{Tokens: tokens}}}
}

func TestFetchAll_JinaOmitsFailures(t *testing.T) {
	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, "https://www.linkedin.com/in/a").Return(readResp(profileMarkdown("A"), 1000), nil)
	jc.On("Read", mock.Anything, "https://www.linkedin.com/in/b").Return(nil, errors.New("jina: unexpected status 451"))
	jc.On("Read", mock.Anything, "https://www.linkedin.com/in/c").Return(readResp("Sign up to view Jane's full profile. authwall", 50), nil)
	jc.On("Read", mock.Anything, "https://www.linkedin.com/in/d").Return(readResp(profileMarkdown("D"), 800), nil)

	in := candidates(
		"https://www.linkedin.com/in/a",
		"https://www.linkedin.com/in/b",
		"https://www.linkedin.com/in/c",
		"https://www.linkedin.com/in/d",
	)
	got, usage, err := NewFetcher(jc, WithConcurrency(2)).FetchAll(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://www.linkedin.com/in/a", got[0].ProfileURL)
	assert.Equal(t, "https://www.linkedin.com/in/d", got[1].ProfileURL)
	assert.True(t, got[0].Fetched())
	assert.Equal(t, "thttps://www.linkedin.com/in/a", got[0].Title)
	assert.Equal(t, 2, usage.Pages)
	assert.Equal(t, 1850, usage.Tokens)
	jc.AssertExpectations(t)
}

func TestFetchAll_AllFailIsEmptyNotError(t *testing.T) {
	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, mock.Anything).Return(nil, errors.New("boom"))

	got, usage, err := NewFetcher(jc).FetchAll(context.Background(), candidates("https://www.linkedin.com/in/a"))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, usage.Pages)
}

func TestFetchAll_PerURLTimeoutDropsSlowPage(t *testing.T) {
	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, "https://www.linkedin.com/in/slow").
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)
	jc.On("Read", mock.Anything, "https://www.linkedin.com/in/fast").Return(readResp(profileMarkdown("F"), 10), nil)

	start := time.Now()
	got, _, err := NewFetcher(jc, WithPerURLTimeout(20*time.Millisecond)).FetchAll(context.Background(),
		candidates("https://www.linkedin.com/in/slow", "https://www.linkedin.com/in/fast"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://www.linkedin.com/in/fast", got[0].ProfileURL)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestFetchAll_ConcurrencyBound(t *testing.T) {
	var inflight, peak atomic.Int32
	jc := &mockJinaClient{}
	jc.On("Read", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			n := inflight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inflight.Add(-1)
		}).
		Return(readResp(profileMarkdown("X"), 1), nil)

	urls := make([]string, 8)
	for i := range urls {
		urls[i] = "https://www.linkedin.com/in/p" + string(rune('a'+i))
	}
	got, _, err := NewFetcher(jc, WithConcurrency(3)).FetchAll(context.Background(), candidates(urls...))
	require.NoError(t, err)
	assert.Len(t, got, 8)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestFetchAll_Empty(t *testing.T) {
	got, usage, err := NewFetcher(&mockJinaClient{}).FetchAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, Usage{}, usage)
}

func TestFetchAll_FirecrawlBatch(t *testing.T) {
	fc := &mockFirecrawlClient{}
	fc.On("BatchScrape", mock.Anything, mock.MatchedBy(func(req firecrawl.BatchScrapeRequest) bool {
		return len(req.URLs) == 3
	})).Return(&firecrawl.BatchScrapeResponse{Success: true, ID: "batch-1"}, nil)
	fc.On("GetBatchScrapeStatus", mock.Anything, "batch-1").Return(&firecrawl.BatchScrapeStatusResponse{
		Status:      "completed",
		Total:       3,
		CreditsUsed: 3,
		Data: []firecrawl.PageData{
			{Markdown: profileMarkdown("C"), Metadata: firecrawl.PageMetadata{SourceURL: "https://linkedin.com/in/c/", StatusCode: 200}},
			{Markdown: "", Metadata: firecrawl.PageMetadata{SourceURL: "https://www.linkedin.com/in/b", StatusCode: 999, Error: "blocked"}},
			{Markdown: profileMarkdown("A"), Metadata: firecrawl.PageMetadata{SourceURL: "https://www.linkedin.com/in/a", StatusCode: 200}},
		},
	}, nil)

	f := NewFetcher(&mockJinaClient{}, WithFirecrawl(fc, firecrawl.WithPollInterval(time.Millisecond)))
	got, usage, err := f.FetchAll(context.Background(), candidates(
		"https://www.linkedin.com/in/a",
		"https://www.linkedin.com/in/b",
		"https://www.linkedin.com/in/c",
	))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://www.linkedin.com/in/a", got[0].ProfileURL)
	assert.Equal(t, "https://www.linkedin.com/in/c", got[1].ProfileURL)
	assert.Equal(t, 2, usage.Pages)
	assert.Equal(t, 3, usage.Credits)
	fc.AssertExpectations(t)
}

func TestFetchAll_FirecrawlFailureIsError(t *testing.T) {
	fc := &mockFirecrawlClient{}
	fc.On("BatchScrape", mock.Anything, mock.Anything).Return(nil, errors.New("firecrawl: unexpected status 500"))

	_, _, err := NewFetcher(&mockJinaClient{}, WithFirecrawl(fc)).FetchAll(context.Background(),
		candidates("https://www.linkedin.com/in/a"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search: firecrawl batch")
}

func TestIsAuthWall(t *testing.T) {
	assert.True(t, isAuthWall(""))
	assert.True(t, isAuthWall("short"))
	assert.True(t, isAuthWall(profileMarkdown("X")+" join now to see the full profile"))
	assert.False(t, isAuthWall(profileMarkdown("X")))
}

func TestURLKey(t *testing.T) {
	assert.Equal(t, "linkedin.com/in/jane", urlKey("https://www.LinkedIn.com/in/jane/?trk=x"))
	assert.Equal(t, urlKey("http://linkedin.com/in/jane"), urlKey("https://www.linkedin.com/in/jane/"))
}
