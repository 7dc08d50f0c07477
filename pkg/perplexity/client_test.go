package perplexity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/resilience"
)

const okBody = `{"id":"cmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"ok"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`

// recordServer answers every request with status/body and keeps the last
// decoded request body.
func recordServer(t *testing.T, status int, body string) (*httptest.Server, *ChatCompletionRequest, *atomic.Int32) {
	t.Helper()
	var got ChatCompletionRequest
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &got, &calls
}

func TestChatCompletion_RequestShape(t *testing.T) {
	temp := 0.2
	maxTokens := 400

	tests := []struct {
		name      string
		opts      []Option
		req       ChatCompletionRequest
		wantModel string
		check     func(t *testing.T, got *ChatCompletionRequest)
	}{
		{
			name:      "default model",
			wantModel: defaultModel,
			check: func(t *testing.T, got *ChatCompletionRequest) {
				assert.Nil(t, got.Temperature)
				assert.Nil(t, got.MaxTokens)
				assert.Empty(t, got.SearchRecencyFilter)
			},
		},
		{
			name:      "client model",
			opts:      []Option{WithModel("sonar")},
			wantModel: "sonar",
		},
		{
			name:      "request model wins",
			opts:      []Option{WithModel("sonar")},
			req:       ChatCompletionRequest{Model: "sonar-reasoning"},
			wantModel: "sonar-reasoning",
		},
		{
			name:      "tuning fields",
			req:       ChatCompletionRequest{Temperature: &temp, MaxTokens: &maxTokens, SearchRecencyFilter: "year"},
			wantModel: defaultModel,
			check: func(t *testing.T, got *ChatCompletionRequest) {
				require.NotNil(t, got.Temperature)
				assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
				require.NotNil(t, got.MaxTokens)
				assert.Equal(t, 400, *got.MaxTokens)
				assert.Equal(t, "year", got.SearchRecencyFilter)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got, _ := recordServer(t, http.StatusOK, okBody)

			tt.req.Messages = []Message{{Role: "user", Content: "Jane Doe, CTO at Acme"}}
			client := NewClient("test-key", append([]Option{WithBaseURL(srv.URL + "/")}, tt.opts...)...)
			resp, err := client.ChatCompletion(context.Background(), tt.req)
			require.NoError(t, err)

			assert.Equal(t, "cmpl-1", resp.ID)
			assert.Equal(t, 5, resp.Usage.CompletionTokens)
			assert.Equal(t, tt.wantModel, got.Model)
			require.Len(t, got.Messages, 1)
			assert.Equal(t, "Jane Doe, CTO at Acme", got.Messages[0].Content)
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestChatCompletion_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantErr       string
		wantTransient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, wantErr: "unexpected status 429", wantTransient: true},
		{name: "server error", status: http.StatusBadGateway, body: `bad gateway`, wantErr: "unexpected status 502", wantTransient: true},
		{name: "bad key", status: http.StatusUnauthorized, body: `{"error":"invalid api key"}`, wantErr: "invalid api key"},
		{name: "malformed body", status: http.StatusOK, body: `{not json`, wantErr: "unmarshal response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _, calls := recordServer(t, tt.status, tt.body)

			resp, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{
				Messages: []Message{{Role: "user", Content: "q"}},
			})
			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, tt.wantTransient, resilience.IsTransient(err))
			assert.Equal(t, int32(1), calls.Load(), "client must not retry")
		})
	}
}

func TestChatCompletion_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "q"}},
	})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestChatCompletion_CitationsAndSearchResults(t *testing.T) {
	srv, _, _ := recordServer(t, http.StatusOK, `{"id":"c1","choices":[{"index":0,"message":{"role":"assistant","content":"  Jane spoke at KubeCon.  "}}],
		"citations":["https://kubecon.example.com/jane"],
		"search_results":[{"title":"KubeCon talk","url":"https://kubecon.example.com/jane","date":"2024-11-12"}],
		"usage":{"prompt_tokens":40,"completion_tokens":12}}`)

	resp, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{{Role: "user", Content: "Jane Doe Acme talks"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Jane spoke at KubeCon.", resp.Text())
	assert.Equal(t, []string{"https://kubecon.example.com/jane"}, resp.Citations)
	require.Len(t, resp.SearchResults, 1)
	assert.Equal(t, "2024-11-12", resp.SearchResults[0].Date)
}

func TestText_Empty(t *testing.T) {
	var nilResp *ChatCompletionResponse
	assert.Equal(t, "", nilResp.Text())
	assert.Equal(t, "", (&ChatCompletionResponse{}).Text())
}

func TestNewClient_Options(t *testing.T) {
	hc := &http.Client{Timeout: time.Second}
	c := NewClient("k", WithModel(""), WithHTTPClient(hc), WithBaseURL("https://pplx.example.com/")).(*httpClient)

	assert.Equal(t, defaultModel, c.model)
	assert.Same(t, hc, c.http)
	assert.Equal(t, "https://pplx.example.com", c.baseURL)
}
