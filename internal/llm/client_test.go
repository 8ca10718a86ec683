package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	model    string
	request  []byte
	response []byte
}

type fakeAudit struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (a *fakeAudit) RecordCall(ctx context.Context, model string, rawRequest, rawResponse []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, recordedCall{model: model, request: rawRequest, response: rawResponse})
}

func TestCallReturnsProcessedResponse(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{
			"id": "resp_1",
			"output_text": "hello",
			"output": [{"type":"message","content":[{"type":"output_text","text":"world"}]}],
			"usage": {"input_tokens": 50, "output_tokens": 10}
		}`)
	}))
	defer server.Close()

	audit := &fakeAudit{}
	client := NewClient("test-key", server.URL, nil, nil)
	client.SetAudit(audit)

	resp, err := client.Call(context.Background(), Params{Model: "gpt-5", Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ResponseID)
	assert.Equal(t, "hello\nworld", resp.Text)
	assert.Equal(t, 50, resp.Usage.InputTokens)
	assert.Equal(t, 10, resp.Usage.OutputTokens)
	assert.NotEmpty(t, resp.RawRequest)
	assert.NotEmpty(t, resp.RawResponse)
	assert.Equal(t, "Bearer test-key", gotAuth)

	require.Len(t, audit.calls, 1)
	assert.Equal(t, "gpt-5", audit.calls[0].model)
}

func TestCallRetriesRequiredWithoutTools(t *testing.T) {
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Tool choice 'required' must be specified with 'tools' parameter"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"resp_2","output_text":"recovered"}`)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, nil, nil)
	resp, err := client.Call(context.Background(), Params{Model: "gpt-5", Input: "hi", ToolChoice: "required"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)

	require.Len(t, bodies, 2)
	var retry struct {
		ToolChoice string    `json:"tool_choice"`
		Tools      []ToolDef `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(bodies[1], &retry))
	assert.Equal(t, "auto", retry.ToolChoice)
	require.Len(t, retry.Tools, 1)
	assert.Equal(t, "web_search_preview", retry.Tools[0]["type"])
}

func TestCallRetriesWithoutReasoningWhenUnsupported(t *testing.T) {
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"reasoning_level not supported for this model"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"resp_3","output_text":"ok"}`)
	}))
	defer server.Close()

	client := NewClient("test-key", server.URL, nil, nil)
	resp, err := client.Call(context.Background(), Params{Model: "o3", Input: "hi", ReasoningEffort: "high"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)

	require.Len(t, bodies, 2)
	assert.Contains(t, string(bodies[0]), `"reasoning"`)
	assert.NotContains(t, string(bodies[1]), `"reasoning"`)
}

func TestCallClassifiesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer server.Close()

	client := NewClient("bad-key", server.URL, nil, nil)
	_, err := client.Call(context.Background(), Params{Model: "gpt-5", Input: "hi"})
	require.Error(t, err)
	var callErr *CallError
	require.True(t, asCallError(err, &callErr))
	assert.Equal(t, ErrorKindAuthentication, callErr.Kind)
}

func TestProcessResponseCollectsToolCallsAndImages(t *testing.T) {
	client := NewClient("k", "http://unused", nil, nil)
	wire := &ResponseWire{
		ID: "resp_4",
		Output: []OutputItem{
			{Type: "shell_call", CallID: "call_1", Action: json.RawMessage(`{"commands":["ls"]}`)},
			{Type: "computer_call", CallID: "call_2"},
			{Type: "image_generation_call", Result: "aGVsbG8="},
			{Type: "message", Content: []OutputContent{{Type: "output_text", Text: "done"}}},
		},
	}
	out, err := client.processResponse(wire, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", out.Text)
	require.Len(t, out.ShellCalls, 1)
	assert.Equal(t, "call_1", out.ShellCalls[0].CallID)
	require.Len(t, out.ComputerCalls, 1)
	require.Len(t, out.ImageURLs, 1)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", out.ImageURLs[0])
}

func TestRemoveImageURL(t *testing.T) {
	params := Params{Input: []InputMessage{{
		Role: "user",
		Content: []InputPart{
			{Type: "input_text", Text: "look"},
			{Type: "input_image", ImageURL: "https://a.example/x.png"},
			{Type: "input_image", ImageURL: "https://b.example/y.png"},
		},
	}}}

	stripped, removed := removeImageURL(params, "https://a.example/x.png")
	assert.True(t, removed)
	msgs := stripped.Input.([]InputMessage)
	require.Len(t, msgs[0].Content, 2)
	assert.Equal(t, "https://b.example/y.png", msgs[0].Content[1].ImageURL)

	_, removed = removeImageURL(stripped, "https://a.example/x.png")
	assert.False(t, removed)
}

type fakeImageFetcher struct {
	fetched []string
	dataURL string
	err     error
}

func (f *fakeImageFetcher) FetchAsDataURL(ctx context.Context, url string) (string, error) {
	f.fetched = append(f.fetched, url)
	return f.dataURL, f.err
}

func TestCallSplicesFetchedImageOnDownloadError(t *testing.T) {
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Error while downloading https://a.example/x.png"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"resp_5","output_text":"described"}`)
	}))
	defer server.Close()

	fetcher := &fakeImageFetcher{dataURL: "data:image/png;base64,aGVsbG8="}
	client := NewClient("test-key", server.URL, nil, nil)
	client.SetImageFetcher(fetcher)

	params := Params{Model: "gpt-5", Input: []InputMessage{{
		Role: "user",
		Content: []InputPart{
			{Type: "input_text", Text: "describe"},
			{Type: "input_image", ImageURL: "https://a.example/x.png"},
		},
	}}}

	resp, err := client.Call(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "described", resp.Text)
	assert.Equal(t, []string{"https://a.example/x.png"}, fetcher.fetched)

	// The retry carried the inlined image, not a stripped input.
	require.Len(t, bodies, 2)
	assert.Contains(t, string(bodies[1]), "data:image/png;base64,aGVsbG8=")
	assert.NotContains(t, string(bodies[1]), "https://a.example/x.png")
}

func TestCallRemovesImageWhenFetchFails(t *testing.T) {
	var bodies [][]byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies = append(bodies, body)
		if len(bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Error while downloading https://a.example/x.png"}}`)
			return
		}
		fmt.Fprint(w, `{"id":"resp_6","output_text":"ok"}`)
	}))
	defer server.Close()

	fetcher := &fakeImageFetcher{err: fmt.Errorf("fetch refused")}
	client := NewClient("test-key", server.URL, nil, nil)
	client.SetImageFetcher(fetcher)

	params := Params{Model: "gpt-5", Input: []InputMessage{{
		Role:    "user",
		Content: []InputPart{{Type: "input_image", ImageURL: "https://a.example/x.png"}},
	}}}

	resp, err := client.Call(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	require.Len(t, bodies, 2)
	assert.NotContains(t, string(bodies[1]), "https://a.example/x.png")
}

func TestSpliceImageURL(t *testing.T) {
	params := Params{Input: []InputMessage{{
		Role:    "user",
		Content: []InputPart{{Type: "input_image", ImageURL: "https://a.example/x.png"}},
	}}}

	spliced, ok := spliceImageURL(params, "https://a.example/x.png", "data:image/png;base64,eA==")
	assert.True(t, ok)
	msgs := spliced.Input.([]InputMessage)
	assert.Equal(t, "data:image/png;base64,eA==", msgs[0].Content[0].ImageURL)

	_, ok = spliceImageURL(spliced, "https://a.example/x.png", "unused")
	assert.False(t, ok)
}
