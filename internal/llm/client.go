package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/observability"
)

// DefaultBaseURL is the provider's Responses API base, matching the
// convention github.com/sashabaranov/go-openai's ClientConfig
// establishes (https://api.openai.com/v1 + Authorization: Bearer).
const DefaultBaseURL = "https://api.openai.com/v1"

// Client is the LLMClient adapter: build_params lives in params.go,
// call/stream/process_response live here. It is constructed per-call
// site (never a process-wide singleton) so tests can inject a fake
// HTTP transport.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	audit      AuditSink
	images     ImageFetcher
}

// AuditSink receives the serialized request and response of every
// provider call the client completes, successful or not. Implementations
// must be safe for concurrent use.
type AuditSink interface {
	RecordCall(ctx context.Context, model string, rawRequest, rawResponse []byte)
}

// SetAudit attaches an audit sink. A nil sink disables auditing.
func (c *Client) SetAudit(sink AuditSink) {
	c.audit = sink
}

// ImageFetcher fetches an image URL on the worker's side of the
// network and returns it as an inline data: URL, for splicing into a
// multimodal input when the provider cannot download the original.
type ImageFetcher interface {
	FetchAsDataURL(ctx context.Context, url string) (string, error)
}

// SetImageFetcher attaches the fetcher the image-download-error
// recovery path uses. Without one, recovery degrades to removing the
// offending image from the input.
func (c *Client) SetImageFetcher(f ImageFetcher) {
	c.images = f
}

// NewClient constructs an injectable LLM client. httpClient may be nil
// to use a default with CallTimeout.
func NewClient(apiKey, baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: CallTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{apiKey: apiKey, baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// Call performs a single-shot (non-streaming) call, with the in-client
// error recovery: a tool_choice=required-without-
// tools 400 retries once with tool_choice=auto plus a default
// web_search_preview tool; a reasoning_level-not-supported error on an
// o-series model retries once without the reasoning parameter. Image
// download errors are resolved by resolveImageDownloadErrors below.
func (c *Client) Call(ctx context.Context, params Params) (*ProcessedResponse, error) {
	resp, rawReq, rawResp, err := c.doCall(ctx, params)
	if err == nil {
		return c.processResponse(resp, rawReq, rawResp)
	}

	var callErr *CallError
	if !asCallError(err, &callErr) {
		return nil, err
	}

	if callErr.Kind == ErrorKindToolChoiceConfig || isToolChoiceRequiredError(callErr.Message) {
		retryParams := params
		retryParams.ToolChoice = "auto"
		retryParams.Tools = append(append([]ToolDef{}, params.Tools...), ToolDef{"type": "web_search_preview"})
		resp, rawReq, rawResp, retryErr := c.doCall(ctx, retryParams)
		if retryErr == nil {
			return c.processResponse(resp, rawReq, rawResp)
		}
		return nil, retryErr
	}

	if isReasoningNotSupportedError(callErr.Message) {
		retryParams := params
		retryParams.ReasoningEffort = ""
		resp, rawReq, rawResp, retryErr := c.doCall(ctx, retryParams)
		if retryErr == nil {
			return c.processResponse(resp, rawReq, rawResp)
		}
		return nil, retryErr
	}

	if url, matched := isImageDownloadError(callErr.Message); matched {
		resolved, resolveErr := c.resolveImageDownloadErrors(ctx, params, url)
		if resolveErr == nil {
			return resolved, nil
		}
	}

	return nil, err
}

// resolveImageDownloadErrors retries up to 10 times. Each pass first
// tries to fetch the offending URL ourselves and splice it back in as
// a data: URL; when no fetcher is configured (or the fetch fails, or
// the offender already is a data: URL), the image is removed from the
// input instead. The loop ends when a call succeeds, a different error
// appears, or no image remains to replace or remove.
func (c *Client) resolveImageDownloadErrors(ctx context.Context, params Params, firstOffendingURL string) (*ProcessedResponse, error) {
	current := params
	offending := firstOffendingURL
	for attempt := 0; attempt < 10; attempt++ {
		handled := false
		if c.images != nil && !strings.HasPrefix(offending, "data:") {
			if dataURL, fetchErr := c.images.FetchAsDataURL(ctx, offending); fetchErr == nil {
				current, handled = spliceImageURL(current, offending, dataURL)
			} else {
				c.logger.Warn("image fetch for splice failed, removing image instead", "url", offending, "error", fetchErr)
			}
		}
		if !handled {
			stripped, removedAny := removeImageURL(current, offending)
			if !removedAny {
				break
			}
			current = stripped
		}

		resp, rawReq, rawResp, err := c.doCall(ctx, current)
		if err == nil {
			return c.processResponse(resp, rawReq, rawResp)
		}
		var callErr *CallError
		if !asCallError(err, &callErr) {
			return nil, err
		}
		nextURL, matched := isImageDownloadError(callErr.Message)
		if !matched {
			return nil, err
		}
		offending = nextURL
	}
	return nil, fmt.Errorf("exhausted image-download error recovery passes")
}

// spliceImageURL replaces a single input_image part's URL in a
// multimodal input, reporting whether a match was found.
func spliceImageURL(params Params, oldURL, newURL string) (Params, bool) {
	messages, ok := params.Input.([]InputMessage)
	if !ok {
		return params, false
	}
	replaced := false
	out := make([]InputMessage, 0, len(messages))
	for _, msg := range messages {
		parts := make([]InputPart, 0, len(msg.Content))
		for _, part := range msg.Content {
			if part.Type == "input_image" && part.ImageURL == oldURL {
				part.ImageURL = newURL
				replaced = true
			}
			parts = append(parts, part)
		}
		msg.Content = parts
		out = append(out, msg)
	}
	if !replaced {
		return params, false
	}
	params.Input = out
	return params, true
}

// removeImageURL drops a single input_image part matching url from a
// multimodal input, reporting whether any image remained to remove.
func removeImageURL(params Params, url string) (Params, bool) {
	messages, ok := params.Input.([]InputMessage)
	if !ok {
		return params, false
	}
	removed := false
	out := make([]InputMessage, 0, len(messages))
	for _, msg := range messages {
		parts := make([]InputPart, 0, len(msg.Content))
		for _, part := range msg.Content {
			if part.Type == "input_image" && (part.ImageURL == url || url == "") {
				removed = true
				continue
			}
			parts = append(parts, part)
		}
		msg.Content = parts
		out = append(out, msg)
	}
	if !removed {
		return params, false
	}
	params.Input = out
	return params, true
}

// preview truncates a serialized body for logging.
func preview(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

func asCallError(err error, target **CallError) bool {
	ce, ok := err.(*CallError)
	if ok {
		*target = ce
	}
	return ok
}

func (c *Client) doCall(ctx context.Context, params Params) (*ResponseWire, []byte, []byte, error) {
	reqBody, err := json.Marshal(params)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("marshal request: %w", err)
	}

	if c.logger.Enabled(ctx, slog.LevelDebug) {
		c.logger.Debug("provider request",
			"model", params.Model,
			"request_preview", observability.RedactSecretsText(preview(reqBody, 2048)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(reqBody))
	if err != nil {
		return nil, reqBody, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		kind := Classify(0, err.Error(), err)
		return nil, reqBody, nil, &CallError{Kind: kind, Message: err.Error(), Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, reqBody, nil, &CallError{Kind: ErrorKindConnection, Message: err.Error(), Cause: err}
	}

	if c.audit != nil {
		c.audit.RecordCall(ctx, params.Model, reqBody, respBody)
	}

	var wire ResponseWire
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return nil, reqBody, respBody, &CallError{Kind: ErrorKindUnknown, Message: fmt.Sprintf("decode response: %v", err), Cause: err}
	}

	if httpResp.StatusCode >= 400 || wire.Error != nil {
		message := ""
		if wire.Error != nil {
			message = wire.Error.Message
		}
		kind := Classify(httpResp.StatusCode, message, nil)
		return nil, reqBody, respBody, &CallError{Kind: kind, StatusCode: httpResp.StatusCode, Message: message}
	}

	return &wire, reqBody, respBody, nil
}

// processResponse extracts final text, image URLs, usage, and
// tool-call items, plus the serialized request/response for auditing
//.
func (c *Client) processResponse(wire *ResponseWire, rawReq, rawResp []byte) (*ProcessedResponse, error) {
	out := &ProcessedResponse{ResponseID: wire.ID, RawRequest: rawReq, RawResponse: rawResp}
	if wire.Usage != nil {
		out.Usage = *wire.Usage
	}

	var textParts []string
	if wire.OutputText != "" {
		textParts = append(textParts, wire.OutputText)
	}
	for _, item := range wire.Output {
		switch item.Type {
		case "message":
			for _, content := range item.Content {
				if content.Type == "output_text" && content.Text != "" {
					textParts = append(textParts, content.Text)
				}
			}
		case "shell_call":
			out.ShellCalls = append(out.ShellCalls, item)
		case "computer_call":
			out.ComputerCalls = append(out.ComputerCalls, item)
		case "image_generation_call":
			if item.Result != "" {
				out.ImageURLs = append(out.ImageURLs, "data:image/png;base64,"+item.Result)
			}
		}
	}
	out.Text = strings.Join(textParts, "\n")
	return out, nil
}
