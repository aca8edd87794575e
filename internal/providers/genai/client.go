package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"aix/internal/infra"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultChatModel  = "gemini-2.5-flash"
	DefaultVideoModel = "veo-3.1-fast-generate-preview"
)

// ErrNoAPIKey is returned when neither a static key nor a key source yields
// a usable key.
var ErrNoAPIKey = errors.New("genai: api key is not configured")

// KeySource resolves the API key right before each request so a key selected
// after startup is picked up.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey            string
	KeySource         KeySource
	BaseURL           string
	ChatModel         string
	VideoModel        string
	HTTPClient        *http.Client
	Logger            *infra.Logger
	RequestsPerMinute int
}

// Client is a thin REST facade over the Gemini API covering chat completions,
// long-running video generation and file download.
type Client struct {
	apiKey     string
	keys       KeySource
	baseURL    string
	chatModel  string
	videoModel string
	httpClient *http.Client
	logger     *infra.Logger
	limiter    *rate.Limiter
}

// APIError carries the decoded error envelope of a non-2xx response.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gemini status %d", e.StatusCode)
	}
	return fmt.Sprintf("gemini status %d: %s", e.StatusCode, e.Message)
}

// Turn is one prior exchange in a chat conversation.
type Turn struct {
	Role string
	Text string
}

// ContentRequest asks the chat model for a single reply.
type ContentRequest struct {
	SystemInstruction string
	History           []Turn
	Message           string
}

// VideoRequest starts a text-to-video operation.
type VideoRequest struct {
	Prompt         string
	NumberOfVideos int
	Resolution     string
	AspectRatio    string
}

// Operation is the polled state of a long-running generation.
type Operation struct {
	Name     string
	Done     bool
	Error    string
	VideoURI string
	MIMEType string
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerateContentRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiVideoInstance struct {
	Prompt string `json:"prompt"`
}

type geminiVideoParameters struct {
	NumberOfVideos int    `json:"numberOfVideos,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	AspectRatio    string `json:"aspectRatio,omitempty"`
}

type geminiPredictRequest struct {
	Instances  []geminiVideoInstance `json:"instances"`
	Parameters geminiVideoParameters `json:"parameters"`
}

type geminiOperation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI      string `json:"uri"`
					MIMEType string `json:"mimeType,omitempty"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("genai: invalid base url: %w", err)
	}

	chatModel := strings.TrimSpace(opts.ChatModel)
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = DefaultVideoModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}

	limit := rate.Inf
	if opts.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(opts.RequestsPerMinute) / 60)
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		keys:       opts.KeySource,
		baseURL:    baseURL,
		chatModel:  chatModel,
		videoModel: videoModel,
		httpClient: client,
		logger:     logger,
		limiter:    rate.NewLimiter(limit, 1),
	}, nil
}

func (c *Client) ChatModel() string  { return c.chatModel }
func (c *Client) VideoModel() string { return c.videoModel }

// GenerateContent sends the conversation to the chat model and returns the
// concatenated text of the first candidate. An empty string means the model
// produced no text.
func (c *Client) GenerateContent(ctx context.Context, req ContentRequest) (string, error) {
	payload := geminiGenerateContentRequest{}
	if instr := strings.TrimSpace(req.SystemInstruction); instr != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: instr}}}
	}
	for _, turn := range req.History {
		if strings.TrimSpace(turn.Text) == "" {
			continue
		}
		payload.Contents = append(payload.Contents, geminiContent{
			Role:  normalizeRole(turn.Role),
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}
	payload.Contents = append(payload.Contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.Message}},
	})

	var response geminiGenerateContentResponse
	path := fmt.Sprintf("/models/%s:generateContent", url.PathEscape(c.chatModel))
	if err := c.invokeGemini(ctx, http.MethodPost, path, payload, &response); err != nil {
		return "", err
	}

	for _, candidate := range response.Candidates {
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			b.WriteString(part.Text)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			return text, nil
		}
	}
	return "", nil
}

// StartVideo submits a predictLongRunning request and returns the operation
// name to poll.
func (c *Client) StartVideo(ctx context.Context, req VideoRequest) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", errors.New("genai: prompt is required")
	}
	payload := geminiPredictRequest{
		Instances: []geminiVideoInstance{{Prompt: prompt}},
		Parameters: geminiVideoParameters{
			NumberOfVideos: req.NumberOfVideos,
			Resolution:     req.Resolution,
			AspectRatio:    req.AspectRatio,
		},
	}

	var op geminiOperation
	path := fmt.Sprintf("/models/%s:predictLongRunning", url.PathEscape(c.videoModel))
	if err := c.invokeGemini(ctx, http.MethodPost, path, payload, &op); err != nil {
		return "", err
	}
	if strings.TrimSpace(op.Name) == "" {
		return "", errors.New("genai: operation name missing from response")
	}

	c.logger.Debug().
		Str("model", c.videoModel).
		Str("operation", op.Name).
		Msg("genai: video operation started")
	return op.Name, nil
}

// GetOperation fetches the current state of a long-running operation.
func (c *Client) GetOperation(ctx context.Context, name string) (Operation, error) {
	name = strings.Trim(strings.TrimSpace(name), "/")
	if name == "" {
		return Operation{}, errors.New("genai: operation name is required")
	}

	var op geminiOperation
	if err := c.invokeGemini(ctx, http.MethodGet, "/"+name, nil, &op); err != nil {
		return Operation{}, err
	}

	out := Operation{Name: op.Name, Done: op.Done}
	if out.Name == "" {
		out.Name = name
	}
	if op.Error != nil && op.Error.Message != "" {
		out.Error = op.Error.Message
	}
	if op.Response != nil {
		if samples := op.Response.GenerateVideoResponse.GeneratedSamples; len(samples) > 0 {
			out.VideoURI = strings.TrimSpace(samples[0].Video.URI)
			out.MIMEType = samples[0].Video.MIMEType
		}
	}
	return out, nil
}

// Download retrieves a generated file. Relative URIs resolve against the
// base URL and the API key is appended as the key query parameter.
func (c *Client) Download(ctx context.Context, uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, "", errors.New("genai: download uri is required")
	}
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}

	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", decodeAPIError(resp)
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func (c *Client) invokeGemini(ctx context.Context, method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	key, err := c.resolveKey(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", key)
	req.URL.RawQuery = q.Encode()
	return req, nil
}

func (c *Client) resolveKey(ctx context.Context) (string, error) {
	if c.apiKey != "" {
		return c.apiKey, nil
	}
	if c.keys != nil {
		key, err := c.keys.APIKey(ctx)
		if err != nil {
			return "", fmt.Errorf("genai: resolve api key: %w", err)
		}
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
	}
	return "", ErrNoAPIKey
}

func decodeAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var envelope geminiErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(data))
	return apiErr
}

func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "model", "assistant":
		return "model"
	default:
		return "user"
	}
}
