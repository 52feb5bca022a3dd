// Package recall is a thin client for the transcription provider's bot and transcript API.
// It holds no state and never retries; retry policy belongs to callers.
package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/notetaker/backend/internal/metrics"
)

const (
	// DefaultBaseURL is the provider region used when none is configured.
	DefaultBaseURL = "https://us-west-2.recall.ai/api/v1"
	// DefaultJoinLeadMinutes is how early a bot joins when the user has no preference.
	DefaultJoinLeadMinutes = 2

	isoMillis       = "2006-01-02T15:04:05.000Z"
	maxErrorBodyLen = 512
)

var tracer = otel.Tracer("github.com/notetaker/backend/internal/recall")

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	BotName    string
	Language   string
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Client calls the provider REST API.
type Client struct {
	baseURL    string
	apiKey     string
	botName    string
	language   string
	httpClient *http.Client
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a provider client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	botName := opts.BotName
	if botName == "" {
		botName = "Transcription Bot"
	}
	language := opts.Language
	if language == "" {
		language = "en"
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		botName:    botName,
		language:   language,
		httpClient: httpClient,
		metrics:    opts.Metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// ValidateConfiguration reports whether the provider credential is present.
func ValidateConfiguration(apiKey string) Validation {
	if strings.TrimSpace(apiKey) == "" {
		return Validation{
			IsValid: false,
			Message: "RECALL_API_KEY environment variable is not set. Please add your Recall.ai API key to the environment variables.",
		}
	}
	return Validation{IsValid: true, Message: "Bot configuration is valid"}
}

// ValidateConfiguration reports whether this client has a credential.
func (c *Client) ValidateConfiguration() Validation {
	return ValidateConfiguration(c.apiKey)
}

func (c *Client) requireCredential() error {
	if v := c.ValidateConfiguration(); !v.IsValid {
		return &ConfigurationError{Message: v.Message}
	}
	return nil
}

// JoinAt returns when a bot should join a meeting starting at start.
func JoinAt(start time.Time, leadMinutes int) time.Time {
	return start.Add(-time.Duration(leadMinutes) * time.Minute)
}

type createBotRequest struct {
	BotName         string          `json:"bot_name"`
	MeetingURL      string          `json:"meeting_url"`
	JoinAt          string          `json:"join_at"`
	RecordingConfig recordingConfig `json:"recording_config"`
}

type recordingConfig struct {
	Transcript transcriptConfig `json:"transcript"`
}

type transcriptConfig struct {
	Provider map[string]providerLanguage `json:"provider"`
}

type providerLanguage struct {
	Language string `json:"language"`
}

type idResponse struct {
	ID string `json:"id"`
}

// CreateBot schedules a provider bot to join meetingURL joinLeadMinutes before meetingStart.
func (c *Client) CreateBot(ctx context.Context, meetingURL string, meetingStart time.Time, joinLeadMinutes int) (string, error) {
	if err := c.requireCredential(); err != nil {
		return "", err
	}
	if strings.TrimSpace(meetingURL) == "" {
		return "", &ValidationError{Field: "meeting_url", Message: "Meeting URL is required to create a bot"}
	}
	if meetingStart.IsZero() {
		return "", &ValidationError{Field: "start_time", Message: "Start time is required to create a bot"}
	}

	joinAt := JoinAt(meetingStart, joinLeadMinutes).UTC()
	body := createBotRequest{
		BotName:    fmt.Sprintf("%s %s", c.botName, c.now().UTC().Format(isoMillis)),
		MeetingURL: meetingURL,
		JoinAt:     joinAt.Format(isoMillis),
		RecordingConfig: recordingConfig{
			Transcript: transcriptConfig{
				Provider: map[string]providerLanguage{"recallai_streaming": {Language: c.language}},
			},
		},
	}

	var out idResponse
	if err := c.do(ctx, "create_bot", http.MethodPost, c.baseURL+"/bot/", body, &out); err != nil {
		return "", err
	}
	c.logger.Info("bot created",
		zap.String("bot_id", out.ID),
		zap.Time("meeting_start", meetingStart),
		zap.Time("join_at", joinAt),
		zap.Int("join_lead_minutes", joinLeadMinutes),
	)
	return out.ID, nil
}

// GetBotStatus fetches the bot resource. It never defaults a status on failure.
func (c *Client) GetBotStatus(ctx context.Context, botID string) (*Bot, error) {
	if botID == "" {
		return nil, &ValidationError{Field: "bot_id", Message: "bot id is required"}
	}
	var bot Bot
	if err := c.do(ctx, "get_bot", http.MethodGet, c.baseURL+"/bot/"+botID+"/", nil, &bot); err != nil {
		return nil, err
	}
	if bot.ID == "" {
		bot.ID = botID
	}
	return &bot, nil
}

// GetBotTranscript fetches the simple transcript attached to a bot. A transcript field that is
// not a JSON string is returned as its JSON text.
func (c *Client) GetBotTranscript(ctx context.Context, botID string) (*BotTranscript, error) {
	if botID == "" {
		return nil, &ValidationError{Field: "bot_id", Message: "bot id is required"}
	}
	var raw struct {
		Transcript json.RawMessage `json:"transcript"`
	}
	if err := c.do(ctx, "get_bot_transcript", http.MethodGet, c.baseURL+"/bot/"+botID+"/transcript/", nil, &raw); err != nil {
		return nil, err
	}
	return &BotTranscript{Transcript: rawText(raw.Transcript)}, nil
}

// GetBotRecording lists the recordings attached to a bot.
func (c *Client) GetBotRecording(ctx context.Context, botID string) ([]Recording, error) {
	if botID == "" {
		return nil, &ValidationError{Field: "bot_id", Message: "bot id is required"}
	}
	var raw json.RawMessage
	if err := c.do(ctx, "get_bot_recording", http.MethodGet, c.baseURL+"/bot/"+botID+"/recording/", nil, &raw); err != nil {
		return nil, err
	}
	return decodeRecordings(raw), nil
}

type createTranscriptRequest struct {
	Provider map[string]providerLanguage `json:"provider"`
}

// CreateTranscript requests async transcript generation for a finished recording.
func (c *Client) CreateTranscript(ctx context.Context, recordingID string) (string, error) {
	if err := c.requireCredential(); err != nil {
		return "", err
	}
	if recordingID == "" {
		return "", &ValidationError{Field: "recording_id", Message: "recording id is required to create a transcript"}
	}
	body := createTranscriptRequest{
		Provider: map[string]providerLanguage{"recallai_async": {Language: c.language}},
	}
	var out idResponse
	if err := c.do(ctx, "create_transcript", http.MethodPost, c.baseURL+"/recording/"+recordingID+"/create_transcript/", body, &out); err != nil {
		return "", err
	}
	c.logger.Info("transcript requested", zap.String("recording_id", recordingID), zap.String("transcript_id", out.ID))
	return out.ID, nil
}

// GetTranscript fetches transcript metadata.
func (c *Client) GetTranscript(ctx context.Context, transcriptID string) (*TranscriptInfo, error) {
	if err := c.requireCredential(); err != nil {
		return nil, err
	}
	if transcriptID == "" {
		return nil, &ValidationError{Field: "transcript_id", Message: "transcript id is required"}
	}
	var info TranscriptInfo
	if err := c.do(ctx, "get_transcript", http.MethodGet, c.baseURL+"/transcript/"+transcriptID+"/", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DownloadTranscript fetches the raw payload from a download URL and resolves its shape.
// An unrecognized shape is returned as PayloadUnrecognized, not as an error.
func (c *Client) DownloadTranscript(ctx context.Context, downloadURL string) (Payload, error) {
	if downloadURL == "" {
		return Payload{}, &ValidationError{Field: "download_url", Message: "download url is required"}
	}
	var raw json.RawMessage
	if err := c.request(ctx, "download_transcript", http.MethodGet, downloadURL, nil, &raw, false); err != nil {
		return Payload{}, err
	}
	payload := ParsePayload(raw)
	if !payload.Recognized() {
		c.logger.Warn("unrecognized transcript payload shape", zap.Int("bytes", len(raw)))
	} else {
		c.logger.Info("transcript downloaded",
			zap.String("kind", string(payload.Kind)),
			zap.Int("participants", len(payload.Participants)),
			zap.Int("bytes", len(payload.Data)),
		)
	}
	return payload, nil
}

func (c *Client) do(ctx context.Context, op, method, url string, body, out any) error {
	return c.request(ctx, op, method, url, body, out, true)
}

func (c *Client) request(ctx context.Context, op, method, url string, body, out any, authed bool) (err error) {
	ctx, span := tracer.Start(ctx, "recall."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.ProviderCall(op, err)
	}()

	var reader io.Reader
	if body != nil {
		b, mErr := json.Marshal(body)
		if mErr != nil {
			return fmt.Errorf("%s: marshal request: %w", op, mErr)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &ProviderError{Operation: op, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("provider request failed", zap.String("operation", op), zap.Error(err))
		return &ProviderError{Operation: op, Message: err.Error(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Operation: op, StatusCode: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(resp.StatusCode, data)
		c.logger.Error("provider returned error",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", msg),
		)
		return &ProviderError{Operation: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Operation: op, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error(), Err: err}
	}
	return nil
}

// errorMessage prefers the provider's "detail" field, then the body text, then the status text.
func errorMessage(status int, body []byte) string {
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		return detail.Detail
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyLen {
		text = text[:maxErrorBodyLen]
	}
	if text != "" {
		return text
	}
	return http.StatusText(status)
}

func rawText(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(t, &s); err == nil {
		return s
	}
	return string(t)
}

func decodeRecordings(raw json.RawMessage) []Recording {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return nil
	}
	var list []Recording
	if t[0] == '[' {
		if err := json.Unmarshal(t, &list); err == nil {
			return list
		}
		return nil
	}
	var obj struct {
		Results    []Recording `json:"results"`
		Recordings []Recording `json:"recordings"`
		ID         string      `json:"id"`
	}
	if err := json.Unmarshal(t, &obj); err != nil {
		return nil
	}
	switch {
	case len(obj.Results) > 0:
		return obj.Results
	case len(obj.Recordings) > 0:
		return obj.Recordings
	case obj.ID != "":
		var single Recording
		if err := json.Unmarshal(t, &single); err == nil {
			return []Recording{single}
		}
	}
	return nil
}
