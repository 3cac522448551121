package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"panelchat-gateway/internal/config"
	"panelchat-gateway/internal/models"
	"panelchat-gateway/internal/provider"
)

type stubProvider struct {
	name       string
	reply      models.Reply
	replyErr   error
	descriptor []models.ModelDescriptor
	listErr    error
	gotPrompt  models.Prompt
	gotOpts    models.Options
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) GenerateResponse(_ context.Context, prompt models.Prompt, opts models.Options) (models.Reply, error) {
	s.gotPrompt = prompt
	s.gotOpts = opts
	return s.reply, s.replyErr
}

func (s *stubProvider) ValidateCredential(context.Context) bool { return true }

func (s *stubProvider) ListModels(context.Context) ([]models.ModelDescriptor, error) {
	return s.descriptor, s.listErr
}

type stubFactory struct {
	provider  *stubProvider
	createErr error
	calls     int
}

func (f *stubFactory) Create(_ context.Context, name, credential string) (provider.Provider, error) {
	f.calls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return f.provider, nil
}

type stubLister struct {
	supports   bool
	descriptor []models.ModelDescriptor
	fetchErr   error
	calls      int
}

func (l *stubLister) Supports(string) bool { return l.supports }

func (l *stubLister) Fetch(context.Context, string, string) ([]models.ModelDescriptor, error) {
	l.calls++
	return l.descriptor, l.fetchErr
}

func newTestServer(t *testing.T, factory *stubFactory, lister *stubLister) *Server {
	t.Helper()
	srv, err := New(config.Default(), factory, lister)
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &stubFactory{provider: &stubProvider{}}, &stubLister{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestChatFlatResponse(t *testing.T) {
	stub := &stubProvider{name: "chatgpt", reply: models.Reply{Response: "all good"}}
	factory := &stubFactory{provider: stub}
	srv := newTestServer(t, factory, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "chatgpt",
		"apiKey": "sk-test",
		"model": "gpt-4",
		"messages": [{"role": "user", "content": "status?"}]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Response != "all good" {
		t.Errorf("response = %q", body.Response)
	}

	if model, _ := stub.gotOpts.Model(); model != "gpt-4" {
		t.Errorf("top-level model should reach the adapter options, got %q", model)
	}
	if len(stub.gotPrompt.Turns) != 1 || stub.gotPrompt.Turns[0].Text != "status?" {
		t.Errorf("prompt = %+v", stub.gotPrompt)
	}
}

func TestChatStructuredResponse(t *testing.T) {
	stub := &stubProvider{
		name:  "anthropic",
		reply: models.Reply{Thought: "checked graphs", Response: "all good"},
	}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "anthropic",
		"apiKey": "sk-ant",
		"messages": [{"role": "user", "content": "status?"}]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Response struct {
			Thought  string `json:"thought"`
			Response string `json:"response"`
		} `json:"response"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Response.Thought != "checked graphs" || body.Response.Response != "all good" {
		t.Errorf("got %+v", body.Response)
	}
}

func TestChatUnknownProvider(t *testing.T) {
	factory := &stubFactory{provider: &stubProvider{}}
	srv := newTestServer(t, factory, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "bedrock",
		"apiKey": "key",
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "bedrock") {
		t.Errorf("error should name the provider: %q", msg)
	}
	if factory.calls != 0 {
		t.Error("no adapter should be constructed for an unknown provider")
	}
}

func TestChatInvalidMessageSkipsFactory(t *testing.T) {
	factory := &stubFactory{provider: &stubProvider{}}
	srv := newTestServer(t, factory, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "chatgpt",
		"apiKey": "sk-test",
		"messages": [{"content": "missing role"}]
	}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if factory.calls != 0 {
		t.Error("malformed messages must not cost a credential check")
	}
}

func TestChatMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no llmProvider", `{"apiKey": "k", "messages": [{"role": "user", "content": "hi"}]}`, "llmProvider"},
		{"no apiKey", `{"llmProvider": "chatgpt", "messages": [{"role": "user", "content": "hi"}]}`, "apiKey"},
		{"no messages", `{"llmProvider": "chatgpt", "apiKey": "k"}`, "messages"},
		{"empty body", ``, "required"},
		{"bad json", `{`, "invalid JSON"},
	}

	srv := newTestServer(t, &stubFactory{provider: &stubProvider{}}, &stubLister{})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, http.MethodPost, "/chat", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if msg := decodeError(t, rec); !strings.Contains(msg, tt.want) {
				t.Errorf("error %q should mention %q", msg, tt.want)
			}
		})
	}
}

func TestChatGlamaRequiresModel(t *testing.T) {
	factory := &stubFactory{provider: &stubProvider{name: "glama"}}
	srv := newTestServer(t, factory, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "glama",
		"apiKey": "key",
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "model") {
		t.Errorf("error should mention the missing model: %q", msg)
	}
	if factory.calls != 0 {
		t.Error("missing model must be rejected before the credential check")
	}
}

func TestChatGlamaWithModel(t *testing.T) {
	stub := &stubProvider{name: "glama", reply: models.Reply{Response: "ok"}}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "glama",
		"apiKey": "key",
		"options": {"model": "llama-3-70b"},
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestChatOllamaAllowsBlankKey(t *testing.T) {
	stub := &stubProvider{name: "ollama", reply: models.Reply{Response: "ok"}}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "ollama",
		"apiKey": "",
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestChatUpstreamFailure(t *testing.T) {
	stub := &stubProvider{
		name: "chatgpt",
		replyErr: &provider.UpstreamError{
			Provider:   "chatgpt",
			StatusCode: 429,
			Message:    "rate limited",
		},
	}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "chatgpt",
		"apiKey": "sk-test",
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "chatgpt") {
		t.Errorf("error should name the vendor: %q", msg)
	}
}

func TestChatUnclassifiedFailure(t *testing.T) {
	stub := &stubProvider{name: "chatgpt", replyErr: context.Canceled}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "chatgpt",
		"apiKey": "sk-test",
		"messages": [{"role": "user", "content": "hi"}]
	}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); msg != "internal server error" {
		t.Errorf("unclassified failures must not leak detail, got %q", msg)
	}
}

func TestModels(t *testing.T) {
	stub := &stubProvider{
		name: "chatgpt",
		descriptor: []models.ModelDescriptor{
			{Label: "gpt-4", Value: "gpt-4"},
		},
	}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/models", `{"provider": "chatgpt", "apiKey": "sk-test"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// The panel expects the bare descriptor array, not a wrapper object.
	var body []models.ModelDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0].Value != "gpt-4" {
		t.Errorf("got %+v", body)
	}
}

func TestModelsFallback(t *testing.T) {
	stub := &stubProvider{
		name:    "anthropic",
		listErr: &provider.UpstreamError{Provider: "anthropic", StatusCode: 500},
	}
	lister := &stubLister{
		supports:   true,
		descriptor: []models.ModelDescriptor{{Label: "Claude 3 Haiku", Value: "claude-3-haiku"}},
	}
	srv := newTestServer(t, &stubFactory{provider: stub}, lister)

	rec := doJSON(t, srv, http.MethodPost, "/models", `{"provider": "anthropic", "apiKey": "sk-ant"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if lister.calls != 1 {
		t.Errorf("fallback calls = %d", lister.calls)
	}

	var body []models.ModelDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body) != 1 || body[0].Value != "claude-3-haiku" {
		t.Errorf("got %+v", body)
	}
}

func TestModelsNoFallbackForLocalServers(t *testing.T) {
	stub := &stubProvider{
		name:    "vllm",
		listErr: &provider.UpstreamError{Provider: "vllm", Message: "connection refused"},
	}
	lister := &stubLister{supports: false}
	srv := newTestServer(t, &stubFactory{provider: stub}, lister)

	rec := doJSON(t, srv, http.MethodPost, "/models", `{"provider": "vllm", "apiKey": "http://localhost:8000"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if lister.calls != 0 {
		t.Error("local servers have no fallback catalog")
	}
}

func TestModelsAuthFailure(t *testing.T) {
	factory := &stubFactory{createErr: &provider.AuthError{Provider: "chatgpt"}}
	srv := newTestServer(t, factory, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/models", `{"provider": "chatgpt", "apiKey": "bad"}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if msg := decodeError(t, rec); !strings.Contains(msg, "authentication failed") {
		t.Errorf("got %q", msg)
	}
}

func TestPanelDataReachesPrompt(t *testing.T) {
	stub := &stubProvider{name: "chatgpt", reply: models.Reply{Response: "ok"}}
	srv := newTestServer(t, &stubFactory{provider: stub}, &stubLister{})

	rec := doJSON(t, srv, http.MethodPost, "/chat", `{
		"llmProvider": "chatgpt",
		"apiKey": "sk-test",
		"messages": [{"role": "user", "content": "explain"}],
		"panelData": {"cpu": 97}
	}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	text := stub.gotPrompt.Turns[0].Text
	if !strings.Contains(text, "--- Additional Context ---") {
		t.Errorf("appendix missing: %q", text)
	}
	if !strings.Contains(text, `{"cpu": 97}`) {
		t.Errorf("panel data missing: %q", text)
	}
}
