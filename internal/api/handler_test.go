package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/parley/internal/agent"
	"github.com/nidhogg/parley/internal/conversation"
	"github.com/nidhogg/parley/internal/files"
	"github.com/nidhogg/parley/internal/provider"
	"github.com/nidhogg/parley/internal/storage"
	"github.com/nidhogg/parley/internal/store"
	"go.uber.org/zap"
)

// memStorage is a map-backed ObjectStorage so handlers run without MinIO.
type memStorage struct {
	objects map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	uploadedAt  time.Time
}

func (m *memStorage) Put(_ context.Context, key string, data []byte, contentType string) (storage.ObjectInfo, error) {
	obj := memObject{data: append([]byte(nil), data...), contentType: contentType, uploadedAt: time.Now().UTC()}
	m.objects[key] = obj
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: contentType, LastModified: obj.uploadedAt}, nil
}

func (m *memStorage) Get(_ context.Context, key string) ([]byte, error) {
	obj, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return obj.data, nil
}

func (m *memStorage) Delete(_ context.Context, key string) (bool, error) {
	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	return true, nil
}

func (m *memStorage) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := make([]storage.ObjectInfo, 0, len(keys))
	for _, k := range keys {
		obj := m.objects[k]
		out = append(out, storage.ObjectInfo{Key: k, Size: int64(len(obj.data)), ContentType: obj.contentType, LastModified: obj.uploadedAt})
	}
	return out, nil
}

func (m *memStorage) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	if _, ok := m.objects[key]; !ok {
		return "", storage.ErrNotFound
	}
	return "http://storage.local/" + key + "?signed", nil
}

// fakeLLM answers every prompt with a canned reply.
type fakeLLM struct {
	reply string
	fail  *provider.CallResult
}

func (f *fakeLLM) Invoke(_ context.Context, _ provider.InvokeRequest) *provider.CallResult {
	if f.fail != nil {
		return f.fail
	}
	return &provider.CallResult{Success: true, StatusCode: 200, Content: f.reply}
}

// newTestHandler wires a Handler on in-memory deps (no Mongo/MinIO/Redis).
func newTestHandler(t *testing.T) (http.Handler, *fakeLLM) {
	t.Helper()
	logger := zap.NewNop()

	mem := store.NewMemory()
	agents := agent.NewRepository(mem, logger)
	fileSvc := files.NewService(&memStorage{objects: map[string]memObject{}}, nil, "uploads", 0, logger)
	llm := &fakeLLM{reply: "hello"}
	convs := conversation.NewService(conversation.NewLog(mem, logger), agents, fileSvc, llm, logger)

	h := NewHandler(agents, convs, fileSvc, logger)
	return h.Router(), llm
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func putJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("PUT", ts.URL+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := getJSON(t, ts, "/api/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %q", body["status"])
	}
}

func TestAgentCRUD(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	// Create with defaults
	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{"name": "helper"})
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var created agent.Agent
	decodeJSON(t, resp, &created)
	if created.ID == "" || created.Name != "helper" {
		t.Fatalf("created = %+v", created)
	}
	if created.ResponseSettings.Model != agent.DefaultModel {
		t.Errorf("default model = %q", created.ResponseSettings.Model)
	}

	// Get
	resp = getJSON(t, ts, "/api/agents/"+created.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}

	// Partial update keeps siblings
	resp = putJSON(t, ts, "/api/agents/"+created.ID, map[string]interface{}{
		"response_settings": map[string]interface{}{"tone": "friendly"},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	var updated agent.Agent
	decodeJSON(t, resp, &updated)
	if updated.ResponseSettings.Tone != agent.ToneFriendly {
		t.Errorf("tone = %q", updated.ResponseSettings.Tone)
	}
	if updated.ResponseSettings.Model != agent.DefaultModel {
		t.Errorf("sibling model lost: %q", updated.ResponseSettings.Model)
	}

	// List
	resp = getJSON(t, ts, "/api/agents")
	var list []agent.Agent
	decodeJSON(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list: expected 1, got %d", len(list))
	}

	// Delete, then 404
	resp = deleteReq(t, ts, "/api/agents/"+created.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = deleteReq(t, ts, "/api/agents/"+created.ID)
	if resp.StatusCode != 404 {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateAgentRequiresName(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUpdateAgentRejectsBadEnum(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{"name": "x"})
	var created agent.Agent
	decodeJSON(t, resp, &created)

	resp = putJSON(t, ts, "/api/agents/"+created.ID, map[string]interface{}{
		"response_settings": map[string]interface{}{"tone": "sarcastic"},
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestConversationFlow(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{
		"name":            "greeter",
		"welcome_message": "Hi there!",
		"system_prompt":   "You are terse.",
	})
	var a agent.Agent
	decodeJSON(t, resp, &a)

	// Start
	resp = postJSON(t, ts, "/api/conversations", map[string]interface{}{
		"agent_id": a.ID,
		"title":    "chat one",
	})
	if resp.StatusCode != 201 {
		t.Fatalf("start: expected 201, got %d", resp.StatusCode)
	}
	var started conversation.Started
	decodeJSON(t, resp, &started)
	if started.WelcomeMessage != "Hi there!" {
		t.Errorf("welcome = %q", started.WelcomeMessage)
	}

	// Send a message
	resp = postJSON(t, ts, "/api/conversations/"+started.ID+"/messages", map[string]interface{}{
		"content": "hello?",
	})
	if resp.StatusCode != 200 {
		t.Fatalf("send: expected 200, got %d", resp.StatusCode)
	}
	var out conversation.WithMessages
	decodeJSON(t, resp, &out)
	if len(out.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out.Messages))
	}
	if out.Messages[1].Role != conversation.RoleAssistant || out.Messages[1].Content != "hello" {
		t.Errorf("assistant message = %+v", out.Messages[1])
	}

	// History endpoint
	resp = getJSON(t, ts, "/api/conversations/"+started.ID+"/messages")
	var msgs []conversation.Message
	decodeJSON(t, resp, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("history: expected 2, got %d", len(msgs))
	}

	// Usage endpoint
	resp = getJSON(t, ts, "/api/conversations/"+started.ID+"/usage")
	var usage struct {
		ConversationID string `json:"conversation_id"`
		TotalTokens    int    `json:"total_tokens"`
	}
	decodeJSON(t, resp, &usage)
	want := msgs[0].TokenUsage + msgs[1].TokenUsage
	if usage.TotalTokens != want {
		t.Errorf("total_tokens = %d, want %d", usage.TotalTokens, want)
	}
}

func TestSendMessageUnknownConversation(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/conversations/nope/messages", map[string]interface{}{
		"content": "hi",
	})
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLLMFailureStatusPassesThrough(t *testing.T) {
	router, llm := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := postJSON(t, ts, "/api/agents", map[string]interface{}{"name": "x"})
	var a agent.Agent
	decodeJSON(t, resp, &a)
	resp = postJSON(t, ts, "/api/conversations", map[string]interface{}{"agent_id": a.ID})
	var started conversation.Started
	decodeJSON(t, resp, &started)

	llm.fail = &provider.CallResult{
		Success:     false,
		StatusCode:  429,
		ErrorKind:   provider.RateLimited,
		ErrorDetail: "slow down",
	}
	resp = postJSON(t, ts, "/api/conversations/"+started.ID+"/messages", map[string]interface{}{
		"content": "hi",
	})
	if resp.StatusCode != 429 {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["error_kind"] != string(provider.RateLimited) {
		t.Errorf("error_kind = %q", body["error_kind"])
	}
}

func uploadMultipart(t *testing.T, ts *httptest.Server, filename string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write(data)
	mw.Close()

	resp, err := http.Post(ts.URL+"/api/files", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func TestFileUploadDownloadDelete(t *testing.T) {
	router, _ := newTestHandler(t)
	ts := httptest.NewServer(router)
	defer ts.Close()

	resp := uploadMultipart(t, ts, "notes.txt", []byte("file body"))
	if resp.StatusCode != 201 {
		t.Fatalf("upload: expected 201, got %d", resp.StatusCode)
	}
	var f files.File
	decodeJSON(t, resp, &f)
	if f.ID == "" || f.Filename != "notes.txt" || f.URL == "" {
		t.Fatalf("file = %+v", f)
	}

	// Metadata
	resp = getJSON(t, ts, "/api/files/"+f.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Download round-trips the bytes
	resp = getJSON(t, ts, "/api/files/"+f.ID+"/download")
	if resp.StatusCode != 200 {
		t.Fatalf("download: expected 200, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "file body" {
		t.Errorf("downloaded %q", data)
	}

	// List
	resp = getJSON(t, ts, "/api/files")
	var list []files.File
	decodeJSON(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("list: expected 1, got %d", len(list))
	}

	// Text extraction is best-effort; a non-PDF yields empty text, not an error
	resp = getJSON(t, ts, "/api/files/"+f.ID+"/text")
	if resp.StatusCode != 200 {
		t.Fatalf("text: expected 200, got %d", resp.StatusCode)
	}
	var extracted map[string]string
	decodeJSON(t, resp, &extracted)
	if extracted["text"] != "" {
		t.Errorf("extracted %q from a plain text file", extracted["text"])
	}

	// Delete, then 404
	resp = deleteReq(t, ts, "/api/files/"+f.ID)
	if resp.StatusCode != 200 {
		t.Fatalf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = getJSON(t, ts, "/api/files/"+f.ID)
	if resp.StatusCode != 404 {
		t.Fatalf("get after delete: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
