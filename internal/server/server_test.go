package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"docchat/internal/chromemdb"
	"docchat/internal/chunker"
	"docchat/internal/config"
	"docchat/internal/models"
	"docchat/internal/parser"
	"docchat/internal/rag"
)

type fakePipeline struct {
	ingestErr error
	answerErr error
	answer    *models.Answer

	ingested map[string][]string
}

func (p *fakePipeline) Ingest(_ context.Context, sessionID, text, filename string) (int, error) {
	if p.ingestErr != nil {
		return 0, p.ingestErr
	}
	if p.ingested == nil {
		p.ingested = map[string][]string{}
	}
	p.ingested[sessionID] = append(p.ingested[sessionID], filename+":"+text)
	return 1, nil
}

func (p *fakePipeline) Answer(_ context.Context, sessionID, query string) (*models.Answer, error) {
	if p.answerErr != nil {
		return nil, p.answerErr
	}
	if strings.TrimSpace(query) == "" {
		return nil, models.Errorf(models.ErrInvalidInput, "query required")
	}
	return p.answer, nil
}

func (p *fakePipeline) Records(_ context.Context, sessionID string) (int, error) {
	return len(p.ingested[sessionID]), nil
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Addr:           ":0",
		AllowedOrigins: []string{"http://localhost:3000"},
		MaxUploadMB:    1,
	}
}

func newUploadRequest(t *testing.T, target, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(content)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := New(testConfig(), &fakePipeline{}, parser.NewDefaultExtractor())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestUpload_CreatesSessionAndAppends(t *testing.T) {
	p := &fakePipeline{}
	h := New(testConfig(), p, parser.NewDefaultExtractor()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newUploadRequest(t, "/api/upload", "notes.txt", []byte("first upload")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var first uploadResponse
	decode(t, rec, &first)
	if !first.Success || first.SessionID == "" || first.Filename != "notes.txt" || first.Chunks != 1 {
		t.Fatalf("response = %+v", first)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newUploadRequest(t, "/api/upload?session_id="+first.SessionID, "more.md", []byte("second upload")))
	var second uploadResponse
	decode(t, rec, &second)
	if second.SessionID != first.SessionID {
		t.Fatalf("append went to session %s, want %s", second.SessionID, first.SessionID)
	}

	got := p.ingested[first.SessionID]
	if len(got) != 2 || got[0] != "notes.txt:first upload" || !strings.HasPrefix(got[1], "more.md:") {
		t.Fatalf("ingested = %v", got)
	}
}

func TestUpload_Rejections(t *testing.T) {
	h := New(testConfig(), &fakePipeline{}, parser.NewDefaultExtractor()).Handler()

	tests := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"unsupported format", newUploadRequest(t, "/api/upload", "image.png", []byte("png")), http.StatusBadRequest},
		{"missing file", func() *http.Request {
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			mw.WriteField("session_id", "abc")
			mw.Close()
			req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
			req.Header.Set("Content-Type", mw.FormDataContentType())
			return req
		}(), http.StatusBadRequest},
		{"too large", newUploadRequest(t, "/api/upload", "big.txt", bytes.Repeat([]byte("a"), 2<<20)), http.StatusRequestEntityTooLarge},
		{"not multipart", httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("raw")), http.StatusBadRequest},
		{"binary text file", newUploadRequest(t, "/api/upload", "bad.txt", []byte{0xff, 0xfe, 0x00}), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			var body map[string]string
			decode(t, rec, &body)
			if body["detail"] == "" {
				t.Fatalf("missing detail: %v", body)
			}
		})
	}
}

func TestUpload_ErrorKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{models.Errorf(models.ErrEmbedding, "ollama unreachable"), http.StatusBadGateway},
		{models.Errorf(models.ErrStore, "dimension mismatch"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := New(testConfig(), &fakePipeline{ingestErr: tt.err}, parser.NewDefaultExtractor()).Handler()
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, newUploadRequest(t, "/api/upload", "a.txt", []byte("text")))
		if rec.Code != tt.status {
			t.Fatalf("%v: status = %d, want %d", tt.err, rec.Code, tt.status)
		}
	}
}

func TestChat(t *testing.T) {
	p := &fakePipeline{answer: &models.Answer{
		Content: "Forty-two.",
		Sources: []models.Source{{models.MetaFilename: "guide.pdf", models.MetaScore: "0.9123"}},
	}}
	h := New(testConfig(), p, parser.NewDefaultExtractor()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"answer?","session_id":"s1"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body)
	}
	var body struct {
		Answer  string              `json:"answer"`
		Sources []map[string]string `json:"sources"`
	}
	decode(t, rec, &body)
	if body.Answer != "Forty-two." || len(body.Sources) != 1 || body.Sources[0]["filename"] != "guide.pdf" {
		t.Fatalf("body = %+v", body)
	}
}

func TestChat_Failures(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		detail string
	}{
		{"missing session", `{"query":"q"}`, nil, http.StatusBadRequest, "session_id required"},
		{"invalid json", `{`, nil, http.StatusBadRequest, ""},
		{"empty query", `{"query":"","session_id":"s"}`, nil, http.StatusBadRequest, ""},
		{"generation failed", `{"query":"q","session_id":"s"}`, models.Errorf(models.ErrGeneration, "503"), http.StatusBadGateway, ""},
		{"generation timeout", `{"query":"q","session_id":"s"}`, models.Wrap(models.ErrGeneration, "generate content", context.DeadlineExceeded), http.StatusGatewayTimeout, ""},
		{"store failed", `{"query":"q","session_id":"s"}`, models.Errorf(models.ErrStore, "down"), http.StatusInternalServerError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(testConfig(), &fakePipeline{answerErr: tt.err}, parser.NewDefaultExtractor()).Handler()
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body)))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
			var body map[string]string
			decode(t, rec, &body)
			if tt.detail != "" && body["detail"] != tt.detail {
				t.Fatalf("detail = %q, want %q", body["detail"], tt.detail)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	h := New(testConfig(), &fakePipeline{}, parser.NewDefaultExtractor()).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("credentials not allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("foreign origin allowed")
	}
}

// keywordEmbedder counts occurrences of a few words, plus a bias term.
type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	return []float32{
		float32(strings.Count(text, "apples")),
		float32(strings.Count(text, "rockets")),
		0.1,
	}
}

func (e keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

type echoGenerator struct{ calls int }

func (g *echoGenerator) Complete(_ context.Context, prompt string) (string, error) {
	g.calls++
	return "answer from context", nil
}

func TestEndToEnd_UploadThenChat(t *testing.T) {
	splitter, err := chunker.New(40, 0)
	if err != nil {
		t.Fatal(err)
	}
	index, err := chromemdb.NewVectorDBManager(chromemdb.Options{InMemory: true, Dimension: 3})
	if err != nil {
		t.Fatal(err)
	}
	gen := &echoGenerator{}
	pipeline := rag.NewRAG(splitter, keywordEmbedder{}, index, gen, 2)
	h := New(testConfig(), pipeline, parser.NewDefaultExtractor()).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, newUploadRequest(t, "/api/upload", "fruit.txt", []byte(strings.Repeat("apples", 10))))
	var up uploadResponse
	decode(t, rec, &up)
	if up.Chunks != 2 {
		t.Fatalf("chunks = %d, want 2", up.Chunks)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, newUploadRequest(t, "/api/upload?session_id="+up.SessionID, "space.md", []byte(strings.Repeat("rockets", 5))))
	if rec.Code != http.StatusOK {
		t.Fatalf("second upload status = %d body = %s", rec.Code, rec.Body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+up.SessionID, nil))
	var stats sessionResponse
	decode(t, rec, &stats)
	if stats.Records != 3 {
		t.Fatalf("records = %d, want 3", stats.Records)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"tell me about rockets","session_id":"`+up.SessionID+`"}`)))
	var chat struct {
		Answer  string              `json:"answer"`
		Sources []map[string]string `json:"sources"`
	}
	decode(t, rec, &chat)
	if chat.Answer != "answer from context" || len(chat.Sources) != 2 {
		t.Fatalf("chat = %+v", chat)
	}
	if chat.Sources[0]["filename"] != "space.md" {
		t.Fatalf("best source = %v, want space.md", chat.Sources[0])
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"anything","session_id":"unknown"}`)))
	decode(t, rec, &chat)
	if chat.Answer != models.NoRelevantInformation || len(chat.Sources) != 0 {
		t.Fatalf("empty session chat = %+v", chat)
	}
	if gen.calls != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.calls)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPS = 0.001
	cfg.RateLimitBurst = 1
	h := New(cfg, &fakePipeline{answer: &models.Answer{Content: "ok", Sources: []models.Source{}}}, parser.NewDefaultExtractor()).Handler()

	chat := func() int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"query":"q","session_id":"s"}`)))
		return rec.Code
	}
	if code := chat(); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := chat(); code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", code)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health must not be limited, got %d", rec.Code)
	}
}
