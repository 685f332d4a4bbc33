package antigravity

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qiuyan86/antigravity-gateway/internal/apierr"
	"github.com/qiuyan86/antigravity-gateway/internal/tokenpool"
)

// fakeBackend scripts a sequence of responses and records the bearer token
// of every request it receives.
type fakeBackend struct {
	server *httptest.Server

	mu        sync.Mutex
	tokens    []string
	responses []backendResponse
}

type backendResponse struct {
	status int
	body   string
}

func newFakeBackend(responses ...backendResponse) *fakeBackend {
	b := &fakeBackend{responses: responses}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.tokens = append(b.tokens, token)
		resp := b.responses[0]
		if len(b.responses) > 1 {
			b.responses = b.responses[1:]
		}
		b.mu.Unlock()

		w.WriteHeader(resp.status)
		fmt.Fprint(w, resp.body)
	}))
	return b
}

func (b *fakeBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tokens)
}

func (b *fakeBackend) seenTokens() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tokens...)
}

// fakeStore records uploads in memory and hands out deterministic URLs.
type fakeStore struct {
	mu     sync.Mutex
	images [][]byte
	texts  map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{texts: make(map[string]string)}
}

func (s *fakeStore) StoreImage(_ context.Context, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = append(s.images, data)
	return fmt.Sprintf("https://cdn.test/images/%d.png", len(s.images)), nil
}

func (s *fakeStore) StoreText(_ context.Context, text, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[name] = text
	return "https://cdn.test/signatures/" + name, nil
}

func (s *fakeStore) Fetch(context.Context, string) ([]byte, error) { return nil, nil }
func (s *fakeStore) Enabled() bool                                 { return true }

// fakeUsers resolves a fixed user credential.
type fakeUsers struct {
	cred tokenpool.Credential
	err  error
}

func (u *fakeUsers) ResolveCredential(context.Context, string) (tokenpool.Credential, error) {
	return u.cred, u.err
}

func newTestDispatcher(t *testing.T, backendURL string, pool *tokenpool.Pool, users CredentialResolver, store *fakeStore) *Dispatcher {
	t.Helper()
	client := NewClient(ClientConfig{
		GenerateURL: backendURL,
		ModelsURL:   backendURL,
		UserAgent:   "test",
		Timeout:     5 * time.Second,
	})
	if users == nil {
		users = &fakeUsers{err: apierr.ErrNoCredential}
	}
	var artifacts = newFakeStore()
	if store != nil {
		artifacts = store
	}
	return NewDispatcher(client, pool, users, artifacts, time.Millisecond, nil, nil)
}

func newPool(t *testing.T, creds ...tokenpool.Credential) *tokenpool.Pool {
	t.Helper()
	p, err := tokenpool.New(&tokenpool.StaticSource{Credentials: creds}, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return p
}

func collectEvents() (func(StreamEvent), *[]StreamEvent) {
	var events []StreamEvent
	return func(ev StreamEvent) { events = append(events, ev) }, &events
}

func testJob(model string) Job {
	return Job{Request: &GenerateRequest{Model: model}, Model: model}
}

func TestGenerateNoCredential(t *testing.T) {
	backend := newFakeBackend(backendResponse{status: 200, body: ""})
	defer backend.server.Close()

	pool := newPool(t) // empty
	d := newTestDispatcher(t, backend.server.URL, pool, nil, nil)

	onEvent, _ := collectEvents()
	err := d.Generate(context.Background(), testJob("gemini-3-flash"), onEvent)
	if !errors.Is(err, apierr.ErrNoCredential) {
		t.Errorf("expected ErrNoCredential, got %v", err)
	}
	if backend.requestCount() != 0 {
		t.Errorf("expected no backend requests, got %d", backend.requestCount())
	}
}

func TestGenerateRetriesExhaustedAtPoolSize(t *testing.T) {
	backend := newFakeBackend(backendResponse{status: http.StatusTooManyRequests, body: "quota"})
	defer backend.server.Close()

	for _, n := range []int{1, 2, 3} {
		creds := make([]tokenpool.Credential, n)
		for i := range creds {
			creds[i] = tokenpool.Credential{ID: fmt.Sprintf("c%d", i), AccessToken: fmt.Sprintf("t%d", i)}
		}
		pool := newPool(t, creds...)
		d := newTestDispatcher(t, backend.server.URL, pool, nil, nil)

		before := backend.requestCount()
		onEvent, _ := collectEvents()
		err := d.Generate(context.Background(), testJob("gemini-3-flash"), onEvent)

		var exhausted *apierr.RetriesExhaustedError
		if !errors.As(err, &exhausted) {
			t.Fatalf("pool size %d: expected RetriesExhaustedError, got %v", n, err)
		}
		if exhausted.Attempts != n {
			t.Errorf("pool size %d: Attempts = %d, want %d", n, exhausted.Attempts, n)
		}
		if got := backend.requestCount() - before; got != n {
			t.Errorf("pool size %d: backend saw %d requests, want exactly %d", n, got, n)
		}
	}
}

func TestGenerateThrottledRotates(t *testing.T) {
	stream := streamLine(`{"response":{"candidates":[{"content":{"parts":[{"text":"hello"}]},"finishReason":"STOP"}]}}`)
	backend := newFakeBackend(
		backendResponse{status: http.StatusTooManyRequests, body: "quota"},
		backendResponse{status: http.StatusOK, body: stream},
	)
	defer backend.server.Close()

	pool := newPool(t,
		tokenpool.Credential{ID: "a", AccessToken: "ta"},
		tokenpool.Credential{ID: "b", AccessToken: "tb"},
	)
	d := newTestDispatcher(t, backend.server.URL, pool, nil, nil)

	onEvent, events := collectEvents()
	if err := d.Generate(context.Background(), testJob("gemini-3-flash"), onEvent); err != nil {
		t.Fatalf("generate: %v", err)
	}

	tokens := backend.seenTokens()
	if len(tokens) != 2 || tokens[0] != "ta" || tokens[1] != "tb" {
		t.Errorf("expected rotation ta -> tb, saw %v", tokens)
	}
	if len(*events) != 1 || (*events)[0].Type != EventText || (*events)[0].Text != "hello" {
		t.Errorf("unexpected events: %+v", *events)
	}
}

func TestGenerateForbiddenDisablesWhenNoAlternative(t *testing.T) {
	backend := newFakeBackend(backendResponse{status: http.StatusForbidden, body: "denied"})
	defer backend.server.Close()

	// Two entries so the retry bound is not hit first; only one enabled.
	pool := newPool(t,
		tokenpool.Credential{ID: "a", AccessToken: "ta"},
		tokenpool.Credential{ID: "b", AccessToken: "tb", Disabled: true},
	)
	d := newTestDispatcher(t, backend.server.URL, pool, nil, nil)

	onEvent, _ := collectEvents()
	err := d.Generate(context.Background(), testJob("gemini-3-flash"), onEvent)
	if !errors.Is(err, apierr.ErrCredentialDenied) {
		t.Fatalf("expected ErrCredentialDenied, got %v", err)
	}

	if _, err := pool.Acquire(); !errors.Is(err, apierr.ErrNoCredential) {
		t.Errorf("expected the denied credential to be disabled, acquire returned %v", err)
	}

	if err := pool.Reload(true); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := pool.Acquire(); err != nil {
		t.Errorf("expected credential back after reload, got %v", err)
	}
}

func TestGenerateFatalStatusSurfacesImmediately(t *testing.T) {
	backend := newFakeBackend(backendResponse{status: http.StatusInternalServerError, body: "boom"})
	defer backend.server.Close()

	pool := newPool(t,
		tokenpool.Credential{ID: "a", AccessToken: "ta"},
		tokenpool.Credential{ID: "b", AccessToken: "tb"},
	)
	d := newTestDispatcher(t, backend.server.URL, pool, nil, nil)

	onEvent, _ := collectEvents()
	err := d.Generate(context.Background(), testJob("gemini-3-flash"), onEvent)

	var backendErr *apierr.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("expected BackendError, got %v", err)
	}
	if backendErr.Status != http.StatusInternalServerError || backendErr.Body != "boom" {
		t.Errorf("unexpected error detail: %+v", backendErr)
	}
	if backend.requestCount() != 1 {
		t.Errorf("expected a single attempt, backend saw %d", backend.requestCount())
	}
}

func TestGenerateEventOrder(t *testing.T) {
	var body strings.Builder
	body.WriteString(streamLine(`{"response":{"candidates":[{"content":{"parts":[{"thought":true,"text":"pondering"}]}}]}}`))
	body.WriteString(streamLine(`{"response":{"candidates":[{"content":{"parts":[{"text":"answer"}]}}]}}`))
	body.WriteString(streamLine(`{"response":{"candidates":[{"content":{"parts":[{"functionCall":{"id":"call-1","name":"lookup","args":{"q":"x"}}}]},"finishReason":"STOP"}]}}`))
	backend := newFakeBackend(backendResponse{status: http.StatusOK, body: body.String()})
	defer backend.server.Close()

	pool := newPool(t, tokenpool.Credential{ID: "a", AccessToken: "ta"})
	d := newTestDispatcher(t, backend.server.URL, pool, nil, nil)

	onEvent, events := collectEvents()
	if err := d.Generate(context.Background(), testJob("gemini-3-flash"), onEvent); err != nil {
		t.Fatalf("generate: %v", err)
	}

	got := *events
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Type != EventThinking || got[0].Text != "pondering" {
		t.Errorf("event 0 = %+v, want thinking", got[0])
	}
	if got[1].Type != EventText || got[1].Text != "answer" {
		t.Errorf("event 1 = %+v, want text", got[1])
	}
	if got[2].Type != EventToolCalls || len(got[2].ToolCalls) != 1 {
		t.Fatalf("event 2 = %+v, want tool calls", got[2])
	}
	call := got[2].ToolCalls[0]
	if call.ID != "call-1" || call.Function.Name != "lookup" || call.Function.Arguments != `{"q":"x"}` {
		t.Errorf("unexpected tool call: %+v", call)
	}
}

func TestGenerateImageUpload(t *testing.T) {
	raw := []byte("fake png bytes")
	b64 := base64.StdEncoding.EncodeToString(raw)
	body := streamLine(fmt.Sprintf(`{"response":{"candidates":[{"content":{"parts":[{"inlineData":{"mimeType":"image/png","data":"%s"}}]},"finishReason":"STOP"}]}}`, b64))
	backend := newFakeBackend(backendResponse{status: http.StatusOK, body: body})
	defer backend.server.Close()

	pool := newPool(t, tokenpool.Credential{ID: "a", AccessToken: "ta"})
	store := newFakeStore()
	d := newTestDispatcher(t, backend.server.URL, pool, nil, store)

	onEvent, events := collectEvents()
	if err := d.Generate(context.Background(), testJob("gemini-3-pro-image"), onEvent); err != nil {
		t.Fatalf("generate: %v", err)
	}

	// Generate returned, so the upload barrier has been crossed.
	if len(store.images) != 1 || string(store.images[0]) != string(raw) {
		t.Fatalf("stored images = %v, want the decoded payload", store.images)
	}

	found := false
	for _, ev := range *events {
		if ev.Type == EventText && strings.Contains(ev.Text, "![Image](https://cdn.test/images/1.png)") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a markdown image link event, got %+v", *events)
	}
}

func TestGenerateSignatureUploadArtifactCapableOnly(t *testing.T) {
	body := streamLine(`{"response":{"candidates":[{"content":{"parts":[{"text":"hi","thoughtSignature":"sig-blob"}]},"finishReason":"STOP"}]}}`)

	cases := []struct {
		model      string
		wantUpload bool
	}{
		{"gemini-3-pro-image", true},
		{"gemini-3-flash-sig", true},
		{"gemini-3-flash", false},
	}

	for _, tc := range cases {
		backend := newFakeBackend(backendResponse{status: http.StatusOK, body: body})
		pool := newPool(t, tokenpool.Credential{ID: "a", AccessToken: "ta"})
		store := newFakeStore()
		d := newTestDispatcher(t, backend.server.URL, pool, nil, store)

		onEvent, events := collectEvents()
		if err := d.Generate(context.Background(), testJob(tc.model), onEvent); err != nil {
			t.Fatalf("%s: generate: %v", tc.model, err)
		}
		backend.server.Close()

		uploaded := len(store.texts) == 1
		if uploaded != tc.wantUpload {
			t.Errorf("%s: signature uploaded = %v, want %v", tc.model, uploaded, tc.wantUpload)
		}
		if tc.wantUpload {
			marker := false
			for _, ev := range *events {
				if ev.Type == EventText && strings.Contains(ev.Text, "<!-- SIG_URL: https://cdn.test/signatures/") {
					marker = true
				}
			}
			if !marker {
				t.Errorf("%s: expected a signature marker event, got %+v", tc.model, *events)
			}
		}
	}
}

// failingStore errors on every upload.
type failingStore struct{}

func (failingStore) StoreImage(context.Context, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingStore) StoreText(context.Context, string, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (failingStore) Fetch(context.Context, string) ([]byte, error) { return nil, nil }
func (failingStore) Enabled() bool                                 { return true }

func TestGenerateUploadFailureDoesNotFailRequest(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString([]byte("fake png bytes"))
	body := streamLine(fmt.Sprintf(`{"response":{"candidates":[{"content":{"parts":[{"text":"before","thoughtSignature":"sig-blob"},{"inlineData":{"mimeType":"image/png","data":"%s"}}]},"finishReason":"STOP"}]}}`, b64))
	backend := newFakeBackend(backendResponse{status: http.StatusOK, body: body})
	defer backend.server.Close()

	pool := newPool(t, tokenpool.Credential{ID: "a", AccessToken: "ta"})
	client := NewClient(ClientConfig{
		GenerateURL: backend.server.URL,
		ModelsURL:   backend.server.URL,
		UserAgent:   "test",
		Timeout:     5 * time.Second,
	})
	d := NewDispatcher(client, pool, &fakeUsers{err: apierr.ErrNoCredential}, failingStore{}, time.Millisecond, nil, nil)

	onEvent, events := collectEvents()
	if err := d.Generate(context.Background(), testJob("gemini-3-pro-image"), onEvent); err != nil {
		t.Fatalf("an upload failure must not fail the request, got %v", err)
	}

	if len(*events) != 1 || (*events)[0].Type != EventText || (*events)[0].Text != "before" {
		t.Fatalf("expected only the text event, got %+v", *events)
	}
	for _, ev := range *events {
		if strings.Contains(ev.Text, "SIG_URL") || strings.Contains(ev.Text, "![Image](") {
			t.Errorf("no artifact URL event may be emitted on upload failure: %+v", ev)
		}
	}
}

func TestGenerateUserSourceFallsBackToPool(t *testing.T) {
	stream := streamLine(`{"response":{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}}`)
	backend := newFakeBackend(
		backendResponse{status: http.StatusTooManyRequests, body: "quota"},
		backendResponse{status: http.StatusOK, body: stream},
	)
	defer backend.server.Close()

	pool := newPool(t,
		tokenpool.Credential{ID: "a", AccessToken: "ta"},
		tokenpool.Credential{ID: "b", AccessToken: "tb"},
	)
	users := &fakeUsers{cred: tokenpool.Credential{ID: "user:u1", AccessToken: "tu"}}
	d := newTestDispatcher(t, backend.server.URL, pool, users, nil)

	job := testJob("gemini-3-flash")
	job.Source = CredentialSource{UserID: "u1"}

	onEvent, _ := collectEvents()
	if err := d.Generate(context.Background(), job, onEvent); err != nil {
		t.Fatalf("generate: %v", err)
	}

	tokens := backend.seenTokens()
	if len(tokens) != 2 || tokens[0] != "tu" {
		t.Fatalf("expected the user token first, saw %v", tokens)
	}
	if tokens[1] != "ta" && tokens[1] != "tb" {
		t.Errorf("expected fallback to a pool credential, saw %q", tokens[1])
	}
}
