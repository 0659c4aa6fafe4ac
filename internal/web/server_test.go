package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VirtualDoctor/internal/chat"
	"VirtualDoctor/internal/completion"
	"VirtualDoctor/internal/nutrition"
	"VirtualDoctor/internal/report"
	"VirtualDoctor/internal/session"
	"VirtualDoctor/internal/store"
)

type stubCompleter struct {
	mu      sync.Mutex
	prompts []string
	result  completion.Result
}

func (s *stubCompleter) Complete(_ context.Context, _, userPrompt string) completion.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, userPrompt)
	return s.result
}

func (s *stubCompleter) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

type harness struct {
	t       *testing.T
	srv     *httptest.Server
	client  *http.Client
	stub    *stubCompleter
	store   *store.Memory
	manager *session.Manager
}

func newHarness(t *testing.T, result completion.Result, reportDir string) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubCompleter{result: result}
	mem := store.NewMemory()
	manager := session.NewManager(mem, time.Hour, logger)
	t.Cleanup(manager.Close)

	s, err := NewServer(manager, Options{
		Chat:        chat.NewService(stub),
		Nutrition:   nutrition.NewBuilder(stub),
		ReportDir:   reportDir,
		Tips:        []string{"tip one", "tip two", "tip three"},
		TipInterval: 10 * time.Millisecond,
		Logger:      logger,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &harness{
		t:       t,
		srv:     srv,
		client:  &http.Client{Jar: jar},
		stub:    stub,
		store:   mem,
		manager: manager,
	}
}

func (h *harness) get(path string) (*http.Response, string) {
	h.t.Helper()
	resp, err := h.client.Get(h.srv.URL + path)
	require.NoError(h.t, err)
	return resp, readBody(h.t, resp)
}

func (h *harness) post(path string, form url.Values) (*http.Response, string) {
	h.t.Helper()
	resp, err := h.client.PostForm(h.srv.URL+path, form)
	require.NoError(h.t, err)
	return resp, readBody(h.t, resp)
}

func (h *harness) sessionID() string {
	h.t.Helper()
	u, err := url.Parse(h.srv.URL)
	require.NoError(h.t, err)
	for _, c := range h.client.Jar.Cookies(u) {
		if c.Name == CookieName {
			return c.Value
		}
	}
	return ""
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func validPlanForm() url.Values {
	return url.Values{
		"age":      {"30"},
		"weight":   {"70"},
		"height":   {"170"},
		"goal":     {"lose weight"},
		"duration": {"1 week"},
	}
}

func TestServer_HomeStartsSession(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")

	resp, body := h.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Virtual Doctor Assistant")
	assert.Contains(t, body, "tip one")
	assert.Contains(t, body, `aria-current="page">Home</button>`)

	id := h.sessionID()
	require.NotEmpty(t, id)
	assert.Equal(t, 1, h.manager.Len())

	// the same browser keeps its session
	h.get("/")
	assert.Equal(t, id, h.sessionID())
	assert.Equal(t, 1, h.manager.Len())
}

func TestServer_Navigate(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")

	tests := []struct {
		page string
		want string
	}{
		{"chat", "<h1>Doctor Chat"},
		{"Nutrition", "<h1>Nutrition Planner"},
		{"about", "<h1>About Us"},
		{"home", "<h1>Virtual Doctor Assistant"},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			resp, body := h.post("/navigate", url.Values{"page": {tt.page}})
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Contains(t, body, tt.want)
		})
	}

	resp, _ := h.post("/navigate", url.Values{"page": {"settings"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	snap, err := h.store.Load(h.sessionID())
	require.NoError(t, err)
	assert.Equal(t, session.PageHome, snap.Page)
}

func TestServer_ChatTurn(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "**Rest** and fluids <script>alert(1)</script>"}, "")

	resp, body := h.post("/chat", url.Values{"prompt": {"I have a headache"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"I have a headache"}, h.stub.calls())
	assert.Contains(t, body, "I have a headache")
	assert.Contains(t, body, "<strong>Rest</strong>")
	assert.NotContains(t, body, "<script>alert")

	snap, err := h.store.Load(h.sessionID())
	require.NoError(t, err)
	assert.Equal(t, session.PageDoctorChat, snap.Page)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, session.RoleAssistant, snap.Messages[1].Role)
}

func TestServer_ChatFallback(t *testing.T) {
	h := newHarness(t, completion.Result{Reason: completion.ReasonTimeout, Err: context.DeadlineExceeded}, "")

	_, body := h.post("/chat", url.Values{"prompt": {"fever"}})
	assert.Contains(t, body, "generate a response at this time.")
	assert.NotContains(t, body, "deadline exceeded")
}

func TestServer_ChatEmptyPromptIgnored(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")

	resp, _ := h.post("/chat", url.Values{"prompt": {"   "}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, h.stub.calls())

	snap, err := h.store.Load(h.sessionID())
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
}

func TestServer_NutritionInvalid(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "plan"}, "")

	form := validPlanForm()
	form.Set("age", "0")
	form.Set("weight", "heavy")
	form.Set("goal", "bulk up")

	resp, body := h.post("/nutrition", form)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "Age must be between 1 and 120")
	assert.Contains(t, body, "Weight must be a number")
	assert.Contains(t, body, "Goal unknown goal")
	assert.Contains(t, body, `value="heavy"`)
	assert.Empty(t, h.stub.calls())
}

func TestServer_NutritionPlanAndReport(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, completion.Result{Text: "Day 1: oats and a 30 minute walk."}, dir)

	resp, body := h.post("/nutrition", validPlanForm())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<strong>24.2</strong> (Normal weight)")
	assert.Contains(t, body, "Day 1: oats and a 30 minute walk.")
	assert.Contains(t, body, "/nutrition/report.pdf")

	calls := h.stub.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0], "BMI of 24.2")

	resp, pdf := h.get("/nutrition/report.pdf")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), report.DefaultFilename)
	assert.True(t, strings.HasPrefix(pdf, "%PDF"))

	archived, err := os.ReadFile(filepath.Join(dir, h.sessionID()+"_"+report.DefaultFilename))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(archived), "%PDF"))
}

func TestServer_NutritionFailureKeepsNoPlan(t *testing.T) {
	h := newHarness(t, completion.Result{Reason: completion.ReasonRateLimited, Err: errors.New("429")}, "")

	resp, body := h.post("/nutrition", validPlanForm())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "couldn&#39;t generate a response")
	assert.NotContains(t, body, "/nutrition/report.pdf")

	resp, _ = h.get("/nutrition/report.pdf")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ReportExportFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	h := newHarness(t, completion.Result{Text: "plan"}, dir)

	h.post("/nutrition", validPlanForm())
	resp, _ := h.get("/nutrition/report.pdf")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_Reset(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")

	h.post("/chat", url.Values{"prompt": {"hello"}})
	first := h.sessionID()
	require.NotEmpty(t, first)

	resp, body := h.post("/session/reset", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Virtual Doctor Assistant")

	_, err := h.store.Load(first)
	assert.ErrorIs(t, err, session.ErrNotFound)

	second := h.sessionID()
	require.NotEmpty(t, second)
	assert.NotEqual(t, first, second)
}

func TestServer_Health(t *testing.T) {
	h := newHarness(t, completion.Result{}, "")

	resp, body := h.get("/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)
}

func (h *harness) dialTips() (*websocket.Conn, *http.Response, error) {
	h.t.Helper()
	u, err := url.Parse(h.srv.URL)
	require.NoError(h.t, err)

	header := http.Header{}
	for _, c := range h.client.Jar.Cookies(u) {
		header.Add("Cookie", c.String())
	}
	return websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws/tips", header)
}

func TestServer_TipStream(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")
	h.get("/")

	conn, _, err := h.dialTips()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i, want := range []string{"tip one", "tip two", "tip three", "tip one"} {
		var msg tipMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, i%3, msg.Index)
		assert.Equal(t, want, msg.Tip)
	}
}

func TestServer_TipStreamStopsOnNavigate(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")
	h.get("/")

	conn, _, err := h.dialTips()
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg tipMessage
	require.NoError(t, conn.ReadJSON(&msg))

	h.post("/navigate", url.Values{"page": {"about"}})

	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestServer_TipStreamRequiresHome(t *testing.T) {
	h := newHarness(t, completion.Result{Text: "ok"}, "")

	_, resp, err := h.dialTips()
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.post("/navigate", url.Values{"page": {"about"}})
	_, resp, err = h.dialTips()
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServer_InteractionStartsFreshSessionAfterEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := session.NewManager(store.NewMemory(), time.Hour, logger)
	t.Cleanup(manager.Close)
	stub := &stubCompleter{}
	s, err := NewServer(manager, Options{
		Chat:      chat.NewService(stub),
		Nutrition: nutrition.NewBuilder(stub),
		Logger:    logger,
	})
	require.NoError(t, err)

	first, err := manager.Create()
	require.NoError(t, err)

	got := make(chan *session.Session, 1)
	handler := s.interaction(func(w http.ResponseWriter, r *http.Request, sess *session.Session) {
		got <- sess
	})

	// hold the turn so the request waits on it, then end the session
	first.Lock()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: first.ID})
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		handler(rec, req)
	}()
	time.Sleep(20 * time.Millisecond)
	manager.End(first.ID)
	first.Unlock()
	<-done

	sess := <-got
	assert.NotEqual(t, first.ID, sess.ID)
	assert.False(t, sess.Ended())

	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.Equal(t, sess.ID, cookie.Value)
}
