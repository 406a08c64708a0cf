package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func TestStack_SecurityHeaders(t *testing.T) {
	// WHAT: Every response through the stack carries the hardening headers.
	// WHY: The API may be exposed beyond localhost; headers are the floor.
	var h http.Handler = okHandler()
	for i := len(Stack()) - 1; i >= 0; i-- {
		h = Stack()[i](h)
	}

	req := httptest.NewRequest("GET", "/api/harvests", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	checks := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for header, want := range checks {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s: got %q, want %q", header, got, want)
		}
	}
}

func TestRequestID_HeaderAndLength(t *testing.T) {
	// WHAT: RequestID sets an 8-char X-Request-ID on the response.
	// WHY: Log lines and responses must share an id or correlation is guesswork.
	h := RequestID(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))

	id := w.Header().Get("X-Request-ID")
	if id == "" {
		t.Fatal("X-Request-ID header missing")
	}
	if len(id) != 8 {
		t.Errorf("X-Request-ID: got %q (len %d), want 8 chars", id, len(id))
	}

	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, httptest.NewRequest("GET", "/x", nil))
	if w2.Header().Get("X-Request-ID") == id {
		t.Error("two requests got the same id")
	}
}

func TestHeadToGet(t *testing.T) {
	// WHAT: HEAD requests reach GET handlers.
	// WHY: Uptime probes HEAD /healthz; a 405 there pages someone at night.
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("inner method: got %s, want GET", r.Method)
		}
		w.WriteHeader(200)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("HEAD", "/healthz", nil))
	if w.Code != 200 {
		t.Errorf("status: got %d, want 200", w.Code)
	}
}

func TestMaxBody_RejectsOversize(t *testing.T) {
	// WHAT: Bodies over the cap fail to read inside the handler.
	// WHY: Nothing on this API needs more than a few KB of JSON.
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err == nil {
			t.Error("oversize body read succeeded, want error")
		}
		w.WriteHeader(400)
	}))

	body := strings.NewReader(strings.Repeat("a", 64))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", "/api/harvests", body))
}

func TestBasicAuth(t *testing.T) {
	// WHAT: Wrong or missing credentials get 401 with WWW-Authenticate; good ones pass.
	// WHY: The guard is the only thing between the internet and the browser fleet.
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	h := BasicAuth("ops", string(hash))(okHandler())

	req := httptest.NewRequest("GET", "/api/harvests", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("no credentials: got %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.Contains(got, "Basic") {
		t.Errorf("WWW-Authenticate: got %q", got)
	}

	req = httptest.NewRequest("GET", "/api/harvests", nil)
	req.SetBasicAuth("ops", "wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("wrong password: got %d, want 401", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/harvests", nil)
	req.SetBasicAuth("other", "s3cret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 401 {
		t.Errorf("wrong user: got %d, want 401", w.Code)
	}

	req = httptest.NewRequest("GET", "/api/harvests", nil)
	req.SetBasicAuth("ops", "s3cret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Errorf("good credentials: got %d, want 200", w.Code)
	}
}
