package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/zsiec/framexchange/internal/exchange"
	"github.com/zsiec/framexchange/internal/notify"
	"github.com/zsiec/framexchange/media"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, metrics http.Handler) (*Server, *exchange.Registry) {
	t.Helper()
	reg := exchange.NewRegistry(nil, nil)
	t.Cleanup(reg.Close)
	return New(nil, reg, metrics), reg
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestPing(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, nil)

	w := do(t, s, http.MethodGet, "/api/ping", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Fatalf("ping: %d %s", w.Code, w.Body)
	}
}

func TestListAndGetBuffers(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, nil)
	reg.Init("video", 4, 256)
	reg.Init("audio", 8, 64)
	reg.PushAudio("audio", []byte("pcm"), media.AudioMeta{SampleRate: 8000, Channels: 1}, 10)

	w := do(t, s, http.MethodGet, "/api/buffers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	list := decode[BufferList](t, w)
	if list.Total != 2 || list.Buffers[0].Key != "audio" || list.Buffers[0].Live != 1 {
		t.Errorf("list: %+v", list)
	}

	w = do(t, s, http.MethodGet, "/api/buffers/video", "")
	st := decode[exchange.BufferStats](t, w)
	if w.Code != http.StatusOK || st.Capacity != 4 || st.MaxFrameSize != 256 {
		t.Errorf("get: %d %+v", w.Code, st)
	}

	if w := do(t, s, http.MethodGet, "/api/buffers/missing", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing: %d", w.Code)
	}
}

func TestCreateBuffer(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, nil)

	w := do(t, s, http.MethodPost, "/api/buffers", `{"key":"cam","capacity":3,"maxFrameSize":128}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body)
	}
	if st, ok := reg.Stat("cam"); !ok || st.Capacity != 3 {
		t.Errorf("registry: %+v ok=%v", st, ok)
	}

	w = do(t, s, http.MethodPost, "/api/buffers", `{"capacity":1,"maxFrameSize":16}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create without key: %d %s", w.Code, w.Body)
	}
	if st := decode[exchange.BufferStats](t, w); len(st.Key) != 36 {
		t.Errorf("generated key %q", st.Key)
	}

	if w := do(t, s, http.MethodPost, "/api/buffers", `{"key":"bad","capacity":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid capacity: %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/buffers", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("malformed body: %d", w.Code)
	}
}

func TestLastFrame(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, nil)
	reg.Init("video", 2, 64)

	if w := do(t, s, http.MethodGet, "/api/buffers/video/last", ""); w.Code != http.StatusNotFound {
		t.Fatalf("never written: %d", w.Code)
	}

	reg.PushVideo("video", []byte("keyframe"), media.VideoMeta{Width: 640, Height: 480, Rotation: 90, FrameType: media.FrameTypeKey}, 1234)
	w := do(t, s, http.MethodGet, "/api/buffers/video/last", "")
	if w.Code != http.StatusOK {
		t.Fatalf("last: %d %s", w.Code, w.Body)
	}
	lf := decode[LastFrame](t, w)
	if lf.Kind != "video" || lf.Size != 8 || lf.Width != 640 || lf.Rotation != 90 || lf.Timestamp != 1234 || lf.Seq != 1 {
		t.Errorf("last frame: %+v", lf)
	}
	if n, _ := reg.Len("video"); n != 1 {
		t.Errorf("inspection consumed the frame: live %d", n)
	}

	reg.Free("video")
	if w := do(t, s, http.MethodGet, "/api/buffers/video/last", ""); w.Code != http.StatusNotFound {
		t.Errorf("after free: %d", w.Code)
	}
}

func TestFreeBuffer(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, nil)
	reg.Init("video", 2, 64)

	if w := do(t, s, http.MethodDelete, "/api/buffers/video", ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", w.Code)
	}
	if _, ok := reg.Stat("video"); ok {
		t.Error("buffer still registered")
	}
	if w := do(t, s, http.MethodDelete, "/api/buffers/video", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: %d", w.Code)
	}
}

func TestNotifyStats(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(t, nil)
	reg.Bridge().Register("video", 3)

	w := do(t, s, http.MethodGet, "/api/notify", "")
	st := decode[notify.Stats](t, w)
	if w.Code != http.StatusOK || st.Targets != 1 || st.Initialized {
		t.Errorf("notify: %d %+v", w.Code, st)
	}
}

func TestMetricsMounted(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "framexchange_up 1\n")
	})
	s, _ := newTestServer(t, metrics)
	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "framexchange_up") {
		t.Errorf("metrics: %d %s", w.Code, w.Body)
	}

	bare, _ := newTestServer(t, nil)
	if w := do(t, bare, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics without handler: %d", w.Code)
	}
}

func TestAltSvc(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	AltSvc(inner, ":8443").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Alt-Svc"); got != `h3=":8443"; ma=86400` {
		t.Errorf("Alt-Svc: got %q", got)
	}

	rec = httptest.NewRecorder()
	AltSvc(inner, "no-port").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("Alt-Svc"); got != "" {
		t.Errorf("Alt-Svc without a port: got %q", got)
	}
}
