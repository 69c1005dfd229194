package router

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"repo-source-web/internal/application"
	"repo-source-web/internal/domain/services"
	"repo-source-web/internal/infrastructure/archive"
	"repo-source-web/internal/infrastructure/archive/archivetest"
	"repo-source-web/internal/infrastructure/github"
	"repo-source-web/internal/infrastructure/preview"
	"repo-source-web/pkg/config"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type state struct {
	SessionID     string   `json:"session_id"`
	Phase         string   `json:"phase"`
	Generation    uint64   `json:"generation"`
	Loading       bool     `json:"loading"`
	ActivePath    string   `json:"active_path"`
	ActiveContent string   `json:"active_content"`
	Expanded      []string `json:"expanded"`
	Error         string   `json:"error"`
	ErrorKind     string   `json:"error_kind"`
	ErrorPath     string   `json:"error_path"`
}

type fullNode struct {
	Name     string     `json:"name"`
	IsDir    bool       `json:"is_dir"`
	Content  string     `json:"content"`
	Children []fullNode `json:"children"`
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	return newRouterWithConfig(t, config.Default())
}

func newRouterWithConfig(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	sessions := application.NewSessionService(
		services.NewTreeBuilder(archive.NewZipDecoder(cfg), cfg), cfg)
	t.Cleanup(sessions.Close)

	r, err := New(cfg, sessions, preview.NewRenderer(cfg.GetPreviewStyle(), false), github.NewClient(cfg))
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func do(t *testing.T, r http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
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

func createSession(t *testing.T, r http.Handler) string {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: %d %s", w.Code, w.Body)
	}
	return decode[map[string]string](t, w)["id"]
}

func cargoArchive(t *testing.T) string {
	return archivetest.ZipBase64(t,
		archivetest.Dir("src/"),
		archivetest.Dir("src/bin/"),
		archivetest.File("src/bin/main.rs", "fn main() {}"),
		archivetest.File("src/lib.rs", "pub fn f() {}"),
		archivetest.File("Cargo.toml", "[package]\nname = \"demo\""),
	)
}

func TestArchiveLifecycle(t *testing.T) {
	r := newRouter(t)
	id := createSession(t, r)
	base := "/api/sessions/" + id

	w := do(t, r, http.MethodPost, base+"/archive?wait=true", map[string]string{"zipData": cargoArchive(t)})
	if w.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", w.Code, w.Body)
	}
	s := decode[state](t, w)
	if s.Phase != "Ready" || s.ActivePath != "Cargo.toml" {
		t.Fatalf("unexpected state after upload: %+v", s)
	}
	if diff := cmp.Diff([]string{"root"}, s.Expanded); diff != "" {
		t.Errorf("expanded (-want +got):\n%s", diff)
	}

	w = do(t, r, http.MethodPost, base+"/toggle", map[string]string{"id": "root/src/"})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: %d %s", w.Code, w.Body)
	}

	w = do(t, r, http.MethodGet, base+"/tree", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("tree: %d %s", w.Code, w.Body)
	}
	tree := decode[struct {
		Nodes []services.RenderNode `json:"nodes"`
	}](t, w)
	var ids []string
	for _, n := range tree.Nodes {
		ids = append(ids, n.ID)
	}
	want := []string{"root", "root/src/", "root/src/bin/", "root/src/lib.rs", "root/Cargo.toml"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("visible nodes (-want +got):\n%s", diff)
	}

	w = do(t, r, http.MethodPost, base+"/activate", map[string]string{"path": "src/lib.rs"})
	if w.Code != http.StatusOK {
		t.Fatalf("activate: %d %s", w.Code, w.Body)
	}
	if s := decode[state](t, w); s.ActiveContent != "pub fn f() {}" {
		t.Errorf("active content = %q", s.ActiveContent)
	}

	w = do(t, r, http.MethodGet, base+"/preview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("preview: %d %s", w.Code, w.Body)
	}
	if p := decode[preview.Preview](t, w); p.Path != "src/lib.rs" || p.Language != "Rust" {
		t.Errorf("preview = %s %s", p.Path, p.Language)
	}

	w = do(t, r, http.MethodGet, base+"/tree?format=text", nil)
	wantText := "zip\n" +
		"├── src/\n" +
		"│   ├── bin/\n" +
		"│   │   └── main.rs\n" +
		"│   └── lib.rs\n" +
		"└── Cargo.toml\n"
	if diff := cmp.Diff(wantText, w.Body.String()); diff != "" {
		t.Errorf("text tree (-want +got):\n%s", diff)
	}

	w = do(t, r, http.MethodGet, base+"/tree?format=full", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("full tree: %d %s", w.Code, w.Body)
	}
	full := decode[struct {
		Root string   `json:"root"`
		Tree fullNode `json:"tree"`
	}](t, w)
	wantTree := fullNode{IsDir: true, Children: []fullNode{
		{Name: "src/", IsDir: true, Children: []fullNode{
			{Name: "bin/", IsDir: true, Children: []fullNode{
				{Name: "main.rs", Content: "fn main() {}"},
			}},
			{Name: "lib.rs", Content: "pub fn f() {}"},
		}},
		{Name: "Cargo.toml", Content: "[package]\nname = \"demo\""},
	}}
	if diff := cmp.Diff(wantTree, full.Tree); diff != "" || full.Root != "zip" {
		t.Errorf("full tree root %q (-want +got):\n%s", full.Root, diff)
	}

	if w := do(t, r, http.MethodDelete, base, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, base+"/state", nil); w.Code != http.StatusNotFound {
		t.Errorf("state after delete: %d", w.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	r := newRouter(t)
	id := createSession(t, r)
	base := "/api/sessions/" + id

	if w := do(t, r, http.MethodPost, base+"/activate", map[string]string{"path": "Cargo.toml"}); w.Code != http.StatusConflict {
		t.Errorf("activate while idle: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/sessions/nope/state", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session: %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, base+"/archive", map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("missing zipData: %d", w.Code)
	}

	orphan := archivetest.ZipBase64(t, archivetest.File("a/b.txt", "x"))
	w := do(t, r, http.MethodPost, base+"/archive?wait=true", map[string]string{"zipData": orphan})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("structural fault: %d %s", w.Code, w.Body)
	}
	if s := decode[state](t, w); s.Phase != "Failed" || s.ErrorKind != "StructuralFault" || s.ErrorPath != "a/b.txt" {
		t.Errorf("failed state = %+v", s)
	}

	w = do(t, r, http.MethodPost, base+"/archive?wait=true", map[string]string{"zipData": "not base64!"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("decode fault: %d %s", w.Code, w.Body)
	}

	do(t, r, http.MethodPost, base+"/archive?wait=true", map[string]string{"zipData": cargoArchive(t)})
	testCases := []struct {
		Path string
		Want int
	}{
		{"src/", http.StatusBadRequest},
		{"src/missing.rs", http.StatusNotFound},
	}
	for _, tc := range testCases {
		if w := do(t, r, http.MethodPost, base+"/activate", map[string]string{"path": tc.Path}); w.Code != tc.Want {
			t.Errorf("activate %q: %d, want %d", tc.Path, w.Code, tc.Want)
		}
	}
	if w := do(t, r, http.MethodPost, base+"/toggle", map[string]string{"id": "root/Cargo.toml"}); w.Code != http.StatusBadRequest {
		t.Errorf("toggle file: %d", w.Code)
	}
}

func TestMultipartUpload(t *testing.T) {
	r := newRouter(t)
	id := createSession(t, r)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("codeZip", "demo.zip")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(archivetest.Zip(t, archivetest.File("Cargo.toml", "[package]")))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+id+"/archive?wait=true", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("multipart upload: %d %s", w.Code, w.Body)
	}
	if s := decode[state](t, w); s.ActiveContent != "[package]" {
		t.Errorf("active content = %q", s.ActiveContent)
	}
}

func TestOversizedUploadRejected(t *testing.T) {
	cfg := config.Default()
	cfg.FileLimits.MaxUploadSize = 1
	r := newRouterWithConfig(t, cfg)
	id := createSession(t, r)
	base := "/api/sessions/" + id

	w := do(t, r, http.MethodPost, base+"/archive?wait=true", map[string]string{"zipData": strings.Repeat("A", 2<<20)})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized JSON upload: %d %s", w.Code, w.Body)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("codeZip", "big.zip")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(bytes.Repeat([]byte{0}, 2<<20))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, base+"/archive", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized multipart upload: %d %s", w.Code, w.Body)
	}

	w = do(t, r, http.MethodGet, base+"/state", nil)
	if s := decode[state](t, w); s.Phase != "Idle" || s.Generation != 0 {
		t.Errorf("rejected uploads must not start a build: %+v", s)
	}
}

func TestHTMLPages(t *testing.T) {
	r := newRouter(t)

	w := do(t, r, http.MethodGet, "/", nil)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("index: %d", w.Code)
	}
	page := w.Header().Get("Location")
	id := strings.TrimPrefix(page, "/s/")

	w = do(t, r, http.MethodGet, page, nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Upload a zip archive") {
		t.Fatalf("empty page: %d", w.Code)
	}

	do(t, r, http.MethodPost, "/api/sessions/"+id+"/archive?wait=true", map[string]string{"zipData": cargoArchive(t)})

	form := url.Values{"id": {"root/src/"}}
	req := httptest.NewRequest(http.MethodPost, page+"/toggle", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("toggle form: %d %s", w.Code, w.Body)
	}

	w = do(t, r, http.MethodGet, page, nil)
	html := w.Body.String()
	for _, want := range []string{"lib.rs", "Cargo.toml", "<pre"} {
		if !strings.Contains(html, want) {
			t.Errorf("page missing %q", want)
		}
	}

	if w := do(t, r, http.MethodGet, "/s/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown session page: %d", w.Code)
	}
}

func TestHTMLShowsFailure(t *testing.T) {
	r := newRouter(t)
	id := createSession(t, r)

	orphan := archivetest.ZipBase64(t, archivetest.File("a/b.txt", "x"))
	do(t, r, http.MethodPost, "/api/sessions/"+id+"/archive?wait=true", map[string]string{"zipData": orphan})

	w := do(t, r, http.MethodGet, "/s/"+id, nil)
	body := w.Body.String()
	if !strings.Contains(body, `class="panel failed"`) || strings.Contains(body, `class="panel loading"`) {
		t.Errorf("failure panel not shown:\n%s", body)
	}
}

func TestSocketPushesState(t *testing.T) {
	r := newRouter(t)
	id := createSession(t, r)

	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var s state
	if err := conn.ReadJSON(&s); err != nil {
		t.Fatal(err)
	}
	if s.Phase != "Idle" || s.SessionID != id {
		t.Fatalf("initial message = %+v", s)
	}

	do(t, r, http.MethodPost, "/api/sessions/"+id+"/archive", map[string]string{"zipData": cargoArchive(t)})

	for s.Phase != "Ready" {
		if err := conn.ReadJSON(&s); err != nil {
			t.Fatalf("waiting for Ready: %v", err)
		}
		if s.Phase == "Failed" {
			t.Fatalf("load failed: %s", s.Error)
		}
	}
	if s.ActivePath != "Cargo.toml" {
		t.Errorf("pushed active path = %q", s.ActivePath)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t)
	createSession(t, r)

	w := do(t, r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "source_viewer_sessions_active") {
		t.Error("sessions gauge not exported")
	}
}

func TestGitHubRepo(t *testing.T) {
	snapshot := archivetest.Zip(t,
		archivetest.Dir("octo-demo-1a2b3c/"),
		archivetest.File("octo-demo-1a2b3c/README.md", "# demo"),
		archivetest.File("octo-demo-1a2b3c/Cargo.toml", "[package]"),
	)
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/demo/zipball/master" {
			http.NotFound(w, r)
			return
		}
		w.Write(snapshot)
	}))
	defer fake.Close()

	cfg := config.Default()
	cfg.GitHub.APIBaseURL = fake.URL
	r := newRouterWithConfig(t, cfg)
	id := createSession(t, r)
	base := "/api/sessions/" + id

	w := do(t, r, http.MethodPost, base+"/github?wait=true", map[string]string{"url": "https://github.com/octo/demo"})
	if w.Code != http.StatusOK {
		t.Fatalf("github load: %d %s", w.Code, w.Body)
	}
	if s := decode[state](t, w); s.Phase != "Ready" || s.ActivePath != "octo-demo-1a2b3c/Cargo.toml" {
		t.Errorf("snapshot state = %s %q", s.Phase, s.ActivePath)
	}
	if w := do(t, r, http.MethodPost, base+"/activate", map[string]string{"path": "octo-demo-1a2b3c/README.md"}); w.Code != http.StatusOK {
		t.Errorf("activate snapshot file: %d %s", w.Code, w.Body)
	}

	if w := do(t, r, http.MethodPost, base+"/github", map[string]string{"url": "https://example.com/x"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid url: %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, base+"/github", map[string]string{"url": "https://github.com/octo/missing"}); w.Code != http.StatusNotFound {
		t.Errorf("missing repo: %d", w.Code)
	}
}
