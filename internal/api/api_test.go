package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"storypool/internal/admin"
	"storypool/internal/config"
	"storypool/internal/graph"
	"storypool/internal/notify"
	"storypool/internal/scheduler"
	"storypool/internal/store"
	"storypool/internal/store/sqlite"
)

type fakeSpawner struct {
	db *sqlite.Client
}

func (f *fakeSpawner) Spawn(ctx context.Context, rt config.RuntimeConfig, force bool) (*store.Story, error) {
	s := &store.Story{Title: "spawned", Premise: "premise"}
	if err := f.db.CreateStory(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

type fakeChapters struct{}

func (fakeChapters) GenerateNow(ctx context.Context, storyID int64, rt config.RuntimeConfig) (*scheduler.Outcome, error) {
	return &scheduler.Outcome{Chapter: &store.Chapter{StoryID: storyID, ChapterNumber: 1}}, nil
}

type fixture struct {
	db  *sqlite.Client
	hub *notify.Hub
	srv *Server
}

func newFixture(t *testing.T, cfg config.ServerConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.New(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))
	t.Cleanup(func() { _ = db.Close(ctx) })

	hub := notify.NewHub(nil)
	svc := admin.New(admin.Deps{
		Store:     db,
		Pool:      &fakeSpawner{db: db},
		Chapters:  fakeChapters{},
		Entities:  graph.New(db, nil, nil),
		Runtime:   config.NewSource(config.NewLive(config.DefaultRuntime()), db),
		Publisher: hub,
	})
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "storypool_test_total", Help: "test"}))
	return &fixture{db: db, hub: hub, srv: NewServer(svc, hub, reg, cfg, nil)}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) story(t *testing.T) store.Story {
	t.Helper()
	s := &store.Story{Title: "story", Premise: "premise"}
	require.NoError(t, f.db.CreateStory(context.Background(), s))
	return *s
}

func defaultServer() config.ServerConfig {
	return config.Default().Server
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestStoryRoutes(t *testing.T) {
	f := newFixture(t, defaultServer())
	s := f.story(t)
	path := "/api/stories/" + strconv.FormatInt(s.ID, 10)

	rec := f.do(t, http.MethodGet, "/api/stories?status=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeBody(t, rec)["stories"], 1)

	rec = f.do(t, http.MethodGet, "/api/stories?status=paused", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "story", decodeBody(t, rec)["story"].(map[string]any)["title"])

	rec = f.do(t, http.MethodGet, "/api/stories/abc", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/stories/999", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "not found")

	rec = f.do(t, http.MethodPost, path+"/chapters", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, path+"/kill", `{"reason": "enough"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "killed", body["status"])
	require.Equal(t, "enough", body["completion_reason"])

	rec = f.do(t, http.MethodPost, path+"/kill", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, path, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSpawnAndReset(t *testing.T) {
	f := newFixture(t, defaultServer())

	rec := f.do(t, http.MethodPost, "/api/stories", `{"force": true}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "spawned", decodeBody(t, rec)["title"])

	rec = f.do(t, http.MethodPost, "/api/stories", `{"force": `)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decodeBody(t, rec)["deleted_stories"])

	rec = f.do(t, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 0, decodeBody(t, rec)["active_stories"])
}

func TestConfigRoutes(t *testing.T) {
	f := newFixture(t, defaultServer())

	rec := f.do(t, http.MethodPatch, "/api/config", `{"quality_score_min": 0.8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0.8, decodeBody(t, rec)["quality_score_min"])

	rec = f.do(t, http.MethodPatch, "/api/config", `{"min_active_stories": 9, "max_active_stories": 1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, "/api/config", `{"max_actve_stories": 1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "max_actve_stories")

	rec = f.do(t, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, 0.8, body["quality_score_min"])
	require.EqualValues(t, config.DefaultRuntime().MaxActiveStories, body["max_active_stories"])
}

func TestEntityRoutes(t *testing.T) {
	f := newFixture(t, defaultServer())

	rec := f.do(t, http.MethodPost, "/api/entities/merge", `{"source": "Captain", "target": "Tom"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, decodeBody(t, rec)["merged"])

	rec = f.do(t, http.MethodPost, "/api/entities/merge", `{"source": "Captain"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/entities/suppress", `{"name": "Lighthouse"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/entities?limit=x", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/entities", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, config.ServerConfig{RequestsPerSecond: 0.001, Burst: 1})

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/stats", "").Code)
	require.Equal(t, http.StatusTooManyRequests, f.do(t, http.MethodGet, "/api/stats", "").Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestMetrics(t *testing.T) {
	f := newFixture(t, defaultServer())

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "storypool_test_total")
}

func TestEvents(t *testing.T) {
	f := newFixture(t, defaultServer())
	ts := httptest.NewServer(f.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)
	f.hub.Publish(notify.NewStory, map[string]any{"story_id": 1, "title": "t"})

	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	require.True(t, strings.HasPrefix(lines[0], "id: "))
	require.Equal(t, "event: new_story", lines[1])

	var ev notify.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "data: ")), &ev))
	require.Equal(t, notify.NewStory, ev.Type)
	require.Equal(t, "t", ev.Payload["title"])
}
