package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/knadh/koanf/parsers/yaml"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/adapters/http/swagger"
	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/domain/model"
	"github.com/okian/ladder/internal/domain/ranking"
	"github.com/okian/ladder/pkg/logger"
)

func init() {
	_ = logger.Init(logger.WithOutput(io.Discard))
}

type staticStats map[string]any

func (s staticStats) GetStats() map[string]any { return s }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := repository.NewTreapStore(context.Background())
	t.Cleanup(func() { _ = store.Close() })
	engine := ranking.New(store, ranking.WithPageSize(3))
	srv := NewServer(
		WithLeaderboard(engine),
		WithStats(staticStats{"online_users": 0}),
	)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string) (int, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, body
}

func TestScoreRoutes(t *testing.T) {
	Convey("Given a server backed by a real engine", t, func() {
		ts := newTestServer(t)

		Convey("PUT /score/user returns the new rank", func() {
			code, body := do(t, http.MethodPut, ts.URL+"/score/user/u1/10")
			So(code, ShouldEqual, http.StatusOK)
			var got rankResponse
			So(json.Unmarshal(body, &got), ShouldBeNil)
			So(got.Rank, ShouldEqual, 1)

			code, body = do(t, http.MethodPut, ts.URL+"/score/user/u2/20")
			So(code, ShouldEqual, http.StatusOK)
			So(json.Unmarshal(body, &got), ShouldBeNil)
			So(got.Rank, ShouldEqual, 2)
		})

		Convey("A non-integer score is rejected", func() {
			code, body := do(t, http.MethodPut, ts.URL+"/score/user/u1/ten")
			So(code, ShouldEqual, http.StatusBadRequest)
			var got errorResponse
			So(json.Unmarshal(body, &got), ShouldBeNil)
			So(got.Code, ShouldEqual, "bad_request")
		})

		Convey("GET /score/rank/{pageId} pages highest first", func() {
			for i, id := range []string{"a", "b", "c", "d"} {
				code, _ := do(t, http.MethodPut, ts.URL+"/score/user/"+id+"/"+string(rune('1'+i)))
				So(code, ShouldEqual, http.StatusOK)
			}
			code, body := do(t, http.MethodGet, ts.URL+"/score/rank/1")
			So(code, ShouldEqual, http.StatusOK)
			var page []model.LeaderboardEntry
			So(json.Unmarshal(body, &page), ShouldBeNil)
			So(len(page), ShouldEqual, 3)
			So(page[0].UserID, ShouldEqual, "d")
			So(page[2].UserID, ShouldEqual, "b")

			code, body = do(t, http.MethodGet, ts.URL+"/score/rank/2")
			So(code, ShouldEqual, http.StatusOK)
			So(json.Unmarshal(body, &page), ShouldBeNil)
			So(len(page), ShouldEqual, 1)
			So(page[0].UserID, ShouldEqual, "a")

			code, _ = do(t, http.MethodGet, ts.URL+"/score/rank/0")
			So(code, ShouldEqual, http.StatusBadRequest)
			code, _ = do(t, http.MethodGet, ts.URL+"/score/rank/x")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("GET /score/rank/user-self reports rank or 404", func() {
			do(t, http.MethodPut, ts.URL+"/score/user/u1/10")
			code, body := do(t, http.MethodGet, ts.URL+"/score/rank/user-self?userId=u1")
			So(code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(string(body)), ShouldEqual, `{"rank":1}`)

			code, _ = do(t, http.MethodGet, ts.URL+"/score/rank/user-self?userId=ghost")
			So(code, ShouldEqual, http.StatusNotFound)
			code, _ = do(t, http.MethodGet, ts.URL+"/score/rank/user-self")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("GET /score/rank/user/{userId} returns the neighborhood", func() {
			do(t, http.MethodPut, ts.URL+"/score/user/u1/10")
			do(t, http.MethodPut, ts.URL+"/score/user/u2/20")
			code, body := do(t, http.MethodGet, ts.URL+"/score/rank/user/u1")
			So(code, ShouldEqual, http.StatusOK)
			var near []model.LeaderboardEntry
			So(json.Unmarshal(body, &near), ShouldBeNil)
			So(len(near), ShouldEqual, 2)
			So(near[0].UserID, ShouldEqual, "u2")

			code, body = do(t, http.MethodGet, ts.URL+"/score/rank/user/ghost")
			So(code, ShouldEqual, http.StatusOK)
			So(strings.TrimSpace(string(body)), ShouldEqual, "[]")

			code, _ = do(t, http.MethodGet, ts.URL+"/score/rank/user/%20%20")
			So(code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Blank user ids are rejected on every user route", func() {
			code, _ := do(t, http.MethodPut, ts.URL+"/score/user/%20/10")
			So(code, ShouldEqual, http.StatusBadRequest)
			code, _ = do(t, http.MethodGet, ts.URL+"/score/rank/user-self?userId=%20")
			So(code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given a server", t, func() {
		ts := newTestServer(t)

		Convey("Health reports liveness", func() {
			code, body := do(t, http.MethodGet, ts.URL+"/health/health")
			So(code, ShouldEqual, http.StatusOK)
			So(string(body), ShouldStartWith, "Alive at ")
		})

		Convey("Metrics are exposed", func() {
			do(t, http.MethodGet, ts.URL+"/health/health")
			code, body := do(t, http.MethodGet, ts.URL+"/metrics")
			So(code, ShouldEqual, http.StatusOK)
			So(string(body), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Stats come from the provider", func() {
			code, body := do(t, http.MethodGet, ts.URL+"/stats")
			So(code, ShouldEqual, http.StatusOK)
			So(string(body), ShouldContainSubstring, "online_users")
		})

		Convey("Unknown routes are 404 with an error body", func() {
			code, body := do(t, http.MethodGet, ts.URL+"/nope")
			So(code, ShouldEqual, http.StatusNotFound)
			So(string(body), ShouldContainSubstring, "not_found")
		})
	})
}

func TestWrap(t *testing.T) {
	Convey("Wrap classifies ranking errors", t, func() {
		cases := []struct {
			in     error
			status int
		}{
			{ranking.ErrInvalidInput, http.StatusBadRequest},
			{ranking.ErrNotFound, http.StatusNotFound},
			{ranking.ErrUnavailable, http.StatusServiceUnavailable},
			{io.EOF, http.StatusInternalServerError},
		}
		for _, c := range cases {
			status, _ := statusOf(Wrap("op", c.in))
			So(status, ShouldEqual, c.status)
		}
	})
}

func TestRoutesAreDocumented(t *testing.T) {
	Convey("Every route of a full server appears in the OpenAPI document", t, func() {
		store := repository.NewTreapStore(context.Background())
		defer func() { _ = store.Close() }()
		srv := NewServer(
			WithLeaderboard(ranking.New(store)),
			WithStats(staticStats{}),
			WithWebsocket(http.NotFoundHandler()),
		)
		router, ok := srv.Router().(*mux.Router)
		So(ok, ShouldBeTrue)

		doc, err := yaml.Parser().Unmarshal(swagger.OpenAPI)
		So(err, ShouldBeNil)
		paths, ok := doc["paths"].(map[string]any)
		So(ok, ShouldBeTrue)

		var templates []string
		err = router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
			tpl, err := route.GetPathTemplate()
			if err != nil {
				return err
			}
			templates = append(templates, tpl)
			return nil
		})
		So(err, ShouldBeNil)
		So(len(templates), ShouldBeGreaterThan, 0)
		for _, tpl := range templates {
			if tpl == "/api-docs" || tpl == "/openapi.yaml" {
				continue
			}
			So(paths, ShouldContainKey, tpl)
		}
	})
}
