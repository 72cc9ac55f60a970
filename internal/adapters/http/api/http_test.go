package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/okian/sugang/internal/adapters/http/api"
	repository "github.com/okian/sugang/internal/adapters/repository"
	"github.com/okian/sugang/internal/domain/model"
	"github.com/okian/sugang/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// mockDependencies implements api.Dependencies with canned answers.
type mockDependencies struct {
	session  model.Session
	startErr error

	result     model.AttemptResult
	attemptErr error
	gotLatency *int64
	gotSubject string

	ended  int
	endErr error

	status    model.SessionStatus
	statusErr error

	records   []model.LeaderboardRecord
	topErr    error
	gotMetric model.LeaderboardMetric
	gotLimit  int

	record    model.LeaderboardRecord
	recordErr error

	subjects []model.Subject
}

func (m *mockDependencies) StartSession(_ context.Context, actorID string) (model.Session, error) {
	if m.startErr != nil {
		return model.Session{}, m.startErr
	}
	s := m.session
	s.ActorID = actorID
	return s, nil
}

func (m *mockDependencies) Attempt(_ context.Context, _ string, subjectID string, latencyMs *int64) (model.AttemptResult, error) {
	m.gotSubject = subjectID
	m.gotLatency = latencyMs
	return m.result, m.attemptErr
}

func (m *mockDependencies) EndSession(context.Context, string) (int, error) {
	return m.ended, m.endErr
}

func (m *mockDependencies) Status(context.Context, string) (model.SessionStatus, error) {
	return m.status, m.statusErr
}

func (m *mockDependencies) TopLeaderboard(_ context.Context, metric model.LeaderboardMetric, n int) ([]model.LeaderboardRecord, error) {
	m.gotMetric = metric
	m.gotLimit = n
	if m.topErr != nil {
		return nil, m.topErr
	}
	if n > len(m.records) {
		return m.records, nil
	}
	return m.records[:n], nil
}

func (m *mockDependencies) Leaderboard(_ context.Context, actorID string) (model.LeaderboardRecord, error) {
	if m.recordErr != nil {
		return model.LeaderboardRecord{}, m.recordErr
	}
	rec := m.record
	rec.ActorID = actorID
	return rec, nil
}

func (m *mockDependencies) Subjects(context.Context) ([]model.Subject, error) {
	return m.subjects, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func ptr[T any](v T) *T { return &v }

func newMux(deps *mockDependencies, opts ...api.ServerOption) *http.ServeMux {
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]interface{}{"started": true}}, 50, opts...)
	mux := http.NewServeMux()
	server.Register(context.Background(), mux)
	return mux
}

func do(mux *http.ServeMux, method, path, actor, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if actor != "" {
		req.Header.Set(api.ActorHeader, actor)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func errorCode(w *httptest.ResponseRecorder) string {
	var body struct {
		Code string `json:"code"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.Code
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("Then the health endpoint serves the metrics registry", func() {
			w := do(mux, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then the stats endpoint serves JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			So(w.Body.String(), ShouldContainSubstring, `"started":true`)
		})

		Convey("Then a nil mux panics", func() {
			server := api.NewServer(&mockDependencies{}, &mockStatsProvider{}, 0)
			So(func() { server.Register(context.Background(), nil) }, ShouldPanic)
		})
	})
}

func TestPracticeHandler(t *testing.T) {
	Convey("Given the practice endpoints", t, func() {
		deps := &mockDependencies{
			session: model.Session{SessionID: "s-1", StartTimeMs: 1_000, StartToTargetOffsetMs: 4_000},
		}
		mux := newMux(deps)

		Convey("When starting without an actor header", func() {
			w := do(mux, http.MethodPost, "/practice/start", "", "")

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "bad_request")
			})
		})

		Convey("When starting with an actor id holding reserved characters", func() {
			w := do(mux, http.MethodPost, "/practice/start", "ali:ce", "")

			Convey("Then the input is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_input")
			})
		})

		Convey("When starting a session", func() {
			w := do(mux, http.MethodPost, "/practice/start", "alice", "")

			Convey("Then the session is returned with its target time", func() {
				So(w.Code, ShouldEqual, http.StatusCreated)
				var body map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body["actor_id"], ShouldEqual, "alice")
				So(body["session_id"], ShouldEqual, "s-1")
				So(body["target_time_ms"], ShouldEqual, 5000.0)
			})
		})

		Convey("When the actor lock is held", func() {
			deps.startErr = fmt.Errorf("start: %w", model.ErrActiveSessionExists)
			w := do(mux, http.MethodPost, "/practice/start", "alice", "")

			Convey("Then it conflicts", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(errorCode(w), ShouldEqual, "active_session_exists")
			})
		})

		Convey("When start is called with GET", func() {
			w := do(mux, http.MethodGet, "/practice/start", "alice", "")

			Convey("Then the method is not allowed", func() {
				So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
				So(w.Header().Get("Allow"), ShouldEqual, http.MethodPost)
			})
		})

		Convey("When an attempt carries a latency the server does not accept", func() {
			w := do(mux, http.MethodPost, "/practice/attempts", "alice", `{"subject_id":"CS101","latency_ms":1}`)

			Convey("Then it is rejected before reaching the service", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_input")
				So(deps.gotSubject, ShouldEqual, "")
				So(deps.gotLatency, ShouldBeNil)
			})
		})

		Convey("When an attempt carries an explicit latency", func() {
			mux := newMux(deps, api.WithClientLatency(true))
			deps.result = model.AttemptResult{
				Status: model.StatusAccepted,
				Attempt: model.Attempt{
					SessionID: "s-1", SubjectID: "CS101", Seq: 1, LatencyMs: 120,
					Percentile: 0.25, Rank: 100, Success: false, Competitors: 400, Capacity: 40,
				},
			}
			w := do(mux, http.MethodPost, "/practice/attempts", "alice", `{"subject_id":"CS101","latency_ms":120}`)

			Convey("Then the outcome is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotSubject, ShouldEqual, "CS101")
				So(*deps.gotLatency, ShouldEqual, int64(120))
				var body struct {
					Status  string `json:"status"`
					Attempt struct {
						Rank       int     `json:"rank"`
						Percentile float64 `json:"percentile"`
						Seq        int     `json:"seq"`
					} `json:"attempt"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body.Status, ShouldEqual, "accepted")
				So(body.Attempt.Rank, ShouldEqual, 100)
				So(body.Attempt.Seq, ShouldEqual, 1)
			})
		})

		Convey("When an attempt omits latency", func() {
			deps.result = model.AttemptResult{Status: model.StatusNotOpen, Recorded: true}
			w := do(mux, http.MethodPost, "/practice/attempts", "alice", `{"subject_id":"CS101"}`)

			Convey("Then the server measures it and reports the early click", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotLatency, ShouldBeNil)
				So(w.Body.String(), ShouldContainSubstring, `"status":"not_open"`)
				So(w.Body.String(), ShouldNotContainSubstring, `"attempt"`)
			})
		})

		Convey("When an attempt body is malformed", func() {
			w := do(mux, http.MethodPost, "/practice/attempts", "alice", `{"subject_id":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When an attempt has no subject", func() {
			w := do(mux, http.MethodPost, "/practice/attempts", "alice", `{"latency_ms":10}`)

			Convey("Then the input is rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(errorCode(w), ShouldEqual, "invalid_input")
			})
		})

		Convey("When the subject is unknown", func() {
			deps.attemptErr = fmt.Errorf("lookup: %w", model.ErrSubjectNotFound)
			w := do(mux, http.MethodPost, "/practice/attempts", "alice", `{"subject_id":"NOPE"}`)

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(errorCode(w), ShouldEqual, "subject_not_found")
			})
		})

		Convey("When there is no active session", func() {
			deps.attemptErr = model.ErrNoActiveSession
			deps.endErr = model.ErrNoActiveSession
			deps.statusErr = model.ErrNoActiveSession

			Convey("Then attempt, end and status are not found", func() {
				for _, w := range []*httptest.ResponseRecorder{
					do(mux, http.MethodPost, "/practice/attempts", "alice", `{"subject_id":"CS101"}`),
					do(mux, http.MethodPost, "/practice/end", "alice", ""),
					do(mux, http.MethodGet, "/practice/status", "alice", ""),
				} {
					So(w.Code, ShouldEqual, http.StatusNotFound)
					So(errorCode(w), ShouldEqual, "no_active_session")
				}
			})
		})

		Convey("When a session is ended", func() {
			deps.ended = 3
			w := do(mux, http.MethodPost, "/practice/end", "alice", "")

			Convey("Then the attempt count is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"attempts":3`)
			})
		})

		Convey("When the status is read", func() {
			deps.status = model.SessionStatus{
				Session:      model.Session{ActorID: "alice", SessionID: "s-1"},
				RemainingTTL: 90 * time.Second,
				Attempts:     2,
			}
			w := do(mux, http.MethodGet, "/practice/status", "alice", "")

			Convey("Then the remaining ttl is in milliseconds", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"remaining_ttl_ms":90000`)
				So(w.Body.String(), ShouldContainSubstring, `"session_id":"s-1"`)
			})
		})

		Convey("When an upstream call fails unexpectedly", func() {
			deps.endErr = errors.New("disk on fire")
			w := do(mux, http.MethodPost, "/practice/end", "alice", "")

			Convey("Then it is an internal error without the cause", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(errorCode(w), ShouldEqual, "internal_error")
				So(w.Body.String(), ShouldNotContainSubstring, "disk on fire")
			})
		})
	})
}

func TestLeaderboardHandler(t *testing.T) {
	Convey("Given a leaderboard with records", t, func() {
		deps := &mockDependencies{
			records: []model.LeaderboardRecord{
				{ActorID: "bob", BestFirstLatencyMs: ptr(int64(60))},
				{ActorID: "alice", BestFirstLatencyMs: ptr(int64(70))},
				{ActorID: "carol", BestFirstLatencyMs: ptr(int64(90))},
			},
			record: model.LeaderboardRecord{BestSuccessRatio: ptr(10.0)},
		}
		mux := newMux(deps)

		Convey("When requesting the default listing", func() {
			w := do(mux, http.MethodGet, "/leaderboard", "", "")

			Convey("Then first-attempt latency is used with ranks", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotMetric, ShouldEqual, model.MetricFirstLatency)
				So(deps.gotLimit, ShouldEqual, 10)
				var body []struct {
					Rank    int    `json:"rank"`
					ActorID string `json:"actor_id"`
				}
				So(json.Unmarshal(w.Body.Bytes(), &body), ShouldBeNil)
				So(body, ShouldHaveLength, 3)
				So(body[0].Rank, ShouldEqual, 1)
				So(body[0].ActorID, ShouldEqual, "bob")
			})
		})

		Convey("When requesting the ratio metric with a limit", func() {
			w := do(mux, http.MethodGet, "/leaderboard?metric=ratio&limit=2", "", "")

			Convey("Then both are passed through", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.gotMetric, ShouldEqual, model.MetricSuccessRatio)
				So(deps.gotLimit, ShouldEqual, 2)
			})
		})

		Convey("When the metric is unknown", func() {
			w := do(mux, http.MethodGet, "/leaderboard?metric=speed", "", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the limit is invalid or too large", func() {
			So(do(mux, http.MethodGet, "/leaderboard?limit=zero", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leaderboard?limit=0", "", "").Code, ShouldEqual, http.StatusBadRequest)
			So(do(mux, http.MethodGet, "/leaderboard?limit=51", "", "").Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the store fails", func() {
			deps.topErr = errors.New("boom")
			w := do(mux, http.MethodGet, "/leaderboard", "", "")
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})

		Convey("When requesting one actor's record", func() {
			w := do(mux, http.MethodGet, "/leaderboard/alice", "", "")

			Convey("Then unobserved metrics are null", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"actor_id":"alice"`)
				So(w.Body.String(), ShouldContainSubstring, `"best_first_latency_ms":null`)
				So(w.Body.String(), ShouldContainSubstring, `"best_success_ratio":10`)
			})
		})

		Convey("When the actor has no record", func() {
			deps.recordErr = fmt.Errorf("get: %w", repository.ErrNotFound)
			w := do(mux, http.MethodGet, "/leaderboard/nobody", "", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(errorCode(w), ShouldEqual, "not_found")
		})

		Convey("When the record path is malformed", func() {
			So(do(mux, http.MethodGet, "/leaderboard/a/b", "", "").Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestSubjectsHandler(t *testing.T) {
	Convey("Given a catalog", t, func() {
		deps := &mockDependencies{subjects: []model.Subject{
			{ID: "CS101", Name: "Intro to Programming", Classification: "major", Capacity: 40, Competitors: 400},
		}}
		mux := newMux(deps)

		Convey("When listing subjects", func() {
			w := do(mux, http.MethodGet, "/subjects", "", "")

			Convey("Then the catalog is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"id":"CS101"`)
				So(w.Body.String(), ShouldContainSubstring, `"competitors":400`)
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		cause := errors.New("io")

		Convey("Then kinds and causes are both visible to errors.Is", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: io")
		})

		Convey("Then Wrap keeps the cause's kind", func() {
			err := api.Wrap("api.op", fmt.Errorf("x: %w", model.ErrNoActiveSession))
			So(errors.Is(err, model.ErrNoActiveSession), ShouldBeTrue)
			So(api.Wrap("api.op", nil), ShouldBeNil)
		})

		Convey("Then NewKind carries only the kind", func() {
			err := api.NewKind("api.op", api.ErrNotFound)
			So(errors.Is(err, api.ErrNotFound), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: not found")
		})
	})
}
