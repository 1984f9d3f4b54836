package statement

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeSendNowEnqueuer struct {
	calls []string
	err   error
}

func (f *fakeSendNowEnqueuer) EnqueueSendNow(_ context.Context, clientID int64, period string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, period)
	return "task-1", nil
}

func newHandlerRouter(t *testing.T) (*fixture, *fakeSendNowEnqueuer, http.Handler) {
	t.Helper()
	f := newFixture(t, deliverable(1))
	enq := &fakeSendNowEnqueuer{}
	r := chi.NewRouter()
	NewHandler(nil, f.sched, enq).MountRoutes(r)
	return f, enq, r
}

func TestHandlerListHistory(t *testing.T) {
	f, _, router := newHandlerRouter(t)
	_, err := f.sched.SendScheduled(context.Background(), 1, march)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients/1/statements?limit=5", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ClientID int64      `json:"clientId"`
		Items    []Delivery `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, int64(1), body.ClientID)
	require.Len(t, body.Items, 1)
	require.Equal(t, StatusSent, body.Items[0].Status)
	require.Equal(t, "2024-03", body.Items[0].Period)
}

func TestHandlerListEmptyAndErrors(t *testing.T) {
	_, _, router := newHandlerRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients/1/statements", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"clientId":1,"items":[]}`, rec.Body.String())

	for path, want := range map[string]int{
		"/clients/2/statements":         http.StatusNotFound,
		"/clients/1/statements?limit=0": http.StatusBadRequest,
		"/clients/x/statements":         http.StatusBadRequest,
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, want, rec.Code, path)
	}
}

func TestHandlerSendNowEnqueues(t *testing.T) {
	_, enq, router := newHandlerRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients/1/statements/send", strings.NewReader(`{"period":"2024-02"}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"clientId":1,"period":"2024-02","taskId":"task-1"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients/1/statements/send", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"2024-02", "2024-03"}, enq.calls)
}

func TestHandlerSendNowRejects(t *testing.T) {
	_, enq, router := newHandlerRouter(t)
	cases := map[string]struct {
		path string
		body string
		want int
	}{
		"bad period":     {"/clients/1/statements/send", `{"period":"March"}`, http.StatusBadRequest},
		"unknown field":  {"/clients/1/statements/send", `{"when":"now"}`, http.StatusBadRequest},
		"unknown client": {"/clients/5/statements/send", `{}`, http.StatusNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body)))
			require.Equal(t, tc.want, rec.Code)
		})
	}
	require.Empty(t, enq.calls)

	enq.err = errors.New("redis down")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/clients/1/statements/send", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
