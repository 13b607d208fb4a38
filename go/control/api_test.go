package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/finwire/mtflow/go/ipcfiles"
	"github.com/finwire/mtflow/go/store"
)

type testServer struct {
	*httptest.Server
	plane *ipcfiles.Plane
	repo  *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	var plane, err = ipcfiles.New(t.TempDir())
	require.NoError(t, err)

	var repo = store.NewMemory()
	var router = mux.NewRouter()
	RegisterAPIs(router, plane, repo, 5*time.Second)

	var srv = httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, plane: plane, repo: repo}
}

func (ts *testServer) get(t *testing.T, path string, out interface{}) *http.Response {
	t.Helper()
	var resp, err = http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (ts *testServer) post(t *testing.T, path string) *http.Response {
	t.Helper()
	var resp, err = http.Post(ts.URL+path, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func (ts *testServer) seed(t *testing.T, id, reference string, status store.Status, at time.Time) {
	t.Helper()
	var _, err = ts.repo.Save(context.Background(), &store.ProcessedMessage{
		ID:          id,
		MessageType: "MT103",
		RawMessage:  "raw " + id,
		Status:      status,
		ProcessedAt: at,
		Metadata:    map[string]interface{}{"transactionReference": reference},
	})
	require.NoError(t, err)
}

func TestStatusEndpoint(t *testing.T) {
	var ts = newTestServer(t)

	// Nothing published yet.
	require.Equal(t, http.StatusServiceUnavailable, ts.get(t, "/status", nil).StatusCode)

	require.NoError(t, ts.plane.WriteStatus(ipcfiles.ProcessStatus{
		IsRunning: true, Status: "Running", MessagesProcessed: 3}))

	var s ipcfiles.ProcessStatus
	var resp = ts.get(t, "/status", &s)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, s.IsRunning)
	require.Equal(t, int64(3), s.MessagesProcessed)
}

func TestHealthEndpoint(t *testing.T) {
	var ts = newTestServer(t)
	require.Equal(t, http.StatusServiceUnavailable, ts.get(t, "/health", nil).StatusCode)

	require.NoError(t, ts.plane.WriteStatus(ipcfiles.ProcessStatus{Status: "Running"}))

	var body struct {
		IsHealthy bool   `json:"isHealthy"`
		Status    string `json:"status"`
	}
	require.Equal(t, http.StatusOK, ts.get(t, "/health", &body).StatusCode)
	require.True(t, body.IsHealthy)
	require.Equal(t, "Running", body.Status)
}

func TestLifecycleCommands(t *testing.T) {
	var ts = newTestServer(t)

	for path, want := range map[string]ipcfiles.Command{
		"/start":             ipcfiles.CmdStart,
		"/stop":              ipcfiles.CmdStop,
		"/restart":           ipcfiles.CmdRestart,
		"/test-mode/enable":  ipcfiles.CmdEnableTestMode,
		"/test-mode/disable": ipcfiles.CmdDisableTestMode,
	} {
		require.Equal(t, http.StatusAccepted, ts.post(t, path).StatusCode, path)

		env, err := ts.plane.PollCommand()
		require.NoError(t, err)
		require.NotNil(t, env, path)
		require.Equal(t, want, env.Command)
	}

	// Commands are POST-only.
	require.Equal(t, http.StatusMethodNotAllowed, ts.get(t, "/start", nil).StatusCode)
}

func TestTestModeEndpoint(t *testing.T) {
	var ts = newTestServer(t)
	require.NoError(t, ts.plane.WriteStatus(ipcfiles.ProcessStatus{TestModeEnabled: true}))

	var body struct {
		Enabled     bool      `json:"enabled"`
		RetrievedAt time.Time `json:"retrievedAt"`
	}
	require.Equal(t, http.StatusOK, ts.get(t, "/test-mode", &body).StatusCode)
	require.True(t, body.Enabled)
	require.False(t, body.RetrievedAt.IsZero())
}

type messagePage struct {
	Messages []store.ProcessedMessage `json:"messages"`
	Total    int64                    `json:"total"`
	Skip     int                      `json:"skip"`
	Take     int                      `json:"take"`
}

func TestMessageListingAndPagination(t *testing.T) {
	var ts = newTestServer(t)
	var base = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		var status = store.Processed
		if i%3 == 0 {
			status = store.Failed
		}
		ts.seed(t, fmt.Sprintf("m%02d", i), fmt.Sprintf("REF%02d", i), status,
			base.Add(time.Duration(i)*time.Minute))
	}

	var page messagePage
	require.Equal(t, http.StatusOK, ts.get(t, "/messages", &page).StatusCode)
	require.Len(t, page.Messages, defaultTake)
	require.Equal(t, int64(30), page.Total)
	require.Equal(t, "m29", page.Messages[0].ID) // Newest first.

	// Paging.
	page = messagePage{}
	ts.get(t, "/messages?skip=5&take=3", &page)
	require.Len(t, page.Messages, 3)
	require.Equal(t, "m24", page.Messages[0].ID)
	require.Equal(t, 5, page.Skip)

	// Take is clamped.
	page = messagePage{}
	ts.get(t, "/messages?take=500", &page)
	require.Equal(t, maxTake, page.Take)

	// Status filter.
	page = messagePage{}
	ts.get(t, "/messages?status=Failed", &page)
	require.Equal(t, int64(10), page.Total)
	for _, m := range page.Messages {
		require.Equal(t, store.Failed, m.Status)
	}

	// Date window.
	page = messagePage{}
	ts.get(t, "/messages?fromDate="+base.Add(25*time.Minute).Format(time.RFC3339), &page)
	require.Equal(t, int64(5), page.Total)

	// Bad arguments.
	require.Equal(t, http.StatusBadRequest, ts.get(t, "/messages?take=0", nil).StatusCode)
	require.Equal(t, http.StatusBadRequest, ts.get(t, "/messages?skip=-1", nil).StatusCode)
	require.Equal(t, http.StatusBadRequest, ts.get(t, "/messages?status=Bogus", nil).StatusCode)
	require.Equal(t, http.StatusBadRequest, ts.get(t, "/messages?fromDate=yesterday", nil).StatusCode)
}

func TestMessageByID(t *testing.T) {
	var ts = newTestServer(t)
	ts.seed(t, "msg-1", "REF-1", store.Processed, time.Now())

	var m store.ProcessedMessage
	require.Equal(t, http.StatusOK, ts.get(t, "/messages/msg-1", &m).StatusCode)
	require.Equal(t, "msg-1", m.ID)

	require.Equal(t, http.StatusNotFound, ts.get(t, "/messages/absent", nil).StatusCode)
}

func TestSearchByReference(t *testing.T) {
	var ts = newTestServer(t)
	ts.seed(t, "msg-1", "REF-A", store.Processed, time.Now())
	ts.seed(t, "msg-2", "REF-A", store.Failed, time.Now())
	ts.seed(t, "msg-3", "REF-B", store.Processed, time.Now())

	var body struct {
		Messages []store.ProcessedMessage `json:"messages"`
		Total    int                      `json:"total"`
	}
	require.Equal(t, http.StatusOK,
		ts.get(t, "/messages/search?reference=REF-A", &body).StatusCode)
	require.Equal(t, 2, body.Total)

	require.Equal(t, http.StatusBadRequest,
		ts.get(t, "/messages/search?reference=", nil).StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	var ts = newTestServer(t)
	var resp = ts.get(t, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
