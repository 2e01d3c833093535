package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/core/mocks"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testConfig() *config.Config {
	return &config.Config{
		Mode:   "test",
		Secret: "test-secret",
		Signal: config.SignalConfig{
			ReadLimit:  32768,
			PingPeriod: time.Minute,
			WriteWait:  time.Second,
			SendBuffer: 8,
		},
	}
}

func newHub() *app.Hub {
	return app.NewHub(app.NewRegistry(), app.NewTopicManager(), app.SimplePolicy{}, nil)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzSetsClientToken(t *testing.T) {
	r := SetupRouter(context.Background(), testConfig(), newHub(), nil)
	w := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" {
			found = c.Value != ""
		}
	}
	assert.True(t, found)
}

func TestGetCallFromStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockCallStore(ctrl)
	store.EXPECT().GetCall(gomock.Any(), domain.CallID("c1")).
		Return(&domain.CallRecord{ID: "c1", Initiator: "alice", Status: domain.CallActive}, nil)
	store.EXPECT().GetCall(gomock.Any(), domain.CallID("c2")).
		Return(nil, core.ErrCallNotFound)

	r := SetupRouter(context.Background(), testConfig(), newHub(), store)

	w := get(t, r, "/api/calls/c1")
	require.Equal(t, http.StatusOK, w.Code)
	var rec domain.CallRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, domain.ParticipantID("alice"), rec.Initiator)
	assert.Equal(t, domain.CallActive, rec.Status)

	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/calls/c2").Code)
}

func TestGetCallWithoutHistory(t *testing.T) {
	r := SetupRouter(context.Background(), testConfig(), newHub(), nil)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/calls/c1").Code)
}

func TestMembersEndpoint(t *testing.T) {
	hub := newHub()
	r := SetupRouter(context.Background(), testConfig(), hub, nil)

	w := get(t, r, "/api/calls/c1/members")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	sess := core.NewMemberSession(domain.NewMember("alice", "tok"), nopConn{})
	hub.Registry.BindSession("s1", "c1", sess, func() {})
	require.NoError(t, hub.Join("s1"))

	w = get(t, r, "/api/calls/c1/members")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"participant":"alice"}]`, w.Body.String())

	w = get(t, r, "/api/calls")
	assert.JSONEq(t, `[{"call_id":"c1","member_count":1}]`, w.Body.String())
}

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}
