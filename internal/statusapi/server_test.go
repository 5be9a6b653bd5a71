package statusapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Pikol/internal/availability"
	"Pikol/internal/session"
	"Pikol/internal/statusapi"
	"Pikol/internal/transcript"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inferenceStub struct{ model, version string }

func (i inferenceStub) Model() string         { return i.model }
func (i inferenceStub) ServerVersion() string { return i.version }

type stateStub availability.State

func (s stateStub) State() availability.State { return availability.State(s) }

type sessionsStub []session.Info

func (s sessionsStub) Snapshot() []session.Info { return s }

type transcriptsStub struct {
	records   []transcript.Record
	err       error
	gotLimit  int
	gotChanID string
}

func (t *transcriptsStub) Load(_ context.Context, sessionID string) (transcript.Record, error) {
	if t.err != nil {
		return transcript.Record{}, t.err
	}
	for _, rec := range t.records {
		if rec.SessionID == sessionID {
			return rec, nil
		}
	}
	return transcript.Record{}, transcript.ErrNotFound
}

func (t *transcriptsStub) Recent(_ context.Context, channelID string, limit int) ([]transcript.Record, error) {
	t.gotChanID = channelID
	t.gotLimit = limit
	return t.records, t.err
}

func get(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthz(t *testing.T) {
	srv := statusapi.New("", inferenceStub{model: "llama3.2:1b"}, stateStub(availability.StateUnknown), sessionsStub{}, nil, nil)
	code, body := get(t, srv.Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sessions := sessionsStub{{ID: "s1", ChannelID: "c1", StartedAt: now, LastActivity: now, Turns: 4}}
	srv := statusapi.New("", inferenceStub{model: "llama3.2:1b", version: "0.5.7"}, stateStub(availability.StateAvailable), sessions, nil, nil)

	code, body := get(t, srv.Handler(), "/status")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["active_sessions"])

	inference := body["inference"].(map[string]any)
	assert.Equal(t, "available", inference["state"])
	assert.Equal(t, "llama3.2:1b", inference["model"])
	assert.Equal(t, "0.5.7", inference["server_version"])

	list := body["sessions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "c1", list[0].(map[string]any)["channel_id"])
}

func TestTranscripts(t *testing.T) {
	stub := &transcriptsStub{records: []transcript.Record{{SessionID: "s1", ChannelID: "c1", Reason: "expired"}}}
	srv := statusapi.New("", inferenceStub{model: "m"}, stateStub(availability.StateAvailable), sessionsStub{}, stub, nil)

	code, body := get(t, srv.Handler(), "/transcripts/c1?limit=5")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "c1", stub.gotChanID)
	assert.Equal(t, 5, stub.gotLimit)
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "expired", data[0].(map[string]any)["reason"])

	code, _ = get(t, srv.Handler(), "/transcripts/c1?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)

	stub.err = errors.New("disk full")
	code, _ = get(t, srv.Handler(), "/transcripts/c1")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, 10, stub.gotLimit)
}

func TestTranscripts_Disabled(t *testing.T) {
	srv := statusapi.New("", inferenceStub{model: "m"}, stateStub(availability.StateAvailable), sessionsStub{}, nil, nil)
	code, _ := get(t, srv.Handler(), "/transcripts/c1")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestTranscript_ByID(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stub := &transcriptsStub{records: []transcript.Record{{
		SessionID: "s1",
		ChannelID: "c1",
		Reason:    "ended",
		Turns: []session.Turn{
			{Role: session.RoleUser, Text: "hi", Speaker: "Simon", At: at},
			{Role: session.RoleAssistant, Text: "*purrs*", At: at},
		},
	}}}
	srv := statusapi.New("", inferenceStub{model: "m"}, stateStub(availability.StateAvailable), sessionsStub{}, stub, nil)

	code, body := get(t, srv.Handler(), "/transcripts/c1/s1")
	assert.Equal(t, http.StatusOK, code)
	data := body["data"].(map[string]any)
	assert.Equal(t, "s1", data["session_id"])
	turns := data["turns"].([]any)
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].(map[string]any)["text"])
	assert.Equal(t, "*purrs*", turns[1].(map[string]any)["text"])

	code, _ = get(t, srv.Handler(), "/transcripts/c2/s1")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = get(t, srv.Handler(), "/transcripts/c1/nope")
	assert.Equal(t, http.StatusNotFound, code)

	stub.err = errors.New("disk full")
	code, _ = get(t, srv.Handler(), "/transcripts/c1/s1")
	assert.Equal(t, http.StatusInternalServerError, code)
}
