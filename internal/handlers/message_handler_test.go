package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"beacon-server/internal/auth"
	"beacon-server/internal/db"
	"beacon-server/internal/graph"
	"beacon-server/internal/message"
	"beacon-server/internal/middleware"
	"beacon-server/internal/notify"
	"beacon-server/internal/service"
	"beacon-server/internal/user"
)

type nullPublisher struct{}

func (nullPublisher) Publish(interface{}) error { return nil }

type nullCaller struct{}

func (nullCaller) Call(context.Context, string, interface{}, interface{}) error { return nil }

type env struct {
	mux      *http.ServeMux
	verifier *auth.Verifier
	svc      *service.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()

	conn, err := db.OpenMemory(strings.ReplaceAll(t.Name(), "/", "_"))
	require.NoError(t, err)
	msgs, err := message.NewStore(conn)
	require.NoError(t, err)
	users, err := user.NewStore(conn)
	require.NoError(t, err)

	g, err := graph.NewGraph(nil)
	require.NoError(t, err)
	require.NoError(t, g.AddVertex(graph.VertexServer, "srv"))
	require.NoError(t, g.AddVertex(graph.VertexRole, "member"))
	require.NoError(t, g.AddChannel("general", graph.ChannelText))
	require.NoError(t, g.AddEdge(graph.EdgeContainsRole, "srv", "member"))
	require.NoError(t, g.AddEdge(graph.EdgeContainsChannel, "srv", "general"))
	require.NoError(t, g.AddEdge(graph.EdgeChannelCanSee, "member", "general"))
	require.NoError(t, g.AddEdge(graph.EdgeChannelCanWrite, "member", "general"))

	require.NoError(t, g.AddVertex(graph.VertexUser, "alice"))
	require.NoError(t, g.AddVertex(graph.VertexSubscription, "sub-alice"))
	require.NoError(t, g.AddEdge(graph.EdgeHasSubscription, "alice", "sub-alice"))
	require.NoError(t, g.AddEdge(graph.EdgeMemberOf, "sub-alice", "srv"))
	require.NoError(t, g.AddEdge(graph.EdgeBelongsToRole, "sub-alice", "member"))
	require.NoError(t, users.Save(&user.UserModel{ID: "alice", Username: "Alice", Tag: "alice#1", NotificationsEnabled: true}))

	svc := service.New(msgs, users, g, nullPublisher{}, nullCaller{}, zap.NewNop())
	verifier := auth.NewVerifier("test-secret")
	h := New(svc, zap.NewNop())
	requireAuth := middleware.RequireAuth(verifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/messages/send", requireAuth(h.SendMessageHandler))
	mux.HandleFunc("/messages/edit", requireAuth(h.EditMessageHandler))
	mux.HandleFunc("/messages/delete", requireAuth(h.DeleteMessageHandler))
	mux.HandleFunc("/channels/messages", requireAuth(h.GetChannelMessagesHandler))

	return &env{mux: mux, verifier: verifier, svc: svc}
}

func (e *env) request(t *testing.T, method, target, userID string, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		token, err := e.verifier.IssueToken(userID)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func TestSendMessage(t *testing.T) {
	e := newEnv(t)

	rec := e.request(t, http.MethodPost, "/messages/send", "alice",
		`{"channel_id":"general","content":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var payload notify.MessagePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "general", payload.ChannelID)
	assert.Equal(t, "alice", payload.AuthorID)
	assert.Equal(t, "hello", payload.Content)
}

func TestSendMessageRequiresAuth(t *testing.T) {
	e := newEnv(t)

	rec := e.request(t, http.MethodPost, "/messages/send", "",
		`{"channel_id":"general","content":"hello"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSendMessageErrorMapping(t *testing.T) {
	e := newEnv(t)

	rec := e.request(t, http.MethodPost, "/messages/send", "alice",
		`{"channel_id":"nowhere","content":"hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.request(t, http.MethodPost, "/messages/send", "alice",
		`{"channel_id":"general","content":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.request(t, http.MethodPost, "/messages/send", "alice", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.request(t, http.MethodGet, "/messages/send", "alice", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEditAndDeleteMessage(t *testing.T) {
	e := newEnv(t)

	rec := e.request(t, http.MethodPost, "/messages/send", "alice",
		`{"channel_id":"general","content":"v1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created notify.MessagePayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = e.request(t, http.MethodPut, "/messages/edit", "alice",
		`{"message_id":`+jsonID(created.ID)+`,"content":"v2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.request(t, http.MethodDelete, "/messages/delete?message_id="+jsonID(created.ID), "alice", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.request(t, http.MethodDelete, "/messages/delete?message_id="+jsonID(created.ID), "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "already deleted")

	rec = e.request(t, http.MethodDelete, "/messages/delete?message_id=abc", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetChannelMessages(t *testing.T) {
	e := newEnv(t)

	for _, content := range []string{"one", "two"} {
		rec := e.request(t, http.MethodPost, "/messages/send", "alice",
			`{"channel_id":"general","content":"`+content+`"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := e.request(t, http.MethodGet, "/channels/messages?channel_id=general", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Messages []notify.MessagePayload `json:"messages"`
		Count    int                     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "two", body.Messages[0].Content, "newest first")

	rec = e.request(t, http.MethodGet, "/channels/messages", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func jsonID(id uint) string {
	b, _ := json.Marshal(id)
	return string(b)
}
