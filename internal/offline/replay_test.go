// ABOUTME: Tests for the REST replayer's verb mapping and error handling.
// ABOUTME: A httptest server records what each action kind turns into on the wire.

package offline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helio-ai/console/internal/auth"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Header http.Header
}

func newReplayServer(t *testing.T, status int) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Body:   string(body),
			Header: r.Header.Clone(),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func testCred() auth.Credential {
	return auth.Credential{Token: "tok-123", TenantID: "acme"}
}

func action(kind ActionKind, resource string, payload string) QueuedAction {
	return QueuedAction{
		ID:       "a1",
		Kind:     kind,
		Resource: resource,
		Payload:  json.RawMessage(payload),
	}
}

func TestRESTReplayer_Create(t *testing.T) {
	srv, requests := newReplayServer(t, http.StatusCreated)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionCreate, "messages", `{"content":"hi"}`))
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	got := (*requests)[0]
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/messages", got.Path)
	assert.JSONEq(t, `{"content":"hi"}`, got.Body)
}

func TestRESTReplayer_UpdateTargetsID(t *testing.T) {
	srv, requests := newReplayServer(t, http.StatusOK)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionUpdate, "conversations", `{"id":"c1","title":"renamed"}`))
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	got := (*requests)[0]
	assert.Equal(t, http.MethodPut, got.Method)
	assert.Equal(t, "/conversations/c1", got.Path)
}

func TestRESTReplayer_Delete(t *testing.T) {
	srv, requests := newReplayServer(t, http.StatusNoContent)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionDelete, "messages", `{"id":"m9"}`))
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	got := (*requests)[0]
	assert.Equal(t, http.MethodDelete, got.Method)
	assert.Equal(t, "/messages/m9", got.Path)
}

func TestRESTReplayer_UpdateWithoutIDTargetsCollection(t *testing.T) {
	srv, requests := newReplayServer(t, http.StatusOK)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionUpdate, "settings", `{"theme":"dark"}`))
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	assert.Equal(t, "/settings", (*requests)[0].Path)
}

func TestRESTReplayer_SendsAuthHeaders(t *testing.T) {
	srv, requests := newReplayServer(t, http.StatusOK)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionCreate, "messages", `{}`))
	require.NoError(t, err)

	require.Len(t, *requests, 1)
	header := (*requests)[0].Header
	assert.Equal(t, "Bearer tok-123", header.Get("Authorization"))
	assert.Equal(t, "acme", header.Get("X-Tenant-ID"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
}

func TestRESTReplayer_ServerErrorIsError(t *testing.T) {
	srv, _ := newReplayServer(t, http.StatusInternalServerError)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionCreate, "messages", `{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestRESTReplayer_UnreachableServerIsError(t *testing.T) {
	srv, _ := newReplayServer(t, http.StatusOK)
	srv.Close()
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionCreate, "messages", `{}`))
	require.Error(t, err)
}

func TestRESTReplayer_InvalidKind(t *testing.T) {
	srv, requests := newReplayServer(t, http.StatusOK)
	r := NewRESTReplayer(srv.URL, testCred())

	err := r.Replay(context.Background(), action(ActionKind("merge"), "messages", `{}`))
	require.Error(t, err)
	assert.Empty(t, *requests)
}
