package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("remote-secret"))
	require.NoError(t, err)
	return s
}

func newServer(t *testing.T, roles any) (*httptest.Server, *[]string) {
	t.Helper()
	var pushed []string
	access := token(t, jwt.MapClaims{"sub": "u-1", "preferred_username": "tech", "roles": roles})
	mux := http.NewServeMux()
	mux.HandleFunc("/connect/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		if r.PostForm.Get("password") != "pw" {
			http.Error(w, "bad credentials", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"access_token": access})
	})
	mux.HandleFunc("/changelogs/Task", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "1704067200000", r.URL.Query().Get("since"))
		w.Write([]byte(`[{"id":"t1"},{"id":"t2"}]`))
	})
	mux.HandleFunc("/changes/Task", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		pushed = append(pushed, string(b))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/files/f1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		w.Write([]byte("%PDF"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pushed
}

func TestClientRoundTrip(t *testing.T) {
	srv, pushed := newServer(t, []any{"fieldReportManager", "viewer"})
	c := New(srv.URL)
	c.RequiredRole = "fieldReportManager"
	ctx := context.Background()

	id, err := c.Login(ctx, "tech", "pw")
	require.NoError(t, err)
	assert.Equal(t, "u-1", id.Subject)
	assert.Equal(t, "tech", id.Username)
	assert.True(t, id.HasRole("viewer"))

	recs, err := c.EntitiesChangedSince(ctx, "Task", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.JSONEq(t, `{"id":"t2"}`, string(recs[1]))

	require.NoError(t, c.PushChange(ctx, "Task", json.RawMessage(`{"id":"t1"}`)))
	assert.Equal(t, []string{`{"id":"t1"}`}, *pushed)

	f, err := c.FetchFile(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", f.Name)
	assert.Equal(t, "application/pdf", f.ContentType)
	assert.Equal(t, "%PDF", string(f.Data))
}

func TestLoginSingleRoleString(t *testing.T) {
	srv, _ := newServer(t, "fieldReportManager")
	c := New(srv.URL)
	c.RequiredRole = "fieldReportManager"
	id, err := c.Login(context.Background(), "tech", "pw")
	require.NoError(t, err)
	assert.Equal(t, []string{"fieldReportManager"}, id.Roles)
}

func TestLoginRejectsMissingRole(t *testing.T) {
	srv, _ := newServer(t, []any{"viewer"})
	c := New(srv.URL)
	c.RequiredRole = "fieldReportManager"
	_, err := c.Login(context.Background(), "tech", "pw")
	assert.ErrorIs(t, err, ErrRoleDenied)
	assert.Empty(t, c.BearerToken)
}

func TestAPIError(t *testing.T) {
	srv, _ := newServer(t, "x")
	c := New(srv.URL)
	_, err := c.Login(context.Background(), "tech", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = c.EntitiesChangedSince(context.Background(), "Task", time.Unix(0, 0))
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
