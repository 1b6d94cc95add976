package lms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serverReturning(status int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
}

func TestLearnDash_GrantAccessSendsEnrollment(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		assert.Equal(t, "Bearer lms-key", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewLearnDash(LearnDashConfig{BaseURL: srv.URL, APIKey: "lms-key"})
	err := client.GrantAccess(context.Background(), "user-1", "course-1")
	require.NoError(t, err)

	assert.Equal(t, "/enrollments", gotPath)
	assert.Equal(t, map[string]string{"user_id": "user-1", "course_id": "course-1"}, gotBody)
}

func TestLearnDash_ConflictIsIdempotentSuccess(t *testing.T) {
	t.Parallel()
	srv := serverReturning(http.StatusConflict)
	defer srv.Close()

	client := NewLearnDash(LearnDashConfig{BaseURL: srv.URL})
	assert.NoError(t, client.GrantAccess(context.Background(), "user-1", "course-1"))
	assert.NoError(t, client.RevokeAccess(context.Background(), "user-1", "course-1"))
}

func TestLearnDash_ErrorClassification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		status    int
		permanent bool
	}{
		{"server error is transient", http.StatusInternalServerError, false},
		{"throttling is transient", http.StatusTooManyRequests, false},
		{"unknown course is permanent", http.StatusNotFound, true},
		{"bad request is permanent", http.StatusBadRequest, true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := serverReturning(tc.status)
			defer srv.Close()

			client := NewLearnDash(LearnDashConfig{BaseURL: srv.URL})
			err := client.GrantAccess(context.Background(), "user-1", "course-1")
			require.Error(t, err)
			assert.Equal(t, tc.permanent, IsPermanent(err))
		})
	}
}

func TestLearnDash_NetworkFailureIsTransient(t *testing.T) {
	t.Parallel()
	client := NewLearnDash(LearnDashConfig{BaseURL: "http://127.0.0.1:1"})
	err := client.GrantAccess(context.Background(), "user-1", "course-1")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
}
