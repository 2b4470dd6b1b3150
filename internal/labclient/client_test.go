package labclient

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"letterlab-backend/internal/compare"
	"letterlab-backend/internal/labsessions"
	"letterlab-backend/internal/retry"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func TestValidateTokenKeepsToken(t *testing.T) {
	var seen []string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.URL.Path+"|"+r.Header.Get("X-Access-Token"))
		switch r.URL.Path {
		case "/lab/validate-token":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "tok-1", body["token"])
			w.Write([]byte(`{"valid":true}`))
		case "/lab/mark-session-completed":
			w.Write([]byte(`{"completed":true}`))
		}
	})

	require.NoError(t, c.ValidateToken(context.Background(), "tok-1"))
	require.NoError(t, c.MarkCompleted(context.Background(), "s1"))
	assert.Equal(t, []string{"/lab/validate-token|", "/lab/mark-session-completed|tok-1"}, seen)
}

func TestValidateTokenRejected(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"invalid_token","message":"Invalid or used token"}}`))
	})

	err := c.ValidateToken(context.Background(), "bad")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Invalid or used token", apiErr.Message)
	assert.False(t, errors.Is(err, ErrTokenInvalidated))
	assert.Empty(t, c.currentToken())
}

func TestTokenFailureUnwraps(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"Token has been invalidated."}`))
	})
	c.SetToken("revoked")

	_, err := c.Session(context.Background(), "s1")
	assert.True(t, errors.Is(err, ErrTokenInvalidated))
	assert.Equal(t, http.StatusUnauthorized, Status(err))
}

func TestAPIErrorClassification(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":"rate_limited","message":"slow down"}}`))
	})

	_, err := c.GenerateControlProfile(context.Background(), "s1")
	require.Error(t, err)
	assert.True(t, retry.Retryable(err))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 3*time.Second, apiErr.RetryAfter())
	assert.Equal(t, "rate_limited", apiErr.Code)
}

func TestInProgressConflictIsRetryable(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"request_in_progress","message":"request in progress"}}`))
	})

	err := c.SaveIteration(context.Background(), IterationRecord{SessionID: "s1", IterationNumber: 1, BulletText: "x"})
	require.Error(t, err)
	assert.True(t, retry.Retryable(err))

	conflict := &APIError{Status: http.StatusConflict, Code: "conflict", Message: "out of order"}
	assert.False(t, retry.Retryable(conflict))
}

func TestClientErrorsAreNotRetryable(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("plain failure"))
	})

	err := c.SaveIteration(context.Background(), IterationRecord{SessionID: "s1", IterationNumber: 1, BulletText: "x"})
	require.Error(t, err)
	assert.False(t, retry.Retryable(err))
	assert.Contains(t, err.Error(), "plain failure")
}

func TestIdempotencyKeyHeader(t *testing.T) {
	var key string
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":1}`))
	})

	rating := 5
	err := c.SaveIteration(context.Background(), IterationRecord{
		SessionID: "s1", BulletIndex: 0, IterationNumber: 1, BulletText: "x", UserRating: &rating, IsFinal: true,
	}, WithIdempotencyKey("iter-s1-0-1"))
	require.NoError(t, err)
	assert.Equal(t, "iter-s1-0-1", key)
}

func TestInitializeDecodesBullets(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/lab/initialize", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"resume_text":"R","job_desc":"J"}`, string(raw))
		w.Write([]byte(`{
			"document_id":"s1",
			"initial_cover_letter":"Dear team",
			"review_all_view_intro":"intro",
			"bullets":{"BSETB_enactive_mastery":[{"index":0,"category":"BSETB_enactive_mastery","text":"Led","rationale":"r"}]}
		}`))
	})

	out, err := c.Initialize(context.Background(), "R", "J")
	require.NoError(t, err)
	assert.Equal(t, "s1", out.SessionID)
	assert.Equal(t, "Dear team", out.InitialCoverLetter)
	require.Len(t, out.Bullets[labsessions.CategoryEnactiveMastery], 1)
	assert.Equal(t, "Led", out.Bullets[labsessions.CategoryEnactiveMastery][0].Text)
}

func TestRegenerateAndFinalFeedback(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/lab/regenerate-bullet":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.EqualValues(t, 2, body["user_rating"])
			w.Write([]byte(`{"bullet":{"text":"new","rationale":"why"}}`))
		case "/lab/submit-final-feedback":
			var body FinalFeedback
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, compare.DraftFinal, body.DraftMapping.Draft1)
			w.Write([]byte(`{"preference":"aligned"}`))
		}
	})

	rating := 2
	got, err := c.RegenerateBullet(context.Background(), RegenerateRequest{SessionID: "s1", Current: CurrentBullet{Text: "old"}, Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, CurrentBullet{Text: "new", Rationale: "why"}, got)

	pref, err := c.SubmitFinalFeedback(context.Background(), FinalFeedback{
		SessionID:    "s1",
		DraftMapping: compare.Mapping{Draft1: compare.DraftFinal, Draft2: compare.DraftInitial},
	})
	require.NoError(t, err)
	assert.Equal(t, compare.PreferenceAligned, pref)
}
