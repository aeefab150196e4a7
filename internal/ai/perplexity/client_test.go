package perplexity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"designscore-backend/internal/ai"
)

func TestScoreReturnsContentAndCitations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("authorization header = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "Here is the score: {\"totalScore\": 66}"}}],
			"citations": ["https://example.com/typography"]
		}`)
	}))
	defer srv.Close()

	client := NewClientForTest(srv.URL, srv.Client())
	result, err := client.Score(context.Background(), ai.ScoreInput{Query: "score this design"})
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if result.Text != `Here is the score: {"totalScore": 66}` {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Citations) != 1 || result.Citations[0] != "https://example.com/typography" {
		t.Fatalf("citations = %#v", result.Citations)
	}
}

func TestScoreClassifiesHTTPStatuses(t *testing.T) {
	cases := []struct {
		status int
		code   string
	}{
		{http.StatusUnauthorized, ai.ErrCodeInvalidCredential},
		{http.StatusForbidden, ai.ErrCodeInvalidCredential},
		{http.StatusTooManyRequests, ai.ErrCodeQuotaExceeded},
		{http.StatusPaymentRequired, ai.ErrCodeQuotaExceeded},
		{http.StatusBadRequest, ai.ErrCodeMalformedQuery},
		{http.StatusUnprocessableEntity, ai.ErrCodeMalformedQuery},
		{http.StatusInternalServerError, ai.ErrCodeConnection},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		client := NewClientForTest(srv.URL, srv.Client())
		_, err := client.Score(context.Background(), ai.ScoreInput{Query: "q"})
		srv.Close()

		var provErr *ai.ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("status %d: expected ProviderError, got %v", tc.status, err)
		}
		if provErr.Code != tc.code {
			t.Errorf("status %d: code = %q, want %q", tc.status, provErr.Code, tc.code)
		}
	}
}

func TestScoreClassifiesEmbeddedErrorCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"error": {"message": "rate limited", "type": "rate_limit", "code": 429}}`)
	}))
	defer srv.Close()

	client := NewClientForTest(srv.URL, srv.Client())
	_, err := client.Score(context.Background(), ai.ScoreInput{Query: "q"})

	var provErr *ai.ProviderError
	if !errors.As(err, &provErr) || provErr.Code != ai.ErrCodeQuotaExceeded {
		t.Fatalf("expected quota_exceeded, got %v", err)
	}
}

func TestScoreTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewClientForTest(srv.URL, http.DefaultClient)
	_, err := client.Score(context.Background(), ai.ScoreInput{Query: "q"})

	var provErr *ai.ProviderError
	if !errors.As(err, &provErr) || provErr.Code != ai.ErrCodeConnection {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestScoreEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer srv.Close()

	client := NewClientForTest(srv.URL, srv.Client())
	if _, err := client.Score(context.Background(), ai.ScoreInput{Query: "q"}); err == nil {
		t.Fatal("expected an error for empty choices")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient("", "sonar"); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := NewClient("key", " "); err == nil {
		t.Fatal("expected missing model error")
	}
}
