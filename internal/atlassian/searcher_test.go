package atlassian

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlathelper/internal/token"
)

func TestSiteBoundSearcherResolvesOnce(t *testing.T) {
	listCalls := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/token/accessible-resources":
			listCalls++
			json.NewEncoder(w).Encode([]Site{
				{ID: "first", Name: "First"},
				{ID: "second", Name: "Second"},
			})
		case "/ex/confluence/first/wiki/rest/api/search":
			assert.Equal(t, `text ~ "runbook"`, r.URL.Query().Get("cql"))
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]string{
					{"title": "Runbook", "url": "/wiki/1", "excerpt": "steps"},
				},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer backend.Close()

	s := NewSiteBoundSearcher(token.Credential{AccessToken: "a"}, WithBaseURL(backend.URL))

	for i := 0; i < 2; i++ {
		results, err := s.SearchDocs(context.Background(), "runbook", 5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Runbook", results[0].Title)
	}
	assert.Equal(t, 1, listCalls, "first accessible site is resolved once and reused")
}

func TestSiteBoundSearcherNoSites(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]Site{})
	}))
	defer backend.Close()

	s := NewSiteBoundSearcher(token.Credential{AccessToken: "a"}, WithBaseURL(backend.URL))
	_, err := s.SearchDocs(context.Background(), "runbook", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Atlassian sites")
}
