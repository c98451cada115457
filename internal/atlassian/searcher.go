package atlassian

import (
	"context"
	"fmt"
	"sync"

	"github.com/atlathelper/internal/token"
)

// SiteBoundSearcher resolves the Confluence site lazily before searching.
// Documentation search uses the first accessible site; unlike issue work
// it does not pause the conversation to ask.
type SiteBoundSearcher struct {
	cred token.Credential
	opts []Option

	mu     sync.Mutex
	client *Client
}

// NewSiteBoundSearcher returns a searcher that binds to the credential's
// first accessible site on first use.
func NewSiteBoundSearcher(cred token.Credential, opts ...Option) *SiteBoundSearcher {
	return &SiteBoundSearcher{cred: cred, opts: opts}
}

func (s *SiteBoundSearcher) SearchDocs(ctx context.Context, query string, limit int) ([]DocResult, error) {
	client, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return client.SearchDocs(ctx, query, limit)
}

func (s *SiteBoundSearcher) resolve(ctx context.Context) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	unscoped := NewClient(s.cred, s.opts...)
	sites, err := unscoped.ListSites(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve Confluence site: %w", err)
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("no Atlassian sites available")
	}

	opts := append(append([]Option(nil), s.opts...), WithCloudID(sites[0].ID))
	s.client = NewClient(s.cred, opts...)
	return s.client, nil
}
