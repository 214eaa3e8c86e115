package activity

import (
	"context"

	"github.com/blevesearch/bleve/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// hydrationCacheSize bounds the id -> event cache in front of sqlite.
const hydrationCacheSize = 512

// =============================================================================
// Index
// =============================================================================

// Index is the bleve full-text index over audit events. It is rebuildable
// from the sqlite log, so index failures are never fatal to appends.
type Index struct {
	index bleve.Index
}

// indexDoc is the searchable projection of an event.
type indexDoc struct {
	Type string `json:"type"`
	User string `json:"user"`
	Path string `json:"path"`
	Note string `json:"note"`
}

// OpenIndex opens (or creates) the search index at path. An empty path
// selects an in-memory index, used by tests.
func OpenIndex(path string) (*Index, error) {
	mapping := bleve.NewIndexMapping()

	if path == "" {
		index, err := bleve.NewMemOnly(mapping)
		if err != nil {
			return nil, verrors.E("activity.index", "", verrors.KindInternal, err)
		}
		return &Index{index: index}, nil
	}

	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, mapping)
	}
	if err != nil {
		return nil, verrors.E("activity.index", "", verrors.KindInternal, err)
	}

	return &Index{index: index}, nil
}

// Add indexes one event.
func (i *Index) Add(event *Event) error {
	return i.index.Index(event.ID, indexDoc{
		Type: string(event.Type),
		User: event.User,
		Path: event.Path,
		Note: event.Note,
	})
}

// Search returns matching event ids, best first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}

	req := bleve.NewSearchRequest(bleve.NewQueryStringQuery(query))
	req.Size = limit

	result, err := i.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, verrors.E("activity.search", "", verrors.KindInvalid, err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Close releases the index.
func (i *Index) Close() error {
	return i.index.Close()
}

// =============================================================================
// Store search
// =============================================================================

// Searcher pairs the index with a read-through LRU cache hydrating ids
// back into full events from sqlite.
type Searcher struct {
	store *Store
	index *Index
	cache *lru.Cache[string, *Event]
}

// NewSearcher builds a searcher over the store's index.
func NewSearcher(store *Store, index *Index) (*Searcher, error) {
	cache, err := lru.New[string, *Event](hydrationCacheSize)
	if err != nil {
		return nil, verrors.E("activity.search", "", verrors.KindInternal, err)
	}

	return &Searcher{store: store, index: index, cache: cache}, nil
}

// Search runs a full-text query and hydrates the hits. Events indexed but
// not yet visible in sqlite (or pruned) are silently skipped.
func (s *Searcher) Search(ctx context.Context, query string, limit int) ([]*Event, error) {
	ids, err := s.index.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		event, ok := s.hydrate(ctx, id)
		if !ok {
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

// hydrate resolves an id to an event via the cache, falling back to sqlite.
func (s *Searcher) hydrate(ctx context.Context, id string) (*Event, bool) {
	if event, ok := s.cache.Get(id); ok {
		return event, true
	}

	event, err := s.store.get(ctx, id)
	if err != nil {
		return nil, false
	}

	s.cache.Add(id, event)
	return event, true
}
