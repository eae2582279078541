// Package search provides full-text search over delivered messages using Bleve.
package search

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/amaydixit11/causalchat/internal/core"
	"github.com/amaydixit11/causalchat/internal/engine"
	"github.com/amaydixit11/causalchat/internal/metrics"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/rs/zerolog"
)

// Index wraps an in-memory Bleve index of each receiver's delivered history
type Index struct {
	index bleve.Index
	mu    sync.Mutex
	count uint64
	docs  map[string][]string // session -> document ids
}

// Document represents a searchable delivered message
type Document struct {
	Session   string  `json:"session"`
	Receiver  float64 `json:"receiver"`
	Sender    float64 `json:"sender"`
	MessageID float64 `json:"message_id"`
	Payload   string  `json:"payload"`
}

// NewMemoryIndex creates an empty in-memory index
func NewMemoryIndex() (*Index, error) {
	mapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Payload - full text searchable
	payloadField := bleve.NewTextFieldMapping()
	payloadField.Analyzer = "standard"
	docMapping.AddFieldMappingsAt("payload", payloadField)

	// Session - exact match only
	sessionField := bleve.NewTextFieldMapping()
	sessionField.Analyzer = "keyword"
	docMapping.AddFieldMappingsAt("session", sessionField)

	for _, name := range []string{"receiver", "sender", "message_id"} {
		docMapping.AddFieldMappingsAt(name, bleve.NewNumericFieldMapping())
	}

	mapping.DefaultMapping = docMapping

	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &Index{index: idx, docs: make(map[string][]string)}, nil
}

// docID encodes session, receiver and message id
func docID(session string, receiver int, id uint64) string {
	return session + "/" + strconv.Itoa(receiver) + "/" + strconv.FormatUint(id, 10)
}

// IndexMessage records that msg was delivered at receiver
func (i *Index) IndexMessage(receiver int, msg core.Message) error {
	doc := Document{
		Session:   msg.SessionID.String(),
		Receiver:  float64(receiver),
		Sender:    float64(msg.SenderID),
		MessageID: float64(msg.ID),
		Payload:   msg.Payload,
	}
	id := docID(doc.Session, receiver, msg.ID)
	if err := i.index.Index(id, doc); err != nil {
		return err
	}
	i.mu.Lock()
	i.count++
	i.docs[doc.Session] = append(i.docs[doc.Session], id)
	i.mu.Unlock()
	metrics.IndexedDocuments.Inc()
	return nil
}

// Indexed returns the number of documents added so far
func (i *Index) Indexed() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.count
}

// FollowOptions subscribes to the events Follow consumes
func FollowOptions() engine.SubscriptionOptions {
	return engine.SubscriptionOptions{
		Events:     []engine.EventType{engine.EventDelivered, engine.EventReset},
		BufferSize: 1024,
	}
}

// Follow indexes every delivered event from sub until the subscription is
// closed, and drops earlier sessions when a reset arrives. Run it in its own
// goroutine.
func (i *Index) Follow(sub engine.Subscription, logger zerolog.Logger) {
	var dropped uint64
	for ev := range sub.Events() {
		if n := sub.Dropped(); n > dropped {
			logger.Warn().
				Uint64("dropped", n-dropped).
				Msg("search index fell behind, deliveries were not indexed")
			dropped = n
		}

		switch ev.Type {
		case engine.EventReset:
			removed, err := i.DropOtherSessions(ev.SessionID.String())
			if err != nil {
				logger.Warn().Err(err).Str("session", ev.SessionID.String()).Msg("failed to drop old sessions")
				continue
			}
			logger.Debug().Int("removed", removed).Msg("dropped old sessions from index")

		case engine.EventDelivered:
			if ev.Message == nil {
				continue
			}
			if err := i.IndexMessage(ev.ProcessID, *ev.Message); err != nil {
				logger.Warn().Err(err).
					Int("receiver", ev.ProcessID).
					Uint64("message_id", ev.Message.ID).
					Msg("failed to index message")
			}
		}
	}
}

// DropOtherSessions deletes every document not belonging to keep and returns
// how many were removed
func (i *Index) DropOtherSessions(keep string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.index.NewBatch()
	var stale []string
	for session, ids := range i.docs {
		if session == keep {
			continue
		}
		for _, id := range ids {
			batch.Delete(id)
		}
		stale = append(stale, session)
	}
	removed := batch.Size()
	if removed == 0 {
		return 0, nil
	}
	if err := i.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	for _, session := range stale {
		delete(i.docs, session)
	}
	metrics.IndexedDocuments.Sub(float64(removed))
	return removed, nil
}

// DocCount returns the number of documents currently in the index
func (i *Index) DocCount() (uint64, error) {
	return i.index.DocCount()
}

// SearchOptions configures a search query
type SearchOptions struct {
	Session  string // Restrict to one session (empty = all)
	Receiver *int   // Restrict to one receiver's history
	Sender   *int   // Restrict to one sender
	Limit    int    // Max results (default 50)
}

// SearchResult represents a search hit
type SearchResult struct {
	Session   string  `json:"session"`
	Receiver  int     `json:"receiver"`
	MessageID uint64  `json:"message_id"`
	Score     float64 `json:"score"`
}

// Search performs a full-text search over payloads
func (i *Index) Search(text string, opts SearchOptions) ([]SearchResult, error) {
	match := bleve.NewMatchQuery(text)
	match.SetField("payload")

	queries := []query.Query{match}
	if opts.Session != "" {
		q := bleve.NewTermQuery(opts.Session)
		q.SetField("session")
		queries = append(queries, q)
	}
	if opts.Receiver != nil {
		queries = append(queries, exactNumber("receiver", *opts.Receiver))
	}
	if opts.Sender != nil {
		queries = append(queries, exactNumber("sender", *opts.Sender))
	}

	searchReq := bleve.NewSearchRequest(bleve.NewConjunctionQuery(queries...))
	searchReq.Size = opts.Limit
	if searchReq.Size <= 0 {
		searchReq.Size = 50
	}

	searchRes, err := i.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(searchRes.Hits))
	for _, hit := range searchRes.Hits {
		res, ok := parseDocID(hit.ID)
		if !ok {
			continue
		}
		res.Score = hit.Score
		results = append(results, res)
	}
	return results, nil
}

func exactNumber(field string, v int) query.Query {
	f := float64(v)
	inclusive := true
	q := bleve.NewNumericRangeInclusiveQuery(&f, &f, &inclusive, &inclusive)
	q.SetField(field)
	return q
}

func parseDocID(id string) (SearchResult, bool) {
	parts := strings.Split(id, "/")
	if len(parts) != 3 {
		return SearchResult{}, false
	}
	receiver, err := strconv.Atoi(parts[1])
	if err != nil {
		return SearchResult{}, false
	}
	msgID, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return SearchResult{}, false
	}
	return SearchResult{Session: parts[0], Receiver: receiver, MessageID: msgID}, true
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}
