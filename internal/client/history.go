package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"pairtalk/internal/conversation"
	"pairtalk/internal/protocol"
)

// HistoryFetcher loads conversation history over HTTP into the local store.
// At most one fetch per conversation is in flight at a time; a duplicate
// request short-circuits instead of queuing. Results are applied to the
// store under the key they were issued for, so a fetch that completes after
// the user switched targets lands in its own conversation rather than
// polluting the active one.
type HistoryFetcher struct {
	baseURL string
	client  *http.Client
	store   *conversation.Store
	log     *slog.Logger

	mu       sync.Mutex
	inflight map[conversation.Key]struct{}
}

func NewHistoryFetcher(baseURL string, store *conversation.Store, log *slog.Logger) *HistoryFetcher {
	return &HistoryFetcher{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		store:    store,
		log:      log,
		inflight: make(map[conversation.Key]struct{}),
	}
}

// Fetch loads the pair's history and replaces the conversation in the store.
// It reports false when a fetch for the same conversation was already in
// flight and this call short-circuited. A failed fetch leaves the
// conversation explicitly empty and logs the failure; it never reaches the
// rendering path as an error.
func (f *HistoryFetcher) Fetch(ctx context.Context, userID, recipientID int) bool {
	key := conversation.KeyFor(userID, recipientID)

	f.mu.Lock()
	if _, busy := f.inflight[key]; busy {
		f.mu.Unlock()
		return false
	}
	f.inflight[key] = struct{}{}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		delete(f.inflight, key)
		f.mu.Unlock()
	}()

	messages, err := f.request(ctx, userID, recipientID)
	if err != nil {
		f.log.Warn("history fetch failed; conversation left empty", "room", key, "error", err)
		f.store.Replace(key, nil)
		return true
	}
	f.store.Replace(key, messages)
	return true
}

func (f *HistoryFetcher) request(ctx context.Context, userID, recipientID int) ([]conversation.Message, error) {
	query := url.Values{
		"userId":      {strconv.Itoa(userID)},
		"recipientId": {strconv.Itoa(recipientID)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/history?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch history: unexpected status %d", resp.StatusCode)
	}

	var body protocol.HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode history response: %w", err)
	}
	return body.Messages, nil
}
