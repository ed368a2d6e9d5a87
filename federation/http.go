package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vinayprograms/agentdir/errors"
)

// SyncPath is the HTTP endpoint peers expose for delta pulls.
const SyncPath = "/federation/sync"

// HTTPPeerConfig tunes the HTTP peer client.
type HTTPPeerConfig struct {
	// Timeout bounds one peer pull. Default 5s.
	Timeout time.Duration

	// Client overrides the default http.Client, mainly for tests.
	Client *http.Client
}

// HTTPPeerClient pulls peer deltas over plain HTTP GET.
type HTTPPeerClient struct {
	client *http.Client
}

// NewHTTPPeerClient builds a peer client.
func NewHTTPPeerClient(cfg HTTPPeerConfig) *HTTPPeerClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPPeerClient{client: client}
}

// Pull fetches one peer's delta since the given cursor. A zero cursor
// asks for the full directory.
func (c *HTTPPeerClient) Pull(ctx context.Context, peerURL string, since time.Time) (SyncPayload, error) {
	endpoint := peerURL + SyncPath
	if !since.IsZero() {
		q := url.Values{}
		q.Set("since", strconv.FormatFloat(float64(since.UnixNano())/1e9, 'f', -1, 64))
		endpoint += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SyncPayload{}, errors.Validation(fmt.Sprintf("bad peer url %q", peerURL), errors.WithCause(err))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SyncPayload{}, errors.New(errors.ErrCodeUnavailable,
			fmt.Sprintf("pull from %s failed", peerURL), errors.WithCause(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SyncPayload{}, errors.New(errors.ErrCodeUnavailable,
			fmt.Sprintf("peer %s returned status %d", peerURL, resp.StatusCode))
	}

	var payload SyncPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return SyncPayload{}, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("peer %s sent malformed payload", peerURL), errors.WithCause(err))
	}
	return payload, nil
}

// SyncHandler serves this node's delta to pulling peers. Mount it at
// SyncPath.
func SyncHandler(s *Synchronizer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var since time.Time
		if raw := r.URL.Query().Get("since"); raw != "" {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				http.Error(w, "invalid since parameter", http.StatusBadRequest)
				return
			}
			sec := int64(f)
			since = time.Unix(sec, int64((f-float64(sec))*1e9)).UTC()
		}

		payload := s.BuildPayload(since)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(payload)
	})
}
