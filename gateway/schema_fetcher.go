package gateway

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
)

// serviceSDLQuery is the federation service query every subgraph must answer.
const serviceSDLQuery = `{"query": "{ _service { sdl } }"}`

const sdlFetchTries = 4

// serviceSDLResponse is a subgraph's answer to { _service { sdl } }.
type serviceSDLResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
}

// FetchSDL asks the subgraph at url for its schema by POSTing the federation
// service query. Transport failures and 5xx answers are retried with
// exponential backoff; a well formed answer without an SDL is not, because a
// service that does not implement the service field never will.
func FetchSDL(ctx context.Context, client *http.Client, url string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}

	sdl, err := backoff.Retry(ctx, func() (string, error) {
		return fetchSDLOnce(ctx, client, url)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(sdlFetchTries),
	)
	if err != nil {
		return "", fmt.Errorf("fetch SDL from %s: %w", url, err)
	}
	return sdl, nil
}

func fetchSDLOnce(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(serviceSDLQuery)))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return "", backoff.Permanent(err)
		}
		return "", err
	}

	var body serviceSDLResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode service response: %w", err)
	}
	if body.Data.Service.SDL == "" {
		return "", backoff.Permanent(fmt.Errorf("subgraph returned no SDL"))
	}
	return body.Data.Service.SDL, nil
}
