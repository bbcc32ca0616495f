// Package spoolman talks to the spool inventory service and normalizes its
// loosely-typed records. The upstream schema is not contractually fixed:
// fields appear, disappear and get renamed between versions, so everything
// here probes raw JSON defensively instead of unmarshalling into structs.
package spoolman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// ErrUpstreamUnreachable means every candidate inventory endpoint failed.
var ErrUpstreamUnreachable = errors.New("inventory service unreachable")

// candidatePaths are tried in order; the first 200 response with a
// recognizable body wins. Ordering is precedence, not a race.
var candidatePaths = []string{
	"/api/v1/spool?allow_archived=false&limit=1000",
	"/api/v1/spools?allow_archived=false&limit=1000",
	"/api/v1/spool/?page_size=1000",
}

// spoolHintKeys identify a JSON object as a spool record wherever it sits in
// the response payload.
var spoolHintKeys = []string{
	"remaining_weight",
	"remaining_weight_g",
	"remaining_length",
	"archived",
	"filament",
	"filament_id",
	"filamentId",
	"purchase_price",
	"spool_price",
	"cost",
	"cost_eur",
}

// Client fetches raw spool records from the inventory service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchSpools walks the candidate endpoints in order and returns the raw
// spool objects found in the first parseable response. A reachable endpoint
// whose body has a list shape but no spools yields an empty slice, not an
// error. Exhausting every candidate returns ErrUpstreamUnreachable with the
// attempted URLs and the last failure.
func (c *Client) FetchSpools(ctx context.Context) ([]gjson.Result, error) {
	var attempted []string
	var lastErr error
	sawResponse := false

	for _, path := range candidatePaths {
		url := c.baseURL + path
		attempted = append(attempted, url)

		body, err := c.get(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		sawResponse = true

		payload := gjson.ParseBytes(body)
		if spools := collectSpools(payload); len(spools) > 0 {
			return dedupByID(spools), nil
		}
		if hasListShape(payload) {
			// Recognizable but empty inventory.
			return nil, nil
		}
	}

	if sawResponse {
		// The upstream answered but with nothing list-shaped; treat as an
		// empty inventory rather than a hard failure.
		return nil, nil
	}
	return nil, fmt.Errorf("%w: tried %s (last error: %v)",
		ErrUpstreamUnreachable, strings.Join(attempted, ", "), lastErr)
}

// FetchFilament resolves a filament referenced by id from a spool record.
func (c *Client) FetchFilament(ctx context.Context, id string) (gjson.Result, error) {
	body, err := c.get(ctx, fmt.Sprintf("%s/api/v1/filament/%s", c.baseURL, id))
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(body), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", url, err)
	}
	return body, nil
}

// collectSpools recursively gathers objects that look like spool records,
// wherever the payload nests them (bare list, {results: []}, {spools: []}, …).
func collectSpools(node gjson.Result) []gjson.Result {
	var found []gjson.Result

	var visit func(n gjson.Result)
	visit = func(n gjson.Result) {
		switch {
		case n.IsObject():
			for _, key := range spoolHintKeys {
				if n.Get(key).Exists() {
					found = append(found, n)
					return
				}
			}
			n.ForEach(func(_, value gjson.Result) bool {
				visit(value)
				return true
			})
		case n.IsArray():
			n.ForEach(func(_, value gjson.Result) bool {
				visit(value)
				return true
			})
		}
	}
	visit(node)

	return found
}

// hasListShape reports whether a payload is a recognizable (possibly empty)
// inventory response: a bare list, an empty object, or an object carrying at
// least one list value.
func hasListShape(node gjson.Result) bool {
	if node.IsArray() {
		return true
	}
	if !node.IsObject() {
		return false
	}
	empty := true
	hasList := false
	node.ForEach(func(_, value gjson.Result) bool {
		empty = false
		if value.IsArray() {
			hasList = true
			return false
		}
		return true
	})
	return empty || hasList
}

func dedupByID(spools []gjson.Result) []gjson.Result {
	seen := make(map[string]bool, len(spools))
	out := make([]gjson.Result, 0, len(spools))
	for _, s := range spools {
		if id := s.Get("id"); id.Exists() {
			key := id.String()
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		out = append(out, s)
	}
	return out
}
