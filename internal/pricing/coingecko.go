package pricing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/camarigor/minerdash/internal/format"
	"github.com/camarigor/minerdash/internal/jsonx"
)

// getJSON performs a GET and decodes the body into v
func getJSON(ctx context.Context, client *http.Client, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "minerdash")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	return jsonx.Unmarshal(data, v)
}

// fetchSimplePrice returns fiat prices keyed by CoinGecko id. Ids missing
// from the response are absent from the map.
func fetchSimplePrice(ctx context.Context, client *http.Client, baseURL string, ids []string, fiat string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", fiat)

	var resp map[string]map[string]any
	if err := getJSON(ctx, client, strings.TrimRight(baseURL, "/")+"/simple/price?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("coingecko price: %w", err)
	}

	out := make(map[string]float64, len(ids))
	for _, id := range ids {
		entry, ok := resp[id]
		if !ok {
			continue
		}
		if f, ok := entry[fiat].(float64); ok {
			out[id] = f
		}
	}
	return out, nil
}

// fetchMarketImages returns logo URLs keyed by CoinGecko id
func fetchMarketImages(ctx context.Context, client *http.Client, baseURL string, ids []string, fiat string) (map[string]string, error) {
	q := url.Values{}
	q.Set("vs_currency", fiat)
	q.Set("ids", strings.Join(ids, ","))
	q.Set("sparkline", "false")

	var resp []map[string]any
	if err := getJSON(ctx, client, strings.TrimRight(baseURL, "/")+"/coins/markets?"+q.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("coingecko markets: %w", err)
	}

	out := make(map[string]string, len(resp))
	for _, item := range resp {
		id, _ := item["id"].(string)
		img, _ := item["image"].(string)
		if id != "" && img != "" {
			out[id] = img
		}
	}
	return out, nil
}

// fetchDifficulty reads the network difficulty from WhatToMine's coin page
func fetchDifficulty(ctx context.Context, client *http.Client, baseURL string, coinID int) (float64, error) {
	var resp map[string]any
	rawURL := fmt.Sprintf("%s/coins/%d.json", strings.TrimRight(baseURL, "/"), coinID)
	if err := getJSON(ctx, client, rawURL, &resp); err != nil {
		return 0, fmt.Errorf("whattomine coin %d: %w", coinID, err)
	}
	d, ok := format.ParseDifficulty(resp["difficulty"])
	if !ok {
		return 0, fmt.Errorf("whattomine coin %d: no difficulty", coinID)
	}
	return d, nil
}
