package coingecko

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AssetSummary is one row of /coins/markets.
type AssetSummary struct {
	ID                       string              `json:"id"`
	Symbol                   string              `json:"symbol"`
	Name                     string              `json:"name"`
	CurrentPrice             decimal.NullDecimal `json:"current_price"`
	MarketCap                decimal.NullDecimal `json:"market_cap"`
	TotalVolume              decimal.NullDecimal `json:"total_volume"`
	PriceChangePercentage24h decimal.NullDecimal `json:"price_change_percentage_24h"`
	LastUpdated              time.Time           `json:"last_updated"`
}

// FetchMarkets returns summaries for ids, querying at most pageSize ids per
// call. Results follow the order of ids; ids unknown to the provider are
// left out.
func (c *Client) FetchMarkets(ctx context.Context, ids []string) ([]AssetSummary, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	results := make([]AssetSummary, 0, len(ids))
	for start := 0; start < len(ids); start += c.pageSize {
		end := min(start+c.pageSize, len(ids))
		chunk := ids[start:end]

		query := url.Values{}
		query.Set("vs_currency", c.vsCurrency)
		query.Set("ids", strings.Join(chunk, ","))
		query.Set("per_page", strconv.Itoa(len(chunk)))
		query.Set("page", "1")
		query.Set("sparkline", "false")
		query.Set("price_change_percentage", "24h,7d,30d")

		c.logger.Debugf("Fetching market summaries of ids[%d:%d]", start, end)

		var page []AssetSummary
		what := fmt.Sprintf("markets ids[%d:%d]", start, end)
		if err := c.get(ctx, what, marketsEndpoint, query, &page); err != nil {
			return nil, err
		}
		results = append(results, c.orderByIDs(chunk, page)...)
	}
	return results, nil
}

func (c *Client) orderByIDs(ids []string, page []AssetSummary) []AssetSummary {
	byID := make(map[string]AssetSummary, len(page))
	for _, s := range page {
		byID[s.ID] = s
	}

	ordered := make([]AssetSummary, 0, len(ids))
	for _, id := range ids {
		s, ok := byID[id]
		if !ok {
			c.logger.Warnf("No market summary returned for %s", id)
			continue
		}
		ordered = append(ordered, s)
		delete(byID, id)
	}
	return ordered
}
