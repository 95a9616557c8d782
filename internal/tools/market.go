package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fortunamind/persistgate/internal/adapter/outbound/upstream"
	"github.com/fortunamind/persistgate/internal/domain/tool"
)

// MarketDataSource is the slice of the upstream client the market tools
// need.
type MarketDataSource interface {
	SpotPrice(ctx context.Context, symbol string) (*upstream.Quote, error)
	Accounts(ctx context.Context, apiKey, apiSecret string) ([]upstream.Account, error)
}

// PriceTool fetches spot prices from the exchange. Available on every
// tier.
type PriceTool struct {
	source MarketDataSource
}

// NewPriceTool creates the price tool.
func NewPriceTool(source MarketDataSource) *PriceTool {
	return &PriceTool{source: source}
}

func (t *PriceTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_price",
		Description: "Get the current spot price for a currency pair such as BTC-USD.",
		Category:    "market",
		Permission:  tool.PermissionMarketData,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"symbol": {"type": "string", "pattern": "^[A-Z0-9]{2,10}-[A-Z]{3,5}$"}
			},
			"required": ["symbol"],
			"additionalProperties": false
		}`),
	}
}

func (t *PriceTool) Execute(ctx context.Context, _ tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	quote, err := t.source.SpotPrice(ctx, in.Symbol)
	if err != nil {
		return nil, err
	}
	return json.Marshal(quote)
}

// PortfolioTool lists the caller's exchange account balances using the
// per-request upstream credentials.
type PortfolioTool struct {
	source MarketDataSource
}

// NewPortfolioTool creates the portfolio tool.
func NewPortfolioTool(source MarketDataSource) *PortfolioTool {
	return &PortfolioTool{source: source}
}

func (t *PortfolioTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_portfolio",
		Description: "List exchange account balances. Requires upstream API credentials.",
		Category:    "market",
		Permission:  tool.PermissionPortfolio,
		Parameters: json.RawMessage(`{
			"type": "object",
			"additionalProperties": false
		}`),
	}
}

func (t *PortfolioTool) Execute(ctx context.Context, auth tool.AuthContext, _ json.RawMessage) (json.RawMessage, error) {
	if auth.UpstreamAPIKey == "" || auth.UpstreamAPISecret == "" {
		return nil, fmt.Errorf("%w: upstream API credentials required", tool.ErrInvalidArguments)
	}
	accounts, err := t.source.Accounts(ctx, auth.UpstreamAPIKey, auth.UpstreamAPISecret)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// Compile-time interface verification.
var (
	_ tool.Tool = (*PriceTool)(nil)
	_ tool.Tool = (*PortfolioTool)(nil)
)
