package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/digkill/AssistantHub/internal/models"
)

var million = decimal.NewFromInt(1_000_000)

// ModelPrice is the price of one million tokens in credit units.
type ModelPrice struct {
	InputPerMillion  decimal.Decimal `json:"input_per_million"`
	OutputPerMillion decimal.Decimal `json:"output_per_million"`
}

// Product maps a payment-processor product to an entitlement.
type Product struct {
	Name    string          `json:"name"`
	Tier    models.Tier     `json:"tier,omitempty"`
	Credits decimal.Decimal `json:"credits"`
}

// Table is the single source of prices and grants. Both the pre-authorization
// estimate and the settlement of a request read from the same Table.
type Table struct {
	Chat              map[string]ModelPrice                 `json:"chat"`
	DefaultChat       ModelPrice                            `json:"default_chat"`
	Images            map[string]map[string]decimal.Decimal `json:"images"`
	DefaultImageModel string                                `json:"default_image_model"`
	Products          map[string]Product                    `json:"products"`
	TopUps            map[string]decimal.Decimal            `json:"top_ups"`
}

// Default returns the built-in price table.
func Default() *Table {
	return &Table{
		Chat: map[string]ModelPrice{
			"gpt-4o":            price("2.50", "10.00"),
			"gpt-4o-mini":       price("0.15", "0.60"),
			"gpt-4.1":           price("2.00", "8.00"),
			"gpt-4.1-mini":      price("0.40", "1.60"),
			"claude-3-5-sonnet": price("3.00", "15.00"),
			"claude-3-5-haiku":  price("0.80", "4.00"),
			"gemini-1.5-pro":    price("1.25", "5.00"),
			"gemini-1.5-flash":  price("0.075", "0.30"),
		},
		DefaultChat: price("2.50", "10.00"),
		Images: map[string]map[string]decimal.Decimal{
			"ideogram-v3": {
				"TURBO":    decimal.RequireFromString("0.03"),
				"BALANCED": decimal.RequireFromString("0.06"),
				"QUALITY":  decimal.RequireFromString("0.09"),
			},
			"dall-e-3": {
				"STANDARD": decimal.RequireFromString("0.04"),
				"HD":       decimal.RequireFromString("0.08"),
			},
			"gpt-image-1": {
				"LOW":    decimal.RequireFromString("0.011"),
				"MEDIUM": decimal.RequireFromString("0.042"),
				"HIGH":   decimal.RequireFromString("0.167"),
			},
		},
		DefaultImageModel: "ideogram-v3",
		Products: map[string]Product{
			"7":  {Name: "Tier 1 monthly", Tier: models.TierOne, Credits: decimal.NewFromInt(20000)},
			"8":  {Name: "Tier 2 monthly", Tier: models.TierTwo, Credits: decimal.NewFromInt(40000)},
			"9":  {Name: "Tier 1 annual", Tier: models.TierOne, Credits: decimal.NewFromInt(240000)},
			"10": {Name: "Tier 2 annual", Tier: models.TierTwo, Credits: decimal.NewFromInt(480000)},
		},
		TopUps: map[string]decimal.Decimal{
			"11": decimal.NewFromInt(10000),
			"12": decimal.NewFromInt(25000),
			"13": decimal.NewFromInt(60000),
		},
	}
}

// Load returns the default table with the sections present in the JSON file at
// path replacing the built-in ones. An empty path yields the default table.
func Load(path string) (*Table, error) {
	table := Default()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing file: %w", err)
	}
	var override Table
	if err := json.Unmarshal(raw, &override); err != nil {
		return nil, fmt.Errorf("decode pricing file: %w", err)
	}
	if len(override.Chat) > 0 {
		table.Chat = override.Chat
	}
	if !override.DefaultChat.InputPerMillion.IsZero() || !override.DefaultChat.OutputPerMillion.IsZero() {
		table.DefaultChat = override.DefaultChat
	}
	if len(override.Images) > 0 {
		table.Images = normalizeImages(override.Images)
	}
	if override.DefaultImageModel != "" {
		table.DefaultImageModel = override.DefaultImageModel
	}
	if len(override.Products) > 0 {
		table.Products = override.Products
	}
	if len(override.TopUps) > 0 {
		table.TopUps = override.TopUps
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

// Validate rejects tables that would grant or charge negative amounts.
func (t *Table) Validate() error {
	for id, p := range t.Products {
		if p.Credits.IsNegative() {
			return fmt.Errorf("product %s: negative credits", id)
		}
		if p.Tier != "" && !p.Tier.Valid() {
			return fmt.Errorf("product %s: unknown tier %q", id, p.Tier)
		}
	}
	for id, c := range t.TopUps {
		if !c.IsPositive() {
			return fmt.Errorf("top-up %s: credits must be positive", id)
		}
	}
	for model, qualities := range t.Images {
		for q, unit := range qualities {
			if unit.IsNegative() {
				return fmt.Errorf("image %s/%s: negative price", model, q)
			}
		}
	}
	if _, ok := t.Images[t.DefaultImageModel]; !ok {
		return fmt.Errorf("default image model %q has no prices", t.DefaultImageModel)
	}
	return nil
}

// EstimateTokens approximates a token count as one token per four characters,
// rounded up.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return int(math.Ceil(float64(n) / 4))
}

// ChatPrice returns the price for model, falling back to the default tier.
func (t *Table) ChatPrice(model string) ModelPrice {
	if p, ok := t.Chat[strings.ToLower(strings.TrimSpace(model))]; ok {
		return p
	}
	return t.DefaultChat
}

// ChatCost prices one conversational turn.
func (t *Table) ChatCost(model string, inputTokens, outputTokens int) decimal.Decimal {
	p := t.ChatPrice(model)
	in := p.InputPerMillion.Mul(decimal.NewFromInt(int64(inputTokens))).Div(million)
	out := p.OutputPerMillion.Mul(decimal.NewFromInt(int64(outputTokens))).Div(million)
	return in.Add(out)
}

// ImageModel resolves an empty model name to the default image model.
func (t *Table) ImageModel(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if model == "" {
		return t.DefaultImageModel
	}
	return model
}

// ImageUnitPrice returns the per-image price for model and quality. Quality is
// matched case-insensitively.
func (t *Table) ImageUnitPrice(model, quality string) (decimal.Decimal, bool) {
	qualities, ok := t.Images[t.ImageModel(model)]
	if !ok {
		return decimal.Zero, false
	}
	unit, ok := qualities[strings.ToUpper(strings.TrimSpace(quality))]
	return unit, ok
}

// ImageEstimate prices count images before generation.
func (t *Table) ImageEstimate(model, quality string, count int) (decimal.Decimal, bool) {
	unit, ok := t.ImageUnitPrice(model, quality)
	if !ok {
		return decimal.Zero, false
	}
	return unit.Mul(decimal.NewFromInt(int64(count))), true
}

func (t *Table) Product(id string) (Product, bool) {
	p, ok := t.Products[strings.TrimSpace(id)]
	return p, ok
}

func (t *Table) TopUp(id string) (decimal.Decimal, bool) {
	c, ok := t.TopUps[strings.TrimSpace(id)]
	return c, ok
}

func price(in, out string) ModelPrice {
	return ModelPrice{
		InputPerMillion:  decimal.RequireFromString(in),
		OutputPerMillion: decimal.RequireFromString(out),
	}
}

func normalizeImages(images map[string]map[string]decimal.Decimal) map[string]map[string]decimal.Decimal {
	out := make(map[string]map[string]decimal.Decimal, len(images))
	for model, qualities := range images {
		q := make(map[string]decimal.Decimal, len(qualities))
		for name, unit := range qualities {
			q[strings.ToUpper(name)] = unit
		}
		out[strings.ToLower(model)] = q
	}
	return out
}
