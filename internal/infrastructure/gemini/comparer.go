package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/shelfscout/backend/internal/domain"
	"github.com/shelfscout/backend/internal/logging"
	"google.golang.org/genai"
)

const textPrompt = `You verify whether a storefront listing is the same product a shopper asked for.

Shopper asked for: %q
Listing label: %q

Rules:
1. Brand must match. Spelling variants such as "Tunnock's" and "Tunnocks" are the same brand.
2. Product type must match. A "Mini" version is a different product.
3. Flavour or variant must match, e.g. milk chocolate is not dark chocolate.
4. Quantity must agree. Multipacks or a different weight are only acceptable when the request does not name a quantity.
5. Minor wording differences such as singular and plural are fine.

Answer with is_match and a short reason.`

const imagePrompt = `Compare the two product images. The first is the reference product, the second a candidate from another shop.

They are the same product only if brand, product type and flavour or variant all match and the packaging design is recognisably the same.
Ignore price labels, promotional stickers, background and small packaging refreshes.

Answer with is_same_product, a confidence between 0 and 1, and a short reasoning.`

// ImageLoader resolves image handles to image bytes
type ImageLoader interface {
	Load(handle domain.ImageHandle) ([]byte, error)
}

// ComparerConfig holds comparer settings
type ComparerConfig struct {
	Generator          Generator
	Images             ImageLoader
	VisualConfidence   float64
	EnableDebugLogging bool
}

// Comparer implements domain.TextComparer and domain.ImageComparer
type Comparer struct {
	gen                Generator
	images             ImageLoader
	visualConfidence   float64
	enableDebugLogging bool
}

type textVerdict struct {
	IsMatch bool   `json:"is_match"`
	Reason  string `json:"reason"`
}

type imageVerdict struct {
	IsSameProduct bool    `json:"is_same_product"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// NewComparer creates a comparer
func NewComparer(cfg ComparerConfig) *Comparer {
	return &Comparer{
		gen:                cfg.Generator,
		images:             cfg.Images,
		visualConfidence:   cfg.VisualConfidence,
		enableDebugLogging: cfg.EnableDebugLogging,
	}
}

// Matches asks the model whether listingLabel names the product
func (c *Comparer) Matches(ctx context.Context, productName, listingLabel string) (bool, error) {
	if strings.TrimSpace(productName) == "" || strings.TrimSpace(listingLabel) == "" {
		return false, goerr.Wrap(domain.ErrInvalidRequest, "empty product name or listing label")
	}

	contents := []*genai.Content{
		genai.NewContentFromText(fmt.Sprintf(textPrompt, productName, listingLabel), genai.RoleUser),
	}
	config := jsonConfig(&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"is_match": {Type: genai.TypeBoolean},
			"reason":   {Type: genai.TypeString},
		},
		Required: []string{"is_match"},
	})

	var verdict textVerdict
	if err := c.generate(ctx, contents, config, &verdict); err != nil {
		return false, goerr.Wrap(err, "text comparison failed", goerr.V("product", productName), goerr.V("label", listingLabel))
	}

	if c.enableDebugLogging {
		logging.From(ctx).Debug("[GEMINI] text verdict", "product", productName, "label", listingLabel,
			"match", verdict.IsMatch, "reason", verdict.Reason)
	}
	return verdict.IsMatch, nil
}

// CropAndCompare asks the model whether the listing image shows the reference product.
// A match needs is_same_product and a confidence at or above the configured threshold.
func (c *Comparer) CropAndCompare(ctx context.Context, listingImage, referenceImage domain.ImageHandle) (bool, error) {
	if c.images == nil {
		return false, goerr.New("no image loader configured")
	}
	reference, err := c.images.Load(referenceImage)
	if err != nil {
		return false, err
	}
	candidate, err := c.images.Load(listingImage)
	if err != nil {
		return false, err
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(imagePrompt),
			genai.NewPartFromBytes(reference, http.DetectContentType(reference)),
			genai.NewPartFromBytes(candidate, http.DetectContentType(candidate)),
		}, genai.RoleUser),
	}
	config := jsonConfig(&genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"is_same_product": {Type: genai.TypeBoolean},
			"confidence":      {Type: genai.TypeNumber},
			"reasoning":       {Type: genai.TypeString},
		},
		Required: []string{"is_same_product", "confidence"},
	})

	var verdict imageVerdict
	if err := c.generate(ctx, contents, config, &verdict); err != nil {
		return false, goerr.Wrap(err, "image comparison failed", goerr.V("listing", listingImage), goerr.V("reference", referenceImage))
	}

	match := verdict.IsSameProduct && verdict.Confidence >= c.visualConfidence
	logging.From(ctx).Debug("[GEMINI] image verdict", "listing", listingImage, "same", verdict.IsSameProduct,
		"confidence", verdict.Confidence, "threshold", c.visualConfidence, "match", match, "reasoning", verdict.Reasoning)
	return match, nil
}

func jsonConfig(schema *genai.Schema) *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
}

// generate runs the model and decodes its JSON answer into out.
// Every failure wraps domain.ErrLookupFailure.
func (c *Comparer) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, out any) error {
	if c.gen == nil {
		return goerr.Wrap(domain.ErrLookupFailure, "no generator configured")
	}

	resp, err := c.gen.GenerateContent(ctx, contents, config)
	if err != nil {
		return goerr.Wrap(domain.ErrLookupFailure, "model call failed", goerr.V("cause", err.Error()))
	}
	if resp == nil {
		return goerr.Wrap(domain.ErrLookupFailure, "empty model response")
	}

	text := stripFences(resp.Text())
	if text == "" {
		return goerr.Wrap(domain.ErrLookupFailure, "empty model response")
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return goerr.Wrap(domain.ErrLookupFailure, "malformed model response", goerr.V("text", text), goerr.V("cause", err.Error()))
	}
	return nil
}

// stripFences removes a surrounding markdown code fence
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.Split(text, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.TrimSpace(lines[n-1]) == "```" {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
