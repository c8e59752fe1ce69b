// Package falai adapts fal.ai's synchronous model endpoints
// (https://fal.run) to the enhancement chain.
package falai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/preset/enhancement-gateway/config"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/tidwall/sjson"
)

// Name is the registry key of this provider
const Name = "fal_ai"

type dialect struct {
	cfg config.ProviderConfig
}

// New builds the fal.ai provider
func New(cfg config.ProviderConfig, deps providers.Deps) (providers.Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: model is required", Name)
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	client := providers.NewClient(cfg.Name, cfg.BaseURL, httpClient, func(r *http.Request) {
		r.Header.Set("Authorization", "Key "+cfg.APIKey)
	})
	return providers.NewHTTPProvider(cfg, client, &dialect{cfg: cfg}, deps.Tracker, deps.Logger), nil
}

// Enhance calls the model synchronously
func (d *dialect) Enhance(ctx context.Context, c *providers.Client, req *providers.EnhancementRequest) (*providers.EnhancedImage, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "prompt", providers.BuildPrompt(req))
	body, _ = sjson.SetBytes(body, "image_urls", []string{req.InputImageURL})
	body, _ = sjson.SetBytes(body, "num_images", 1)
	body, _ = sjson.SetBytes(body, "output_format", "png")

	resp, err := c.PostJSON(ctx, "/"+d.cfg.Model, body)
	if err != nil {
		return nil, err
	}

	imageURL := resp.Get("images.0.url").String()
	if imageURL == "" {
		return nil, providers.NewProviderError(d.cfg.Name, "NO_OUTPUT", "Response contained no images", 0, true, nil)
	}

	meta := map[string]interface{}{}
	if desc := resp.Get("description").String(); desc != "" {
		meta["description"] = desc
	}
	if ct := resp.Get("images.0.content_type").String(); ct != "" {
		meta["content_type"] = ct
	}

	return &providers.EnhancedImage{EnhancedURL: imageURL, Metadata: meta}, nil
}
