// Package googledirect calls Gemini image models directly through the
// Generative Language API.
package googledirect

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/preset/enhancement-gateway/config"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Name is the registry key of this provider
const Name = "google_direct"

type dialect struct {
	cfg config.ProviderConfig
}

// New builds the Google provider
func New(cfg config.ProviderConfig, deps providers.Deps) (providers.Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: model is required", Name)
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	client := providers.NewClient(cfg.Name, cfg.BaseURL, httpClient, func(r *http.Request) {
		r.Header.Set("x-goog-api-key", cfg.APIKey)
	})
	return providers.NewHTTPProvider(cfg, client, &dialect{cfg: cfg}, deps.Tracker, deps.Logger), nil
}

// Enhance sends the input image inline and returns the generated image as a data URI
func (d *dialect) Enhance(ctx context.Context, c *providers.Client, req *providers.EnhancementRequest) (*providers.EnhancedImage, error) {
	data, mimeType, err := c.Download(ctx, req.InputImageURL)
	if err != nil {
		return nil, err
	}

	body, _ := sjson.SetBytes([]byte(`{}`), "contents.0.parts.0.text", providers.BuildPrompt(req))
	body, _ = sjson.SetBytes(body, "contents.0.parts.1.inline_data.mime_type", mimeType)
	body, _ = sjson.SetBytes(body, "contents.0.parts.1.inline_data.data", base64.StdEncoding.EncodeToString(data))
	body, _ = sjson.SetBytes(body, "generationConfig.responseModalities", []string{"TEXT", "IMAGE"})

	resp, err := c.PostJSON(ctx, "/models/"+url.PathEscape(d.cfg.Model)+":generateContent", body)
	if err != nil {
		return nil, err
	}

	if reason := resp.Get("promptFeedback.blockReason").String(); reason != "" {
		return nil, providers.NewProviderError(d.cfg.Name, "CONTENT_BLOCKED", "Request blocked: "+reason, 0, false, nil)
	}

	var outMime, outData, text string
	resp.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		inline := part.Get("inlineData")
		if !inline.Exists() {
			inline = part.Get("inline_data")
		}
		if inline.Exists() && outData == "" {
			outData = inline.Get("data").String()
			outMime = inline.Get("mimeType").String()
			if outMime == "" {
				outMime = inline.Get("mime_type").String()
			}
		}
		if t := part.Get("text").String(); t != "" && text == "" {
			text = t
		}
		return true
	})

	if outData == "" {
		msg := "Response contained no image"
		if finish := resp.Get("candidates.0.finishReason").String(); finish != "" {
			msg += " (finish reason " + finish + ")"
		}
		return nil, providers.NewProviderError(d.cfg.Name, "NO_OUTPUT", msg, 0, true, nil)
	}
	if outMime == "" {
		outMime = "image/png"
	}

	meta := map[string]interface{}{"mime_type": outMime}
	if text != "" {
		meta["description"] = text
	}

	return &providers.EnhancedImage{
		EnhancedURL: "data:" + outMime + ";base64," + outData,
		Metadata:    meta,
	}, nil
}

// Ping fetches the model descriptor
func (d *dialect) Ping(ctx context.Context, c *providers.Client) error {
	_, err := c.GetJSON(ctx, "/models/"+url.PathEscape(d.cfg.Model))
	return err
}
