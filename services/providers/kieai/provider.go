// Package kieai adapts the Kie.ai jobs API (https://api.kie.ai)
// to the enhancement chain.
package kieai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/preset/enhancement-gateway/config"
	"github.com/preset/enhancement-gateway/services/providers"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Name is the registry key of this provider
const Name = "kie_ai"

const (
	stateSuccess = "success"
	stateFail    = "fail"
)

type dialect struct {
	cfg config.ProviderConfig
}

// New builds the Kie.ai provider
func New(cfg config.ProviderConfig, deps providers.Deps) (providers.Provider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s: model is required", Name)
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	client := providers.NewClient(cfg.Name, cfg.BaseURL, httpClient, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	})
	return providers.NewHTTPProvider(cfg, client, &dialect{cfg: cfg}, deps.Tracker, deps.Logger), nil
}

// Enhance creates a job and polls it to completion
func (d *dialect) Enhance(ctx context.Context, c *providers.Client, req *providers.EnhancementRequest) (*providers.EnhancedImage, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "model", d.cfg.Model)
	body, _ = sjson.SetBytes(body, "input.prompt", providers.BuildPrompt(req))
	body, _ = sjson.SetBytes(body, "input.image_urls", []string{req.InputImageURL})
	body, _ = sjson.SetBytes(body, "input.output_format", "png")

	resp, err := c.PostJSON(ctx, "/jobs/createTask", body)
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(d.cfg.Name, resp); err != nil {
		return nil, err
	}

	taskID := resp.Get("data.taskId").String()
	if taskID == "" {
		return nil, providers.NewProviderError(d.cfg.Name, "INVALID_RESPONSE", "Missing taskId in response", 0, false, nil)
	}

	var resultURL string
	err = providers.PollTask(ctx, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		info, err := c.GetJSON(ctx, "/jobs/recordInfo?taskId="+url.QueryEscape(taskID))
		if err != nil {
			return false, err
		}
		if err := checkEnvelope(d.cfg.Name, info); err != nil {
			return false, err
		}

		switch info.Get("data.state").String() {
		case stateSuccess:
			// resultJson is a JSON document encoded as a string
			resultURL = gjson.Get(info.Get("data.resultJson").String(), "resultUrls.0").String()
			return true, nil
		case stateFail:
			msg := info.Get("data.failMsg").String()
			if msg == "" {
				msg = "task failed"
			}
			return false, providers.NewProviderError(d.cfg.Name, "TASK_FAILED", msg, 0, false, nil)
		default:
			return false, nil
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, providers.NewProviderError(d.cfg.Name, "TIMEOUT", "Task did not finish in time", 0, true, err)
		}
		return nil, err
	}

	return &providers.EnhancedImage{
		EnhancedURL: resultURL,
		Metadata:    map[string]interface{}{"task_id": taskID},
	}, nil
}

// Ping checks the account still has credits
func (d *dialect) Ping(ctx context.Context, c *providers.Client) error {
	resp, err := c.GetJSON(ctx, "/chat/credit")
	if err != nil {
		return err
	}
	if err := checkEnvelope(d.cfg.Name, resp); err != nil {
		return err
	}
	if resp.Get("data").Float() <= 0 {
		return providers.NewProviderError(d.cfg.Name, "INSUFFICIENT_QUOTA", "No remaining provider credits", 0, false, nil)
	}
	return nil
}

func checkEnvelope(provider string, resp gjson.Result) error {
	code := resp.Get("code")
	if !code.Exists() || code.Int() == 200 {
		return nil
	}
	msg := resp.Get("msg").String()
	if msg == "" {
		msg = fmt.Sprintf("upstream code %d", code.Int())
	}
	statusCode := int(code.Int())
	return providers.NewProviderError(provider, "UPSTREAM_ERROR", msg, statusCode,
		statusCode == http.StatusTooManyRequests || statusCode >= 500, nil)
}
