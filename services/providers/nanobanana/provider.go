// Package nanobanana adapts the NanoBanana task API
// (https://api.nanobananaapi.ai) to the enhancement chain.
package nanobanana

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
const Name = "nanobanana"

// The upstream API spells the image-to-image mode this way.
const imageToImageType = "IMAGETOIAMGE"

// Task states reported by record-info
const (
	flagGenerating     = 0
	flagSuccess        = 1
	flagCreateFailed   = 2
	flagGenerateFailed = 3
)

type dialect struct {
	cfg config.ProviderConfig
}

// New builds the NanoBanana provider
func New(cfg config.ProviderConfig, deps providers.Deps) (providers.Provider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s: base URL is required", Name)
	}
	client := providers.NewClient(cfg.Name, cfg.BaseURL, httpClient(cfg, deps), func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	})
	return providers.NewHTTPProvider(cfg, client, &dialect{cfg: cfg}, deps.Tracker, deps.Logger), nil
}

func httpClient(cfg config.ProviderConfig, deps providers.Deps) *http.Client {
	if deps.HTTPClient != nil {
		return deps.HTTPClient
	}
	return &http.Client{Timeout: cfg.Timeout}
}

// Enhance submits a generation task and polls it to completion
func (d *dialect) Enhance(ctx context.Context, c *providers.Client, req *providers.EnhancementRequest) (*providers.EnhancedImage, error) {
	body, _ := sjson.SetBytes([]byte(`{}`), "prompt", providers.BuildPrompt(req))
	body, _ = sjson.SetBytes(body, "type", imageToImageType)
	body, _ = sjson.SetBytes(body, "imageUrls", []string{req.InputImageURL})
	body, _ = sjson.SetBytes(body, "numImages", 1)

	resp, err := c.PostJSON(ctx, "/nanobanana/generate", body)
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

	var result gjson.Result
	err = providers.PollTask(ctx, d.cfg.PollInterval, func(ctx context.Context) (bool, error) {
		info, err := c.GetJSON(ctx, "/nanobanana/record-info?taskId="+url.QueryEscape(taskID))
		if err != nil {
			return false, err
		}
		if err := checkEnvelope(d.cfg.Name, info); err != nil {
			return false, err
		}

		switch info.Get("data.successFlag").Int() {
		case flagSuccess:
			result = info.Get("data")
			return true, nil
		case flagCreateFailed, flagGenerateFailed:
			msg := info.Get("data.errorMessage").String()
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

	imageURL := result.Get("response.resultImageUrl").String()
	if imageURL == "" {
		imageURL = result.Get("response.originImageUrl").String()
	}

	return &providers.EnhancedImage{
		EnhancedURL: imageURL,
		Metadata: map[string]interface{}{
			"task_id": taskID,
		},
	}, nil
}

// Ping checks the account still has credits
func (d *dialect) Ping(ctx context.Context, c *providers.Client) error {
	resp, err := c.GetJSON(ctx, "/common/credit")
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

// checkEnvelope rejects replies whose body code is not 200
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
	retryable := statusCode == http.StatusTooManyRequests || statusCode >= 500
	errCode := "UPSTREAM_ERROR"
	if statusCode == http.StatusPaymentRequired {
		errCode = "INSUFFICIENT_QUOTA"
	}
	return providers.NewProviderError(provider, errCode, msg, statusCode, retryable, nil)
}
