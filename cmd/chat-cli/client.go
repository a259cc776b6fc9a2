// client.go — chatd HTTP API 的薄封装。
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	apperrors "github.com/mathchat/go-chat-v2/pkg/errors"
)

type apiClient struct {
	base string
	hc   *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: base, hc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) createSession(ctx context.Context) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.post(ctx, "/api/session", nil, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", apperrors.New("cli.createSession", "empty sessionId in response")
	}
	return resp.SessionID, nil
}

func (c *apiClient) postMessage(ctx context.Context, sessionID, text string) error {
	body := map[string]string{"text": text}
	return c.post(ctx, "/api/session/"+sessionID+"/message", body, http.StatusAccepted, nil)
}

func (c *apiClient) reset(ctx context.Context, sessionID string) error {
	return c.post(ctx, "/api/session/"+sessionID+"/reset", nil, http.StatusOK, nil)
}

func (c *apiClient) post(ctx context.Context, path string, body any, wantStatus int, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return apperrors.Wrap(err, "cli.post", "encode request")
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, reader)
	if err != nil {
		return apperrors.Wrap(err, "cli.post", "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return apperrors.Wrap(err, "cli.post", "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		if resp.StatusCode == http.StatusNotFound {
			return apperrors.Wrapf(apperrors.ErrNotFound, "cli.post", "POST %s", path)
		}
		return apperrors.Newf("cli.post", "POST %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(err, "cli.post", "decode response")
		}
	}
	return nil
}
