package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"wildfire_crew/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
	}
}

func (c *client) waitHealth(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

func (c *client) startEpisode(in startRequest) (domain.Episode, error) {
	var ep domain.Episode
	err := c.postJSON("/episodes", in, &ep)
	return ep, err
}

func (c *client) cancelEpisode(id string) error {
	return c.postJSON(fmt.Sprintf("/episodes/%s/cancel", id), map[string]any{}, nil)
}

func (c *client) listEpisodes(limit int) ([]domain.Episode, error) {
	var out []domain.Episode
	if err := c.getJSON(fmt.Sprintf("/episodes?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listTelemetry(id string) ([]domain.TelemetryRow, error) {
	var out []domain.TelemetryRow
	if err := c.getJSON(fmt.Sprintf("/episodes/%s/telemetry", id), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listMessages(id string, limit int) ([]domain.Message, error) {
	var out []domain.Message
	if err := c.getJSON(fmt.Sprintf("/episodes/%s/messages?limit=%d", id, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listDecisions(id string, limit int) ([]domain.DecisionLog, error) {
	var out []domain.DecisionLog
	if err := c.getJSON(fmt.Sprintf("/episodes/%s/decisions?limit=%d", id, limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
