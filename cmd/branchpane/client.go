package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/branchpane/branchpane/internal/config"
)

// paneSummary mirrors the server's pane JSON.
type paneSummary struct {
	ID        string    `json:"id"`
	Branch    string    `json:"branch"`
	Tool      string    `json:"tool"`
	Command   string    `json:"command"`
	Dir       string    `json:"dir"`
	Status    string    `json:"status"`
	ExitCode  int       `json:"exitCode"`
	LastCwd   string    `json:"lastCwd"`
	StartedAt time.Time `json:"startedAt"`
}

// apiClient talks to a running `branchpane serve` instance.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// newAPIClient resolves the server address from the -server flag value, the
// BRANCHPANE_SERVER env var, or the [web] config section, in that order.
func newAPIClient(serverFlag string) *apiClient {
	cfg, _ := config.Load()

	addr := serverFlag
	if addr == "" {
		addr = os.Getenv("BRANCHPANE_SERVER")
	}
	if addr == "" {
		addr = cfg.GetWebListen()
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}

	token := os.Getenv("BRANCHPANE_TOKEN")
	if token == "" && cfg != nil {
		token = cfg.Web.Token
	}

	return &apiClient{
		baseURL: strings.TrimRight(addr, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body io.Reader, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach branchpane server at %s (is 'branchpane serve' running?): %w",
			c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s", apiErr.Error.Message)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Panes lists live panes on the server.
func (c *apiClient) Panes() ([]paneSummary, error) {
	var body struct {
		Panes []paneSummary `json:"panes"`
	}
	if err := c.do(http.MethodGet, "/api/panes", nil, &body); err != nil {
		return nil, err
	}
	return body.Panes, nil
}

// Write sends input bytes to a pane.
func (c *apiClient) Write(paneID string, data []byte) error {
	return c.do(http.MethodPost, "/api/panes/"+paneID+"/input", bytes.NewReader(data), nil)
}

// Resize changes a pane's terminal size.
func (c *apiClient) Resize(paneID string, cols, rows int) error {
	body, _ := json.Marshal(map[string]int{"cols": cols, "rows": rows})
	return c.do(http.MethodPost, "/api/panes/"+paneID+"/resize", bytes.NewReader(body), nil)
}

// Close terminates a pane.
func (c *apiClient) Close(paneID string) error {
	return c.do(http.MethodDelete, "/api/panes/"+paneID, nil, nil)
}

// WSURL returns the websocket URL for a pane, including the auth token.
func (c *apiClient) WSURL(paneID string) string {
	wsBase := "ws" + strings.TrimPrefix(c.baseURL, "http")
	u := wsBase + "/ws/pane/" + paneID
	if c.token != "" {
		u += "?token=" + c.token
	}
	return u
}
