package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/vizexplore/pkg/history"
	"github.com/vanderheijden86/vizexplore/pkg/querydef"
)

// Client talks to a form data API served by Handler.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at baseURL. A nil hc uses a client
// with a 30s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: hc}
}

// Put stores req under a fresh key.
func (c *Client) Put(ctx context.Context, req history.PutRequest) (string, error) {
	var out keyResponse
	if err := c.sendFormData(ctx, http.MethodPost, "/api/v1/explore/form_data", req, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// Update overwrites the entry at key.
func (c *Client) Update(ctx context.Context, key string, req history.PutRequest) error {
	return c.sendFormData(ctx, http.MethodPut, "/api/v1/explore/form_data/"+url.PathEscape(key), req, nil)
}

// Get returns the form data stored at key.
func (c *Client) Get(ctx context.Context, key string) (map[string]any, error) {
	var out getResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/explore/form_data/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	var fd map[string]any
	if err := json.Unmarshal([]byte(out.FormData), &fd); err != nil {
		return nil, fmt.Errorf("decoding form data: %w", err)
	}
	return fd, nil
}

// SaveChart saves formData as chart chartID and returns the chart URL.
func (c *Client) SaveChart(ctx context.Context, chartID int64, formData map[string]any) (string, error) {
	payload, err := json.Marshal(formData)
	if err != nil {
		return "", fmt.Errorf("encoding chart: %w", err)
	}
	var out chartResponse
	path := "/api/v1/chart/" + strconv.FormatInt(chartID, 10)
	if err := c.do(ctx, http.MethodPost, path, chartBody{FormData: string(payload)}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

func (c *Client) sendFormData(ctx context.Context, method, path string, req history.PutRequest, out any) error {
	payload, err := json.Marshal(req.FormData)
	if err != nil {
		return fmt.Errorf("encoding form data: %w", err)
	}
	body := formDataBody{
		DatasourceID:   req.Datasource.ID,
		DatasourceType: req.Datasource.Type,
		ChartID:        req.ChartID,
		FormData:       string(payload),
	}
	if req.TabID != "" {
		path += "?" + url.Values{querydef.KeyTabID: {req.TabID}}.Encode()
	}
	return c.do(ctx, method, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
