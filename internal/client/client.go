package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/oobits/snare/internal/api"
)

// Client calls the management API on behalf of the CLI.
type Client struct {
	BaseURL string
	APIKey  string
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
	}
}

func (c *Client) CreateSubdomain(label string, ttlMinutes int) (*api.SubdomainInfo, error) {
	var result api.SubdomainInfo
	req := api.CreateSubdomainRequest{Label: label, TTLMinutes: ttlMinutes}
	if err := c.do("POST", "/v1/subdomains", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListSubdomains() (*api.ListSubdomainsResponse, error) {
	var result api.ListSubdomainsResponse
	if err := c.do("GET", "/v1/subdomains", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ToggleSubdomain(id int64) (*api.SubdomainInfo, error) {
	var result api.SubdomainInfo
	path := "/v1/subdomains/" + strconv.FormatInt(id, 10) + "/toggle"
	if err := c.do("POST", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeleteSubdomain(id int64) error {
	return c.do("DELETE", "/v1/subdomains/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) GetInteractions(id int64) (*api.GetInteractionsResponse, error) {
	var result api.GetInteractionsResponse
	path := "/v1/subdomains/" + strconv.FormatInt(id, 10) + "/interactions"
	if err := c.do("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ClearInteractions(id int64) error {
	return c.do("DELETE", "/v1/subdomains/"+strconv.FormatInt(id, 10)+"/interactions", nil, nil)
}

// SearchInteractions queries interactions across all of the owner's
// subdomains. Empty filter fields are omitted from the query.
func (c *Client) SearchInteractions(search, kind, start, end string) (*api.GetInteractionsResponse, error) {
	q := url.Values{}
	if search != "" {
		q.Set("search", search)
	}
	if kind != "" {
		q.Set("type", kind)
	}
	if start != "" {
		q.Set("start", start)
	}
	if end != "" {
		q.Set("end", end)
	}
	path := "/v1/interactions"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result api.GetInteractionsResponse
	if err := c.do("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Export downloads the interaction export for a subdomain and returns
// the raw bytes plus the server-suggested filename.
func (c *Client) Export(id int64, format string) ([]byte, string, error) {
	path := fmt.Sprintf("/v1/subdomains/%d/interactions/export?format=%s", id, url.QueryEscape(format))
	req, err := http.NewRequest("GET", c.BaseURL+path, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}

	filename := fmt.Sprintf("%d-interactions.%s", id, format)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if name, ok := params["filename"]; ok && name != "" {
			filename = name
		}
	}
	return data, filename, nil
}

func (c *Client) CreateScript(id int64, req api.CreateScriptRequest) (*api.ScriptInfo, error) {
	var result api.ScriptInfo
	path := "/v1/subdomains/" + strconv.FormatInt(id, 10) + "/scripts"
	if err := c.do("POST", path, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListScripts(id int64) (*api.ListScriptsResponse, error) {
	var result api.ListScriptsResponse
	path := "/v1/subdomains/" + strconv.FormatInt(id, 10) + "/scripts"
	if err := c.do("GET", path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) DeleteScript(id int64) error {
	return c.do("DELETE", "/v1/scripts/"+strconv.FormatInt(id, 10), nil, nil)
}

func (c *Client) Templates() ([]api.TemplateInfo, error) {
	var result []api.TemplateInfo
	if err := c.do("GET", "/v1/templates", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) do(method, path string, reqBody, result any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return parseError(resp)
	}

	if result == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return fmt.Errorf("%s", errResp.Error)
}
