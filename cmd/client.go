package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// apiClient is a thin JSON wrapper over the daemon's HTTP API. It carries
// no state beyond the base URL: every call is independent, matching the
// daemon's stateless request handling.
type apiClient struct {
	baseURL string
	hc      *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{baseURL: serverURL, hc: &http.Client{Timeout: 120 * time.Second}}
}

type apiError struct {
	Kind    string
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Message) }

func (c *apiClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Kind    string `json:"kind"`
				Message string `json:"message"`
			} `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Message == "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
		}
		return &apiError{Kind: envelope.Error.Kind, Message: envelope.Error.Message}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) get(path string, out any) error        { return c.do(http.MethodGet, path, nil, out) }
func (c *apiClient) post(path string, body, out any) error { return c.do(http.MethodPost, path, body, out) }
func (c *apiClient) delete(path string, out any) error     { return c.do(http.MethodDelete, path, nil, out) }

// uploadArchive streams body (a raw tar stream) as the POST request body,
// bypassing the JSON envelope the other methods use.
func (c *apiClient) uploadArchive(id string, body io.Reader) error {
	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/sandboxes/"+id+"/files", body)
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-tar")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("uploading archive: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 400 {
		return fmt.Errorf("uploading archive: %s", resp.Status)
	}
	return nil
}
