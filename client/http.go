package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// httpGet performs a GET request and decodes the JSON response.
// A 404 is reported as ErrNotFound.
func (c *Client) httpGet(path string, result any) error {
	url := c.baseURL + path

	resp, err := c.http.Get(url)
	if err != nil {
		return fmt.Errorf("GET %s:\n%w", url, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("GET %s:\n%w", url, ErrNotFound)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)

		return fmt.Errorf("GET %s: status %d %s", url, resp.StatusCode, apiErr.Error)
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
