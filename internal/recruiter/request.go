package recruiter

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/recruit-chat/internal/chat"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"

	maxErrorBody = 512
)

// StatusError is returned for non-2xx responses other than 401.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad status: %s", e.Status)
	}
	return fmt.Sprintf("bad status: %s: %s", e.Status, e.Body)
}

type ItemResponse struct {
	Items   []Item
	Found   int
	Pages   int
	Page    int
	PerPage int `json:"per_page"`
}

type Item interface{}

// GetItems makes GET request to the API and returns items from all pages.
// Endpoints answering with a bare JSON array are treated as a single page.
func (c *Client) GetItems(ctx context.Context, url string, q url.Values) ([]Item, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var items []Item

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}

	response, err := c.parseItemResponse(resp)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("got items response", zap.Int("pages", response.Pages), zap.Int("max items per page", response.PerPage))

	items = append(items, response.Items...)

	for response.Page < (response.Pages - 1) {
		c.logger.Debug("additional request needed", zap.String("reason", fmt.Sprintf(
			"current page (%d) < all page count (%d)", response.Page+1, response.Pages),
		))

		resp, err = c.request(addPage(req, response.Page+1))
		if err != nil {
			return nil, err
		}

		response, err = c.parseItemResponse(resp)
		if err != nil {
			return nil, err
		}

		items = append(items, response.Items...)
	}

	return items, nil
}

func (c *Client) parseItemResponse(resp *http.Response) (*ItemResponse, error) {
	body, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	defer body.Close()

	if err := checkStatus(resp, body); err != nil {
		return nil, err
	}

	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var items []Item
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode items: %w", err)
		}
		return &ItemResponse{Items: items, Found: len(items), Pages: 1, PerPage: len(items)}, nil
	}

	var response ItemResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}

	return &response, nil
}

func (c *Client) getJSON(ctx context.Context, url string, q url.Values, target interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept-Encoding", contentEncoding)
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.request(req)
	if err != nil {
		return err
	}

	body, err := decodedBody(resp)
	if err != nil {
		resp.Body.Close()
		return err
	}
	defer body.Close()

	if err := checkStatus(resp, body); err != nil {
		return err
	}

	if target == nil {
		return nil
	}

	if err := json.NewDecoder(body).Decode(target); err != nil {
		return err
	}

	return nil
}

// postStream posts a JSON body and returns the open response for streaming.
// The caller owns the response body.
func (c *Client) postStream(ctx context.Context, url string, payload any) (*http.Response, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.request(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatus(resp, resp.Body); err != nil {
		resp.Body.Close()
		return nil, err
	}

	return resp, nil
}

// request sends req. A 401 on an authenticated call runs the expirer before
// the error is returned, whatever the caller does with it.
func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && c.authenticated() {
		resp.Body.Close()
		if c.expirer != nil {
			c.expirer.Expire()
		}
		return nil, fmt.Errorf("%w: %s %s: %s", chat.ErrUnauthorized, req.Method, req.URL.Path, resp.Status)
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	if c.authenticated() {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	req.Header.Set("User-Agent", c.UserAgent)

	return req
}

func checkStatus(resp *http.Response, body io.Reader) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	excerpt, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return &StatusError{
		Code:   resp.StatusCode,
		Status: resp.Status,
		Body:   strings.TrimSpace(string(excerpt)),
	}
}

func decodedBody(resp *http.Response) (io.ReadCloser, error) {
	if resp.Header.Get("Content-Encoding") != "gzip" {
		return resp.Body, nil
	}

	gz, err := gzip.NewReader(resp.Body)
	if err != nil {
		return nil, err
	}
	return &gzipBody{Reader: gz, body: resp.Body}, nil
}

type gzipBody struct {
	*gzip.Reader
	body io.ReadCloser
}

func (b *gzipBody) Close() error {
	b.Reader.Close()
	return b.body.Close()
}

// addPage adds page parameter to request URL.
func addPage(req *http.Request, page int) *http.Request {
	q := req.URL.Query()
	q.Set("page", strconv.Itoa(page))
	req.URL.RawQuery = q.Encode()

	return req
}
