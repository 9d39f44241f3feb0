package functions

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPRequest calls an external HTTP endpoint. Supported input keys:
// method (default GET), url (required), headers, body.
type HTTPRequest struct {
	client *http.Client
}

// NewHTTPRequest returns an HTTPRequest function using client, or a
// default http.Client if client is nil. Per-call timeouts are enforced
// via the context the engine passes to Call, not a client-level timeout.
func NewHTTPRequest(client *http.Client) *HTTPRequest {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPRequest{client: client}
}

// Name returns the dotted function name.
func (*HTTPRequest) Name() string { return "utils.http_request.http_request" }

// Call issues the configured request and returns status_code, headers,
// and body.
func (h *HTTPRequest) Call(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	urlStr, ok := args["url"].(string)
	if !ok || urlStr == "" {
		return nil, fmt.Errorf("functions: http_request requires a string url")
	}

	method := "GET"
	if v, ok := args["method"].(string); ok && v != "" {
		method = strings.ToUpper(v)
	}
	if method != "GET" && method != "POST" && method != "PUT" && method != "DELETE" && method != "PATCH" {
		return nil, fmt.Errorf("functions: unsupported http method %q", method)
	}

	var body io.Reader
	if b, ok := args["body"].(string); ok && b != "" {
		body = bytes.NewBufferString(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, fmt.Errorf("functions: build http request: %w", err)
	}
	if headers, ok := args["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("functions: http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("functions: read http response: %w", err)
	}

	respHeaders := make(map[string]interface{}, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) == 1 {
			respHeaders[k] = v[0]
		} else {
			vals := make([]interface{}, len(v))
			for i, s := range v {
				vals[i] = s
			}
			respHeaders[k] = vals
		}
	}

	return map[string]interface{}{
		"status_code": resp.StatusCode,
		"headers":     respHeaders,
		"body":        string(respBody),
	}, nil
}
