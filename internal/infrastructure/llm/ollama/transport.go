package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// HTTPStatusError carries a non-2xx answer with the start of its body,
// which is where ollama explains missing models and bad options.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if body := strings.TrimSpace(e.Body); body != "" {
		return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, body)
	}
	return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
}

// postJSON returns errors tagged with a domain kind: unreachable server and
// overload statuses are ErrTemporary, other statuses ErrInvalidInput.
// Context errors pass through untagged.
func (c *Client) postJSON(ctx context.Context, path string, payload, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return fmt.Errorf("ollama %s request: %w", operation, err)
		}
		return domain.WrapError(domain.ErrTemporary, "ollama "+operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		statusErr := &HTTPStatusError{Operation: operation, StatusCode: resp.StatusCode, Status: resp.Status, Body: string(raw)}
		return domain.WrapError(statusKind(resp.StatusCode), "ollama "+operation, statusErr)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// A cut-off body is a transport hiccup, not a bad request.
		return domain.WrapError(domain.ErrTemporary, "decode "+operation+" response", err)
	}
	return nil
}

func statusKind(code int) error {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return domain.ErrTemporary
	default:
		return domain.ErrInvalidInput
	}
}
