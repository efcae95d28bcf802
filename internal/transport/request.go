package transport

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/agentstation/reqsync/pkg/errors"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 4 << 10

// DecodeResponse decodes a JSON response into target, closing the body.
// Non-2xx responses become *errors.APIError.
func (c *Client) DecodeResponse(resp *http.Response, target any) error {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to close response body")
		}
	}()

	endpoint := ""
	if resp.Request != nil && resp.Request.URL != nil {
		endpoint = resp.Request.URL.Path
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := errors.NewAPIError(endpoint, resp.StatusCode, http.StatusText(resp.StatusCode))
		if len(body) > 0 {
			apiErr.Message = string(body)
		}
		return apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapResource("read", "response body", endpoint, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return &errors.APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Message:    "invalid JSON response",
			Err:        err,
		}
	}
	return nil
}
