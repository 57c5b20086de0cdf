package platform

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/kbadmin/internal/errors"
)

// Do sends an arbitrary authenticated request to the admin API. path is
// relative to the API prefix ("/documents"). The caller closes the body.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	if !c.store.IsAuthenticated() {
		return nil, errors.NewNotAuthenticatedError()
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	req, err := http.NewRequestWithContext(withMode(ctx, modeSession), strings.ToUpper(method), c.baseURL+APIPrefix+path, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, "building request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewProviderUnreachableError(c.baseURL, err)
	}
	return resp, nil
}
