package misskey

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"antennarelay/internal/domain"
)

const (
	showAntennaPath  = "/api/antennas/show"
	maxErrorBodySize = 4096
)

type apiClient struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	log     *slog.Logger
}

type showAntennaRequest struct {
	Token     string `json:"i"`
	AntennaID string `json:"antennaId"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		ID      string `json:"id"`
	} `json:"error"`
}

// showAntenna fails when the antenna does not exist or is not owned by the
// token's user, which the streaming API would otherwise accept silently.
func (a *apiClient) showAntenna(ctx context.Context, antenna domain.AntennaID) error {
	payload, err := json.Marshal(showAntennaRequest{Token: a.token, AntennaID: antenna.String()})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	endpoint := a.baseURL.ResolveReference(&url.URL{Path: showAntennaPath})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if err = resp.Body.Close(); err != nil {
			a.log.ErrorContext(ctx, "Failed to close response body",
				"error", err,
				"antennaID", antenna,
				"operation", "showAntenna")
		}
	}()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}

	var apiErr apiErrorResponse
	if readErr == nil && json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Code != "" {
		return fmt.Errorf("%s (code = %s, status = %d)", apiErr.Error.Message, apiErr.Error.Code, resp.StatusCode)
	}

	return fmt.Errorf("unexpected status %s", resp.Status)
}
