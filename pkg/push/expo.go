package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const expoBatchSize = 100

// ExpoClient sends notifications through the Expo push gateway.
type ExpoClient struct {
	apiURL      string
	accessToken string
	httpClient  *http.Client
	logger      zerolog.Logger
}

// ExpoConfig configures the Expo client.
type ExpoConfig struct {
	APIURL      string
	AccessToken string
	Timeout     time.Duration
}

// NewExpoClient creates an Expo push client.
func NewExpoClient(cfg ExpoConfig, logger zerolog.Logger) *ExpoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ExpoClient{
		apiURL:      cfg.APIURL,
		accessToken: cfg.AccessToken,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger.With().Str("component", "expo_push").Logger(),
	}
}

// IsExpoToken reports whether the token has the Expo push token shape.
func IsExpoToken(token string) bool {
	return strings.HasPrefix(token, "ExponentPushToken[") && strings.HasSuffix(token, "]")
}

type expoResponse struct {
	Data []Ticket `json:"data"`
}

// Send posts the messages in provider-sized batches and collects tickets.
// Tokens that do not look like Expo tokens are skipped.
func (c *ExpoClient) Send(ctx context.Context, messages []Message) ([]Ticket, error) {
	valid := make([]Message, 0, len(messages))
	for _, message := range messages {
		if !IsExpoToken(message.Token) {
			c.logger.Warn().Str("token", message.Token).Msg("skipping non-expo push token")
			continue
		}
		valid = append(valid, message)
	}

	tickets := make([]Ticket, 0, len(valid))
	for start := 0; start < len(valid); start += expoBatchSize {
		end := start + expoBatchSize
		if end > len(valid) {
			end = len(valid)
		}

		chunk, err := c.sendChunk(ctx, valid[start:end])
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, chunk...)
	}

	return tickets, nil
}

func (c *ExpoClient) sendChunk(ctx context.Context, messages []Message) ([]Ticket, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("push gateway returned status %d", resp.StatusCode)
	}

	var decoded expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode push response: %w", err)
	}

	return decoded.Data, nil
}
