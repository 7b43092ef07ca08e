package clients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RedeemRequest is the body of POST /redeem.
type RedeemRequest struct {
	VAA string `json:"vaa"` // hex, no 0x prefix
}

type RedeemResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// RedeemRefusedError is returned when the redemption service answered but
// did not redeem the VAA.
type RedeemRefusedError struct {
	Reason    string
	Signature string
}

func (e *RedeemRefusedError) Error() string {
	return fmt.Sprintf("redemption service refused VAA: %s", e.Reason)
}

// RedeemServiceClient posts VAAs to a service that verifies them on the
// Solana core bridge and completes the token bridge transfer. Posting a VAA
// takes several transactions (verify signatures, post VAA, complete), which
// the service runs on our behalf.
type RedeemServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRedeemServiceClient(logger *zap.Logger, baseURL string) *RedeemServiceClient {
	return &RedeemServiceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 180 * time.Second,
		},
		logger: logger.With(zap.String("component", "RedeemServiceClient")),
	}
}

// Redeem returns the signature of the completing transaction.
func (c *RedeemServiceClient) Redeem(ctx context.Context, vaaBytes []byte) (string, error) {
	c.logger.Debug("Sending VAA to redemption service", zap.Int("vaaLength", len(vaaBytes)))

	jsonData, err := json.Marshal(RedeemRequest{VAA: hex.EncodeToString(vaaBytes)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal redeem request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/redeem", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send redeem request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read redeem response: %w", err)
	}

	c.logger.Debug("Received response from redemption service",
		zap.Int("statusCode", resp.StatusCode))

	var response RedeemResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("failed to parse redeem response (status %d): %w (body: %s)", resp.StatusCode, err, string(body))
	}

	if !response.Success {
		reason := response.Error
		if reason == "" {
			reason = response.Message
		}
		if reason == "" {
			reason = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", &RedeemRefusedError{Reason: reason, Signature: response.Signature}
	}
	if response.Signature == "" {
		return "", fmt.Errorf("redemption service reported success without a signature")
	}

	c.logger.Info("VAA redeemed via service",
		zap.String("signature", response.Signature),
		zap.String("message", response.Message))

	return response.Signature, nil
}

// CheckHealth calls GET /health.
func (c *RedeemServiceClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("redemption service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}
