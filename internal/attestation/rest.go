package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"

	"github.com/wormhole-demo/bridge-relay/internal/transfer"
)

// signedVAAResponse is the guardian REST gateway body for /v1/signed_vaa.
// vaaBytes is base64, which encoding/json decodes into []byte.
type signedVAAResponse struct {
	VAABytes []byte `json:"vaaBytes"`
}

// gatewayError is the grpc-gateway error body.
type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RESTClient fetches signed VAAs from a guardian REST gateway, e.g.
// https://wormhole-v2-testnet-api.certus.one.
type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRESTClient(logger *zap.Logger, baseURL string, timeout time.Duration) *RESTClient {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &RESTClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With(zap.String("component", "RESTClient")),
	}
}

// Fetch performs one GET /v1/signed_vaa/{chain}/{emitter}/{sequence}.
func (c *RESTClient) Fetch(ctx context.Context, key transfer.AttestationKey) (Outcome, error) {
	url := fmt.Sprintf("%s/v1/signed_vaa/%d/%s/%d",
		c.baseURL, uint16(key.EmitterChain), key.EmitterAddress.String(), key.Sequence)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Outcome{}, &ServiceError{Code: codes.InvalidArgument, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{}, &ServiceError{Code: codes.Unavailable, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{}, &ServiceError{Code: codes.Unavailable, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	c.logger.Debug("Received response from guardian REST",
		zap.Stringer("key", key),
		zap.Int("statusCode", resp.StatusCode))

	if resp.StatusCode != http.StatusOK {
		code, message := restStatus(resp.StatusCode, body)
		return outcomeFor(Classify(code, message))
	}

	var parsed signedVAAResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Outcome{}, &ServiceError{Code: codes.DataLoss, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}
	if len(parsed.VAABytes) == 0 {
		return Outcome{}, &ServiceError{Code: codes.DataLoss, Message: "response carries no VAA bytes"}
	}

	attestation, err := Decode(key, parsed.VAABytes)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: Found, Attestation: attestation}, nil
}

// restStatus recovers the gRPC code behind a gateway error. The JSON body
// carries it when the gateway produced the response; otherwise the HTTP
// status is mapped back.
func restStatus(httpStatus int, body []byte) (codes.Code, string) {
	var gwErr gatewayError
	if err := json.Unmarshal(body, &gwErr); err == nil && gwErr.Code > 0 {
		return codes.Code(gwErr.Code), gwErr.Message
	}

	message := strings.TrimSpace(string(body))
	if message == "" {
		message = http.StatusText(httpStatus)
	}

	switch httpStatus {
	case http.StatusNotFound:
		return codes.NotFound, message
	case http.StatusBadRequest:
		return codes.InvalidArgument, message
	case http.StatusUnauthorized:
		return codes.Unauthenticated, message
	case http.StatusForbidden:
		return codes.PermissionDenied, message
	case http.StatusTooManyRequests:
		return codes.ResourceExhausted, message
	case http.StatusNotImplemented:
		return codes.Unimplemented, message
	case http.StatusServiceUnavailable:
		return codes.Unavailable, message
	case http.StatusGatewayTimeout:
		return codes.DeadlineExceeded, message
	default:
		if httpStatus >= 500 {
			return codes.Internal, message
		}
		return codes.Unknown, message
	}
}
