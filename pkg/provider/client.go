package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// QuoteDeadline is how far in the future the deposit deadline of a requested
// quote is placed.
const QuoteDeadline = 24 * time.Hour

var (
	// MaxNumOfFailingRequests and FailingRatio tune when the client's
	// circuit breaker trips and provider calls start failing fast.
	MaxNumOfFailingRequests = 10
	FailingRatio            = 0.6
)

// APIError is a non-2xx provider response with the HTTP status and the
// provider's message preserved.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Client wraps the 1Click SDK: one call, one request/response, no state
// beyond the authenticated context and the circuit breaker.
type Client struct {
	client *oneclick.APIClient
	ctx    context.Context
	cb     *gobreaker.CircuitBreaker
}

// NewClient creates an authenticated 1Click API client.
func NewClient(jwtToken string) *Client {
	config := oneclick.NewConfiguration()
	ctx := context.WithValue(context.Background(), oneclick.ContextAccessToken, jwtToken)

	return &Client{
		client: oneclick.NewAPIClient(config),
		ctx:    ctx,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "oneclick",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return int(counts.Requests) > MaxNumOfFailingRequests && ratio >= FailingRatio
			},
		}),
	}
}

// GetSupportedTokens retrieves all tokens the provider can swap.
func (c *Client) GetSupportedTokens() ([]oneclick.TokenResponse, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		resp, httpResp, err := c.client.OneClickAPI.GetTokens(c.ctx).Execute()
		if err != nil {
			return nil, fmt.Errorf("failed to get tokens: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: httpResp.StatusCode, Message: "unexpected response"}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]oneclick.TokenResponse), nil
}

// FindTokenOnChain searches for a token by symbol on a specific chain.
func (c *Client) FindTokenOnChain(symbol, chain string) (*oneclick.TokenResponse, error) {
	tokens, err := c.GetSupportedTokens()
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)
	chain = strings.ToLower(chain)

	for _, token := range tokens {
		if strings.ToUpper(token.GetSymbol()) == symbol &&
			strings.ToLower(token.GetBlockchain()) == chain {
			return &token, nil
		}
	}

	return nil, fmt.Errorf("token '%s' not found on chain '%s'", symbol, chain)
}

// GetQuote requests a swap quote with a real deposit address.
func (c *Client) GetQuote(req *SwapRequest) (*Quote, error) {
	sourceToken, err := c.FindTokenOnChain(req.SourceToken, req.SourceChain)
	if err != nil {
		return nil, fmt.Errorf("source token error: %w", err)
	}
	destToken, err := c.FindTokenOnChain(req.DestToken, req.DestChain)
	if err != nil {
		return nil, fmt.Errorf("destination token error: %w", err)
	}

	amountFloat, err := strconv.ParseFloat(req.Amount, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}
	smallestUnit := amountFloat * math.Pow(10, float64(sourceToken.GetDecimals()))
	amountStr := fmt.Sprintf("%.0f", smallestUnit)

	if req.RecipientAddr == "" {
		return nil, fmt.Errorf("recipient address is required")
	}
	refundTo := req.RefundAddr
	if refundTo == "" {
		refundTo = req.RecipientAddr
	}

	deadline := time.Now().Add(QuoteDeadline)

	quoteReq := oneclick.NewQuoteRequest(
		false,                    // dry - false to get a real deposit address
		"EXACT_INPUT",            // swapType
		100,                      // slippageTolerance (1%)
		sourceToken.GetAssetId(), // originAsset
		"ORIGIN_CHAIN",           // depositType
		destToken.GetAssetId(),   // destinationAsset
		amountStr,                // amount in smallest unit
		refundTo,                 // refundTo
		"ORIGIN_CHAIN",           // refundType
		req.RecipientAddr,        // recipient
		"DESTINATION_CHAIN",      // recipientType
		deadline,                 // deadline
	)

	res, err := c.cb.Execute(func() (interface{}, error) {
		resp, httpResp, err := c.client.OneClickAPI.GetQuote(c.ctx).QuoteRequest(*quoteReq).Execute()
		if err != nil {
			if httpResp != nil {
				defer httpResp.Body.Close()
				return nil, apiErrorFromResponse(httpResp, err)
			}
			return nil, fmt.Errorf("failed to get quote from API: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
			return nil, &APIError{StatusCode: httpResp.StatusCode, Message: "unexpected response"}
		}
		if resp == nil {
			return nil, fmt.Errorf("empty quote response")
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	quote := res.(*oneclick.QuoteResponse).GetQuote()
	return &Quote{
		DepositAddress:     quote.GetDepositAddress(),
		DepositMemo:        quote.GetDepositMemo(),
		AmountInFormatted:  quote.GetAmountInFormatted(),
		AmountOutFormatted: quote.GetAmountOutFormatted(),
		TimeEstimateSec:    float64(quote.GetTimeEstimate()),
		Deadline:           deadline,
	}, nil
}

// GetSwapStatus looks up the execution status of a swap by its deposit
// address and returns a fresh snapshot.
func (c *Client) GetSwapStatus(depositAddress string) (*StatusSnapshot, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		resp, httpResp, err := c.client.OneClickAPI.GetExecutionStatus(c.ctx).DepositAddress(depositAddress).Execute()
		if err != nil {
			if httpResp != nil {
				defer httpResp.Body.Close()
				return nil, apiErrorFromResponse(httpResp, err)
			}
			return nil, fmt.Errorf("failed to get status: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: httpResp.StatusCode, Message: "unexpected response"}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}

	status := res.(*oneclick.GetExecutionStatusResponse)
	details := status.GetSwapDetails()

	snapshot := &StatusSnapshot{
		Status:    Status(strings.ToUpper(status.GetStatus())),
		UpdatedAt: status.GetUpdatedAt(),
	}
	if details.HasAmountInFormatted() {
		snapshot.AmountIn = details.GetAmountInFormatted()
	}
	if details.HasAmountOutFormatted() {
		snapshot.AmountOut = details.GetAmountOutFormatted()
	}
	for _, tx := range details.GetOriginChainTxHashes() {
		if hash := tx.GetHash(); hash != "" {
			snapshot.OriginTxHashes = append(snapshot.OriginTxHashes, hash)
		}
	}
	for _, tx := range details.GetDestinationChainTxHashes() {
		if hash := tx.GetHash(); hash != "" {
			snapshot.DestTxHashes = append(snapshot.DestTxHashes, hash)
		}
	}

	return snapshot, nil
}

// SubmitDepositTx reports the deposit transaction hash for a quoted swap so
// the provider can pick it up faster.
func (c *Client) SubmitDepositTx(depositAddress, txHash string) error {
	req := oneclick.NewSubmitDepositTxRequest(depositAddress, txHash)

	_, err := c.cb.Execute(func() (interface{}, error) {
		_, httpResp, err := c.client.OneClickAPI.SubmitDepositTx(c.ctx).SubmitDepositTxRequest(*req).Execute()
		if err != nil {
			if httpResp != nil {
				defer httpResp.Body.Close()
				return nil, apiErrorFromResponse(httpResp, err)
			}
			return nil, fmt.Errorf("failed to submit deposit: %w", err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusCreated {
			return nil, &APIError{StatusCode: httpResp.StatusCode, Message: "unexpected response"}
		}
		return nil, nil
	})
	return err
}

// apiErrorFromResponse extracts the provider's error message from a failed
// response body, falling back to the transport error.
func apiErrorFromResponse(httpResp *http.Response, cause error) error {
	bodyBytes, readErr := io.ReadAll(httpResp.Body)
	if readErr != nil || len(bodyBytes) == 0 {
		return fmt.Errorf("API request failed (status %d): %w", httpResp.StatusCode, cause)
	}

	var errorResp map[string]interface{}
	if jsonErr := json.Unmarshal(bodyBytes, &errorResp); jsonErr == nil {
		if message, ok := errorResp["message"].(string); ok {
			return &APIError{StatusCode: httpResp.StatusCode, Message: message}
		}
		if errors, ok := errorResp["errors"]; ok {
			return &APIError{StatusCode: httpResp.StatusCode, Message: fmt.Sprintf("%v", errors)}
		}
	}

	log.WithField("status", httpResp.StatusCode).Debug("provider returned an unparseable error body")
	return &APIError{StatusCode: httpResp.StatusCode, Message: string(bodyBytes)}
}
