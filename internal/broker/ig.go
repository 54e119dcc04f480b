package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Client is a REST client for the connected brokerage's dealing API
// (modeled on IG's: session headers X-SECURITY-TOKEN/CST, a Version header
// on position endpoints). It implements Broker directly; production call
// sites wrap it with CircuitBreakerBroker and run its calls through
// retry.Do for resilience.
type Client struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	identifier string
	password   string
}

// NewClient creates a dealing API client. identifier/password are the login
// credentials exchanged for a Session by Login.
func NewClient(baseURL, apiKey, identifier, password string) *Client {
	return &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		identifier: identifier,
		password:   password,
	}
}

// WithHTTPClient overrides the underlying HTTP client, used by tests to
// point at an httptest.Server.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

type loginPayload struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	AccountInfo struct {
		Balance float64 `json:"balance"`
		Ccy     string  `json:"currencyIsoCode"`
	} `json:"accountInfo"`
}

// Login implements Broker. The session token pair (X-SECURITY-TOKEN, CST) is
// carried in response headers rather than the body, per the dealing API's
// convention.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	payload := loginPayload{Identifier: c.identifier, Password: c.password}

	var resp loginResponse
	headers, err := c.doJSONHeaders(ctx, http.MethodPost, "/session", "1", payload, &resp)
	if err != nil {
		return nil, err
	}

	return &Session{
		SecurityToken: headers.Get("X-SECURITY-TOKEN"),
		CST:           headers.Get("CST"),
		Balance: Balance{
			Amount: resp.AccountInfo.Balance,
			Ccy:    resp.AccountInfo.Ccy,
		},
	}, nil
}

// Logout implements Broker. It is best-effort: callers log a failure but do
// not fail the batch on it.
func (c *Client) Logout(ctx context.Context, sess *Session) error {
	_, err := c.doJSONHeadersSession(ctx, http.MethodDelete, "/session", "1", sess, nil, nil)
	return err
}

type searchMarketsResponse struct {
	Markets []struct {
		Epic           string `json:"epic"`
		InstrumentName string `json:"instrumentName"`
		InstrumentType string `json:"instrumentType"`
		Expiry         string `json:"expiry"`
	} `json:"markets"`
}

// SearchMarkets implements Broker.
func (c *Client) SearchMarkets(ctx context.Context, sess *Session, term string) ([]Market, error) {
	var resp searchMarketsResponse
	path := "/markets?searchTerm=" + term
	if _, err := c.doJSONHeadersSession(ctx, http.MethodGet, path, "1", sess, nil, &resp); err != nil {
		return nil, err
	}

	markets := make([]Market, 0, len(resp.Markets))
	for _, m := range resp.Markets {
		markets = append(markets, Market{
			Epic:           m.Epic,
			InstrumentName: m.InstrumentName,
			InstrumentType: m.InstrumentType,
			Expiry:         m.Expiry,
		})
	}
	return markets, nil
}

type createPositionPayload struct {
	Epic         string  `json:"epic"`
	Direction    string  `json:"direction"`
	Expiry       string  `json:"expiry"`
	OrderType    string  `json:"orderType"`
	Size         string  `json:"size"`
	TimeInForce  string  `json:"timeInForce"`
	CurrencyCode string  `json:"currencyCode"`
	StopDistance *float64 `json:"stopDistance,omitempty"`
}

type createPositionResponse struct {
	DealReference string `json:"dealReference"`
}

type confirmResponse struct {
	DealID    string `json:"dealId"`
	ErrorCode string `json:"reason"`
}

// CreatePosition implements Broker. It submits the order and confirms the
// deal reference in one blocking round trip; a non-empty ErrorCode means the
// broker rejected the deal outright (the executor does not settle the order
// in that case — it stays PENDING for human triage, per SPEC_FULL §7).
func (c *Client) CreatePosition(ctx context.Context, sess *Session, req CreatePositionRequest) (*Deal, error) {
	payload := createPositionPayload{
		Epic:         req.Epic,
		Direction:    strings.ToUpper(req.Direction),
		Expiry:       req.Expiry,
		OrderType:    req.OrderType,
		Size:         fmt.Sprintf("%g", req.Size),
		TimeInForce:  req.TimeInForce,
		CurrencyCode: req.Currency,
		StopDistance: req.StopDistance,
	}

	var placed createPositionResponse
	if _, err := c.doJSONHeadersSession(ctx, http.MethodPost, "/positions/otc", "2", sess, payload, &placed); err != nil {
		return nil, err
	}

	var confirm confirmResponse
	if _, err := c.doJSONHeadersSession(ctx, http.MethodGet, "/confirms/"+placed.DealReference, "1", sess, nil, &confirm); err != nil {
		return nil, err
	}

	return &Deal{
		DealReference: placed.DealReference,
		DealID:        confirm.DealID,
		ErrorCode:     confirm.ErrorCode,
	}, nil
}

type getPositionsResponse struct {
	Positions []struct {
		Position struct {
			DealID        string  `json:"dealId"`
			DealReference string  `json:"dealReference"`
			Direction     string  `json:"direction"`
			Size          float64 `json:"size"`
			Level         float64 `json:"level"`
			CreatedDate   string  `json:"createdDateUTC"`
		} `json:"position"`
		Market struct {
			Epic string `json:"epic"`
		} `json:"market"`
	} `json:"positions"`
}

// GetPositions implements Broker.
func (c *Client) GetPositions(ctx context.Context, sess *Session) ([]OpenPosition, error) {
	var resp getPositionsResponse
	if _, err := c.doJSONHeadersSession(ctx, http.MethodGet, "/positions", "2", sess, nil, &resp); err != nil {
		return nil, err
	}

	positions := make([]OpenPosition, 0, len(resp.Positions))
	for _, p := range resp.Positions {
		positions = append(positions, OpenPosition{
			DealID:        p.Position.DealID,
			DealReference: p.Position.DealReference,
			Epic:          p.Market.Epic,
			Direction:     p.Position.Direction,
			Size:          p.Position.Size,
			Level:         p.Position.Level,
			FillTime:      p.Position.CreatedDate,
		})
	}
	return positions, nil
}

// doJSONHeaders issues a request before a Session exists (login only) and
// returns the response headers alongside decoding the body.
func (c *Client) doJSONHeaders(ctx context.Context, method, path, version string, body, out interface{}) (http.Header, error) {
	return c.do(ctx, method, path, version, "", "", body, out)
}

// doJSONHeadersSession issues an authenticated request under sess.
func (c *Client) doJSONHeadersSession(ctx context.Context, method, path, version string, sess *Session, body, out interface{}) (http.Header, error) {
	return c.do(ctx, method, path, version, sess.SecurityToken, sess.CST, body, out)
}

func (c *Client) do(ctx context.Context, method, path, version, securityToken, cst string, body, out interface{}) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-IG-API-KEY", c.apiKey)
	req.Header.Set("Version", version)
	if securityToken != "" {
		req.Header.Set("X-SECURITY-TOKEN", securityToken)
	}
	if cst != "" {
		req.Header.Set("CST", cst)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("broker: failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrAuthExpired
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Status: resp.StatusCode, Body: string(data)}
	}

	if out != nil {
		dec := json.NewDecoder(resp.Body)
		if err := dec.Decode(out); err != nil && err != io.EOF {
			return nil, err
		}
	}
	return resp.Header, nil
}
