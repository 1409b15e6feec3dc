// Package tracker is the HTTP client for the EV charging tracker cloud API.
// All requests authenticate with a per-user API key sent in the x-api-key
// header; responses wrap their payload in a {"data": ...} envelope.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chargelog/chargelog/pkg/common"
	"github.com/chargelog/chargelog/pkg/log"
	"github.com/chargelog/chargelog/pkg/types"
)

// DefaultBaseURL is the production tracker API.
const DefaultBaseURL = "https://api.evtracker.cz/api/v1"

// Client talks to the tracker cloud API on behalf of one installation.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// New returns a Client for the given API key. An empty baseURL selects the
// production API.
func New(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		client:  common.HTTPClient(30 * time.Second),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
	}
}

// SessionPayload is the wire body for logging a session. Only the consumed
// energy is required; everything else is omitted when unset.
type SessionPayload struct {
	EnergyKWH     float64  `json:"energyConsumedKwh"`
	StartTime     string   `json:"startTime,omitempty"`
	EndTime       string   `json:"endTime,omitempty"`
	CarID         *int64   `json:"carId,omitempty"`
	Location      string   `json:"location,omitempty"`
	ExternalID    string   `json:"externalId,omitempty"`
	Provider      string   `json:"provider,omitempty"`
	EnergySource  string   `json:"energySource,omitempty"`
	RateType      string   `json:"rateType,omitempty"`
	PricePerKWH   *float64 `json:"pricePerKwhWithoutVat,omitempty"`
	VATPercentage *float64 `json:"vatPercentage,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) newGetRequest(ctx context.Context, endpoint string) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, "GET", u.String(), nil)
}

func (c *Client) newPostJSONRequest(ctx context.Context, endpoint string, data interface{}) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) doRequest(req *http.Request, dest interface{}) error {
	ctx := req.Context()
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	log.Ctx(ctx).DebugContext(ctx, "tracker api request",
		slog.String("method", req.Method), slog.String("url", req.URL.String()))

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{StatusCode: resp.StatusCode, Message: "invalid api key"}
	case resp.StatusCode == http.StatusForbidden:
		return &AuthError{StatusCode: resp.StatusCode, Message: "api key lacks required permissions"}
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := 60 * time.Second
		if s := resp.Header.Get("Retry-After"); s != "" {
			if secs, err := strconv.Atoi(s); err == nil {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{RetryAfter: retryAfter}
	case resp.StatusCode >= 500:
		body, _ := io.ReadAll(resp.Body)
		return &ServerError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if resp.StatusCode >= 400 {
		msg := "unknown error"
		if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
			msg = env.Error.Message
		} else if len(body) > 0 {
			msg = strings.TrimSpace(string(body))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, &env); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode tracker response",
			slog.Any("error", err), slog.String("body", string(body)))
		return err
	}
	if dest != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, dest); err != nil {
			return fmt.Errorf("failed to decode tracker result: %w", err)
		}
	}
	return nil
}

// Cars returns the user's registered vehicles.
func (c *Client) Cars(ctx context.Context) ([]types.Car, error) {
	req, err := c.newGetRequest(ctx, "/cars")
	if err != nil {
		return nil, err
	}

	var cars []types.Car
	if err := c.doRequest(req, &cars); err != nil {
		return nil, err
	}
	return cars, nil
}

// DefaultCar returns the user's default vehicle, or nil when none is set.
func (c *Client) DefaultCar(ctx context.Context) (*types.Car, error) {
	req, err := c.newGetRequest(ctx, "/cars/default")
	if err != nil {
		return nil, err
	}

	var car types.Car
	if err := c.doRequest(req, &car); err != nil {
		return nil, err
	}
	if car.ID == 0 {
		return nil, nil
	}
	return &car, nil
}

// State returns the aggregated statistics snapshot: last session, current
// month and year totals, and the car list.
func (c *Client) State(ctx context.Context) (types.TrackerState, error) {
	req, err := c.newGetRequest(ctx, "/homeassistant/state")
	if err != nil {
		return types.TrackerState{}, err
	}

	var st types.TrackerState
	if err := c.doRequest(req, &st); err != nil {
		return types.TrackerState{}, err
	}
	return st, nil
}

// LogSession records a charging session with full control over every field.
func (c *Client) LogSession(ctx context.Context, p SessionPayload) (*types.Session, error) {
	p.RateType = strings.ToUpper(p.RateType)
	p.EnergySource = strings.ToUpper(p.EnergySource)

	req, err := c.newPostJSONRequest(ctx, "/sessions", p)
	if err != nil {
		return nil, err
	}

	var s types.Session
	if err := c.doRequest(req, &s); err != nil {
		return nil, err
	}
	log.Ctx(ctx).DebugContext(ctx, "session logged",
		slog.Int64("sessionID", s.ID), slog.Float64("energyKWH", p.EnergyKWH))
	return &s, nil
}

// LogSessionSimple records a session letting the API fill in smart defaults
// (default car, estimated start time, "Home" location). Prices cannot be set
// on this endpoint.
func (c *Client) LogSessionSimple(ctx context.Context, p SessionPayload) (*types.Session, error) {
	p.RateType = strings.ToUpper(p.RateType)
	p.EnergySource = strings.ToUpper(p.EnergySource)
	p.Provider = ""
	p.PricePerKWH = nil
	p.VATPercentage = nil
	p.Notes = ""

	req, err := c.newPostJSONRequest(ctx, "/sessions/simple", p)
	if err != nil {
		return nil, err
	}

	var s types.Session
	if err := c.doRequest(req, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ValidateKey checks the API key by listing cars. Rejected keys and API
// errors return false; transport failures are returned so the caller can
// distinguish "bad key" from "tracker unreachable".
func (c *Client) ValidateKey(ctx context.Context) (bool, error) {
	_, err := c.Cars(ctx)
	if err == nil {
		return true, nil
	}
	if IsAuthError(err) {
		return false, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		log.Ctx(ctx).WarnContext(ctx, "api key validation error", slog.Any("error", err))
		return false, nil
	}
	return false, err
}
