package taplinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal tapline HTTP API client.
type Client struct {
	BaseURL string
	// ActorID is sent as X-Actor-Id and recorded in the audit trail.
	ActorID    string
	Source     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL: baseURL,
		ActorID: actorID,
		Source:  "DPS",
		Timeout: 10 * time.Second,
	}
}

type Categorisation struct {
	AbsenceType           string `json:"absence_type,omitempty"`
	AbsenceSubType        string `json:"absence_sub_type,omitempty"`
	AbsenceReasonCategory string `json:"absence_reason_category,omitempty"`
	AbsenceReason         string `json:"absence_reason"`
}

type Schedule struct {
	Start  string `json:"start"`
	Return string `json:"return"`
}

// Authorisation represents the API authorisation model (partial).
type Authorisation struct {
	ID               string         `json:"id"`
	PersonIdentifier string         `json:"person_identifier"`
	PrisonCode       string         `json:"prison_code"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	Repeat           bool           `json:"repeat"`
	Categorisation   Categorisation `json:"categorisation"`
	Accompaniment    string         `json:"accompaniment,omitempty"`
	Transport        string         `json:"transport,omitempty"`
	Comments         string         `json:"comments,omitempty"`
	Status           string         `json:"status"`
	Schedule         *Schedule      `json:"schedule,omitempty"`
	Version          int            `json:"version"`
}

type CreateAuthorisation struct {
	PersonIdentifier string         `json:"person_identifier"`
	PrisonCode       string         `json:"prison_code"`
	Start            time.Time      `json:"start"`
	End              time.Time      `json:"end"`
	Repeat           bool           `json:"repeat,omitempty"`
	Categorisation   Categorisation `json:"categorisation"`
	Accompaniment    string         `json:"accompaniment,omitempty"`
	Transport        string         `json:"transport,omitempty"`
	Comments         string         `json:"comments,omitempty"`
	Schedule         *Schedule      `json:"schedule,omitempty"`
	Location         string         `json:"location,omitempty"`
}

// Occurrence represents one scheduled absence.
type Occurrence struct {
	ID               string     `json:"id"`
	AuthorisationID  string     `json:"authorisation_id"`
	PersonIdentifier string     `json:"person_identifier"`
	Start            time.Time  `json:"start"`
	End              time.Time  `json:"end"`
	Location         string     `json:"location,omitempty"`
	Status           string     `json:"status"`
	Version          int        `json:"version"`
	Movements        []Movement `json:"movements,omitempty"`
}

type Movement struct {
	ID               string    `json:"id"`
	OccurrenceID     string    `json:"occurrence_id,omitempty"`
	PersonIdentifier string    `json:"person_identifier"`
	Direction        string    `json:"direction"`
	OccurredAt       time.Time `json:"occurred_at"`
	AbsenceReason    string    `json:"absence_reason,omitempty"`
	Location         string    `json:"location,omitempty"`
	PrisonCode       string    `json:"prison_code"`
}

// Event represents an outbox entry.
type Event struct {
	ID               int64     `json:"id"`
	EventID          string    `json:"event_id"`
	Type             string    `json:"type"`
	OccurredAt       time.Time `json:"occurred_at"`
	PersonIdentifier string    `json:"person_identifier"`
	EntityID         string    `json:"entity_id"`
	Source           string    `json:"source"`
	Published        bool      `json:"published"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// CreateAuthorisation creates an authorisation.
func (c *Client) CreateAuthorisation(ctx context.Context, req CreateAuthorisation) (Authorisation, error) {
	var resp Authorisation
	err := c.do(ctx, http.MethodPost, "authorisations", req, &resp)
	return resp, err
}

// GetAuthorisation fetches an authorisation by id.
func (c *Client) GetAuthorisation(ctx context.Context, id string) (Authorisation, error) {
	var resp Authorisation
	err := c.do(ctx, http.MethodGet, "authorisations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Transition applies approve, deny, cancel or defer.
func (c *Client) Transition(ctx context.Context, id, verb, reason string) (Authorisation, error) {
	switch verb {
	case "approve", "deny", "cancel", "defer":
	default:
		return Authorisation{}, fmt.Errorf("unknown transition %q", verb)
	}
	var resp Authorisation
	endpoint := fmt.Sprintf("authorisations/%s/%s", url.PathEscape(id), verb)
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &resp)
	return resp, err
}

// ListOccurrences returns the occurrences of an authorisation.
func (c *Client) ListOccurrences(ctx context.Context, authorisationID string) ([]Occurrence, error) {
	var resp []Occurrence
	endpoint := fmt.Sprintf("authorisations/%s/occurrences", url.PathEscape(authorisationID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GenerateOccurrences materialises a repeat authorisation's schedule in [from, to].
func (c *Client) GenerateOccurrences(ctx context.Context, authorisationID string, from, to time.Time) ([]Occurrence, error) {
	var resp []Occurrence
	endpoint := fmt.Sprintf("authorisations/%s/occurrences/generate", url.PathEscape(authorisationID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"from": from, "to": to}, &resp)
	return resp, err
}

// GetOccurrence fetches an occurrence with its movements.
func (c *Client) GetOccurrence(ctx context.Context, id string) (Occurrence, error) {
	var resp Occurrence
	err := c.do(ctx, http.MethodGet, "occurrences/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// RecordMovement records a departure (OUT) or return (IN).
func (c *Client) RecordMovement(ctx context.Context, m Movement) (Movement, error) {
	var resp Movement
	err := c.do(ctx, http.MethodPost, "movements", m, &resp)
	return resp, err
}

// Events lists recent outbox events, newest first.
func (c *Client) Events(ctx context.Context, eventType, entityID string, limit int) ([]Event, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if entityID != "" {
		q.Set("entity_id", entityID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	if c.Source != "" {
		req.Header.Set("X-Source", c.Source)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}
