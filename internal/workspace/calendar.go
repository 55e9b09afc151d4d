package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const defaultCalendarID = "primary"

// Event is a calendar event as the rest of the codebase sees it: whole-day
// events carry bare dates with an inclusive End.
type Event struct {
	ID         string
	CalendarID string
	Title      string
	Start      string
	End        string
	AllDay     bool
	Attendees  []string
}

// EventRequest describes an event to create. For whole-day events Start and
// End are bare dates and End is inclusive; the client converts to the API's
// exclusive boundary on the wire.
type EventRequest struct {
	CalendarID string
	Title      string
	Start      string
	End        string
	AllDay     bool
	Attendees  []string
}

// CalendarClient talks to the workspace calendar service.
type CalendarClient struct {
	baseURL string
	client  *http.Client
}

// CalendarOption configures a CalendarClient.
type CalendarOption func(*CalendarClient)

// WithCalendarHTTPClient sets a custom HTTP client.
func WithCalendarHTTPClient(c *http.Client) CalendarOption {
	return func(cc *CalendarClient) { cc.client = c }
}

func NewCalendarClient(baseURL string, opts ...CalendarOption) *CalendarClient {
	c := &CalendarClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// -- calendar wire types --

type calEvent struct {
	ID         string   `json:"id,omitempty"`
	CalendarID string   `json:"calendar_id,omitempty"`
	Title      string   `json:"title"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
	AllDay     bool     `json:"all_day,omitempty"`
	Attendees  []string `json:"attendees,omitempty"`
}

type calListResponse struct {
	Events []calEvent `json:"events"`
}

// ListEvents returns events between start and end, both bare dates with end
// inclusive.
func (c *CalendarClient) ListEvents(ctx context.Context, token, calendarID, start, end string) ([]Event, error) {
	if calendarID == "" {
		calendarID = defaultCalendarID
	}
	endExclusive, err := ExclusiveEnd(end)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("start", start)
	q.Set("end", endExclusive)
	endpoint := fmt.Sprintf("%s/v1/calendars/%s/events?%s", c.baseURL, url.PathEscape(calendarID), q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, token)

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var listResp calListResponse
	if err := json.Unmarshal(body, &listResp); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}

	events := make([]Event, 0, len(listResp.Events))
	for _, e := range listResp.Events {
		events = append(events, c.fromWire(e))
	}
	return events, nil
}

// CreateEvent creates an event and returns it as stored, with whole-day ends
// already converted back to inclusive.
func (c *CalendarClient) CreateEvent(ctx context.Context, token string, req EventRequest) (*Event, error) {
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = defaultCalendarID
	}

	wire := calEvent{
		Title:     req.Title,
		Start:     req.Start,
		End:       req.End,
		AllDay:    req.AllDay,
		Attendees: req.Attendees,
	}
	if req.AllDay {
		endExclusive, err := ExclusiveEnd(req.End)
		if err != nil {
			return nil, err
		}
		wire.End = endExclusive
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/calendars/%s/events", c.baseURL, url.PathEscape(calendarID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(httpReq, token)

	body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}

	var created calEvent
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("unmarshal created event: %w", err)
	}
	event := c.fromWire(created)
	return &event, nil
}

// fromWire converts an API event, restoring the inclusive end on whole-day
// events.
func (c *CalendarClient) fromWire(e calEvent) Event {
	event := Event{
		ID:         e.ID,
		CalendarID: e.CalendarID,
		Title:      e.Title,
		Start:      e.Start,
		End:        e.End,
		AllDay:     e.AllDay,
		Attendees:  e.Attendees,
	}
	if e.AllDay {
		if inclusive, err := InclusiveEnd(e.End); err == nil {
			event.End = inclusive
		}
	}
	return event
}

func (c *CalendarClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apiError("calendar", resp.StatusCode, body)
	}
	return body, nil
}

func (c *CalendarClient) setHeaders(req *http.Request, token string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
}

func apiError(service string, status int, body []byte) error {
	var wrapper struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error != "" {
		return &APIError{Service: service, StatusCode: status, Message: wrapper.Error}
	}
	return &APIError{Service: service, StatusCode: status, Message: string(body)}
}
