// The `caldav` package speaks WebDAV/CalDAV to remote calendar servers:
// collection discovery, time-range REPORT queries, Basic auth. It never
// retries on its own; retry policy belongs to the sync orchestrator.
package caldav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/emersion/go-webdav/caldav"
)

const defaultTimeout = 30 * time.Second

// Client fetches calendar objects from CalDAV endpoints. One Client is safe
// for concurrent use; each fetch builds its own authenticated HTTP client.
type Client struct {
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{timeout: timeout}
}

// basicAuthTransport adds Basic Auth to HTTP requests and remembers the
// worst HTTP status the remote answered with, so errors bubbling out of the
// webdav client can be classified afterwards.
type basicAuthTransport struct {
	username string
	password string

	mu         sync.Mutex
	lastStatus int
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" || t.password != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	resp, err := http.DefaultTransport.RoundTrip(req)
	if err == nil && resp.StatusCode >= 400 {
		t.mu.Lock()
		t.lastStatus = resp.StatusCode
		t.mu.Unlock()
	}
	return resp, err
}

func (t *basicAuthTransport) status() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastStatus
}

// FetchObjects returns every calendar object of the collection(s) behind
// endpointURL whose events intersect [from, to). The URL may point at a
// single calendar collection or at a discoverable principal; both work.
func (c *Client) FetchObjects(ctx context.Context, endpointURL string, creds Credentials, from, to time.Time) ([]RemoteObject, error) {
	endpoint, err := url.ParseRequestURI(endpointURL)
	if err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("can't parse source URL: %w", err)}
	}

	transport := &basicAuthTransport{
		username: creds.Username,
		password: creds.Password,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
	}
	client, err := caldav.NewClient(httpClient, endpointURL)
	if err != nil {
		return nil, &ProtocolError{Err: fmt.Errorf("can't create CalDAV client: %w", err)}
	}

	paths, err := c.collectionPaths(ctx, client, transport, endpoint.Path)
	if err != nil {
		return nil, err
	}

	objects := make([]RemoteObject, 0)
	for _, path := range paths {
		pathObjects, err := c.queryCollection(ctx, client, transport, path, from, to)
		if err != nil {
			return nil, err
		}
		objects = append(objects, pathObjects...)
	}

	return objects, nil
}

// Resolve the endpoint to one or more calendar collection paths. A PROPFIND
// on the endpoint itself finds it when it already is a collection; otherwise
// walk principal -> calendar home set -> calendars.
func (c *Client) collectionPaths(ctx context.Context, client *caldav.Client, transport *basicAuthTransport, endpointPath string) ([]string, error) {
	if calendars, err := client.FindCalendars(ctx, endpointPath); err == nil && len(calendars) > 0 {
		paths := make([]string, 0, len(calendars))
		for _, calendar := range calendars {
			paths = append(paths, calendar.Path)
		}
		return paths, nil
	} else if err != nil {
		// auth failures won't get better further down the discovery walk
		classified := classify(transport, err)
		var authErr *AuthError
		if errors.As(classified, &authErr) {
			return nil, classified
		}
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		// not a principal either; treat the endpoint itself as the collection
		// and let the query surface whatever is actually wrong
		return []string{endpointPath}, nil
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return nil, classify(transport, fmt.Errorf("can't find calendar home set: %w", err))
	}
	calendars, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return nil, classify(transport, fmt.Errorf("can't list calendars: %w", err))
	}
	if len(calendars) == 0 {
		return nil, &ProtocolError{Err: fmt.Errorf("principal %q has no calendar collections", principal)}
	}

	paths := make([]string, 0, len(calendars))
	for _, calendar := range calendars {
		paths = append(paths, calendar.Path)
	}
	return paths, nil
}

// Issue a time-range calendar-query REPORT. Servers that reject the
// time-range filter get one unbounded query instead; the window is still
// enforced client-side before anything reaches the parser.
func (c *Client) queryCollection(ctx context.Context, client *caldav.Client, transport *basicAuthTransport, path string, from, to time.Time) ([]RemoteObject, error) {
	query := &caldav.CalendarQuery{
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: from.UTC(),
					End:   to.UTC(),
				},
			},
		},
	}

	calendarObjects, err := client.QueryCalendar(ctx, path, query)
	if err != nil {
		classified := classify(transport, err)
		var protoErr *ProtocolError
		if !errors.As(classified, &protoErr) {
			// auth and network failures won't be fixed by dropping the filter
			return nil, classified
		}

		// fallback: full-collection query without the time-range filter
		fallback := &caldav.CalendarQuery{
			CompFilter: caldav.CompFilter{
				Name:  "VCALENDAR",
				Comps: []caldav.CompFilter{{Name: "VEVENT"}},
			},
		}
		calendarObjects, err = client.QueryCalendar(ctx, path, fallback)
		if err != nil {
			return nil, classify(transport, fmt.Errorf("calendar-query REPORT failed: %w", err))
		}
	}

	objects := make([]RemoteObject, 0, len(calendarObjects))
	for _, calendarObject := range calendarObjects {
		if calendarObject.Data == nil {
			continue
		}
		objects = append(objects, RemoteObject{
			Path:    calendarObject.Path,
			ETag:    calendarObject.ETag,
			ModTime: calendarObject.ModTime,
			Data:    calendarObject.Data,
		})
	}
	return objects, nil
}

// Sort a webdav failure into the transport error taxonomy using the HTTP
// status the remote last answered with.
func classify(transport *basicAuthTransport, err error) error {
	if err == nil {
		return nil
	}

	switch status := transport.status(); {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Status: status, Err: err}
	case status >= 500:
		return &NetworkError{Err: err}
	case status >= 400:
		return &ProtocolError{Status: status, Err: err}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &NetworkError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &NetworkError{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &NetworkError{Err: err}
	}

	// left: malformed multistatus XML and friends
	return &ProtocolError{Err: err}
}
