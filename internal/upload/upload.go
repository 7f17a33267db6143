package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	appLog "pic2contact/internal/log"
	"pic2contact/internal/model"
)

const (
	// Path is the backend route that turns a photo into a calendar card.
	Path = "/get_ics_card/"

	FieldName = "photo"
	FileName  = "photo.jpg"

	// maxResponseBytes caps the calendar body we are willing to hold.
	maxResponseBytes = 4 << 20
)

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return "upload: backend returned " + e.Status
}

// Client posts photos to the contact extraction backend.
type Client struct {
	client  *http.Client
	baseURL string
}

// NewClient creates a Client for baseURL, e.g. "https://cards.example.com".
// A nil httpClient gets a default one with the given timeout.
func NewClient(baseURL string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		client:  httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Endpoint builds the request URL, appending coordinates when known.
func (c *Client) Endpoint(loc *model.Location) string {
	u := c.baseURL + Path
	if loc == nil {
		return u
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	return u + "?" + q.Encode()
}

// Send uploads the photo as multipart form data and returns the calendar
// text from the response body.
func (c *Client) Send(ctx context.Context, photo model.Photo, loc *model.Location) (string, error) {
	_, data, err := photo.Decode()
	if err != nil {
		return "", fmt.Errorf("upload: convert photo: %w", err)
	}

	body, contentType, err := multipartBody(data)
	if err != nil {
		return "", fmt.Errorf("upload: build form: %w", err)
	}

	endpoint := c.Endpoint(loc)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	appLog.Info("upload start", "url", redactURL(endpoint), "bytes", len(data), "has_location", loc != nil)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return "", &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	text, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return "", fmt.Errorf("upload: read response: %w", err)
	}
	if len(text) > maxResponseBytes {
		return "", errors.New("upload: response too large")
	}

	appLog.Info("upload success", "status", resp.StatusCode, "bytes", len(text))
	return string(text), nil
}

func multipartBody(data []byte) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(FieldName, FileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// redactURL keeps scheme, host and path but drops the query, which carries
// the user's coordinates.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable url)"
	}
	if u.RawQuery != "" {
		u.RawQuery = "(redacted)"
	}
	return u.String()
}
