// Package butler is the HTTP client for the Butler game server.
package butler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"butlermarket/agent/internal/ledger"
)

const letterDateLayout = "2006-01-02 15:04"

type Client struct {
	BaseURL string
	Alias   string
	HTTP    *http.Client
	Now     func() time.Time
}

// Letter is the wire body of POST /carta.
type Letter struct {
	Sender    string `json:"remi"`
	Recipient string `json:"dest"`
	Subject   string `json:"asunto"`
	Body      string `json:"cuerpo"`
	ID        string `json:"id"`
	Date      string `json:"fecha"`
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("butler %s /%s failed (status %d)", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// New accepts either "host:port" or a full URL.
func New(address, alias string, timeout time.Duration) *Client {
	base := strings.TrimRight(strings.TrimSpace(address), "/")
	if base != "" && !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: base,
		Alias:   strings.TrimSpace(alias),
		HTTP:    &http.Client{Timeout: timeout},
		Now:     time.Now,
	}
}

// Register claims the alias. The server answers 403 when the alias is
// already taken by this agent, which is treated as success.
func (c *Client) Register(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, "alias/"+url.PathEscape(c.Alias), nil)
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
		return nil
	}
	return err
}

func (c *Client) Info(ctx context.Context) (Info, error) {
	body, err := c.do(ctx, http.MethodGet, "info", nil)
	if err != nil {
		return Info{}, err
	}
	return ParseInfo(body), nil
}

func (c *Client) People(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, "gente", nil)
	if err != nil {
		return nil, err
	}
	return ParsePeople(body), nil
}

func (c *Client) SendLetter(ctx context.Context, recipient, subject, body string) error {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	letter := Letter{
		Sender:    c.Alias,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		ID:        uuid.NewString()[:8],
		Date:      now().Format(letterDateLayout),
	}
	_, err := c.do(ctx, http.MethodPost, "carta", letter)
	return err
}

func (c *Client) SendPackage(ctx context.Context, recipient string, resources ledger.Resources) error {
	_, err := c.do(ctx, http.MethodPost, "paquete/"+url.PathEscape(recipient), resources)
	return err
}

func (c *Client) DeleteMail(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "mail/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(body)
	}

	endpoint := c.BaseURL + "/" + path + "?" + url.Values{"agente": {c.Alias}}.Encode()
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
			se.Body = strings.TrimSpace(string(body))
		}
		return nil, se
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}
