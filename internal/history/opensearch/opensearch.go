// Package opensearch indexes history events as OpenSearch (or Elasticsearch)
// documents over the REST API.
package opensearch

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

	"github.com/loykin/keepr/internal/history"
)

// Options configure a Sink. URL is the cluster base URL including the
// scheme; Index defaults to "keepr-history".
type Options struct {
	URL      string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

// Sink POSTs one document per event to <URL>/<Index>/_doc.
type Sink struct {
	client   *http.Client
	endpoint string
	user     *url.Userinfo
}

// document is the indexed shape: flat fields and an @timestamp so the index
// works with dashboards without a custom mapping.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	App       string    `json:"app"`
	From      string    `json:"from"`
	Status    string    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	Restarts  int       `json:"restarts"`
	ExitCode  int       `json:"exit_code"`
	Error     string    `json:"error,omitempty"`
}

func New(o Options) *Sink {
	if o.Index == "" {
		o.Index = "keepr-history"
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	s := &Sink{
		client:   &http.Client{Timeout: o.Timeout},
		endpoint: strings.TrimRight(o.URL, "/") + "/" + url.PathEscape(o.Index) + "/_doc",
	}
	if o.Username != "" {
		s.user = url.UserPassword(o.Username, o.Password)
	}
	return s
}

func toDocument(e history.Event) document {
	return document{
		Timestamp: e.OccurredAt,
		Event:     string(e.Type),
		App:       e.Record.Name,
		From:      string(e.From),
		Status:    string(e.Record.Status),
		PID:       e.Record.PID,
		Restarts:  e.Record.Restarts,
		ExitCode:  e.Record.LastExitCode,
		Error:     e.Record.LastError,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(toDocument(e))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.user != nil {
		pw, _ := s.user.Password()
		req.SetBasicAuth(s.user.Username(), pw)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
