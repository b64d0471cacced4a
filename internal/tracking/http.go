package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"k8s.io/klog/v2"
)

var errSessionFinished = errors.New("tracking: session finished")

const defaultMaxElapsed = 2 * time.Minute

// HTTPSession posts run events as JSON to a tracking server:
//
//	POST <url>/runs                   {"id", "project"}
//	POST <url>/runs/<id>/config       config map
//	POST <url>/runs/<id>/history      {"step", "row"}
//	POST <url>/runs/<id>/summary      summary map
//	POST <url>/runs/<id>/finish       {}
//
// Transport failures and 5xx responses are retried with exponential backoff;
// 4xx responses fail immediately.
type HTTPSession struct {
	id         string
	base       string
	client     *http.Client
	maxElapsed time.Duration
	finished   bool
}

func newHTTPSession(ctx context.Context, id string, opts Options) (*HTTPSession, error) {
	s := &HTTPSession{
		id:         id,
		base:       strings.TrimRight(opts.URL, "/"),
		client:     opts.Client,
		maxElapsed: opts.MaxElapsed,
	}
	if s.client == nil {
		s.client = &http.Client{Timeout: 30 * time.Second}
	}
	if s.maxElapsed <= 0 {
		s.maxElapsed = defaultMaxElapsed
	}
	body := map[string]any{"id": id, "project": opts.Project}
	if err := s.post(ctx, "/runs", body); err != nil {
		return nil, fmt.Errorf("tracking: init run: %w", err)
	}
	return s, nil
}

func (s *HTTPSession) ID() string { return s.id }

func (s *HTTPSession) SetConfig(ctx context.Context, cfg map[string]any) error {
	return s.post(ctx, s.runPath("config"), cfg)
}

func (s *HTTPSession) Log(ctx context.Context, step int, row map[string]float64) error {
	if s.finished {
		return errSessionFinished
	}
	return s.post(ctx, s.runPath("history"), map[string]any{"step": step, "row": row})
}

func (s *HTTPSession) Summary(ctx context.Context, values map[string]float64) error {
	return s.post(ctx, s.runPath("summary"), values)
}

func (s *HTTPSession) Finish(ctx context.Context) error {
	if s.finished {
		return nil
	}
	s.finished = true
	return s.post(ctx, s.runPath("finish"), map[string]any{})
}

func (s *HTTPSession) runPath(event string) string {
	return "/runs/" + s.id + "/" + event
}

func (s *HTTPSession) post(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = s.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+path, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("%s: server returned %s", path, resp.Status)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("%s: server returned %s", path, resp.Status))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		klog.Warningf("tracking post=%s attempt=%d retry_in=%s err=%v", path, attempt, wait, err)
	}
	return backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify)
}
