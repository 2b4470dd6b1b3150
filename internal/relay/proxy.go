package relay

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
)

const (
	defaultProxyTimeout = 90 * time.Second
	maxUpstreamBody     = 1 << 20
)

// ErrUpstream wraps failures reported by the letter backend.
var ErrUpstream = errors.New("upstream cover letter request failed")

// Proxy forwards cover letter requests to a separate generation backend.
type Proxy struct {
	BaseURL string
	Client  *http.Client
}

// NewProxy returns nil when baseURL is empty.
func NewProxy(baseURL string) *Proxy {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil
	}
	return &Proxy{BaseURL: baseURL, Client: &http.Client{Timeout: defaultProxyTimeout}}
}

type coverLetterRequest struct {
	ResumeText string `json:"resume_text"`
	JobDesc    string `json:"job_desc"`
}

type coverLetterResponse struct {
	CoverLetter string `json:"cover_letter"`
}

// CoverLetter posts {resume_text, job_desc} to BaseURL/cover-letter.
func (p *Proxy) CoverLetter(ctx context.Context, resume, jobDesc string) (string, error) {
	body, err := json.Marshal(coverLetterRequest{ResumeText: resume, JobDesc: jobDesc})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/cover-letter", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	var out coverLetterResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if strings.TrimSpace(out.CoverLetter) == "" {
		return "", fmt.Errorf("%w: empty cover letter", ErrUpstream)
	}
	return out.CoverLetter, nil
}

// Ping checks the upstream /health endpoint.
func (p *Proxy) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream health status %d", resp.StatusCode)
	}
	return nil
}
