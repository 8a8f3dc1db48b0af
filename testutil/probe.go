package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// VersionReport describes a single /version answer as seen from outside.
type VersionReport struct {
	Status   int
	Pool     string
	Release  string
	Message  string
	Body     string
	Latency  time.Duration
	TimedOut bool
}

// Healthy reports whether the backend answered normally.
func (r VersionReport) Healthy() bool {
	return !r.TimedOut && r.Status == http.StatusOK && r.Pool != ""
}

func (r VersionReport) String() string {
	if r.TimedOut {
		return fmt.Sprintf("timeout after %s", r.Latency.Round(time.Millisecond))
	}
	return fmt.Sprintf("status=%d pool=%s release=%s latency=%s",
		r.Status, r.Pool, r.Release, r.Latency.Round(time.Millisecond))
}

// ProbeVersion issues GET <baseURL>/version and reports who answered. A
// client-side timeout is not an error; it is reported with TimedOut set.
func ProbeVersion(ctx context.Context, baseURL string, timeout time.Duration) (VersionReport, error) {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/version", nil)
	if err != nil {
		return VersionReport{}, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return VersionReport{Latency: time.Since(start), TimedOut: true}, nil
		}
		return VersionReport{}, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return VersionReport{}, fmt.Errorf("read error: %w", err)
	}

	report := VersionReport{
		Status:  resp.StatusCode,
		Pool:    resp.Header.Get("X-App-Pool"),
		Release: resp.Header.Get("X-Release-Id"),
		Body:    string(body),
		Latency: time.Since(start),
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var payload struct {
			Pool    string `json:"pool"`
			Release string `json:"release"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return report, fmt.Errorf("decode body: %w", err)
		}
		report.Message = payload.Message
		if payload.Pool != report.Pool || payload.Release != report.Release {
			return report, fmt.Errorf("header/body mismatch: headers %s/%s, body %s/%s",
				report.Pool, report.Release, payload.Pool, payload.Release)
		}
	}
	return report, nil
}
