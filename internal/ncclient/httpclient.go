package ncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oriys/cc/internal/domain"
)

// HTTPClient is the default Client implementation: one JSON POST per verb
// to "<ncURL>/<verb>", adapted from the teacher's cluster.Proxy HTTP
// fallback path. Real deployments plug in whatever the NC's actual stub
// requires; that marshalling/transport is out of scope (spec.md §1) — this
// is the transport cmd/cc's daemon uses for its NC calls.
type HTTPClient struct {
	http *http.Client
}

// NewHTTPClient creates an HTTP-based NC client with the given per-request
// timeout as a client-side ceiling; the sandbox applies its own, tighter,
// per-call deadline via the context.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{http: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) call(ctx context.Context, ncURL, verb string, meta domain.Metadata, payload any, out any) error {
	var body []byte
	var err error
	if payload != nil {
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", verb, err)
		}
	}

	env := envelope{Verb: verb, CorrelationID: meta.CorrelationID, UserID: meta.UserID, Payload: body}
	reqBody, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	target := strings.TrimRight(ncURL, "/") + "/" + verb
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nc call %s: %w", verb, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read nc response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("nc call %s failed (status %d): %s", verb, resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

func (c *HTTPClient) DescribeResource(ctx context.Context, ncURL string, meta domain.Metadata) (*domain.NodeRecord, error) {
	var out domain.NodeRecord
	if err := c.call(ctx, ncURL, "ncDescribeResource", meta, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) DescribeInstances(ctx context.Context, ncURL string, meta domain.Metadata) ([]*domain.InstanceRecord, error) {
	var out []*domain.InstanceRecord
	if err := c.call(ctx, ncURL, "ncDescribeInstances", meta, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *HTTPClient) RunInstance(ctx context.Context, ncURL string, meta domain.Metadata, params domain.RunInstancesParams, idx int) (*domain.InstanceRecord, error) {
	var out domain.InstanceRecord
	req := struct {
		Params domain.RunInstancesParams `json:"params"`
		Index  int                       `json:"index"`
	}{params, idx}
	if err := c.call(ctx, ncURL, "ncRunInstance", meta, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) StartNetwork(ctx context.Context, ncURL string, meta domain.Metadata, vlan int) error {
	return c.call(ctx, ncURL, "ncStartNetwork", meta, struct {
		VLAN int `json:"vlan"`
	}{vlan}, nil)
}

func (c *HTTPClient) TerminateInstance(ctx context.Context, ncURL string, meta domain.Metadata, instanceID string) error {
	return c.call(ctx, ncURL, "ncTerminateInstance", meta, struct {
		InstanceID string `json:"instance_id"`
	}{instanceID}, nil)
}

func (c *HTTPClient) RebootInstance(ctx context.Context, ncURL string, meta domain.Metadata, instanceID string) error {
	return c.call(ctx, ncURL, "ncRebootInstance", meta, struct {
		InstanceID string `json:"instance_id"`
	}{instanceID}, nil)
}

func (c *HTTPClient) GetConsoleOutput(ctx context.Context, ncURL string, meta domain.Metadata, instanceID string) (string, error) {
	var out struct {
		Output string `json:"output"`
	}
	if err := c.call(ctx, ncURL, "ncGetConsoleOutput", meta, struct {
		InstanceID string `json:"instance_id"`
	}{instanceID}, &out); err != nil {
		return "", err
	}
	return out.Output, nil
}

func (c *HTTPClient) AttachVolume(ctx context.Context, ncURL string, meta domain.Metadata, op domain.VolumeOp) error {
	return c.call(ctx, ncURL, "ncAttachVolume", meta, op, nil)
}

func (c *HTTPClient) DetachVolume(ctx context.Context, ncURL string, meta domain.Metadata, op domain.VolumeOp) error {
	return c.call(ctx, ncURL, "ncDetachVolume", meta, op, nil)
}

func (c *HTTPClient) PowerDown(ctx context.Context, ncURL string, meta domain.Metadata) error {
	return c.call(ctx, ncURL, "ncPowerDown", meta, nil, nil)
}
