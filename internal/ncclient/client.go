// Package ncclient names the Node Controller RPC capability the core
// consumes (spec.md §6) and implements the per-call sandbox (C4) that
// every NC call runs inside: a bounded deadline, isolation from the
// caller's locks, and a hard cutoff on timeout.
//
// The NC client's transport and marshalling are explicitly out of scope
// (spec.md §1) — ncURL is composed from NodeRecord as
// "http://<host>:<port>/<service>", matching the original SOAP/HTTP stub,
// so the default Client here is a thin HTTP+JSON caller in the shape of
// the teacher's cluster.Proxy HTTP fallback path (internal/cluster/proxy.go
// forwardInvokeHTTP), not a reimplementation of NC wire semantics.
package ncclient

import (
	"context"
	"encoding/json"

	"github.com/oriys/cc/internal/domain"
)

// Client is the NC capability consumed by the core (spec.md §6).
type Client interface {
	DescribeResource(ctx context.Context, ncURL string, meta domain.Metadata) (*domain.NodeRecord, error)
	DescribeInstances(ctx context.Context, ncURL string, meta domain.Metadata) ([]*domain.InstanceRecord, error)
	RunInstance(ctx context.Context, ncURL string, meta domain.Metadata, params domain.RunInstancesParams, idx int) (*domain.InstanceRecord, error)
	StartNetwork(ctx context.Context, ncURL string, meta domain.Metadata, vlan int) error
	TerminateInstance(ctx context.Context, ncURL string, meta domain.Metadata, instanceID string) error
	RebootInstance(ctx context.Context, ncURL string, meta domain.Metadata, instanceID string) error
	GetConsoleOutput(ctx context.Context, ncURL string, meta domain.Metadata, instanceID string) (string, error)
	AttachVolume(ctx context.Context, ncURL string, meta domain.Metadata, op domain.VolumeOp) error
	DetachVolume(ctx context.Context, ncURL string, meta domain.Metadata, op domain.VolumeOp) error
	PowerDown(ctx context.Context, ncURL string, meta domain.Metadata) error
}

// envelope is the wire shape of one NC call: verb name plus a JSON payload,
// mirroring the generic request/response pair the HTTP fallback in the
// teacher's proxy.go uses for "X-Nova-Forwarded" requests.
type envelope struct {
	Verb          string          `json:"verb"`
	CorrelationID string          `json:"correlation_id"`
	UserID        string          `json:"user_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}
