// Package gateway sends outbound faxes.
package gateway

import (
	"context"
	"errors"
)

var (
	// ErrGatewayUnavailable covers transport failures and gateway side errors.
	ErrGatewayUnavailable = errors.New("fax gateway unavailable")
	// ErrInvalidDestination means the gateway will never accept the number.
	ErrInvalidDestination = errors.New("invalid fax destination")
)

// Metadata is printed on the gateway's own cover page when it adds one and is
// echoed back in logs.
type Metadata struct {
	ProviderRequestID string
	FromName          string
	ToName            string
	FileName          string
}

// Client submits a single PDF to a destination number and returns the
// gateway's job id. Delivery progress arrives later as status callbacks.
type Client interface {
	Submit(ctx context.Context, document []byte, destination string, meta Metadata) (string, error)
}
