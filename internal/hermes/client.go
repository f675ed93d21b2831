// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hermes

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brettviren/generaldomo/internal/transport"
)

// ClientRuntime is the symmetric counterpart of WorkerRuntime: it sends
// [MDPC01][service][body...] and waits for the matching
// [MDPC01][service][body...] reply, with a configurable per-request
// timeout. The broker never sends an error frame for an unstaffed
// service, so a timeout here is the only signal of "nobody answered".
type ClientRuntime struct {
	flavor  transport.Flavor
	address string
	timeout time.Duration
	log     zerolog.Logger

	endpoint transport.Endpoint
}

// NewClientRuntime constructs a client runtime connected to a broker at
// address using the given transport flavor. timeout bounds how long
// Request waits for a reply before giving up.
func NewClientRuntime(flavor transport.Flavor, address string, timeout time.Duration, log zerolog.Logger) (*ClientRuntime, error) {
	identity := []byte(uuid.New().String())
	ep, err := transport.NewWorkerEndpoint(flavor, address, identity)
	if err != nil {
		return nil, fmt.Errorf("hermes: client connect: %w", err)
	}
	return &ClientRuntime{
		flavor:   flavor,
		address:  address,
		timeout:  timeout,
		log:      log,
		endpoint: ep,
	}, nil
}

// Close releases the underlying endpoint.
func (c *ClientRuntime) Close() error {
	return c.endpoint.Close()
}

// Request sends one request to service and waits up to the configured
// timeout for its reply. ErrTimeout is returned if no reply arrives in
// time; the request is not retried.
func (c *ClientRuntime) Request(service string, body ...[]byte) (transport.Frames, error) {
	if err := c.endpoint.SendClientish(BuildClientRequest(service, body...)); err != nil {
		return nil, fmt.Errorf("hermes: client send: %w", err)
	}

	ready, err := c.endpoint.Poll(c.timeout)
	if err != nil {
		return nil, fmt.Errorf("hermes: client poll: %w", err)
	}
	if !ready {
		return nil, ErrTimeout
	}

	frames, err := c.endpoint.RecvClientish()
	if err != nil {
		return nil, fmt.Errorf("hermes: client recv: %w", err)
	}

	header, rest, err := ParseHeader(frames)
	if err != nil {
		return nil, fmt.Errorf("hermes: client recv: %w", err)
	}
	if header != ClientHeader {
		return nil, fmt.Errorf("hermes: client recv: unexpected header %q", header)
	}

	replyService, replyBody, err := ParseClientRequest(rest)
	if err != nil {
		return nil, fmt.Errorf("hermes: client recv: %w", err)
	}
	if replyService != service {
		c.log.Warn().Str("requested", service).Str("got", replyService).Msg("reply service name mismatch")
	}

	return replyBody, nil
}

// ErrTimeout is returned by Request when no reply arrives within the
// configured timeout.
var ErrTimeout = fmt.Errorf("hermes: request timed out waiting for reply")
