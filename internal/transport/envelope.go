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

package transport

import (
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// envelopeEndpoint implements the router/dealer flavor: the routing
// identity travels as an explicit leading frame, followed by an empty
// delimiter frame.
type envelopeEndpoint struct {
	ctx    *zmq.Context
	socket *zmq.Socket
	poller *zmq.Poller
	router bool // true for ROUTER (broker side), false for DEALER (worker/client side)
}

// NewRouterEndpoint binds a ROUTER socket for broker-side envelope-flavor
// traffic.
func NewRouterEndpoint(bindAddr string) (Endpoint, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transport: create zmq context: %w", err)
	}

	soc, err := ctx.NewSocket(zmq.ROUTER)
	if err != nil {
		return nil, fmt.Errorf("transport: create router socket: %w", err)
	}
	if err := soc.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set linger: %w", err)
	}
	if err := soc.Bind(bindAddr); err != nil {
		return nil, fmt.Errorf("transport: bind router socket to %s: %w", bindAddr, err)
	}

	poller := zmq.NewPoller()
	poller.Add(soc, zmq.POLLIN)

	return &envelopeEndpoint{ctx: ctx, socket: soc, poller: poller, router: true}, nil
}

// NewDealerEndpoint connects a DEALER socket for worker/client-side
// envelope-flavor traffic. When identity is non-empty it is set on the
// socket explicitly, so the broker sees a stable PeerId across
// reconnects instead of a fresh transport-assigned one each time.
func NewDealerEndpoint(connectAddr string, identity []byte) (Endpoint, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transport: create zmq context: %w", err)
	}

	soc, err := ctx.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, fmt.Errorf("transport: create dealer socket: %w", err)
	}
	if err := soc.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set linger: %w", err)
	}
	if len(identity) > 0 {
		if err := soc.SetIdentity(string(identity)); err != nil {
			return nil, fmt.Errorf("transport: set dealer identity: %w", err)
		}
	}
	if err := soc.Connect(connectAddr); err != nil {
		return nil, fmt.Errorf("transport: connect dealer socket to %s: %w", connectAddr, err)
	}

	poller := zmq.NewPoller()
	poller.Add(soc, zmq.POLLIN)

	return &envelopeEndpoint{ctx: ctx, socket: soc, poller: poller, router: false}, nil
}

func (e *envelopeEndpoint) RecvServerish() (PeerId, Frames, error) {
	if !e.router {
		return "", nil, fmt.Errorf("transport: RecvServerish called on a non-router envelope endpoint")
	}

	parts, err := e.socket.RecvMessageBytes(0)
	if err != nil {
		return "", nil, fmt.Errorf("transport: recv: %w", err)
	}
	if len(parts) < 2 {
		return "", nil, fmt.Errorf("transport: malformed envelope message (%d parts)", len(parts))
	}

	identity := NewPeerId(parts[0])
	delimiter := parts[1]
	if len(delimiter) != 0 {
		return "", nil, fmt.Errorf("transport: missing empty delimiter frame from %q", identity)
	}

	return identity, Frames(parts[2:]), nil
}

func (e *envelopeEndpoint) SendServerish(id PeerId, frames Frames) error {
	if !e.router {
		return fmt.Errorf("transport: SendServerish called on a non-router envelope endpoint")
	}

	parts := make([]interface{}, 0, len(frames)+2)
	parts = append(parts, id.Bytes(), []byte{})
	for _, f := range frames {
		parts = append(parts, f)
	}

	if _, err := e.socket.SendMessage(parts...); err != nil {
		return fmt.Errorf("transport: send to %q: %w", id, err)
	}
	return nil
}

func (e *envelopeEndpoint) RecvClientish() (Frames, error) {
	if e.router {
		return nil, fmt.Errorf("transport: RecvClientish called on a router envelope endpoint")
	}

	parts, err := e.socket.RecvMessageBytes(0)
	if err != nil {
		return nil, fmt.Errorf("transport: recv: %w", err)
	}
	if len(parts) < 1 {
		return nil, fmt.Errorf("transport: malformed envelope message (%d parts)", len(parts))
	}

	delimiter := parts[0]
	if len(delimiter) != 0 {
		return nil, fmt.Errorf("transport: missing empty delimiter frame")
	}

	return Frames(parts[1:]), nil
}

func (e *envelopeEndpoint) SendClientish(frames Frames) error {
	if e.router {
		return fmt.Errorf("transport: SendClientish called on a router envelope endpoint")
	}

	// Dealer send: prepend an empty delimiter frame to impersonate a
	// request-style peer.
	parts := make([]interface{}, 0, len(frames)+1)
	parts = append(parts, []byte{})
	for _, f := range frames {
		parts = append(parts, f)
	}

	if _, err := e.socket.SendMessage(parts...); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (e *envelopeEndpoint) Poll(timeout time.Duration) (bool, error) {
	polled, err := e.poller.Poll(timeout)
	if err != nil {
		return false, fmt.Errorf("transport: poll: %w", err)
	}
	return len(polled) > 0, nil
}

func (e *envelopeEndpoint) Close() error {
	if err := e.socket.Close(); err != nil {
		return fmt.Errorf("transport: close socket: %w", err)
	}
	return e.ctx.Term()
}
