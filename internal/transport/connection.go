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
	"bytes"
	"fmt"
	"time"

	zmq "github.com/pebbe/zmq4"
)

// connectionEndpoint implements the connection flavor: each peer carries
// a durable 32-bit routing number assigned by the transport, reconstructed
// here as a 4-byte PeerId. This relies on libzmq's draft SERVER/CLIENT
// socket types, where every connection is handed a routing id that
// identifies it for the life of the connection.
type connectionEndpoint struct {
	ctx     *zmq.Context
	socket  *zmq.Socket
	poller  *zmq.Poller
	isServer bool
}

// NewServerEndpoint binds a SERVER socket for broker-side connection-flavor
// traffic.
func NewServerEndpoint(bindAddr string) (Endpoint, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transport: create zmq context: %w", err)
	}

	soc, err := ctx.NewSocket(zmq.SERVER)
	if err != nil {
		return nil, fmt.Errorf("transport: create server socket: %w", err)
	}
	if err := soc.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set linger: %w", err)
	}
	if err := soc.Bind(bindAddr); err != nil {
		return nil, fmt.Errorf("transport: bind server socket to %s: %w", bindAddr, err)
	}

	poller := zmq.NewPoller()
	poller.Add(soc, zmq.POLLIN)

	return &connectionEndpoint{ctx: ctx, socket: soc, poller: poller, isServer: true}, nil
}

// NewClientEndpoint connects a CLIENT socket for worker/client-side
// connection-flavor traffic.
func NewClientEndpoint(connectAddr string) (Endpoint, error) {
	ctx, err := zmq.NewContext()
	if err != nil {
		return nil, fmt.Errorf("transport: create zmq context: %w", err)
	}

	soc, err := ctx.NewSocket(zmq.CLIENT)
	if err != nil {
		return nil, fmt.Errorf("transport: create client socket: %w", err)
	}
	if err := soc.SetLinger(0); err != nil {
		return nil, fmt.Errorf("transport: set linger: %w", err)
	}
	if err := soc.Connect(connectAddr); err != nil {
		return nil, fmt.Errorf("transport: connect client socket to %s: %w", connectAddr, err)
	}

	poller := zmq.NewPoller()
	poller.Add(soc, zmq.POLLIN)

	return &connectionEndpoint{ctx: ctx, socket: soc, poller: poller, isServer: false}, nil
}

// A SERVER/CLIENT message carries a single data frame; a multi-part
// payload is flattened into one frame on the wire and split back out on
// receive using a length-prefixed encoding, since draft sockets have no
// native multipart framing.
func encodeFrames(frames Frames) []byte {
	var buf bytes.Buffer
	for _, f := range frames {
		var lenBytes [4]byte
		n := uint32(len(f))
		lenBytes[0] = byte(n >> 24)
		lenBytes[1] = byte(n >> 16)
		lenBytes[2] = byte(n >> 8)
		lenBytes[3] = byte(n)
		buf.Write(lenBytes[:])
		buf.Write(f)
	}
	return buf.Bytes()
}

func decodeFrames(data []byte) (Frames, error) {
	var frames Frames
	for len(data) > 0 {
		if len(data) < 4 {
			return nil, fmt.Errorf("transport: truncated frame length prefix")
		}
		n := uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
		data = data[4:]
		if uint32(len(data)) < n {
			return nil, fmt.Errorf("transport: truncated frame body")
		}
		frames = append(frames, data[:n])
		data = data[n:]
	}
	return frames, nil
}

func (c *connectionEndpoint) RecvServerish() (PeerId, Frames, error) {
	if !c.isServer {
		return "", nil, fmt.Errorf("transport: RecvServerish called on a non-server connection endpoint")
	}

	data, err := c.socket.RecvBytes(0)
	if err != nil {
		return "", nil, fmt.Errorf("transport: recv: %w", err)
	}
	routingID, err := c.socket.GetRoutingID()
	if err != nil {
		return "", nil, fmt.Errorf("transport: read routing id: %w", err)
	}

	frames, err := decodeFrames(data)
	if err != nil {
		return "", nil, err
	}
	return PeerIdFromRoutingID(uint32(routingID)), frames, nil
}

func (c *connectionEndpoint) SendServerish(id PeerId, frames Frames) error {
	if !c.isServer {
		return fmt.Errorf("transport: SendServerish called on a non-server connection endpoint")
	}

	routingID, err := id.RoutingID()
	if err != nil {
		return fmt.Errorf("transport: encode routing id for %q: %w", id, err)
	}
	if err := c.socket.SetRoutingID(int(routingID)); err != nil {
		return fmt.Errorf("transport: set routing id: %w", err)
	}
	if _, err := c.socket.SendBytes(encodeFrames(frames), 0); err != nil {
		return fmt.Errorf("transport: send to %q: %w", id, err)
	}
	return nil
}

func (c *connectionEndpoint) RecvClientish() (Frames, error) {
	if c.isServer {
		return nil, fmt.Errorf("transport: RecvClientish called on a server connection endpoint")
	}

	data, err := c.socket.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("transport: recv: %w", err)
	}
	return decodeFrames(data)
}

func (c *connectionEndpoint) SendClientish(frames Frames) error {
	if c.isServer {
		return fmt.Errorf("transport: SendClientish called on a server connection endpoint")
	}

	if _, err := c.socket.SendBytes(encodeFrames(frames), 0); err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	return nil
}

func (c *connectionEndpoint) Poll(timeout time.Duration) (bool, error) {
	polled, err := c.poller.Poll(timeout)
	if err != nil {
		return false, fmt.Errorf("transport: poll: %w", err)
	}
	return len(polled) > 0, nil
}

func (c *connectionEndpoint) Close() error {
	if err := c.socket.Close(); err != nil {
		return fmt.Errorf("transport: close socket: %w", err)
	}
	return c.ctx.Term()
}
