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

// Package transport erases the difference between the two Majordomo
// transport flavors behind a single PeerId type and a multi-part
// send/recv interface.
package transport

import (
	"fmt"
	"time"
)

// Frames is an ordered sequence of byte-string message parts.
type Frames [][]byte

// Flavor names a transport socket pairing.
type Flavor int

const (
	// Envelope is the router/dealer flavor: routing identity travels as
	// an explicit leading frame plus an empty delimiter frame.
	Envelope Flavor = iota
	// Connection is the server/client flavor: routing identity is the
	// transport-assigned 32-bit routing number carried out-of-band.
	Connection
)

func (f Flavor) String() string {
	switch f {
	case Envelope:
		return "envelope"
	case Connection:
		return "connection"
	default:
		return "unknown"
	}
}

// ConfigError reports a transport that cannot serve as either flavor.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("transport: config error: %s", e.Reason)
}

// Endpoint is the broker- or worker-side duplex message endpoint. Broker
// endpoints use the "serverish" methods (PeerId known per message);
// worker/client endpoints use the "clientish" methods (peer implicit,
// there being exactly one: the broker).
type Endpoint interface {
	// RecvServerish receives one message group and returns the sender's
	// PeerId alongside the payload frames (envelope/routing frames
	// already stripped).
	RecvServerish() (PeerId, Frames, error)
	// SendServerish sends frames to the named peer.
	SendServerish(id PeerId, frames Frames) error
	// RecvClientish receives one message group from the implicit peer.
	RecvClientish() (Frames, error)
	// SendClientish sends frames to the implicit peer.
	SendClientish(frames Frames) error
	// Poll blocks up to timeout waiting for readable input, returning
	// true if a message is ready to receive.
	Poll(timeout time.Duration) (bool, error)
	// Close releases the underlying socket.
	Close() error
}
