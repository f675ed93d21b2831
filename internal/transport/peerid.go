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

import "fmt"

// PeerId is an opaque byte-string identifying a remote transport peer.
// Under the envelope flavor it holds the raw routing frame; under the
// connection flavor it holds the 4-byte big-endian encoding of the
// transport-assigned routing number. A Go string is a natural fit: it is
// an immutable byte sequence, comparable and hashable out of the box, so
// PeerId works directly as a map key without requiring printability.
type PeerId string

// NewPeerId wraps a raw byte-string as a PeerId.
func NewPeerId(b []byte) PeerId {
	return PeerId(b)
}

// Bytes returns the raw bytes backing the PeerId.
func (p PeerId) Bytes() []byte {
	return []byte(p)
}

// HasPrefix reports whether the PeerId's raw bytes start with prefix.
func (p PeerId) HasPrefix(prefix string) bool {
	if len(p) < len(prefix) {
		return false
	}
	return string(p[:len(prefix)]) == prefix
}

// PeerIdFromRoutingID encodes a connection-flavor routing number as the
// big-endian 4-byte PeerId form described in spec.md section 3.
func PeerIdFromRoutingID(id uint32) PeerId {
	b := []byte{
		byte(id >> 24),
		byte(id >> 16),
		byte(id >> 8),
		byte(id),
	}
	return PeerId(b)
}

// RoutingID reconstructs the transport-assigned routing number from a
// connection-flavor PeerId. It fails if the PeerId is not 4 bytes.
func (p PeerId) RoutingID() (uint32, error) {
	if len(p) != 4 {
		return 0, fmt.Errorf("transport: peer id %q is not a 4-byte routing number", p)
	}
	b := []byte(p)
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}
