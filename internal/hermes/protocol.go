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

// Package hermes implements the Majordomo Protocol (MDP v0.1) broker,
// worker runtime, and client runtime: bit-exact framing over the
// MDPC01/MDPW01 sub-protocols, as described in RFC 7/MDP.
package hermes

import (
	"fmt"
	"time"

	"github.com/brettviren/generaldomo/internal/transport"
)

// Protocol headers, carried as the first frame of every message.
const (
	ClientHeader = "MDPC01"
	WorkerHeader = "MDPW01"
)

// Command is a single-byte worker command code.
type Command byte

const (
	Ready      Command = 0x01
	Request    Command = 0x02
	Reply      Command = 0x03
	Heartbeat  Command = 0x04
	Disconnect Command = 0x05
)

func (c Command) String() string {
	switch c {
	case Ready:
		return "READY"
	case Request:
		return "REQUEST"
	case Reply:
		return "REPLY"
	case Heartbeat:
		return "HEARTBEAT"
	case Disconnect:
		return "DISCONNECT"
	default:
		return fmt.Sprintf("UNKNOWN(%#02x)", byte(c))
	}
}

// Standard MDP timing constants.
const (
	HeartbeatInterval = 2500 * time.Millisecond
	HeartbeatLiveness = 3
	HeartbeatExpiry   = HeartbeatInterval * HeartbeatLiveness
)

// MMIPrefix is the reserved internal-service name prefix.
const MMIPrefix = "mmi."

// ParseHeader splits the leading protocol-header frame off a message.
func ParseHeader(frames transport.Frames) (header string, rest transport.Frames, err error) {
	if len(frames) < 1 {
		return "", nil, fmt.Errorf("hermes: empty message, no header frame")
	}
	return string(frames[0]), frames[1:], nil
}

// BuildClientRequest constructs the inbound-at-broker and outbound-reply
// client frame layout: [MDPC01][service][body...].
func BuildClientRequest(service string, body ...[]byte) transport.Frames {
	frames := make(transport.Frames, 0, 2+len(body))
	frames = append(frames, []byte(ClientHeader), []byte(service))
	frames = append(frames, body...)
	return frames
}

// ParseClientRequest parses the frames following the MDPC01 header.
func ParseClientRequest(rest transport.Frames) (service string, body transport.Frames, err error) {
	if len(rest) < 1 {
		return "", nil, fmt.Errorf("hermes: client message missing service name frame")
	}
	return string(rest[0]), rest[1:], nil
}

// BuildWorkerReady constructs the worker->broker READY frame:
// [MDPW01][READY][service].
func BuildWorkerReady(service string) transport.Frames {
	return transport.Frames{
		[]byte(WorkerHeader),
		{byte(Ready)},
		[]byte(service),
	}
}

// BuildWorkerReply constructs the worker->broker REPLY frame:
// [MDPW01][REPLY][client_peerid][empty][body...].
func BuildWorkerReply(client transport.PeerId, body transport.Frames) transport.Frames {
	frames := make(transport.Frames, 0, 4+len(body))
	frames = append(frames, []byte(WorkerHeader), []byte{byte(Reply)}, client.Bytes(), []byte{})
	frames = append(frames, body...)
	return frames
}

// BuildWorkerHeartbeat constructs a [MDPW01][HEARTBEAT] frame, used in
// both directions.
func BuildWorkerHeartbeat() transport.Frames {
	return transport.Frames{[]byte(WorkerHeader), {byte(Heartbeat)}}
}

// BuildWorkerDisconnect constructs a [MDPW01][DISCONNECT] frame, used in
// both directions.
func BuildWorkerDisconnect() transport.Frames {
	return transport.Frames{[]byte(WorkerHeader), {byte(Disconnect)}}
}

// BuildWorkerRequest constructs the broker->worker REQUEST frame:
// [MDPW01][REQUEST][client_peerid][empty][body...].
func BuildWorkerRequest(client transport.PeerId, body transport.Frames) transport.Frames {
	frames := make(transport.Frames, 0, 4+len(body))
	frames = append(frames, []byte(WorkerHeader), []byte{byte(Request)}, client.Bytes(), []byte{})
	frames = append(frames, body...)
	return frames
}

// ParseWorkerCommand parses the frames following the MDPW01 header,
// returning the command and whatever tail frames remain.
func ParseWorkerCommand(rest transport.Frames) (cmd Command, tail transport.Frames, err error) {
	if len(rest) < 1 {
		return 0, nil, fmt.Errorf("hermes: worker message missing command frame")
	}
	if len(rest[0]) != 1 {
		return 0, nil, fmt.Errorf("hermes: worker command frame must be one byte, got %d", len(rest[0]))
	}
	return Command(rest[0][0]), rest[1:], nil
}

// ParseWorkerReady parses a READY command's tail: [service_name].
func ParseWorkerReady(tail transport.Frames) (service string, err error) {
	if len(tail) < 1 {
		return "", fmt.Errorf("hermes: READY missing service name frame")
	}
	return string(tail[0]), nil
}

// ParseClientRoutedBody parses the shared [client_peerid][empty][body...]
// tail carried by both REPLY (worker->broker) and REQUEST (broker->worker).
func ParseClientRoutedBody(tail transport.Frames) (client transport.PeerId, body transport.Frames, err error) {
	if len(tail) < 2 {
		return "", nil, fmt.Errorf("hermes: expected client id and empty delimiter frames, got %d frames", len(tail))
	}
	if len(tail[1]) != 0 {
		return "", nil, fmt.Errorf("hermes: missing empty delimiter frame after client id")
	}
	return transport.NewPeerId(tail[0]), tail[2:], nil
}

// IsInternalService reports whether a service name is reserved for
// broker introspection (the "mmi." prefix).
func IsInternalService(name string) bool {
	return len(name) >= len(MMIPrefix) && name[:len(MMIPrefix)] == MMIPrefix
}
