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

	"github.com/brettviren/generaldomo/internal/transport"
)

// recordingEndpoint is a test double standing in for a real transport
// endpoint. It records every frame group sent to each peer so tests can
// assert on broker output without a live socket. Tests drive broker
// input directly via clientProcess/workerProcess rather than through
// RecvServerish, since the broker's receive path is exercised instead by
// the integration tests over real sockets.
type recordingEndpoint struct {
	sent map[transport.PeerId][]transport.Frames
}

func newRecordingEndpoint() *recordingEndpoint {
	return &recordingEndpoint{sent: make(map[transport.PeerId][]transport.Frames)}
}

func (e *recordingEndpoint) RecvServerish() (transport.PeerId, transport.Frames, error) {
	return "", nil, fmt.Errorf("recordingEndpoint: RecvServerish not supported")
}

func (e *recordingEndpoint) SendServerish(id transport.PeerId, frames transport.Frames) error {
	e.sent[id] = append(e.sent[id], frames)
	return nil
}

func (e *recordingEndpoint) RecvClientish() (transport.Frames, error) {
	return nil, fmt.Errorf("recordingEndpoint: RecvClientish not supported")
}

func (e *recordingEndpoint) SendClientish(frames transport.Frames) error {
	return fmt.Errorf("recordingEndpoint: SendClientish not supported")
}

func (e *recordingEndpoint) Poll(timeout time.Duration) (bool, error) {
	return false, nil
}

func (e *recordingEndpoint) Close() error {
	return nil
}

// last returns the most recent frame group sent to id, or nil if none.
func (e *recordingEndpoint) last(id transport.PeerId) transport.Frames {
	msgs := e.sent[id]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// count returns how many frame groups have been sent to id.
func (e *recordingEndpoint) count(id transport.PeerId) int {
	return len(e.sent[id])
}

type fakeClock struct {
	now int64
}

func (c *fakeClock) NowMillis() int64 {
	return c.now
}

func (c *fakeClock) advance(ms int64) {
	c.now += ms
}

// workerReadyRest builds the rest-of-message frames (post MDPW01 header)
// for a READY command.
func workerReadyRest(service string) transport.Frames {
	_, rest, err := ParseHeader(BuildWorkerReady(service))
	if err != nil {
		panic(err)
	}
	return rest
}

func workerReplyRest(client transport.PeerId, body transport.Frames) transport.Frames {
	_, rest, err := ParseHeader(BuildWorkerReply(client, body))
	if err != nil {
		panic(err)
	}
	return rest
}

func workerHeartbeatRest() transport.Frames {
	_, rest, err := ParseHeader(BuildWorkerHeartbeat())
	if err != nil {
		panic(err)
	}
	return rest
}

func workerDisconnectRest() transport.Frames {
	_, rest, err := ParseHeader(BuildWorkerDisconnect())
	if err != nil {
		panic(err)
	}
	return rest
}

func clientRequestRest(service string, body ...[]byte) transport.Frames {
	_, rest, err := ParseHeader(BuildClientRequest(service, body...))
	if err != nil {
		panic(err)
	}
	return rest
}
