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
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brettviren/generaldomo/internal/transport"
)

// RequestHandler processes one request body and returns the reply body.
// An error reply is reported to the broker as an empty frame group; the
// worker runtime logs the error and continues serving.
type RequestHandler interface {
	HandleRequest(ctx context.Context, body transport.Frames) (transport.Frames, error)
}

// RequestHandlerFunc adapts a plain function to RequestHandler.
type RequestHandlerFunc func(ctx context.Context, body transport.Frames) (transport.Frames, error)

func (f RequestHandlerFunc) HandleRequest(ctx context.Context, body transport.Frames) (transport.Frames, error) {
	return f(ctx, body)
}

// WorkerRuntime is the client-side state machine used by application
// code to register with a broker, serve requests for a single service,
// and emit the heartbeats that keep it alive in the broker's registry.
type WorkerRuntime struct {
	flavor   transport.Flavor
	address  string
	identity []byte
	service  string
	handler  RequestHandler
	clock    Clock
	log      zerolog.Logger

	endpoint transport.Endpoint

	liveness    int
	heartbeatAt int64

	replyTo     transport.PeerId
	haveReplyTo bool
}

// NewWorkerRuntime constructs a worker runtime that will connect to a
// broker at address using the given transport flavor, advertising
// service, and dispatching requests to handler. A random identity is
// generated (WithIdentity replaces it), so the envelope flavor's DEALER
// socket presents a stable PeerId across reconnects within the process
// lifetime.
func NewWorkerRuntime(flavor transport.Flavor, address, service string, handler RequestHandler, clock Clock, log zerolog.Logger) *WorkerRuntime {
	return &WorkerRuntime{
		flavor:   flavor,
		address:  address,
		identity: []byte(uuid.New().String()),
		service:  service,
		handler:  handler,
		clock:    clock,
		log:      log,
	}
}

// WithIdentity overrides the worker's DEALER identity (envelope flavor
// only). Useful when an operator needs a reproducible PeerId across
// process restarts.
func (w *WorkerRuntime) WithIdentity(identity []byte) *WorkerRuntime {
	w.identity = identity
	return w
}

// connect (re)establishes the broker connection and sends READY. If
// reconnect is set, the prior endpoint is closed first.
func (w *WorkerRuntime) connect(reconnect bool) error {
	if reconnect && w.endpoint != nil {
		if err := w.endpoint.Close(); err != nil {
			w.log.Warn().Err(err).Msg("close on reconnect failed")
		}
	}

	ep, err := transport.NewWorkerEndpoint(w.flavor, w.address, w.identity)
	if err != nil {
		return fmt.Errorf("hermes: worker connect: %w", err)
	}
	w.endpoint = ep

	if err := ep.SendClientish(BuildWorkerReady(w.service)); err != nil {
		return fmt.Errorf("hermes: worker send READY: %w", err)
	}

	w.liveness = HeartbeatLiveness
	w.heartbeatAt = w.clock.NowMillis() + HeartbeatInterval.Milliseconds()
	w.haveReplyTo = false
	return nil
}

// Run connects to the broker and serves requests until ctx is cancelled.
func (w *WorkerRuntime) Run(ctx context.Context) error {
	if err := w.connect(false); err != nil {
		return err
	}
	defer func() {
		if w.endpoint != nil {
			_ = w.endpoint.Close()
		}
	}()

	var pendingReply transport.Frames

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if pendingReply != nil {
			if w.haveReplyTo {
				if err := w.endpoint.SendClientish(BuildWorkerReply(w.replyTo, pendingReply)); err != nil {
					w.log.Error().Err(err).Msg("send reply failed")
				}
			}
			pendingReply = nil
		}

		ready, err := w.endpoint.Poll(HeartbeatInterval)
		if err != nil {
			return fmt.Errorf("hermes: worker poll: %w", err)
		}

		if ready {
			reply, err := w.handleInbound(ctx)
			if err != nil {
				w.log.Error().Err(err).Msg("broker connection lost, reconnecting")
				if err := w.connect(true); err != nil {
					return err
				}
				continue
			}
			pendingReply = reply
		} else {
			w.liveness--
			if w.liveness <= 0 {
				w.log.Warn().Msg("broker heartbeat expired, reconnecting")
				if err := w.connect(true); err != nil {
					return err
				}
			}
		}

		now := w.clock.NowMillis()
		if now >= w.heartbeatAt {
			if err := w.endpoint.SendClientish(BuildWorkerHeartbeat()); err != nil {
				w.log.Error().Err(err).Msg("send heartbeat failed")
			}
			w.heartbeatAt += HeartbeatInterval.Milliseconds()
		}
	}
}

// handleInbound decodes one broker-originated frame group and, for a
// REQUEST, invokes the handler and returns the reply body to be sent on
// the next loop iteration. A transport-level recv error is returned so
// the caller can trigger a reconnect.
func (w *WorkerRuntime) handleInbound(ctx context.Context) (transport.Frames, error) {
	frames, err := w.endpoint.RecvClientish()
	if err != nil {
		return nil, fmt.Errorf("hermes: worker recv: %w", err)
	}

	header, rest, err := ParseHeader(frames)
	if err != nil || header != WorkerHeader {
		w.log.Error().Str("header", header).Msg("malformed frame from broker, dropping")
		return nil, nil
	}

	cmd, tail, err := ParseWorkerCommand(rest)
	if err != nil {
		w.log.Error().Err(err).Msg("malformed command from broker, dropping")
		return nil, nil
	}

	w.liveness = HeartbeatLiveness

	switch cmd {
	case Request:
		client, body, err := ParseClientRoutedBody(tail)
		if err != nil {
			w.log.Error().Err(err).Msg("malformed REQUEST from broker, dropping")
			return nil, nil
		}
		w.replyTo = client
		w.haveReplyTo = true

		out, err := w.handler.HandleRequest(ctx, body)
		if err != nil {
			w.log.Error().Err(err).Msg("request handler returned an error")
			return transport.Frames{}, nil
		}
		return out, nil

	case Heartbeat:
		return nil, nil

	case Disconnect:
		return nil, fmt.Errorf("hermes: broker sent DISCONNECT")

	default:
		w.log.Error().Str("command", cmd.String()).Msg("unexpected command from broker")
		return nil, nil
	}
}
