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
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/brettviren/generaldomo/internal/transport"
)

// ServiceId and WorkerId are arena indices. noService/noWorker are sentinel
// values meaning "not attached to anything".
type ServiceId int
type WorkerId int

const noService ServiceId = -1
const noWorker WorkerId = -1

// Service is a named capability offered by zero or more workers.
type Service struct {
	id          ServiceId
	name        string
	requests    []transport.Frames
	waiting     []WorkerId
	workerCount int
	alive       bool
}

// Worker is a remote peer registered to serve one service.
type Worker struct {
	id       WorkerId
	identity transport.PeerId
	service  ServiceId
	expiry   int64
	alive    bool
}

// Clock supplies monotonic millisecond timestamps. Production code uses
// NewSystemClock; tests substitute a fake to exercise heartbeat/expiry
// boundaries deterministically.
type Clock interface {
	NowMillis() int64
}

type systemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock anchored to the moment of construction,
// so wall-clock adjustments cannot move readings backwards.
func NewSystemClock() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) NowMillis() int64 {
	return time.Since(c.start).Milliseconds()
}

// Stats is a snapshot of broker state for introspection callers.
type Stats struct {
	Services     int
	Workers      int
	WaitingCount int
	RecentClients int
}

// Broker is the single-threaded Majordomo routing engine: service
// registry, worker registry, waiting-worker tracking, heartbeat/liveness,
// request queueing, and dispatch. All state below is owned exclusively
// by the goroutine that calls Run; there are no locks.
type Broker struct {
	endpoint transport.Endpoint
	clock    Clock
	log      zerolog.Logger

	servicesByName    map[string]ServiceId
	serviceArena      []Service
	workersByIdentity map[transport.PeerId]WorkerId
	workerArena       []Worker
	waitingSet        map[WorkerId]bool

	heartbeatAt       int64
	heartbeatInterval time.Duration
	heartbeatExpiry   time.Duration

	// recentClients is a bounded, Go-API-only index of client peer ids
	// seen recently. It is never exposed over the mmi.* wire protocol:
	// spec behavior requires any unrecognized mmi.* query to reply 501,
	// so no mmi.clients command exists. It exists purely for the
	// statusapi/Stats surface.
	recentClients *lru.Cache[transport.PeerId, int64]
}

// NewBroker constructs a broker bound to endpoint, using clock for all
// timing decisions and log for diagnostics. Heartbeat interval and
// expiry default to the protocol's standard values and can be
// overridden with WithHeartbeat, e.g. from brokerconfig.
func NewBroker(endpoint transport.Endpoint, clock Clock, log zerolog.Logger) *Broker {
	cache, _ := lru.New[transport.PeerId, int64](4096)
	return &Broker{
		endpoint:          endpoint,
		clock:             clock,
		log:               log,
		servicesByName:    make(map[string]ServiceId),
		workersByIdentity: make(map[transport.PeerId]WorkerId),
		waitingSet:        make(map[WorkerId]bool),
		recentClients:     cache,
		heartbeatInterval: HeartbeatInterval,
		heartbeatExpiry:   HeartbeatExpiry,
	}
}

// WithHeartbeat overrides the broker's heartbeat interval and liveness
// count (expiry is derived as interval*liveness, matching the protocol
// default's own derivation). Workers are expected to heartbeat on a
// cadence no slower than interval regardless of which flavor or runtime
// they use; a broker configured with a longer interval than its workers
// simply purges less eagerly.
func (b *Broker) WithHeartbeat(interval time.Duration, liveness int) *Broker {
	b.heartbeatInterval = interval
	b.heartbeatExpiry = interval * time.Duration(liveness)
	return b
}

// serviceRequire returns the existing service by name or creates an empty
// one. Service creation is silent and unbounded.
func (b *Broker) serviceRequire(name string) ServiceId {
	if id, ok := b.servicesByName[name]; ok {
		return id
	}
	id := ServiceId(len(b.serviceArena))
	b.serviceArena = append(b.serviceArena, Service{
		id:    id,
		name:  name,
		alive: true,
	})
	b.servicesByName[name] = id
	return id
}

func (b *Broker) service(id ServiceId) *Service {
	return &b.serviceArena[id]
}

// workerRequire returns the existing worker by identity, or creates one
// with an empty service and zero expiry. The returned bool reports
// whether the worker was already present.
func (b *Broker) workerRequire(identity transport.PeerId) (WorkerId, bool) {
	if id, ok := b.workersByIdentity[identity]; ok {
		return id, true
	}
	id := WorkerId(len(b.workerArena))
	b.workerArena = append(b.workerArena, Worker{
		id:       id,
		identity: identity,
		service:  noService,
		alive:    true,
	})
	b.workersByIdentity[identity] = id
	return id, false
}

func (b *Broker) worker(id WorkerId) *Worker {
	return &b.workerArena[id]
}

// workerDelete removes w from its service's waiting list, decrements the
// service's worker count, removes it from the broker waiting set and the
// worker table, and destroys the record. If sendDisconnect, a DISCONNECT
// frame is emitted to the worker first.
func (b *Broker) workerDelete(id WorkerId, sendDisconnect bool) {
	w := b.worker(id)
	if !w.alive {
		return
	}

	if sendDisconnect {
		if err := b.endpoint.SendServerish(w.identity, BuildWorkerDisconnect()); err != nil {
			b.log.Error().Err(err).Str("worker", string(w.identity)).Msg("send disconnect failed")
		}
	}

	if w.service != noService {
		srv := b.service(w.service)
		for i, wid := range srv.waiting {
			if wid == id {
				srv.waiting = append(srv.waiting[:i], srv.waiting[i+1:]...)
				break
			}
		}
		srv.workerCount--
	}

	delete(b.waitingSet, id)
	delete(b.workersByIdentity, w.identity)
	w.alive = false
	w.service = noService
}

// serviceDispatch matches queued requests to idle workers under a
// newest-expiry-first policy. It is invoked whenever a new request
// arrives, a worker becomes idle, or after a purge.
func (b *Broker) serviceDispatch(sid ServiceId) {
	b.purgeWorkers()

	srv := b.service(sid)
	for len(srv.waiting) > 0 && len(srv.requests) > 0 {
		best := 0
		bestExpiry := b.worker(srv.waiting[0]).expiry
		for i, wid := range srv.waiting {
			if e := b.worker(wid).expiry; e > bestExpiry {
				bestExpiry = e
				best = i
			}
		}
		wid := srv.waiting[best]

		req := srv.requests[0]
		srv.requests = srv.requests[1:]

		client := transport.NewPeerId(req[0])
		body := req[2:]
		if err := b.endpoint.SendServerish(b.worker(wid).identity, BuildWorkerRequest(client, body)); err != nil {
			b.log.Error().Err(err).Msg("send request to worker failed")
		}

		srv.waiting = append(srv.waiting[:best], srv.waiting[best+1:]...)
		delete(b.waitingSet, wid)
	}
}

// procHeartbeat emits heartbeats to every waiting worker once the current
// tick is due, first purging any workers that have already expired. The
// caller advances heartbeatAt unconditionally after this returns; missed
// ticks are never caught up, matching the reference broker's behavior.
func (b *Broker) procHeartbeat(now int64) {
	if now < b.heartbeatAt {
		return
	}
	b.purgeWorkers()
	for wid := range b.waitingSet {
		w := b.worker(wid)
		if err := b.endpoint.SendServerish(w.identity, BuildWorkerHeartbeat()); err != nil {
			b.log.Error().Err(err).Str("worker", string(w.identity)).Msg("send heartbeat failed")
		}
	}
}

// purgeWorkers deletes every waiting worker whose expiry has elapsed.
// Workers are collected before any are deleted, since workerDelete
// mutates the waiting set being scanned.
func (b *Broker) purgeWorkers() {
	now := b.clock.NowMillis()
	var dead []WorkerId
	for wid := range b.waitingSet {
		if b.worker(wid).expiry <= now {
			dead = append(dead, wid)
		}
	}
	for _, wid := range dead {
		b.workerDelete(wid, false)
	}
}

// workerWaiting marks w idle: inserted into the broker waiting set and
// pushed to the back of its service's waiting list, with its expiry
// refreshed. Dispatch is then attempted immediately.
func (b *Broker) workerWaiting(id WorkerId) {
	w := b.worker(id)
	b.waitingSet[id] = true
	srv := b.service(w.service)
	srv.waiting = append(srv.waiting, id)
	w.expiry = b.clock.NowMillis() + b.heartbeatExpiry.Milliseconds()
	b.serviceDispatch(w.service)
}

// Run drives the single-threaded cooperative event loop until ctx is
// cancelled (by a SIGINT/SIGTERM-derived context) or the endpoint reports
// a fatal transport error.
func (b *Broker) Run(ctx context.Context) error {
	now := b.clock.NowMillis()
	b.heartbeatAt = now + b.heartbeatInterval.Milliseconds()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		timeout := b.heartbeatAt - now
		if timeout < 0 {
			timeout = 0
		}

		ready, err := b.endpoint.Poll(time.Duration(timeout) * time.Millisecond)
		if err != nil {
			return err
		}
		if ready {
			b.procOne()
		}

		b.procHeartbeat(b.clock.NowMillis())
		b.heartbeatAt += b.heartbeatInterval.Milliseconds()
		now = b.clock.NowMillis()
	}
}

// procOne receives one message group, strips the header frame, and
// dispatches to the client or worker path.
func (b *Broker) procOne() {
	sender, frames, err := b.endpoint.RecvServerish()
	if err != nil {
		b.log.Error().Err(err).Msg("recv failed")
		return
	}

	header, rest, err := ParseHeader(frames)
	if err != nil {
		b.log.Error().Err(err).Msg("malformed message, no header frame")
		return
	}

	switch header {
	case ClientHeader:
		b.clientProcess(sender, rest)
	case WorkerHeader:
		b.workerProcess(sender, rest)
	default:
		b.log.Error().Str("header", header).Str("sender", string(sender)).Msg("unknown protocol header, dropping")
	}
}

// clientProcess handles an inbound client request. Internal mmi.* queries
// are answered directly; everything else is enqueued for dispatch.
func (b *Broker) clientProcess(client transport.PeerId, rest transport.Frames) {
	service, body, err := ParseClientRequest(rest)
	if err != nil {
		b.log.Error().Err(err).Str("client", string(client)).Msg("malformed client request, dropping")
		return
	}

	b.recentClients.Add(client, b.clock.NowMillis())

	if IsInternalService(service) {
		b.handleInternalService(client, service, body)
		return
	}

	sid := b.serviceRequire(service)
	// The queued payload begins with the reply-route frames (client
	// peer id, then the empty delimiter the worker-bound REQUEST frame
	// expects) followed by the request body.
	routed := make(transport.Frames, 0, 2+len(body))
	routed = append(routed, client.Bytes(), []byte{})
	routed = append(routed, body...)

	srv := b.service(sid)
	srv.requests = append(srv.requests, routed)
	b.serviceDispatch(sid)
}

// handleInternalService answers mmi.* introspection queries.
func (b *Broker) handleInternalService(client transport.PeerId, service string, body transport.Frames) {
	var reply []byte
	switch service {
	case "mmi.service":
		if len(body) < 1 {
			reply = []byte("501")
			break
		}
		target := string(body[0])
		if sid, ok := b.servicesByName[target]; ok && b.service(sid).workerCount > 0 {
			reply = []byte("200")
		} else {
			reply = []byte("404")
		}
	default:
		reply = []byte("501")
	}

	if err := b.endpoint.SendServerish(client, BuildClientRequest(service, reply)); err != nil {
		b.log.Error().Err(err).Str("client", string(client)).Msg("send internal service reply failed")
	}
}

// workerProcess handles an inbound worker message.
func (b *Broker) workerProcess(sender transport.PeerId, rest transport.Frames) {
	cmd, tail, err := ParseWorkerCommand(rest)
	if err != nil {
		b.log.Error().Err(err).Str("worker", string(sender)).Msg("malformed worker message, disconnecting")
		wid, _ := b.workerRequire(sender)
		b.workerDelete(wid, true)
		return
	}

	wid, wasReady := b.workerRequire(sender)

	switch cmd {
	case Ready:
		if wasReady {
			b.log.Error().Str("worker", string(sender)).Msg("duplicate READY, protocol violation")
			b.workerDelete(wid, true)
			return
		}
		if sender.HasPrefix(MMIPrefix) {
			b.log.Error().Str("worker", string(sender)).Msg("worker identity reserved for mmi, protocol violation")
			b.workerDelete(wid, true)
			return
		}
		service, err := ParseWorkerReady(tail)
		if err != nil {
			b.log.Error().Err(err).Str("worker", string(sender)).Msg("malformed READY, disconnecting")
			b.workerDelete(wid, true)
			return
		}
		sid := b.serviceRequire(service)
		w := b.worker(wid)
		w.service = sid
		b.service(sid).workerCount++
		b.workerWaiting(wid)

	case Reply:
		if !wasReady {
			b.log.Error().Str("worker", string(sender)).Msg("REPLY from unregistered worker, disconnecting")
			b.workerDelete(wid, true)
			return
		}
		client, body, err := ParseClientRoutedBody(tail)
		if err != nil {
			b.log.Error().Err(err).Str("worker", string(sender)).Msg("malformed REPLY, disconnecting")
			b.workerDelete(wid, true)
			return
		}
		w := b.worker(wid)
		service := b.service(w.service).name
		if err := b.endpoint.SendServerish(client, BuildClientRequest(service, body...)); err != nil {
			b.log.Error().Err(err).Msg("send reply to client failed")
		}
		b.workerWaiting(wid)

	case Heartbeat:
		if !wasReady {
			b.log.Error().Str("worker", string(sender)).Msg("HEARTBEAT from unregistered worker, disconnecting")
			b.workerDelete(wid, true)
			return
		}
		b.worker(wid).expiry = b.clock.NowMillis() + b.heartbeatExpiry.Milliseconds()

	case Disconnect:
		b.workerDelete(wid, false)

	default:
		b.log.Error().Str("worker", string(sender)).Str("command", cmd.String()).Msg("unknown worker command")
	}
}

// Stats returns a point-in-time snapshot of broker state.
func (b *Broker) Stats() Stats {
	services := 0
	for _, s := range b.serviceArena {
		if s.alive {
			services++
		}
	}
	workers := 0
	for _, w := range b.workerArena {
		if w.alive {
			workers++
		}
	}
	return Stats{
		Services:      services,
		Workers:       workers,
		WaitingCount:  len(b.waitingSet),
		RecentClients: b.recentClients.Len(),
	}
}

// ServiceNames returns the names of every service the broker has ever
// seen, including ones with zero attached workers.
func (b *Broker) ServiceNames() []string {
	names := make([]string, 0, len(b.servicesByName))
	for name := range b.servicesByName {
		names = append(names, name)
	}
	return names
}

// ServiceWorkerCount returns the worker count for a named service, or
// (0, false) if the service has never been seen.
func (b *Broker) ServiceWorkerCount(name string) (int, bool) {
	sid, ok := b.servicesByName[name]
	if !ok {
		return 0, false
	}
	return b.service(sid).workerCount, true
}
