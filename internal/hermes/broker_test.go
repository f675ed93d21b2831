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
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/brettviren/generaldomo/internal/transport"
)

func newTestBroker() (*Broker, *recordingEndpoint, *fakeClock) {
	ep := newRecordingEndpoint()
	clock := &fakeClock{now: 1_000_000}
	b := NewBroker(ep, clock, zerolog.Nop())
	return b, ep, clock
}

func mustEqualFrames(t *testing.T, got, want transport.Frames) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frame count mismatch: got %d, want %d (%v vs %v)", len(got), len(want), got, want)
	}
	for i := range got {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("frame %d mismatch: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestServiceRequireIsIdempotent(t *testing.T) {
	b, _, _ := newTestBroker()

	id1 := b.serviceRequire("echo")
	id2 := b.serviceRequire("echo")
	if id1 != id2 {
		t.Fatalf("expected same ServiceId for repeated names, got %v and %v", id1, id2)
	}
	if b.service(id1).name != "echo" {
		t.Fatalf("expected service name 'echo', got %q", b.service(id1).name)
	}
}

func TestWorkerRequireReportsExistingPresence(t *testing.T) {
	b, _, _ := newTestBroker()

	id1, present1 := b.workerRequire("w1")
	if present1 {
		t.Fatal("expected first workerRequire to report not-already-present")
	}
	id2, present2 := b.workerRequire("w1")
	if !present2 {
		t.Fatal("expected second workerRequire to report already-present")
	}
	if id1 != id2 {
		t.Fatalf("expected same WorkerId, got %v and %v", id1, id2)
	}
}

func TestWorkerReadyAttachesAndWaits(t *testing.T) {
	b, _, _ := newTestBroker()

	b.workerProcess("w1", workerReadyRest("echo"))

	wid, ok := b.workersByIdentity["w1"]
	if !ok {
		t.Fatal("expected worker w1 to be registered")
	}
	w := b.worker(wid)
	if w.service == noService {
		t.Fatal("expected worker to be attached to a service")
	}
	if !b.waitingSet[wid] {
		t.Fatal("expected worker to be in the waiting set after READY")
	}
	if count, ok := b.ServiceWorkerCount("echo"); !ok || count != 1 {
		t.Fatalf("expected echo worker_count == 1, got %d (ok=%v)", count, ok)
	}
}

func TestDuplicateReadyDisconnectsWorker(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("w1", workerReadyRest("echo"))
	b.workerProcess("w1", workerReadyRest("echo"))

	if _, ok := b.workersByIdentity["w1"]; ok {
		t.Fatal("expected duplicate READY to delete the worker")
	}
	mustEqualFrames(t, ep.last("w1"), BuildWorkerDisconnect())
}

func TestWorkerIdentityReservedForMMIRejected(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess(transport.PeerId("mmi.sneaky"), workerReadyRest("echo"))

	if _, ok := b.workersByIdentity[transport.PeerId("mmi.sneaky")]; ok {
		t.Fatal("expected mmi.-prefixed worker identity to be rejected")
	}
	mustEqualFrames(t, ep.last("mmi.sneaky"), BuildWorkerDisconnect())
}

func TestReplyFromUnregisteredWorkerDisconnects(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("ghost", workerReplyRest("client1", transport.Frames{[]byte("x")}))

	mustEqualFrames(t, ep.last("ghost"), BuildWorkerDisconnect())
}

func TestSingleEchoEndToEnd(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))
	b.clientProcess("client1", clientRequestRest("echo", []byte("hello")))

	mustEqualFrames(t, ep.last("worker1"), BuildWorkerRequest("client1", transport.Frames{[]byte("hello")}))

	b.workerProcess("worker1", workerReplyRest("client1", transport.Frames{[]byte("hello")}))

	mustEqualFrames(t, ep.last("client1"), BuildClientRequest("echo", []byte("hello")))
}

func TestCountdownRepliesArriveInOrder(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))

	messages := []string{"3...", "2...", "1...", "blast off!"}
	for _, m := range messages {
		b.clientProcess("client1", clientRequestRest("echo", []byte(m)))
		b.workerProcess("worker1", workerReplyRest("client1", transport.Frames{[]byte(m)}))
	}

	if got := ep.count("client1"); got != len(messages) {
		t.Fatalf("expected %d replies to client1, got %d", len(messages), got)
	}
	for i, m := range messages {
		mustEqualFrames(t, ep.sent["client1"][i], BuildClientRequest("echo", []byte(m)))
	}
}

func TestMMIServicePresent(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))
	b.clientProcess("client1", clientRequestRest("mmi.service", []byte("echo")))

	mustEqualFrames(t, ep.last("client1"), BuildClientRequest("mmi.service", []byte("200")))
}

func TestMMIServiceAbsent(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.clientProcess("client1", clientRequestRest("mmi.service", []byte("echo")))

	mustEqualFrames(t, ep.last("client1"), BuildClientRequest("mmi.service", []byte("404")))
}

func TestMMIUnknownServiceReturns501(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.clientProcess("client1", clientRequestRest("mmi.other", []byte("x")))

	mustEqualFrames(t, ep.last("client1"), BuildClientRequest("mmi.other", []byte("501")))
}

func TestLivenessPurgeRemovesExpiredWorker(t *testing.T) {
	b, ep, clock := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))
	if count, _ := b.ServiceWorkerCount("echo"); count != 1 {
		t.Fatalf("expected worker_count 1 before expiry, got %d", count)
	}

	clock.advance(HeartbeatExpiry.Milliseconds() + 1)
	b.procHeartbeat(clock.NowMillis())

	if _, ok := b.workersByIdentity["worker1"]; ok {
		t.Fatal("expected expired worker to be purged")
	}
	if count, _ := b.ServiceWorkerCount("echo"); count != 0 {
		t.Fatalf("expected worker_count 0 after expiry, got %d", count)
	}

	b.clientProcess("client1", clientRequestRest("mmi.service", []byte("echo")))
	mustEqualFrames(t, ep.last("client1"), BuildClientRequest("mmi.service", []byte("404")))
}

func TestHeartbeatNotSentBeforeDue(t *testing.T) {
	b, ep, clock := newTestBroker()
	b.workerProcess("worker1", workerReadyRest("echo"))
	b.heartbeatAt = clock.NowMillis() + HeartbeatInterval.Milliseconds()

	before := ep.count("worker1")
	b.procHeartbeat(clock.NowMillis())
	if ep.count("worker1") != before {
		t.Fatal("expected no heartbeat to be sent before heartbeatAt is reached")
	}
}

func TestHeartbeatSentWhenDue(t *testing.T) {
	b, ep, clock := newTestBroker()
	b.workerProcess("worker1", workerReadyRest("echo"))
	b.heartbeatAt = clock.NowMillis()

	b.procHeartbeat(clock.NowMillis())
	mustEqualFrames(t, ep.last("worker1"), BuildWorkerHeartbeat())
}

func TestDispatchPrefersFreshestExpiry(t *testing.T) {
	b, ep, clock := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))
	clock.advance(100)
	b.workerProcess("worker2", workerReadyRest("echo"))

	// worker2 registered later, so has the larger (fresher) expiry and
	// should be preferred for the next dispatch.
	b.clientProcess("client1", clientRequestRest("echo", []byte("hi")))

	if ep.count("worker1") != 0 {
		t.Fatal("expected worker1 (staler expiry) not to receive the request")
	}
	mustEqualFrames(t, ep.last("worker2"), BuildWorkerRequest("client1", transport.Frames{[]byte("hi")}))
}

func TestWorkerDisconnectCommandRemovesWorkerSilently(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))
	b.workerProcess("worker1", workerDisconnectRest())

	if _, ok := b.workersByIdentity["worker1"]; ok {
		t.Fatal("expected DISCONNECT to remove the worker")
	}
	if ep.count("worker1") != 0 {
		t.Fatal("expected no DISCONNECT frame to be sent back for a self-initiated disconnect")
	}
}

func TestHeartbeatFromUnregisteredWorkerDisconnects(t *testing.T) {
	b, ep, _ := newTestBroker()

	b.workerProcess("ghost", workerHeartbeatRest())

	mustEqualFrames(t, ep.last("ghost"), BuildWorkerDisconnect())
}

func TestStatsReflectsRegistrations(t *testing.T) {
	b, _, _ := newTestBroker()

	b.workerProcess("worker1", workerReadyRest("echo"))
	b.clientProcess("client1", clientRequestRest("echo", []byte("hi")))

	stats := b.Stats()
	if stats.Services != 1 {
		t.Fatalf("expected 1 service, got %d", stats.Services)
	}
	if stats.Workers != 1 {
		t.Fatalf("expected 1 worker, got %d", stats.Workers)
	}
	if stats.RecentClients != 1 {
		t.Fatalf("expected 1 recent client, got %d", stats.RecentClients)
	}
}

func TestWithHeartbeatOverridesExpiry(t *testing.T) {
	b, _, clock := newTestBroker()
	b.WithHeartbeat(100*time.Millisecond, 2)

	b.workerProcess("worker1", workerReadyRest("echo"))

	clock.advance(150)
	b.procHeartbeat(clock.NowMillis())
	if _, ok := b.workersByIdentity["worker1"]; !ok {
		t.Fatal("expected worker to survive under the 200ms override expiry")
	}

	clock.advance(100)
	b.procHeartbeat(clock.NowMillis())
	if _, ok := b.workersByIdentity["worker1"]; ok {
		t.Fatal("expected worker to be purged once the overridden expiry elapsed")
	}
}

func BenchmarkWorkerRegistration(b *testing.B) {
	broker, _, _ := newTestBroker()
	ready := workerReadyRest("bench.service")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		identity := transport.PeerId(fmt.Sprintf("worker%d", i))
		broker.workerProcess(identity, ready)
	}
}

func BenchmarkMessageRouting(b *testing.B) {
	broker, _, _ := newTestBroker()
	broker.workerProcess("bench-worker", workerReadyRest("bench.service"))
	request := clientRequestRest("bench.service", []byte("payload"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		client := transport.PeerId(fmt.Sprintf("client%d", i))
		broker.clientProcess(client, request)
		broker.workerProcess("bench-worker", workerReplyRest(client, transport.Frames{[]byte("payload")}))
	}
}
