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

// NewBrokerEndpoint builds the broker-side (binding) endpoint for the
// requested flavor.
func NewBrokerEndpoint(flavor Flavor, bindAddr string) (Endpoint, error) {
	switch flavor {
	case Envelope:
		return NewRouterEndpoint(bindAddr)
	case Connection:
		return NewServerEndpoint(bindAddr)
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported broker flavor %v", flavor)}
	}
}

// NewWorkerEndpoint builds the worker/client-side (connecting) endpoint
// for the requested flavor. identity is only meaningful for the envelope
// flavor's DEALER socket; the connection flavor's CLIENT socket always
// gets a fresh transport-assigned routing id and ignores it.
func NewWorkerEndpoint(flavor Flavor, connectAddr string, identity []byte) (Endpoint, error) {
	switch flavor {
	case Envelope:
		return NewDealerEndpoint(connectAddr, identity)
	case Connection:
		return NewClientEndpoint(connectAddr)
	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unsupported worker flavor %v", flavor)}
	}
}
