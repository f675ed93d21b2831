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

package cmd

import (
	"fmt"

	"github.com/brettviren/generaldomo/internal/transport"
)

func parseFlavor(s string) (transport.Flavor, error) {
	switch s {
	case "envelope", "":
		return transport.Envelope, nil
	case "connection":
		return transport.Connection, nil
	default:
		return transport.Envelope, fmt.Errorf("unknown transport flavor %q (want \"envelope\" or \"connection\")", s)
	}
}
