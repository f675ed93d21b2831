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
	"time"

	"github.com/spf13/cobra"

	"github.com/brettviren/generaldomo/internal/hermes"
)

var (
	clientAddrFlag    string
	clientFlavorFlag  string
	clientTimeoutFlag time.Duration
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send one-off requests to a broker",
}

var clientRequestCmd = &cobra.Command{
	Use:   "request <service> [body...]",
	Short: "Send a single request and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runClientRequest,
}

func init() {
	clientCmd.PersistentFlags().StringVar(&clientAddrFlag, "address", "tcp://127.0.0.1:5555", "broker address to connect to")
	clientCmd.PersistentFlags().StringVar(&clientFlavorFlag, "flavor", "envelope", "transport flavor (envelope|connection)")
	clientCmd.PersistentFlags().DurationVar(&clientTimeoutFlag, "timeout", 5*time.Second, "reply timeout")

	clientCmd.AddCommand(clientRequestCmd)
}

func runClientRequest(cmd *cobra.Command, args []string) error {
	flavor, err := parseFlavor(clientFlavorFlag)
	if err != nil {
		return err
	}

	runtime, err := hermes.NewClientRuntime(flavor, clientAddrFlag, clientTimeoutFlag, log)
	if err != nil {
		return err
	}
	defer runtime.Close()

	service := args[0]
	body := make([][]byte, 0, len(args)-1)
	for _, a := range args[1:] {
		body = append(body, []byte(a))
	}

	reply, err := runtime.Request(service, body...)
	if err != nil {
		return err
	}

	for _, frame := range reply {
		fmt.Println(string(frame))
	}
	return nil
}
