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
	"context"

	"github.com/spf13/cobra"

	"github.com/brettviren/generaldomo/internal/hermes"
	"github.com/brettviren/generaldomo/internal/lifecycle"
	"github.com/brettviren/generaldomo/internal/transport"
)

var (
	workerAddrFlag    string
	workerFlavorFlag  string
	workerServiceFlag string
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a worker that echoes requests back to the sender",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerAddrFlag, "address", "tcp://127.0.0.1:5555", "broker address to connect to")
	workerCmd.Flags().StringVar(&workerFlavorFlag, "flavor", "envelope", "transport flavor (envelope|connection)")
	workerCmd.Flags().StringVar(&workerServiceFlag, "service", "echo", "service name to advertise")
}

// echoHandler replies with the request body unchanged, the reference
// worker behavior used throughout the end-to-end scenarios.
type echoHandler struct{}

func (echoHandler) HandleRequest(ctx context.Context, body transport.Frames) (transport.Frames, error) {
	return body, nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	flavor, err := parseFlavor(workerFlavorFlag)
	if err != nil {
		return err
	}

	runtime := hermes.NewWorkerRuntime(flavor, workerAddrFlag, workerServiceFlag, echoHandler{}, hermes.NewSystemClock(), log)

	ctx, stop := lifecycle.WithSignals(context.Background())
	defer stop()

	log.Info().
		Str("address", workerAddrFlag).
		Str("service", workerServiceFlag).
		Msg("worker connecting")

	return runtime.Run(ctx)
}
