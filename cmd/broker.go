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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/brettviren/generaldomo/internal/brokerconfig"
	"github.com/brettviren/generaldomo/internal/hermes"
	"github.com/brettviren/generaldomo/internal/lifecycle"
	"github.com/brettviren/generaldomo/internal/statusapi"
	"github.com/brettviren/generaldomo/internal/transport"
)

var (
	brokerConfigPath string
	brokerAddrFlag   string
	brokerFlavorFlag string
)

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Run the Majordomo broker",
	RunE:  runBroker,
}

func init() {
	brokerCmd.Flags().StringVarP(&brokerConfigPath, "config", "c", "", "path to broker config YAML (optional)")
	brokerCmd.Flags().StringVar(&brokerAddrFlag, "address", "", "bind address, overrides config (e.g. tcp://*:5555)")
	brokerCmd.Flags().StringVar(&brokerFlavorFlag, "flavor", "", "transport flavor, overrides config (envelope|connection)")
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg := brokerconfig.Default()
	if brokerConfigPath != "" {
		loaded, err := brokerconfig.Load(brokerConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if brokerAddrFlag != "" {
		cfg.Broker.Address = brokerAddrFlag
	}
	if brokerFlavorFlag != "" {
		cfg.Broker.Flavor = brokerFlavorFlag
	}

	flavor, err := parseFlavor(cfg.Broker.Flavor)
	if err != nil {
		return err
	}

	endpoint, err := transport.NewBrokerEndpoint(flavor, cfg.Broker.Address)
	if err != nil {
		return fmt.Errorf("bind broker endpoint: %w", err)
	}
	defer endpoint.Close()

	broker := hermes.NewBroker(endpoint, hermes.NewSystemClock(), log).
		WithHeartbeat(cfg.HeartbeatIntervalDuration(), cfg.Broker.HeartbeatLiveness)

	ctx, stop := lifecycle.WithSignals(context.Background())
	defer stop()

	if cfg.StatusAPI.Enabled {
		status := statusapi.New(&brokerStatsAdapter{broker}, cfg.StatusAPI.Address, log)
		go func() {
			if err := status.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("status api server stopped")
			}
		}()
		defer status.Shutdown()
	}

	log.Info().
		Str("address", cfg.Broker.Address).
		Str("flavor", cfg.Broker.Flavor).
		Msg("broker starting")

	return broker.Run(ctx)
}

// brokerStatsAdapter adapts hermes.Broker to statusapi.BrokerView so the
// statusapi package does not need to import hermes.
type brokerStatsAdapter struct {
	broker *hermes.Broker
}

func (a *brokerStatsAdapter) ServiceNames() []string { return a.broker.ServiceNames() }

func (a *brokerStatsAdapter) ServiceWorkerCount(name string) (int, bool) {
	return a.broker.ServiceWorkerCount(name)
}

func (a *brokerStatsAdapter) Stats() statusapi.Stats {
	s := a.broker.Stats()
	return statusapi.Stats{
		Services:      s.Services,
		Workers:       s.Workers,
		WaitingCount:  s.WaitingCount,
		RecentClients: s.RecentClients,
	}
}
