package cmd

import (
	"log/slog"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/relay"
	"github.com/BioHazard786/meshcall/internal/ui"
	"github.com/spf13/cobra"
)

var flagListen string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a signaling relay",
	Long: `Run the websocket relay participants join rooms on. It assigns identities,
tracks room membership and forwards offers, answers and candidates.

Examples:
  meshcall relay
  meshcall relay --listen :9000`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{ListenAddr: flagListen})
		if err != nil {
			return err
		}

		ui.PrintInfof("%s Relay listening on %s (ws path /ws, health /health)", ui.IconConnect, cfg.ListenAddr)
		if err := relay.ListenAndServe(cmd.Context(), cfg.ListenAddr, slog.Default()); err != nil {
			return err
		}
		ui.PrintSuccess("Relay stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Address to listen on (default "+config.DefaultListenAddr+")")
}
