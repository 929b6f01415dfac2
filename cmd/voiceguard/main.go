// Command voiceguard listens to an audio source and raises alerts while the
// voice it hears is classified as AI generated.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/voiceguard-lab/internal/config"
	"github.com/voiceguard-lab/internal/logging"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

type app struct {
	configPath string
	settings   *config.Settings
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "voiceguard",
		Short:         "Streaming AI voice detection",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(a.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			a.settings = s
			logging.InitLevel(s.LogLevel)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logging.Sync()
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./config.yaml or ~/.config/voiceguard/config.yaml)")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("endpoint", "", "classifier base URL, e.g. http://127.0.0.1:7860/gradio_api")
	pf.String("api-name", "", "classifier API name")

	root.AddCommand(newStreamCmd(a), newAnalyzeCmd(a), newStatusCmd())
	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		logging.Errorw("voiceguard failed", "error", err)
		_ = logging.Sync()
		root.PrintErrln("Error:", err)
		os.Exit(1)
	}
}
