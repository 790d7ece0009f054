package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/clicker/internal/config"
	"github.com/ehrlich-b/clicker/internal/logger"
)

func main() {
	if err := rootCmd(&app{}).Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every command once prepare has run.
type app struct {
	dir      string
	cfg      *config.Config
	closeLog io.Closer
}

func rootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "clicker",
		Short:        "Encrypted presentation remote over MQTT",
		Long:         "Drive a slide deck from any number of remotes through a public MQTT broker. Messages are end-to-end encrypted with the room password.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if done, err := a.prepare(cmd); done {
				return err
			}
			return cmd.Help()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closeLog != nil {
				a.closeLog.Close()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("host", "", "MQTT broker host (saved to config)")
	pf.Int("port", 0, "MQTT broker port (saved to config)")
	pf.Int("keepalive", 0, "MQTT keepalive in seconds (saved to config)")
	pf.String("transport", "", "tcp or websockets (saved to config)")
	pf.String("theme", "", "UI theme name (saved to config)")
	pf.Bool("open-config-dir", false, "Open the configuration directory and exit")

	root.AddCommand(
		listenCmd(a),
		remoteCmd(a),
		mockCmd(a),
		configCmd(a),
	)
	return root
}

// overridesFromFlags collects the config flags that were explicitly set.
func overridesFromFlags(fs *pflag.FlagSet) (config.Overrides, error) {
	var o config.Overrides
	if fs.Changed("host") {
		v, err := fs.GetString("host")
		if err != nil {
			return o, err
		}
		o.Host = &v
	}
	if fs.Changed("port") {
		v, err := fs.GetInt("port")
		if err != nil {
			return o, err
		}
		o.Port = &v
	}
	if fs.Changed("keepalive") {
		v, err := fs.GetInt("keepalive")
		if err != nil {
			return o, err
		}
		o.Keepalive = &v
	}
	if fs.Changed("transport") {
		v, err := fs.GetString("transport")
		if err != nil {
			return o, err
		}
		o.Transport = &v
	}
	if fs.Changed("theme") {
		v, err := fs.GetString("theme")
		if err != nil {
			return o, err
		}
		o.Theme = &v
	}
	return o, nil
}

// prepare handles the config flags and loads configuration. done is true
// when the command must stop here: a flag updated the config, the config
// directory was opened, or something failed.
func (a *app) prepare(cmd *cobra.Command) (done bool, err error) {
	dir, err := config.Dir()
	if err != nil {
		return true, err
	}
	o, err := overridesFromFlags(cmd.Flags())
	if err != nil {
		return true, err
	}
	if err := o.Validate(); err != nil {
		return true, err
	}
	openDir, _ := cmd.Flags().GetBool("open-config-dir")

	if !o.Empty() {
		if err := config.Update(dir, o); err != nil {
			return true, err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Config updated: %s\n", config.Path(dir))
	}
	if openDir {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return true, err
		}
		return true, openDirectory(dir)
	}
	if !o.Empty() {
		return true, nil
	}

	cfg, err := config.Load(dir)
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return true, fmt.Errorf("%s: %w", config.Path(dir), err)
		}
		return true, err
	}
	closer, err := logger.Init(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return true, fmt.Errorf("open log file: %w", err)
	}
	a.dir, a.cfg, a.closeLog = dir, cfg, closer
	return false, nil
}

// openDirectory shows dir in the platform file manager.
func openDirectory(dir string) error {
	var name string
	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		name = "explorer"
	default:
		name = "xdg-open"
	}
	if err := exec.Command(name, dir).Start(); err != nil {
		return fmt.Errorf("open %s: %w", dir, err)
	}
	return nil
}

func configCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if done, err := a.prepare(cmd); done {
				return err
			}
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n", config.Path(a.dir))
			out.Write(data)
			return nil
		},
	}
}
