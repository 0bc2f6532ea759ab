// Package cli implements the windops command line client.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/windops/internal/client"
	"github.com/kiranshivaraju/windops/internal/resultcache"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "WINDOPS"

// Flag and config keys. Every key can also be set as WINDOPS_<KEY> with
// dashes replaced by underscores.
const (
	keyServer        = "server"
	keyToken         = "token"
	keySubmitTimeout = "submit-timeout"
	keyPollInterval  = "poll-interval"
	keyPollTimeout   = "poll-timeout"
	keyCachePath     = "cache-path"
	keyVerbose       = "verbose"
)

// app carries the resolved settings to the subcommands.
type app struct {
	v *viper.Viper
}

// NewRootCommand builds the windops command tree.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "windops",
		Short:         "Run wind plant analyses on a WindOps server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.String(keyServer, "http://localhost:8080", "WindOps server URL")
	pf.String(keyToken, "", "API key sent as a bearer token")
	pf.Duration(keySubmitTimeout, 2*time.Minute, "how long to wait on a submission before polling")
	pf.Duration(keyPollInterval, 5*time.Second, "delay between status polls")
	pf.Duration(keyPollTimeout, time.Hour, "give up polling after this long")
	pf.String(keyCachePath, "", "result cache file (default is windops/results.db in the user config dir)")
	pf.BoolP(keyVerbose, "v", false, "verbose logging")

	root.AddCommand(
		a.newRunCommand(),
		a.newStatusCommand(),
		a.newResultCommand(),
		a.newJobsCommand(),
		a.newCacheCommand(),
		a.newDataCommand(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	level := slog.LevelWarn
	if a.v.GetBool(keyVerbose) {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}

func (a *app) client() *client.HTTPClient {
	return client.NewHTTPClient(a.v.GetString(keyServer), a.v.GetString(keyToken),
		client.WithSubmitTimeout(a.v.GetDuration(keySubmitTimeout)))
}

func (a *app) openCache() (*resultcache.Store, error) {
	path := a.v.GetString(keyCachePath)
	if path == "" {
		var err error
		if path, err = resultcache.DefaultPath(); err != nil {
			return nil, err
		}
	}
	s, err := resultcache.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening result cache: %w", err)
	}
	return s, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
