package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tasksync/client"
)

var version = "dev"

// errRequestFailed has already been reported to the user.
var errRequestFailed = errors.New("request failed")

type options struct {
	server    string
	token     string
	statePath string
	debug     bool
}

func main() {
	opts := &options{}
	root := &cobra.Command{
		Use:           "taskctl",
		Short:         "Command line client for the task tracker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.debug {
				log.SetLevel(log.DebugLevel)
			}
		},
	}
	root.PersistentFlags().StringVar(&opts.server, "server", getenv("TASKCTL_SERVER", "http://localhost:8080"), "API base URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("TASKCTL_TOKEN"), "bearer token")
	root.PersistentFlags().StringVar(&opts.statePath, "state", defaultStatePath(), "local state database")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		listCmd(opts),
		getCmd(opts),
		createCmd(opts),
		updateCmd(opts),
		deleteCmd(opts),
		commentCmd(opts),
		watchCmd(opts),
		presetsCmd(opts),
		tokenCmd(),
	)

	if err := root.Execute(); err != nil {
		if !errors.Is(err, errRequestFailed) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func (o *options) client() *client.HTTPClient {
	return client.NewHTTPClient(o.server, o.token)
}

// mutationFailed reports a failed write without exposing transport detail.
func mutationFailed(cmd *cobra.Command, err error) error {
	log.WithError(err).Debug("mutation failed")
	fmt.Fprintln(cmd.ErrOrStderr(), "request failed")
	return errRequestFailed
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".taskctl", "state.sqlite")
	}
	return filepath.Join(home, ".taskctl", "state.sqlite")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
