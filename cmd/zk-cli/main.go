// Command zk-cli is a thin command-line front end onto package zk, the
// way the teacher's own example clients exercised gozk interactively.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gozk-project/gozk/zk"
)

var (
	connString     string
	sessionTimeout time.Duration
	configPath     string
	verbose        bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "zk-cli",
		Short: "Interact with a ZooKeeper ensemble",
	}
	root.PersistentFlags().StringVar(&connString, "servers", "127.0.0.1:2181", "comma-separated host:port list, optionally with /chroot")
	root.PersistentFlags().DurationVar(&sessionTimeout, "timeout", 6*time.Second, "session timeout")
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file overriding flags")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newCreateCmd(),
		newGetCmd(),
		newSetCmd(),
		newDeleteCmd(),
		newLsCmd(),
		newWatchCmd(),
		newLockCmd(),
	)
	return root
}

func newLogger() *zap.Logger {
	if verbose {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}

// loadConfig merges an optional YAML config file over the CLI flags
// already parsed into the package-level vars, the file's values winning
// where present. A missing --config is not an error.
func loadConfig() error {
	if configPath == "" {
		return nil
	}
	var fileCfg struct {
		Servers string        `yaml:"servers"`
		Timeout time.Duration `yaml:"timeout"`
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", configPath, err)
	}
	if err := yamlUnmarshal(data, &fileCfg); err != nil {
		return fmt.Errorf("parsing config %s: %w", configPath, err)
	}
	if fileCfg.Servers != "" {
		connString = fileCfg.Servers
	}
	if fileCfg.Timeout > 0 {
		sessionTimeout = fileCfg.Timeout
	}
	return nil
}

func connect(ctx context.Context) (*zk.Client, error) {
	if err := loadConfig(); err != nil {
		return nil, err
	}
	log := newLogger()
	client, stateW, err := zk.Connect(connString, zk.WithSessionTimeout(sessionTimeout), zk.WithLogger(log))
	if err != nil {
		return nil, err
	}
	for {
		switch stateW.State() {
		case zk.StateSyncConnected, zk.StateReadOnlyConnected:
			return client, nil
		case zk.StateAuthFailed, zk.StateExpired, zk.StateClosed:
			return nil, fmt.Errorf("session ended before becoming ready: %s", stateW.State())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		stateW.Changed()
	}
}

func newCreateCmd() *cobra.Command {
	var ephemeral, sequential bool
	cmd := &cobra.Command{
		Use:   "create <path> [data]",
		Short: "Create a znode",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			}
			flags := zk.FlagPersistent
			if ephemeral {
				flags |= zk.FlagEphemeral
			}
			if sequential {
				flags |= zk.FlagSequential
			}
			created, _, err := client.Create(cmd.Context(), args[0], data, zk.WorldACL(zk.PermAll), flags)
			if err != nil {
				return err
			}
			fmt.Println(created)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&ephemeral, "ephemeral", "e", false, "create an ephemeral node")
	cmd.Flags().BoolVarP(&sequential, "sequential", "s", false, "append a sequence number")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "Print a znode's data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			data, st, _, err := client.GetData(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			fmt.Printf("%s\ncversion=%d mtime=%d\n", data, st.Cversion, st.Mtime)
			return nil
		},
	}
}

func newSetCmd() *cobra.Command {
	var version int32
	cmd := &cobra.Command{
		Use:   "set <path> <data>",
		Short: "Set a znode's data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			_, err = client.SetData(cmd.Context(), args[0], []byte(args[1]), version)
			return err
		},
	}
	cmd.Flags().Int32Var(&version, "version", -1, "expected version, -1 for any")
	return cmd
}

func newDeleteCmd() *cobra.Command {
	var version int32
	cmd := &cobra.Command{
		Use:     "delete <path>",
		Aliases: []string{"rm"},
		Short:   "Delete a znode",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			return client.Delete(cmd.Context(), args[0], version)
		},
	}
	cmd.Flags().Int32Var(&version, "version", -1, "expected version, -1 for any")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a znode's children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			children, _, _, err := client.GetChildren(cmd.Context(), args[0], false)
			if err != nil {
				return err
			}
			for _, c := range children {
				fmt.Println(c)
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "watch <path>",
		Short: "Print events for a path until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()
			watcher, err := client.AddWatch(cmd.Context(), args[0], recursive)
			if err != nil {
				return err
			}
			defer watcher.Remove()
			for {
				ev := watcher.Changed()
				fmt.Printf("%s %s\n", ev.Type, ev.Path)
				if ev.IsSession() && ev.State.Terminal() {
					return nil
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "watch the whole subtree")
	return cmd
}
