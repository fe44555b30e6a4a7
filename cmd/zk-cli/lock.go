package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/gozk-project/gozk/zk/recipes"
)

func newLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <path>",
		Short: "Hold a distributed lock while waiting for interrupt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			lock := recipes.NewLock(client, args[0])
			if err := lock.Lock(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("lock acquired, press ctrl-c to release")
			defer lock.Unlock(cmd.Context())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			<-sigCh
			return nil
		},
	}
}
