package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func runRemove(cmd *cobra.Command, args []string) error {
	if err := client.remove(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[0])
	return nil
}
