package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func runRelease(cmd *cobra.Command, args []string) error {
	if err := client.release(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("released %s\n", args[0])
	return nil
}
