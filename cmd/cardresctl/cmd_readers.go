package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func runReaders(cmd *cobra.Command, args []string) error {
	readers, err := client.readers(context.Background())
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(readers, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(readers) == 0 {
		fmt.Println("no readers detected")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPLUGIN\tACTIVE\tCARD\tBUSY")
	for _, r := range readers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Name, r.Plugin, yesNo(r.Active), yesNo(r.CardPresent), yesNo(r.Busy))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
