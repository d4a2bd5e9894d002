package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func runProfiles(cmd *cobra.Command, args []string) error {
	profiles, err := client.profiles(context.Background())
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(profiles, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	if len(profiles) == 0 {
		fmt.Println("no profiles configured")
		return nil
	}
	for _, p := range profiles {
		fmt.Println(p)
	}
	return nil
}
