package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

func runAllocate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	profile := ""
	if len(args) == 1 {
		profile = args[0]
	}

	if profile == "" {
		if !stylingEnabled() {
			return fmt.Errorf("a profile name is required when stdout is not a terminal")
		}
		chosen, err := pickProfile(ctx)
		if err != nil {
			return err
		}
		profile = chosen
	}

	res, err := client.allocate(ctx, profile, allocateTimeout)
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(res, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("allocated %s on reader %s\n", res.ID, res.Reader)
	return nil
}

// pickProfile prompts interactively with huh when the caller ran
// "allocate" with no profile argument from a real terminal.
func pickProfile(ctx context.Context) (string, error) {
	profiles, err := client.profiles(ctx)
	if err != nil {
		return "", err
	}
	if len(profiles) == 0 {
		return "", fmt.Errorf("cardresd has no configured profiles")
	}
	if len(profiles) == 1 {
		return profiles[0], nil
	}

	options := make([]huh.Option[string], 0, len(profiles))
	for _, p := range profiles {
		options = append(options, huh.NewOption(p, p))
	}

	var selected string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which profile should allocate a reader?").
				Options(options...).
				Value(&selected),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("profile selection cancelled: %w", err)
	}
	return selected, nil
}
