package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/oshokin/aur-wayback-updater/internal/config"
)

var errConfigExists = errors.New("configuration file already exists, use --force to overwrite")

// attachInitConfigCommand adds `init-config`, which writes the default settings.
func attachInitConfigCommand(root *cobra.Command) {
	var force bool

	command := &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write a configuration file with the default settings.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigFilename
			if len(args) > 0 {
				path = args[0]
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s: %w", path, errConfigExists)
			}

			if err := config.Save(path, config.Default()); err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration written to", path)

			return nil
		},
	}

	command.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	root.AddCommand(command)
}
