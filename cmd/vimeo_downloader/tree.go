package main

import (
	"fmt"

	"github.com/italolelis/vimeo_downloader/internal/downloader"
	"github.com/italolelis/vimeo_downloader/internal/inventory"
	"github.com/spf13/cobra"
)

func newTreeCmd(global *globalFlags) *cobra.Command {
	var foldersOnly bool

	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Print the folder tree of the account",
		Long: `Print the folders of the account as a tree, with the videos of each
folder and the videos that are in no folder. Nothing is downloaded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd, global, nil, nil)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			root, err := inventory.NewEnumerator(a.client).Tree(ctx, !foldersOnly)
			if err != nil {
				return &exitError{Code: downloader.ExitAborted, Err: fmt.Errorf("failed to list account: %w", err)}
			}

			if err := root.Render(cmd.OutOrStdout()); err != nil {
				return &exitError{Code: downloader.ExitAborted, Err: err}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&foldersOnly, "folders-only", false, "Only print folders")

	return cmd
}
