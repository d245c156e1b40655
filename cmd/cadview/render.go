package main

import (
	"context"
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/vanderheijden86/cadview/pkg/viewer"
)

var (
	renderOut    string
	renderSelect string
	renderWidth  int
	renderHeight int
)

var renderCmd = &cobra.Command{
	Use:     "render",
	Short:   "Render the loaded model to a PNG",
	GroupID: "export",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout())
		defer cancel()

		client := newClient()
		// A fresh token so no cached mesh is reused.
		token, err := nanoid.New()
		if err != nil {
			return err
		}
		m := viewer.Project(client, token, true, renderSelect, renderSelect != "")
		scene, err := viewer.New(client).Load(ctx, m)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
		if scene.EmphasisErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: component %s unavailable: %v\n", renderSelect, scene.EmphasisErr)
		}
		if err := viewer.SavePNG(renderOut, scene, renderWidth, renderHeight); err != nil {
			return fmt.Errorf("write %s: %w", renderOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", renderOut)
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "model.png", "output PNG file")
	renderCmd.Flags().StringVar(&renderSelect, "select", "", "emphasise this component id")
	renderCmd.Flags().IntVar(&renderWidth, "width", 1024, "image width in pixels")
	renderCmd.Flags().IntVar(&renderHeight, "height", 768, "image height in pixels")
}
