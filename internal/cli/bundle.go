package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/converge-sh/converge/internal/bundle"
)

var (
	bundleOut        string
	bundleExtractDir string
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Pack the spec and its file sources into a tarball",
	Long:  "bundle validates the spec, then writes it together with every referenced\nsource file into one .tar.gz for copying to the target host.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := bundleOut
		if out == "" {
			base := strings.TrimSuffix(filepath.Base(specPath), filepath.Ext(specPath))
			out = base + ".tar.gz"
		}
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := bundle.Create(f, specPath); err != nil {
			f.Close()
			os.Remove(out)
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Info().Str("bundle", out).Msg("bundle written")
		fmt.Printf("Wrote %s. Copy it to the host and run `converge unbundle %s`.\n", out, filepath.Base(out))
		return nil
	},
}

var unbundleCmd = &cobra.Command{
	Use:   "unbundle <bundle.tar.gz>",
	Short: "Unpack a spec bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		specFile, err := bundle.Extract(f, bundleExtractDir)
		if err != nil {
			return err
		}
		fmt.Printf("Unpacked to %s. Run `converge apply -f %s`.\n", bundleExtractDir, specFile)
		return nil
	},
}

func init() {
	bundleCmd.Flags().StringVarP(&bundleOut, "output", "o", "", "Output path (default <spec>.tar.gz)")
	unbundleCmd.Flags().StringVarP(&bundleExtractDir, "dir", "C", ".", "Directory to unpack into")
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(unbundleCmd)
}
