// internal/cli/compress.go

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VictorHono/agrosense-ai-sub001/internal/service/imaging"
)

var compressCmd = &cobra.Command{
	Use:   "compress [file]",
	Short: "Compress a photo under the upload budget",
	Long: `Runs the same compression the API applies before analysis. The adaptive
preset is used for diagnoses, the schedule preset for harvests.`,
	Args: cobra.ExactArgs(1),
	RunE: runCompress,
}

var (
	compressPreset string
	compressTarget string
	compressOutput string
)

func init() {
	compressCmd.Flags().StringVarP(&compressPreset, "preset", "p", string(imaging.PolicyAdaptive), "Compression preset: adaptive or schedule")
	compressCmd.Flags().StringVarP(&compressTarget, "target", "t", "400KiB", "Byte budget, e.g. 400KiB or 1MB")
	compressCmd.Flags().StringVarP(&compressOutput, "output", "o", "", "Output file (default <name>.min.jpg)")
	rootCmd.AddCommand(compressCmd)
}

func runCompress(cmd *cobra.Command, args []string) error {
	preset, err := presetFromFlags(compressPreset, compressTarget)
	if err != nil {
		return err
	}

	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", input, err)
	}

	output := compressOutput
	if output == "" {
		output = strings.TrimSuffix(input, filepath.Ext(input)) + ".min.jpg"
	}

	engine := imaging.NewEngine(imaging.NewStdCodec(), newLogger(), nil)
	last := imaging.StepIdle
	res, err := engine.Compress(context.Background(), data, preset, func(s imaging.CompressionState) {
		if asJSON || s.Step == last {
			return
		}
		last = s.Step
		cmd.PrintErrf("%-12s %3d%%\n", s.Step, s.Progress)
	})
	if err != nil {
		return fmt.Errorf("failed to compress %s: %w", input, err)
	}

	if err := os.WriteFile(output, res.Data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	if asJSON {
		return printJSON(cmd, res)
	}

	cmd.Printf("Wrote %s\n\n", output)
	cmd.Printf("  Preset:   %s (budget %s)\n", res.Preset, humanize.IBytes(uint64(preset.Target)))
	cmd.Printf("  Input:    %s, %dx%d\n", humanize.IBytes(uint64(len(data))), res.SourceWidth, res.SourceHeight)
	cmd.Printf("  Output:   %s, %dx%d\n", humanize.IBytes(uint64(res.Size())), res.Width, res.Height)
	cmd.Printf("  Quality:  %.2f\n", res.Quality)
	cmd.Printf("  Attempts: %d\n", res.Attempts)
	return nil
}

func presetFromFlags(name, target string) (imaging.Preset, error) {
	budget, err := humanize.ParseBytes(target)
	if err != nil {
		return imaging.Preset{}, fmt.Errorf("invalid target %q: %w", target, err)
	}
	if budget == 0 {
		return imaging.Preset{}, fmt.Errorf("target must be positive")
	}

	preset, ok := imaging.PresetByName(strings.ToLower(name), int(budget))
	if !ok {
		return imaging.Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	return preset, nil
}
