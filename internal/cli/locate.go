// internal/cli/locate.go

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
)

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Describe the region and climate of a coordinate",
	Long: `Prints the nearest administrative region, its capital and the climate
zone for a coordinate. Pass --region instead of coordinates to describe a
region's capital.`,
	Args: cobra.NoArgs,
	RunE: runLocate,
}

var regionsCmd = &cobra.Command{
	Use:   "regions",
	Short: "List the known regions",
	Args:  cobra.NoArgs,
	RunE:  runRegions,
}

var locateFix fixFlags

func init() {
	locateFix.register(locateCmd)
	rootCmd.AddCommand(locateCmd)
	rootCmd.AddCommand(regionsCmd)
}

// fixFlags are the coordinate flags shared by locate and position
type fixFlags struct {
	lat, lon, alt, accuracy float64
	region                  string
}

func (f *fixFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Latitude in degrees")
	cmd.Flags().Float64Var(&f.lon, "lon", 0, "Longitude in degrees")
	cmd.Flags().Float64Var(&f.alt, "alt", 0, "Altitude in meters")
	cmd.Flags().Float64Var(&f.accuracy, "accuracy", geo.ManualAccuracy, "Horizontal accuracy in meters")
	cmd.Flags().StringVar(&f.region, "region", "", "Region key, e.g. littoral")
}

// position builds a fix from the flags that were set. Without coordinates
// or a region it returns nil.
func (f *fixFlags) position(cmd *cobra.Command) (*geo.Position, error) {
	if f.region != "" {
		region, ok := geosvc.RegionByKey(strings.ToLower(f.region))
		if !ok {
			return nil, fmt.Errorf("unknown region %q", f.region)
		}
		p := geo.Position{
			Latitude:  region.Latitude,
			Longitude: region.Longitude,
			Altitude:  geo.Float(region.Altitude),
			Accuracy:  f.accuracy,
		}
		return &p, nil
	}

	flags := cmd.Flags()
	if !flags.Changed("lat") && !flags.Changed("lon") {
		return nil, nil
	}
	if !flags.Changed("lat") || !flags.Changed("lon") {
		return nil, fmt.Errorf("--lat and --lon must be set together")
	}

	p := geo.Position{
		Latitude:  f.lat,
		Longitude: f.lon,
		Accuracy:  f.accuracy,
	}
	if flags.Changed("alt") {
		p.Altitude = geo.Float(f.alt)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func runLocate(cmd *cobra.Command, _ []string) error {
	p, err := locateFix.position(cmd)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("set --lat and --lon, or --region")
	}

	info := geosvc.Describe(*p)
	if asJSON {
		return printJSON(cmd, info)
	}
	printInfo(cmd, *p, info)
	return nil
}

func runRegions(cmd *cobra.Command, _ []string) error {
	regions := geosvc.Regions()
	if asJSON {
		return printJSON(cmd, regions)
	}
	for _, r := range regions {
		cmd.Printf("  %-12s %-16s %-12s %8.4f %8.4f %5.0fm\n",
			r.Key, r.Name, r.Capital, r.Latitude, r.Longitude, r.Altitude)
	}
	return nil
}

func printInfo(cmd *cobra.Command, p geo.Position, info geo.LocationInfo) {
	cmd.Printf("  Coordinates: %.5f, %.5f\n", p.Latitude, p.Longitude)
	if p.Altitude != nil {
		cmd.Printf("  Altitude:    %.0f m\n", *p.Altitude)
	}
	cmd.Printf("  Region:      %s (%s)\n", info.RegionName, info.Region)
	cmd.Printf("  Nearest:     %s, %.1f km\n", info.NearestCity, info.DistanceToCityKm)
	cmd.Printf("  Climate:     %s\n", info.ClimateZone)
	if len(info.ClimateCharacteristics) > 0 {
		cmd.Printf("               %s\n", strings.Join(info.ClimateCharacteristics, ", "))
	}
	precision := "low"
	if info.IsHighAccuracy {
		precision = "high"
	}
	cmd.Printf("  Accuracy:    %.0f m (%s)\n", info.Accuracy, precision)
}
