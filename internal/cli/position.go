// internal/cli/position.go

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/location"
	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage/sqlite"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
)

var positionCmd = &cobra.Command{
	Use:   "position",
	Short: "Manage the saved position",
	Long: `Shows and edits the position snapshot kept in the local database: the
manual override and the last GPS fix.`,
}

var positionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the resolved position",
	Args:  cobra.NoArgs,
	RunE:  runPositionShow,
}

var positionSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set a manual location",
	Long:  `Pins the position to a coordinate or a region capital until cleared.`,
	Args:  cobra.NoArgs,
	RunE:  runPositionSet,
}

var positionClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the manual location",
	Long: `Removes the manual override. Pass a fix with --lat and --lon to resolve
it right away, otherwise the last GPS fix is used when there is one.`,
	Args: cobra.NoArgs,
	RunE: runPositionClear,
}

var positionRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Record a GPS fix",
	Long:  `Feeds a fix to the resolver as if the device had reported it. Fails while a manual location is set.`,
	Args:  cobra.NoArgs,
	RunE:  runPositionRefresh,
}

var (
	positionSetFix     fixFlags
	positionClearFix   fixFlags
	positionRefreshFix fixFlags
)

func init() {
	positionSetFix.register(positionSetCmd)
	positionClearFix.register(positionClearCmd)
	positionRefreshFix.register(positionRefreshCmd)

	positionCmd.AddCommand(positionShowCmd)
	positionCmd.AddCommand(positionSetCmd)
	positionCmd.AddCommand(positionClearCmd)
	positionCmd.AddCommand(positionRefreshCmd)
	rootCmd.AddCommand(positionCmd)
}

// openResolver builds a resolver over the local database. provider stands
// in for the device's GPS.
func openResolver(provider geo.LocationProvider) (*geosvc.PositionResolver, func(), error) {
	kv, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	resolver, err := geosvc.NewResolver(
		geosvc.NewPositionStore(kv, "", ""),
		provider,
		geosvc.ResolverConfig{Options: geosvc.DefaultOptions()},
		newLogger(),
	)
	if err != nil {
		kv.Close()
		return nil, nil, err
	}

	return resolver, func() {
		resolver.Close()
		kv.Close()
	}, nil
}

// unavailable is the provider used when no fix was passed
func unavailable() geo.LocationProvider {
	return location.NewStaticError(geo.NewGeolocationError(geo.CodeUnsupported, "no fix given"))
}

func runPositionShow(cmd *cobra.Command, _ []string) error {
	resolver, closeFn, err := openResolver(unavailable())
	if err != nil {
		return err
	}
	defer closeFn()

	return printState(cmd, resolver.Snapshot())
}

func runPositionSet(cmd *cobra.Command, _ []string) error {
	p, err := positionSetFix.position(cmd)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("set --lat and --lon, or --region")
	}

	resolver, closeFn, err := openResolver(unavailable())
	if err != nil {
		return err
	}
	defer closeFn()

	if err := resolver.SetManualLocation(p.Latitude, p.Longitude, p.Altitude); err != nil {
		return fmt.Errorf("failed to set manual location: %w", err)
	}
	return printState(cmd, resolver.Snapshot())
}

func runPositionClear(cmd *cobra.Command, _ []string) error {
	provider, err := providerFromFlags(cmd, &positionClearFix)
	if err != nil {
		return err
	}

	resolver, closeFn, err := openResolver(provider)
	if err != nil {
		return err
	}
	defer closeFn()

	err = resolver.ClearManualLocation(context.Background())
	var ge *geo.GeolocationError
	if err != nil && !errors.As(err, &ge) {
		return fmt.Errorf("failed to clear manual location: %w", err)
	}
	return printState(cmd, resolver.Snapshot())
}

func runPositionRefresh(cmd *cobra.Command, _ []string) error {
	provider, err := providerFromFlags(cmd, &positionRefreshFix)
	if err != nil {
		return err
	}

	resolver, closeFn, err := openResolver(provider)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := resolver.Refresh(context.Background()); err != nil {
		if errors.Is(err, geosvc.ErrManualActive) {
			return fmt.Errorf("a manual location is set, run 'agrosense position clear' first")
		}
		return fmt.Errorf("failed to refresh position: %w", err)
	}
	return printState(cmd, resolver.Snapshot())
}

func providerFromFlags(cmd *cobra.Command, f *fixFlags) (geo.LocationProvider, error) {
	p, err := f.position(cmd)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return unavailable(), nil
	}
	return location.NewStatic(*p), nil
}

func printState(cmd *cobra.Command, s geo.State) error {
	if asJSON {
		return printJSON(cmd, s)
	}

	cmd.Printf("Position: %s (%s)\n\n", s.Phase, s.Source)
	if s.Position == nil {
		cmd.Println("  No position saved.")
	} else {
		info := geosvc.Describe(*s.Position)
		if s.Info != nil {
			info = *s.Info
		}
		printInfo(cmd, *s.Position, info)
		cmd.Printf("  Recorded:    %s\n", humanize.Time(s.Position.Time()))
	}
	if s.Error != nil {
		cmd.Printf("  Error:       %s\n", s.Error.Message)
	}
	if s.Annotation != nil {
		cmd.Printf("  Note:        %s\n", s.Annotation.Message)
	}
	return nil
}
