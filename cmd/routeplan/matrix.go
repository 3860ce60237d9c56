package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fieldroute/internal/buildinfo"
	"fieldroute/internal/geo"
	"fieldroute/internal/matrix"
	"fieldroute/internal/opt"
)

var (
	matrixOut     string
	matrixClasses []string
)

var matrixCmd = &cobra.Command{
	Use:   "matrix",
	Short: "Fetch travel matrices for a location file",
	Long: `Builds the bike and car matrices over the depot and every location of
the CSV file and writes them to a file 'routeplan solve --matrix' can read.
Useful to plan repeatedly without calling the routing engine each time.`,
	RunE: runMatrix,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
	},
}

func init() {
	matrixCmd.Flags().StringVarP(&locationsFile, "locations", "l", "", "CSV file of candidate locations (required)")
	matrixCmd.Flags().BoolVar(&caseExport, "case-export", false, "Read the semicolon separated case export layout")
	matrixCmd.Flags().StringVarP(&matrixOut, "out", "o", "matrix.json", "Output file")
	matrixCmd.Flags().StringSliceVar(&matrixClasses, "classes", []string{"bike", "car"}, "Vehicle classes to fetch")
	_ = matrixCmd.MarkFlagRequired("locations")
}

func runMatrix(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// a static file cannot feed itself
	cfg.Matrix.File = ""
	mp, closer, err := matrix.FromConfig(cfg.Matrix, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closer.Close()

	locs, err := csvSource().Locations(cmd.Context())
	if err != nil {
		return err
	}
	pts := make([]geo.Point, 0, len(locs)+1)
	pts = append(pts, cfg.DepotLocation().Point())
	for _, l := range locs {
		pts = append(pts, l.Point())
	}
	classes := make([]opt.VehicleClass, 0, len(matrixClasses))
	for _, name := range matrixClasses {
		c, err := opt.ParseVehicleClass(name)
		if err != nil {
			return err
		}
		classes = append(classes, c)
	}
	mats, err := matrix.ForClasses(cmd.Context(), mp, pts, classes...)
	if err != nil {
		return err
	}
	if err := matrix.WriteFile(matrixOut, mats); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d x %d matrices to %s\n", len(pts), len(pts), matrixOut)
	return nil
}
