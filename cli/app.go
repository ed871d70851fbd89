// Package cli contains the ooc command line tool: building an index from a point cloud file,
// describing an index on disk and running the streaming loader against it for a single camera.
package cli

import (
	"fmt"
	"io"

	"github.com/edaniels/golog"
	"github.com/fatih/color"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const (
	configFlag = "config"
	debugFlag  = "debug"
	quietFlag  = "quiet"

	buildFlagInput       = "input"
	buildFlagOutput      = "output"
	buildFlagBucket      = "max-points-per-bucket"
	buildFlagMaxLevel    = "max-level"
	buildFlagWorkers     = "workers"
	buildFlagCompression = "compression"

	viewFlagEye         = "eye"
	viewFlagTarget      = "target"
	viewFlagUp          = "up"
	viewFlagFOV         = "fov"
	viewFlagWidth       = "width"
	viewFlagHeight      = "height"
	viewFlagNear        = "near"
	viewFlagFar         = "far"
	viewFlagPointBudget = "point-budget"
	viewFlagMinSize     = "min-projected-size"
	viewFlagHierarchy   = "print-hierarchy"
)

const loggerName = "ooc"

// NewApp returns the app with its output directed to the given writers. Every call builds fresh
// flag state.
func NewApp(out, errOut io.Writer) *cli.App {
	return &cli.App{
		Writer:          out,
		ErrWriter:       errOut,
		Name:            "ooc",
		Usage:           "build and stream out-of-core point cloud octrees",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.BoolFlag{
				Name:    quietFlag,
				Aliases: []string{"q"},
				Usage:   "disable logging",
			},
		},
		Before: func(c *cli.Context) error {
			var logger golog.Logger
			switch {
			case c.Bool(quietFlag):
				logger = zap.NewNop().Sugar()
			case c.Bool(debugFlag):
				logger = golog.NewDebugLogger(loggerName)
			default:
				logger = golog.NewDevelopmentLogger(loggerName)
			}
			c.App.Metadata = map[string]interface{}{"logger": logger}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "build an index from a LAS or PCD file",
				UsageText: fmt.Sprintf("ooc build --%s <file> --%s <dir> [other options]", buildFlagInput, buildFlagOutput),
				Flags: []cli.Flag{
					&cli.PathFlag{
						Name:  buildFlagInput,
						Usage: "LAS or PCD file to read points from",
					},
					&cli.PathFlag{
						Name:  buildFlagOutput,
						Usage: "directory to write the index to",
					},
					&cli.IntFlag{
						Name:        buildFlagBucket,
						Usage:       "payload size at which an octant subdivides",
						DefaultText: "10000",
					},
					&cli.IntFlag{
						Name:        buildFlagMaxLevel,
						Usage:       "deepest level an octant may be created on",
						DefaultText: "21",
					},
					&cli.IntFlag{
						Name:        buildFlagWorkers,
						Usage:       "number of node files to write in parallel",
						DefaultText: "number of CPUs",
					},
					&cli.StringFlag{
						Name:        buildFlagCompression,
						Usage:       "node file encoding: none or zstd",
						DefaultText: "none",
					},
				},
				Action: BuildAction,
			},
			{
				Name:      "info",
				Usage:     "describe an index on disk",
				UsageText: "ooc info <dir>",
				Action:    InfoAction,
			},
			{
				Name:      "view",
				Usage:     "select and load the octants of an index visible from a camera",
				UsageText: fmt.Sprintf("ooc view --%s x,y,z --%s x,y,z [other options] <dir>", viewFlagEye, viewFlagTarget),
				Flags: []cli.Flag{
					&cli.Float64SliceFlag{
						Name:     viewFlagEye,
						Usage:    "camera position",
						Required: true,
					},
					&cli.Float64SliceFlag{
						Name:     viewFlagTarget,
						Usage:    "point the camera looks at",
						Required: true,
					},
					&cli.Float64SliceFlag{
						Name:  viewFlagUp,
						Usage: "camera up direction",
						Value: cli.NewFloat64Slice(0, 1, 0),
					},
					&cli.Float64Flag{
						Name:  viewFlagFOV,
						Usage: "vertical field of view in degrees",
						Value: 60,
					},
					&cli.IntFlag{
						Name:  viewFlagWidth,
						Usage: "viewport width in pixels",
						Value: 1920,
					},
					&cli.IntFlag{
						Name:  viewFlagHeight,
						Usage: "viewport height in pixels",
						Value: 1080,
					},
					&cli.Float64Flag{
						Name:  viewFlagNear,
						Usage: "near clipping distance",
						Value: 0.1,
					},
					&cli.Float64Flag{
						Name:  viewFlagFar,
						Usage: "far clipping distance",
						Value: 10000,
					},
					&cli.IntFlag{
						Name:  viewFlagPointBudget,
						Usage: "maximum number of points to load",
					},
					&cli.Float64Flag{
						Name:  viewFlagMinSize,
						Usage: "minimum projected size in pixels of an octant to select",
					},
					&cli.BoolFlag{
						Name:  viewFlagHierarchy,
						Usage: "print the encoded visible hierarchy as hex",
					},
				},
				Action: ViewAction,
			},
		},
	}
}

func loggerFrom(c *cli.Context) golog.Logger {
	if logger, ok := c.App.Metadata["logger"].(golog.Logger); ok {
		return logger
	}
	return zap.NewNop().Sugar()
}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	color.New(color.Bold, color.FgYellow).Fprint(w, "Warning: ")
	printf(w, format, a...)
}
