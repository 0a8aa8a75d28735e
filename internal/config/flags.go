package config

import "flag"

var (
	flagConfig     string
	flagSaveConfig string
	flagLogFile    string
	flagSeed       uint64

	flagInput        string
	flagOutput       string
	flagExaggeration float64
	flagScaling      float64
	flagVerbose      bool
	flagWGS84        bool
	flagJitter       bool
)

func init() {
	registerFlags(flag.CommandLine)
}

// registerFlags binds the command-line flags to fs.
func registerFlags(fs *flag.FlagSet) {
	fs.StringVar(&flagConfig, "config", "", "Path to config file")
	fs.StringVar(&flagSaveConfig, "save-config", "", "Write the resolved config to this path")
	fs.StringVar(&flagLogFile, "log-file", "", "Also write logs to this rotating file")
	fs.Uint64Var(&flagSeed, "seed", 0, "Jitter random seed (0 = random)")

	stringFlag(fs, &flagInput, "input", "i", "Filename of a DEM raster (.asc, .hgt, .tif, .png, .bmp)")
	stringFlag(fs, &flagOutput, "output", "o", "Filename of the OBJ mesh to write")
	floatFlag(fs, &flagExaggeration, "exaggeration", "x", "Vertical exaggeration (default 1.0, 0 flattens)")
	floatFlag(fs, &flagScaling, "scaling", "s", "Global scaling (default 1.0)")
	boolFlag(fs, &flagVerbose, "verbose", "v", "Verbose (show progress)")
	boolFlag(fs, &flagWGS84, "wgs84", "w", "WGS84 settings (x,y in degrees, elevation in meters)")
	boolFlag(fs, &flagJitter, "jitter", "j", "Add jitter (small random offset to x and y)")
}

// stringFlag registers a flag under both its long and short name.
func stringFlag(fs *flag.FlagSet, p *string, long, short, usage string) {
	fs.StringVar(p, long, "", usage)
	fs.StringVar(p, short, "", usage+" (shorthand)")
}

func floatFlag(fs *flag.FlagSet, p *float64, long, short, usage string) {
	fs.Float64Var(p, long, 0, usage)
	fs.Float64Var(p, short, 0, usage+" (shorthand)")
}

func boolFlag(fs *flag.FlagSet, p *bool, long, short, usage string) {
	fs.BoolVar(p, long, false, usage)
	fs.BoolVar(p, short, false, usage+" (shorthand)")
}

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return flagConfig
}

// SaveConfigPath returns the --save-config destination, if any.
func SaveConfigPath() string {
	return flagSaveConfig
}

// applyFlags applies the flags given on the command line to the config.
// Flags that were not given leave the config untouched, so an explicit
// zero such as -x 0 still overrides the file.
func applyFlags(fs *flag.FlagSet, cfg *Config) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input", "i":
			cfg.Input = flagInput
		case "output", "o":
			cfg.Output = flagOutput
		case "scaling", "s":
			cfg.Mesh.Scale = flagScaling
		case "exaggeration", "x":
			cfg.Mesh.Exaggeration = flagExaggeration
		case "wgs84", "w":
			cfg.Mesh.WGS84 = flagWGS84
		case "jitter", "j":
			cfg.Mesh.Jitter = flagJitter
		case "seed":
			cfg.Mesh.Seed = flagSeed
		case "verbose", "v":
			if flagVerbose {
				cfg.Logging.Level = "debug"
			}
		case "log-file":
			cfg.Logging.LogFile = flagLogFile
		}
	})
}
