package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// binding ties a command-line flag to a configuration setting. Values stay
// strings here; conversion and validation belong to the config package.
type binding struct {
	flag    string
	setting string
	usage   string
}

var sharedBindings = []binding{
	{"registry", "registry_root", "Directory holding the artifact registry."},
	{"log-level", "log_level", "Logging level: 'debug', 'info', 'warn' or 'error'."},
	{"log-format", "log_format", "Log output format: 'text' or 'json'."},
	{"tracking-url", "tracking_url", "socket.io server that receives run events."},
	{"tracking-namespace", "tracking_namespace", "socket.io namespace for run events."},
	{"tracking-insecure", "tracking_insecure", "Skip TLS verification of the tracking server ('true' or 'false')."},
	{"tracking-timeout", "tracking_timeout", "Connect and flush timeout for the tracking server, e.g. 15s."},
}

var runBindings = []binding{
	{"input_artifact", "input_artifact", "Reference of the raw artifact, e.g. sample.csv:latest."},
	{"output_artifact", "output_artifact", "Name of the cleaned artifact."},
	{"output_type", "output_type", "Type of the cleaned artifact."},
	{"output_description", "output_description", "Description of the cleaned artifact."},
	{"min_price", "min_price", "Lowest price kept (inclusive)."},
	{"max_price", "max_price", "Highest price kept (inclusive)."},
	{"price-column", "price_column", "Column holding the price."},
	{"date-column", "date_column", "Column holding the review date."},
	{"output-file", "output_file", "Local file name of the cleaned table."},
	{"workdir", "work_dir", "Directory the cleaned table is written to."},
	{"upload-url", "upload_url", "Pre-signed URL the cleaned table is mirrored to."},
}

// sharedFlags are the persistent flags of the root command.
type sharedFlags struct {
	configFile string
	envFile    string
}

func (s *sharedFlags) register(root *cobra.Command) {
	pf := root.PersistentFlags()
	pf.StringVarP(&s.configFile, "config", "c", "", "HCL step file.")
	pf.StringVar(&s.envFile, "env-file", "", "dotenv file with CLEANSTEP_* settings (default .env if present).")
	declare(pf, sharedBindings)
}

func declare(fs *pflag.FlagSet, bindings []binding) {
	for _, b := range bindings {
		fs.String(b.flag, "", b.usage)
	}
}

// changed returns the settings whose flags were given on the command line.
func changed(cmd *cobra.Command, groups ...[]binding) map[string]string {
	out := make(map[string]string)
	for _, bindings := range groups {
		for _, b := range bindings {
			f := cmd.Flags().Lookup(b.flag)
			if f == nil || !f.Changed {
				continue
			}
			out[b.setting] = f.Value.String()
		}
	}
	return out
}
