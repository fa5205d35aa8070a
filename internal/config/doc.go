// Package config resolves the settings of a cleaning run.
//
// Settings come from four sources, each overriding the one before it:
// built-in defaults, the environment (a dotenv file overlaid with the
// process environment, keys prefixed with CLEANSTEP_), an HCL step file,
// and command-line flags. A step file looks like:
//
//	step "basic_cleaning" {
//	  input_artifact     = "sample.csv:latest"
//	  output_artifact    = "clean_sample.csv"
//	  output_type        = "clean_sample"
//	  output_description = "Data with outliers and null values removed"
//	  min_price          = 10
//	  max_price          = 350
//	}
//
//	registry {
//	  root = ".cleanstep"
//	}
//
//	tracking {
//	  url       = env.TRACKING_URL
//	  namespace = "/runs"
//	  timeout   = "5s"
//	}
//
// The resolved Step is validated before it is returned.
package config
