// Package config loads catletctl's two kinds of configuration: the catlets
// file declaring machines, and the CLI settings.
//
// # Catlets Files
//
// A catlets file holds a defaults block and a list of machines, written in
// YAML or CUE. Both are validated against the built-in catlets schema kept
// in a SchemaRegistry; violations are reported as ValidationErrors carrying
// the file, line and path of the offending value.
//
//	defaults:
//	  project: dev
//	  parent: dbosoft/ubuntu-22.04/starter
//	  genes:
//	    - gene:dbosoft/starter-food:linux-starter
//	machines:
//	  - name: web-1
//	    cpu: 2
//	    fodder:
//	      - name: packages
//	        data:
//	          packages: [nginx]
//
// File.Targets applies the defaults to each machine and converts it into an
// engine.Target. Machine scalars win over defaults, named lists (fodder,
// networks, drives, variables, capabilities) merge by name, and genes become
// template fodder.
//
// # Settings
//
// Settings are read with viper from an optional catletctl.yaml, CATLETCTL_*
// environment variables and bound command-line flags, then checked with
// validator struct tags.
//
//	v := config.NewViper()
//	settings, err := config.LoadSettings(v, "")
package config
