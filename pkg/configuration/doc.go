// Package configuration provides loading and validation for pathwatch's YAML
// configuration files. Loaded configurations are converted into monitor
// options and pattern registrations by the command line interface.
package configuration
