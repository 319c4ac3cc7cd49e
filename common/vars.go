// Package common holds process-wide helpers shared by the command line tools.
package common

// Version is overwritten at build time with -ldflags "-X ...common.Version=<tag>".
var Version = "dev"

// PackageName is the default service tag attached to log lines.
const PackageName = "eloc-provisioning"
