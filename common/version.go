package common

// Version is the build version string, overridden at build time via -ldflags.
var Version = "dev"
