package app

// Version is the build version reported in telemetry. Overridden at build
// time via -ldflags "-X .../internal/app.Version=v1.2.3".
var Version = "dev"
