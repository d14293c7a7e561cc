package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	APIUrl     string
	APITimeout time.Duration
	APICACert  string
}

type RunFlags struct {
	ConfigPath      string
	Listen          string // overrides server.listen
	PIDFile         string
	ShutdownTimeout time.Duration
}

type DumpFlags struct {
	ConfigPath string
	Format     string
}

type StatusFlags struct {
	Name string
	JSON bool
	API  GlobalFlags
}

type ActionFlags struct {
	Name string
	API  GlobalFlags
}

type DeployFlags struct {
	ConfigPath string
	Target     string
	JSON       bool
}
