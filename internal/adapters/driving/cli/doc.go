// Package cli implements the bisync command line with cobra.
//
// Commands are package-level and register themselves on rootCmd in init.
// They reach the engine and state through an Opener installed by main.
package cli
