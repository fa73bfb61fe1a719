// Package file provides file-based implementations of driven port interfaces.
//
// Adapters:
//   - ConfigStore: TOML runtime configuration (bisync.toml)
//   - MappingFile: YAML field mappings, watched for changes
package file
