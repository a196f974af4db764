// Package config manages the blutter settings file.
//
// The settings are a small YAML document that says where the blutter
// workspace lives, which build tools to call, where Dart SDK sources come
// from and, optionally, which S3-compatible bucket caches prebuilt Dart VM
// libraries.
//
// # Configuration File Location
//
// The file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/blutter/config.yaml or $HOME/.config/blutter/config.yaml
//   - macOS: $HOME/.config/blutter/config.yaml
//   - Windows: %LOCALAPPDATA%\blutter\config.yaml
//
// A missing file is not an error; Load returns the defaults.
//
// # Security
//
// Bucket credentials are never written to this file. The remote cache uses
// the standard AWS credential chain (AWS_ACCESS_KEY_ID, shared profiles).
//
// # Usage Example
//
//	settings, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	settings.RemoteCache = &config.RemoteCache{Bucket: "dartvm-cache", Upload: true}
//	if err := settings.Save(""); err != nil {
//	    log.Fatal(err)
//	}
package config
