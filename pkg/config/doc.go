// Package config loads the quanto client configuration from YAML.
//
// A configuration names the core to start (locally, or on a remote host
// over SSH), call timeouts, the error marker used to classify responses,
// where transcripts go, the command policies and the telemetry settings:
//
//	core:
//	  path: /usr/local/bin/quanto-core
//	  call_timeout: 30s
//	transcript:
//	  enabled: true
//	  path: ~/.quanto/transcripts.db
//	policy:
//	  read_only: true
//	  paths: [~/.quanto/policies]
//	telemetry:
//	  logging:
//	    level: debug
//
// Values missing from the file keep their defaults. ${VAR} references are
// expanded from the environment before parsing. Watcher reloads a file
// when it changes on disk.
package config
