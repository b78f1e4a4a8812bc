// Package config provides configuration management for taskmesh.
//
// Configuration is loaded from environment variables using the env package.
// Every value has a development default; Redis is only required when a
// backend selects it.
//
// Per-capability limits are given as name:value lists:
//
//	CAPABILITY_CONCURRENCY=analyze:1,render:4
//	CAPABILITY_CALLS_PER_MINUTE=analyze:30,render:-1
package config
