// Package config handles application configuration loading and validation.
//
// Configuration is loaded from a YAML file and validated using struct
// tags. It also carries the route slot model: the time windows that
// decide which (stop, destination, direction) triple is queried at any
// given moment.
package config
