// Package config provides loading, environment overlay and validation for
// Brook runtime configuration. It exposes a Default() baseline that Load
// fills from a JSON or YAML file and FromEnv overlays with BROOK_* variables.
//
// Example:
//
//	cfg, err := config.Load("/etc/brook.yaml")
//	if err != nil {
//	    return err
//	}
//	config.FromEnv(&cfg)
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(ctx, runtime.Options{Config: cfg})
package config
