// Package config loads pkgctl settings with viper.
//
// Settings come from, in increasing precedence: built-in defaults, an
// optional YAML file passed with --config, PKGCTL_* environment variables
// (nested keys join with underscores, so log.level is PKGCTL_LOG_LEVEL) and
// command-line flags. The result is validated with validator struct tags.
//
//	manifests: /etc/pkgctl/packages
//	policies: /etc/pkgctl/policies
//	db: /var/lib/pkgctl/registry.db
//	check_timeout: 5s
//	log:
//	  level: debug
//	metrics:
//	  addr: ":9090"
package config
