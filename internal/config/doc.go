// This file documents the config package's loading order.
//
// Configuration is assembled in three layers, each overriding the last:
//
//  1. defaultConfig() — compiled-in defaults, always loaded first.
//  2. An optional YAML file, found via CONFIG_PATH or DefaultConfigPaths.
//  3. Environment variables, mapped onto config paths by envTransformFunc.
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    logging.Fatal().Err(err).Msg("failed to load configuration")
//	}
package config
