/*
Package config loads deployment configuration the way the pack's
viper-based CLIs do: flags bound with viper.BindPFlag, a config file
read with viper.ReadInConfig, and environment variables layered on top
with viper.AutomaticEnv under a reserved prefix, then unmarshaled into a
typed Config struct. Precedence, highest first: flags, environment,
config file, defaults.
*/
package config
