/*
Package config loads server settings from the environment.

PURPOSE:
  One place for every runtime knob. A .env file in the working directory
  is loaded first when present; real environment variables win over it.
  cmd/server flags override both.

VARIABLES:
  HB_PORT                 HTTP port (default 8080)
  HB_DB_PATH              SQLite path, ":memory:" allowed (default ./data/housing.db)
  HB_LOG_LEVEL            debug|info|warn|error (default info)
  HB_LOG_FORMAT           json|console (default json)
  HB_REDIS_ADDR           Redis address; empty disables the generation lock
  HB_REDIS_PASSWORD
  HB_REDIS_DB             (default 0)
  HB_PROGRAM_FILE         JSON program definition; empty uses the standard program
  HB_SCHEDULER_ENABLED    run background generation (default true)
  HB_SCHEDULER_INTERVAL   Go duration (default 1h)
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/housing-benefits/generic"
)

type Config struct {
	Port      int
	DBPath    string
	LogLevel  string
	LogFormat string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ProgramFile string

	SchedulerEnabled  bool
	SchedulerInterval time.Duration
}

func Default() Config {
	return Config{
		Port:              8080,
		DBPath:            "./data/housing.db",
		LogLevel:          "info",
		LogFormat:         "json",
		SchedulerEnabled:  true,
		SchedulerInterval: time.Hour,
	}
}

// Load reads .env files (missing files are ignored) and then the environment.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var err error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = fmt.Errorf("%w: %s=%q is not an integer", generic.ErrInvalidInput, key, v)
			return
		}
		*dst = n
	}

	integer("HB_PORT", &cfg.Port)
	str("HB_DB_PATH", &cfg.DBPath)
	str("HB_LOG_LEVEL", &cfg.LogLevel)
	str("HB_LOG_FORMAT", &cfg.LogFormat)
	str("HB_REDIS_ADDR", &cfg.RedisAddr)
	str("HB_REDIS_PASSWORD", &cfg.RedisPassword)
	integer("HB_REDIS_DB", &cfg.RedisDB)
	str("HB_PROGRAM_FILE", &cfg.ProgramFile)

	if v, ok := lookup("HB_SCHEDULER_ENABLED"); ok && v != "" && err == nil {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			err = fmt.Errorf("%w: HB_SCHEDULER_ENABLED=%q is not a boolean", generic.ErrInvalidInput, v)
		}
		cfg.SchedulerEnabled = b
	}
	if v, ok := lookup("HB_SCHEDULER_INTERVAL"); ok && v != "" && err == nil {
		d, perr := time.ParseDuration(v)
		if perr != nil || d <= 0 {
			err = fmt.Errorf("%w: HB_SCHEDULER_INTERVAL=%q is not a positive duration", generic.ErrInvalidInput, v)
		}
		cfg.SchedulerInterval = d
	}
	if err != nil {
		return Config{}, err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return Config{}, fmt.Errorf("%w: HB_PORT out of range", generic.ErrInvalidInput)
	}
	return cfg, nil
}
