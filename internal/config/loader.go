package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// configName is the config file name without extension.
const configName = ".popsynth"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for popsynth settings.
const envPrefix = "POPSYNTH"

// envKeySeparator is the nested key separator in environment variable names.
const envKeySeparator = "_"

// Default values applied before the config file and environment are read.
const (
	DefaultMethod          = MethodIndependent
	DefaultBatchSize       = 10000
	DefaultIterationBudget = int64(1_000_000)
	DefaultWorkers         = 1
	DefaultMetallicity     = 0.02
	DefaultSFStart         = 10000.0
	DefaultSFDuration      = 0.0
	DefaultPrimaryModel    = "kroupa93"
	DefaultPorbModel       = "han"
	DefaultEccModel        = "thermal"
	DefaultSFHModel        = "const"
	DefaultConvFilter      = "alive"
	DefaultThreshold       = -5.0
	DefaultMatchBatch      = 50
	DefaultStoreDir        = "popsynth-runs"
)

// Load reads configuration from file, env vars, and defaults.
// If configPath is non-empty, it is used as the explicit config file path.
// Otherwise, the config file is searched in CWD and $HOME.
// Missing config file is not an error; defaults are used.
// Validation is deferred to the caller so CLI overrides can apply first.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	applyDefaults(viperCfg)

	viperCfg.SetConfigType(configType)
	viperCfg.SetEnvPrefix(envPrefix)
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", envKeySeparator))
	viperCfg.AutomaticEnv()

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName(configName)
		viperCfg.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viperCfg.AddConfigPath(home)
		}
	}

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
	}

	var cfg Config

	unmarshalErr := viperCfg.Unmarshal(&cfg)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal config: %w", unmarshalErr)
	}

	return &cfg, nil
}

func applyDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("seed", 0)

	viperCfg.SetDefault("sampling.method", DefaultMethod)
	viperCfg.SetDefault("sampling.batch_size", DefaultBatchSize)
	viperCfg.SetDefault("sampling.iteration_budget", DefaultIterationBudget)
	viperCfg.SetDefault("sampling.workers", DefaultWorkers)
	viperCfg.SetDefault("sampling.metallicity", DefaultMetallicity)
	viperCfg.SetDefault("sampling.sf_start", DefaultSFStart)
	viperCfg.SetDefault("sampling.sf_duration", DefaultSFDuration)
	viperCfg.SetDefault("sampling.models.primary", DefaultPrimaryModel)
	viperCfg.SetDefault("sampling.models.porb", DefaultPorbModel)
	viperCfg.SetDefault("sampling.models.ecc", DefaultEccModel)
	viperCfg.SetDefault("sampling.models.sfh", DefaultSFHModel)

	viperCfg.SetDefault("filters.bin_states", []int{0})
	viperCfg.SetDefault("filters.restrict_to_converging", false)

	viperCfg.SetDefault("convergence.params", []string{"mass_1", "mass_2", "porb", "ecc"})
	viperCfg.SetDefault("convergence.filter", DefaultConvFilter)
	viperCfg.SetDefault("convergence.threshold", DefaultThreshold)
	viperCfg.SetDefault("convergence.match_batch", DefaultMatchBatch)

	viperCfg.SetDefault("store.dir", DefaultStoreDir)
}
