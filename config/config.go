// Package config loads the VM core's tunables from a YAML file.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// / Config holds the VM core's tunables; process-wide singletons are sized
// / from these at startup.
type Config struct {
	// FramePoolPages is the number of physical frames in the user pool.
	FramePoolPages int `mapstructure:"frame_pool_pages"`
	// SwapDevicePath is the backing file for the swap block device.
	SwapDevicePath string `mapstructure:"swap_device_path"`
	// SwapDeviceSectors is the total sector count of the swap device.
	SwapDeviceSectors int64 `mapstructure:"swap_device_sectors"`
	// SectorSizeBytes is the block device's sector size.
	SectorSizeBytes int `mapstructure:"sector_size_bytes"`
	// StackGrowthWindowBytes is the distance below esp still considered
	// legitimate stack growth. Defaults to 32, the x86 pusha worst case.
	StackGrowthWindowBytes int `mapstructure:"stack_growth_window_bytes"`
}

// / Load reads path as YAML and returns a Config. Defaults apply only to
// / sector_size_bytes (512) and stack_growth_window_bytes (32); any other
// / field the file omits is left at its zero value.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("sector_size_bytes", 512)
	v.SetDefault("stack_growth_window_bytes", 32)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}
	return &cfg, nil
}
