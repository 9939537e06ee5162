package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// LoadConfig loads the configuration and sets default values for development/production
func LoadConfig() error {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".") // Path to look for the config file in

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; create a default one
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	// Ensure we have sensible defaults in case they are not in the config file
	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	// Check the current environment (default is development)
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	// Set defaults for development and production environments
	if env == "development" {
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("db_path", "./dev_rankup.db")
		viper.SetDefault("log_file", "./rankup.log")
		viper.SetDefault("rpc_endpoint", "https://api.devnet.solana.com")
	} else if env == "production" {
		viper.SetDefault("allowed_origin", "https://my-production-site.com")
		viper.SetDefault("db_path", "/var/lib/rankup/rankup.db")
		viper.SetDefault("log_file", "/var/log/rankup/rankup.log")
		viper.SetDefault("rpc_endpoint", "https://api.mainnet-beta.solana.com")
	}

	// Common defaults for both environments
	viper.SetDefault("api_port", 8000)
	viper.SetDefault("verified_creator", "Bf2jdfoFrqVS2n6eDtzzmb8cbue7B1ibcZF4QCvruqav")
	viper.SetDefault("metadata_dir", "./metadata")
	viper.SetDefault("keystore_path", "./keys/authority.json")
	viper.SetDefault("jwt_keys_dir", "./jwtkeys")
	viper.SetDefault("token_ttl", "30m")

	// Content-addressed storage
	viper.SetDefault("nft_storage_url", "https://api.nft.storage")
	viper.SetDefault("nft_storage_token", "")
	viper.SetDefault("gateway_base", "https://nftstorage.link/ipfs")

	// Payment confirmation polling
	viper.SetDefault("confirm_timeout", "90s")
	viper.SetDefault("confirm_interval", "2s")

	// Rank-up cooldown. Basis is either "success" (measured from the most
	// recent successful rank-up) or "attempt" (measured from any attempt).
	viper.SetDefault("cooldown_hours", 12)
	viper.SetDefault("cooldown_basis", "success")

	// Rank table. Advancement succeeds when a uniform draw in [1,99] is at
	// or above the threshold for the current rank.
	viper.SetDefault("rank_thresholds", map[string]int{
		"Academy":        20,
		"Genin":          50,
		"Chuunin":        70,
		"Jounin":         80,
		"Special-Jounin": 90,
	})
	viper.SetDefault("rank_prices", map[string]int64{
		"Academy":        250,
		"Genin":          200,
		"Chuunin":        180,
		"Jounin":         180,
		"Special-Jounin": 180,
	})
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	// Write the default configuration to a file
	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			// If the config already exists, attempt to overwrite it
			err = viper.WriteConfig()
			if err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}
