package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kamakura-labs/rankup-server/internal/api"
	"github.com/kamakura-labs/rankup-server/internal/chain"
	"github.com/kamakura-labs/rankup-server/internal/config"
	"github.com/kamakura-labs/rankup-server/internal/database"
	"github.com/kamakura-labs/rankup-server/internal/ipfs"
	"github.com/kamakura-labs/rankup-server/internal/logger"
	"github.com/kamakura-labs/rankup-server/internal/metadata"
	"github.com/kamakura-labs/rankup-server/internal/rank"
	"github.com/kamakura-labs/rankup-server/internal/rankup"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "rankup",
	Short: "NFT rank-up service",
	Long:  `A service that advances the rank of collection NFTs for a fee, publishing updated metadata to IPFS and committing the new pointer on-chain.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
}

func initConfig() {
	// Secrets such as the nft.storage token come from the environment
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on the environment")
	}

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	viper.AutomaticEnv()

	if err := logger.Init(viper.GetString("log_file")); err != nil {
		log.Fatalf("Error initializing logger: %v", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the rank-up HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Cleanup()

		store, err := database.Open(viper.GetString("db_path"))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}

		chainClient, err := chain.NewClient(
			viper.GetString("rpc_endpoint"),
			viper.GetString("verified_creator"),
			viper.GetString("keystore_path"),
			viper.GetDuration("confirm_timeout"),
			viper.GetDuration("confirm_interval"),
		)
		if err != nil {
			return fmt.Errorf("failed to create chain client: %w", err)
		}

		metaStore, err := metadata.NewStore(viper.GetString("metadata_dir"))
		if err != nil {
			return fmt.Errorf("failed to create metadata store: %w", err)
		}

		publisher := ipfs.NewClient(
			viper.GetString("nft_storage_url"),
			viper.GetString("nft_storage_token"),
			viper.GetString("gateway_base"),
		)

		var thresholds map[string]int
		if err := viper.UnmarshalKey("rank_thresholds", &thresholds); err != nil {
			return fmt.Errorf("invalid rank_thresholds: %w", err)
		}
		var prices map[string]int64
		if err := viper.UnmarshalKey("rank_prices", &prices); err != nil {
			return fmt.Errorf("invalid rank_prices: %w", err)
		}
		table, err := rank.NewTable(thresholds, prices)
		if err != nil {
			return fmt.Errorf("invalid rank table: %w", err)
		}

		orchestrator := rankup.NewOrchestrator(
			store,
			chainClient,
			metaStore,
			publisher,
			rank.NewEngine(table),
			time.Duration(viper.GetInt("cooldown_hours"))*time.Hour,
			viper.GetString("cooldown_basis"),
		)

		if err := api.EnsureJWTKey(); err != nil {
			return fmt.Errorf("failed to initialize JWT key: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := api.NewAPI(store, chainClient, orchestrator)
		logger.Info("Starting rank-up server", "env", viper.GetString("ENV"))
		return server.Serve(ctx, viper.GetInt("api_port"))
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the update authority keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("keystore_path")
		pubkey, err := chain.GenerateAuthority(path)
		if err != nil {
			return err
		}

		fmt.Printf("Authority keypair written to %s\n", path)
		fmt.Printf("Public key: %s\n", pubkey)
		fmt.Println("Fund this account and set it as the collection's update authority.")
		return nil
	},
}
