package cmd

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quarry-search/quarry/config"
	"github.com/quarry-search/quarry/internal/api"
	"github.com/quarry-search/quarry/internal/cluster"
	"github.com/quarry-search/quarry/internal/commit"
	"github.com/quarry-search/quarry/internal/index"
	"github.com/quarry-search/quarry/internal/placement"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the Quarry search server",
	Long: `Start the HTTP server that serves search, ingest and delete
operations against the indexes discovered under the configured base path.`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().String("host", "0.0.0.0", "Host to bind the server to")
	serverCmd.Flags().Int("port", 8080, "Port to bind the server to")
	serverCmd.Flags().String("path", "", "Base directory holding the indexes")

	// Bind flags to viper
	viper.BindPFlag("server.host", serverCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.port", serverCmd.Flags().Lookup("port"))
	viper.BindPFlag("search.path", serverCmd.Flags().Lookup("path"))
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Open the index catalog, discovering indexes already on disk
	catalog, err := index.NewCatalog(cfg.Search)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer catalog.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background auto-commit
	watcher := commit.NewWatcher(catalog, cfg.Commit)
	watcher.Start(ctx)

	// Placement service over the consul KV store
	var consulKV *placement.ConsulKV
	if cfg.Placement.Enabled {
		consulKV, err = placement.NewConsulKV(cfg.Placement.ConsulAddr)
		if err != nil {
			return fmt.Errorf("failed to connect to consul: %w", err)
		}
		service := placement.NewService(consulKV, nil)
		grpcServer, err := placement.Serve(service, cfg.Placement.Addr)
		if err != nil {
			return fmt.Errorf("failed to start placement server: %w", err)
		}
		defer grpcServer.GracefulStop()
	}

	// Cluster membership
	if cfg.Cluster.Enabled {
		var placementKV cluster.PlacementWriter
		if consulKV != nil {
			placementKV = consulKV
		}
		clusterManager, err := cluster.NewManager(cfg, placementKV)
		if err != nil {
			return fmt.Errorf("failed to initialize cluster manager: %w", err)
		}
		if err := clusterManager.Start(); err != nil {
			return fmt.Errorf("failed to start cluster manager: %w", err)
		}
		defer clusterManager.Stop()

		for _, name := range catalog.ListIndexes() {
			if err := clusterManager.AssignIndex(ctx, name); err != nil {
				log.Printf("Failed to assign index %s: %v", name, err)
			}
		}
	}

	// Initialize API server
	apiServer := api.NewServer(catalog, cfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		return err
	}

	log.Println("Server exited")
	return nil
}
