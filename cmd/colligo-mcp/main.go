package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	arbor_models "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/services/crawler"
	"github.com/ternarybob/colligo/internal/services/events"
	"github.com/ternarybob/colligo/internal/storage"
)

func main() {
	// Load configuration. COLLIGO_CONFIG points at an explicit file; without
	// it a colligo.toml in the working directory is picked up, and defaults
	// stand on their own otherwise.
	configPath := os.Getenv("COLLIGO_CONFIG")

	var config *common.Config
	var err error
	switch {
	case configPath != "":
		config, err = common.LoadFromFile(configPath)
	default:
		if _, statErr := os.Stat("colligo.toml"); statErr == nil {
			config, err = common.LoadFromFile("colligo.toml")
		} else {
			config, err = common.LoadFromFiles()
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Minimal logging to avoid cluttering MCP stdio
	logger := arbor.NewLogger().WithConsoleWriter(arbor_models.WriterConfiguration{
		Type:             arbor_models.LogWriterTypeConsole,
		TimeFormat:       "15:04:05",
		DisableTimestamp: false,
	}).WithLevelFromString("warn")

	storageManager, err := storage.NewStorageManager(logger, config)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer storageManager.Close()

	eventService := events.NewService(storageManager.EventStorage(), logger)
	defer eventService.Close()

	crawlerService := crawler.NewService(config, storageManager, eventService, logger)
	defer crawlerService.Close()

	mcpServer := server.NewMCPServer(
		"colligo",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(createCrawlDocsTool(), handleCrawlDocs(crawlerService, logger))
	mcpServer.AddTool(createGetJobStatusTool(), handleGetJobStatus(crawlerService, logger))
	mcpServer.AddTool(createGetCorpusTool(), handleGetCorpus(crawlerService, logger))
	mcpServer.AddTool(createListJobsTool(), handleListJobs(crawlerService, logger))

	// Blocks on stdio until the client disconnects
	if err := server.ServeStdio(mcpServer); err != nil {
		logger.Fatal().Err(err).Msg("MCP server failed")
	}
}
