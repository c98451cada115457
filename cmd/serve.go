package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/atlathelper/internal/agent"
	"github.com/atlathelper/internal/agent/checkpoint"
	"github.com/atlathelper/internal/agent/handlers"
	"github.com/atlathelper/internal/agent/ticket"
	"github.com/atlathelper/internal/api"
	"github.com/atlathelper/internal/atlassian"
	"github.com/atlathelper/internal/authproxy"
	"github.com/atlathelper/internal/config"
	"github.com/atlathelper/internal/database"
	"github.com/atlathelper/internal/llm"
	"github.com/atlathelper/internal/logging"
	"github.com/atlathelper/internal/token"
)

// ServeCommand returns the CLI command for starting the assistant server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the Atlat Helper API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides config)",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Log.Level)

	port := cfg.Server.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	db, err := database.Open(filepath.Join(cfg.Data.Dir, "atlathelper.db"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	tokens, err := token.NewSQLiteStore(db)
	if err != nil {
		return fmt.Errorf("failed to init token store: %w", err)
	}
	saver, err := checkpoint.NewSQLiteSaver(db)
	if err != nil {
		return fmt.Errorf("failed to init checkpoint store: %w", err)
	}

	var refresher atlassian.Refresher
	if cfg.AuthProxy.URL != "" {
		refresher = authproxy.NewClient(cfg.AuthProxy.URL)
	}

	ticketH := ticket.NewHandler(tokens, func(cred token.Credential, cloudID string, onRefresh func(token.Credential)) ticket.Backend {
		opts := []atlassian.Option{atlassian.WithOnRefresh(onRefresh)}
		if cloudID != "" {
			opts = append(opts, atlassian.WithCloudID(cloudID))
		}
		if refresher != nil {
			opts = append(opts, atlassian.WithRefresher(refresher))
		}
		return atlassian.NewClient(cred, opts...)
	})
	confluenceH := handlers.NewConfluence(tokens, func(cred token.Credential, onRefresh func(token.Credential)) handlers.DocsSearcher {
		opts := []atlassian.Option{atlassian.WithOnRefresh(onRefresh)}
		if refresher != nil {
			opts = append(opts, atlassian.WithRefresher(refresher))
		}
		return atlassian.NewSiteBoundSearcher(cred, opts...)
	})

	models := llm.NewFactory(llm.Settings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})

	sup := agent.NewSupervisor(models, saver, ticketH, confluenceH)

	loginURL := ""
	if cfg.AuthProxy.URL != "" {
		loginURL = cfg.AuthProxy.URL + "/login"
	}
	server := api.NewServer(port, sup, tokens, loginURL)
	fmt.Printf("Starting Atlat Helper API server on port %d...\n", port)
	return server.Start()
}
