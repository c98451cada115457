package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/atlathelper/internal/authproxy"
	"github.com/atlathelper/internal/config"
	"github.com/atlathelper/internal/logging"
)

// ProxyCommand returns the CLI command for starting the OAuth exchange proxy
func ProxyCommand() *cli.Command {
	return &cli.Command{
		Name:  "proxy",
		Usage: "Start the Atlassian OAuth exchange proxy",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the proxy (overrides config)",
			},
		},
		Action: runProxy,
	}
}

func runProxy(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ValidateProxy(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logging.Setup(cfg.Log.Level)

	port := cfg.AuthProxy.Port
	if c.IsSet("port") {
		port = c.Int("port")
	}

	server := authproxy.NewServer(authproxy.ServerConfig{
		Port:         port,
		PublicURL:    cfg.AuthProxy.PublicURL,
		ClientID:     cfg.AuthProxy.ClientID,
		ClientSecret: cfg.AuthProxy.ClientSecret,
		AuthorizeURL: cfg.AuthProxy.AuthorizeURL,
		TokenURL:     cfg.AuthProxy.TokenURL,
	})
	fmt.Printf("Starting OAuth exchange proxy on port %d...\n", port)
	return server.Start()
}
