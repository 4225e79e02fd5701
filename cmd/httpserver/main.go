package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"github.com/proxyfleet/provisioning-backend/cmd/flags"
	"github.com/proxyfleet/provisioning-backend/common"
	"github.com/proxyfleet/provisioning-backend/directory"
	"github.com/proxyfleet/provisioning-backend/domainverify"
	"github.com/proxyfleet/provisioning-backend/httpserver"
	"github.com/proxyfleet/provisioning-backend/invite"
	"github.com/proxyfleet/provisioning-backend/keymanager"
	"github.com/proxyfleet/provisioning-backend/provisioner"
	"github.com/proxyfleet/provisioning-backend/store"
)

func main() {
	app := &cli.App{
		Name:  "httpserver",
		Usage: "Serve the proxy fleet provisioning API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.MetricsAddrFlag,
			flags.StoreURIFlag,
			flags.DirectoryBaseURLFlag,
			flags.DirectoryCustomerFlag,
			flags.DirectoryTokenFlag,
			flags.WatchAddressFlag,
			flags.DNSResolverFlag,
			flags.PprofFlag,
			flags.DrainSecondsFlag,
		}, flags.CommonFlags...),
		Action: runServer,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServer(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger)

	provisioningStore, err := store.NewStoreFromURI(cCtx.String(flags.StoreURIFlag.Name), logger)
	if err != nil {
		logger.Error("Could not create provisioning store", "err", err)
		return err
	}

	var directoryHTTP *http.Client
	if token := cCtx.String(flags.DirectoryTokenFlag.Name); token != "" {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		directoryHTTP = oauth2.NewClient(context.Background(), src)
	}
	directoryClient := directory.NewClient(directory.Config{
		BaseURL:      cCtx.String(flags.DirectoryBaseURLFlag.Name),
		Customer:     cCtx.String(flags.DirectoryCustomerFlag.Name),
		HTTPClient:   directoryHTTP,
		WatchAddress: cCtx.String(flags.WatchAddressFlag.Name),
		Log:          logger,
	})

	keyManager := keymanager.New(provisioningStore, logger)
	issuer := invite.NewIssuer(provisioningStore, logger)
	orchestrator := provisioner.New(directoryClient, provisioningStore, keyManager, logger)
	verifier := domainverify.New(cCtx.String(flags.DNSResolverFlag.Name), logger)

	handler := httpserver.NewHandler(orchestrator, provisioningStore, keyManager, issuer, verifier, logger)
	srv, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Could not create HTTP server", "err", err)
		return err
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.With("version", common.Version).Info("Starting the provisioning service")
	srv.RunInBackground()
	<-exit

	srv.Shutdown()
	return nil
}
