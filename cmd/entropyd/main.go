// Command entropyd runs the Entropy object-store service: it loads a YAML
// configuration, wires the configured backends into the storage
// coordinator, starts the upload scheduler and any configured migrations,
// and serves the HTTP API. Bootstrap follows
// img_tool/cmd/registry/registry.go's flag.NewFlagSet + net.Listen +
// http.Server shape; process/service bootstrapping is explicitly a thin
// collaborator per spec.md §1, not part of the specified core.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fusionapp/entropy/pkg/backend"
	"github.com/fusionapp/entropy/pkg/backend/local"
	"github.com/fusionapp/entropy/pkg/backend/objectstore"
	"github.com/fusionapp/entropy/pkg/backend/remote"
	"github.com/fusionapp/entropy/pkg/config"
	"github.com/fusionapp/entropy/pkg/entropylog"
	"github.com/fusionapp/entropy/pkg/httpapi"
	"github.com/fusionapp/entropy/pkg/migrate"
	"github.com/fusionapp/entropy/pkg/store"
	"github.com/fusionapp/entropy/pkg/upload"
)

const usage = `Usage: entropyd -config <path>`

func main() {
	flagSet := flag.NewFlagSet("entropyd", flag.ExitOnError)
	configPath := flagSet.String("config", "", "path to the YAML configuration file (required)")
	flagSet.Usage = func() {
		fmt.Fprintln(flagSet.Output(), usage)
		flagSet.PrintDefaults()
	}
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	if *configPath == "" {
		flagSet.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	entropylog.Init(entropylog.Config{Level: cfg.Log.Level, JSONOutput: cfg.Log.JSON})
	log := entropylog.Logger

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	localStores := make(map[string]*local.Store)
	remoteStores := make(map[string]*remote.Backend)
	objectStores := make(map[string]*objectstore.Backend)

	buildBackend := func(bc config.BackendConfig) (backend.ReadBackend, backend.WriteBackend, error) {
		switch bc.Type {
		case config.KindLocal:
			dbPath := bc.DBPath
			if dbPath == "" {
				dbPath = filepath.Join(bc.BaseDir, "index.db")
			}
			s, err := local.Open(bc.Name, dbPath, bc.BaseDir, cfg.HashAlgorithm)
			if err != nil {
				return nil, nil, fmt.Errorf("backend %s: %w", bc.Name, err)
			}
			localStores[bc.Name] = s
			return s, s, nil
		case config.KindRemote:
			r := remote.New(bc.Name, bc.PeerURL, nil)
			remoteStores[bc.Name] = r
			return r, r, nil
		case config.KindObjectStore:
			o, err := objectstore.New(ctx, bc.Name, objectstore.Options{
				Bucket: bc.Bucket, Region: bc.Region, Endpoint: bc.Endpoint,
				AccessKeyID: bc.AccessKeyID, SecretAccessKey: bc.SecretAccessKey,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("backend %s: %w", bc.Name, err)
			}
			objectStores[bc.Name] = o
			return o, o, nil
		default:
			return nil, nil, fmt.Errorf("backend %s: unknown type %q", bc.Name, bc.Type)
		}
	}

	var readBackends []backend.ReadBackend
	for _, bc := range cfg.ReadBackends {
		rb, _, err := buildBackend(bc)
		if err != nil {
			log.Fatal().Err(err).Msg("configuring read backend failed")
		}
		readBackends = append(readBackends, rb)
	}

	var writeBackends []backend.WriteBackend
	for _, bc := range cfg.WriteBackends {
		_, wb, err := buildBackend(bc)
		if err != nil {
			log.Fatal().Err(err).Msg("configuring write backend failed")
		}
		writeBackends = append(writeBackends, wb)
	}

	var deferredBackends []backend.DeferredWriteBackend
	var deferredWriteBackends []backend.WriteBackend
	for _, bc := range cfg.DeferredWriteBackends {
		_, wb, err := buildBackend(bc)
		if err != nil {
			log.Fatal().Err(err).Msg("configuring deferred write backend failed")
		}
		deferredBackends = append(deferredBackends, deferredMarker{wb})
		deferredWriteBackends = append(deferredWriteBackends, wb)
	}

	if len(localStores) == 0 {
		log.Fatal().Msg("at least one local backend is required")
	}
	var primaryLocal *local.Store
	for _, s := range localStores {
		primaryLocal = s
		break
	}

	scheduler := upload.New(primaryLocal, deferredWriteBackends, entropylog.WithComponent("upload-scheduler"))
	coordinator := store.New(primaryLocal, readBackends, writeBackends, deferredBackends, scheduler, entropylog.WithComponent("coordinator"))
	scheduler.Start(ctx)
	defer scheduler.Stop()

	for _, mc := range cfg.Migrations {
		mc := mc
		srcStore, ok := localStores[mc.Source]
		if !ok {
			log.Fatal().Str("migration", mc.Name).Str("source", mc.Source).Msg("migration source must name a configured local backend")
		}
		var dest backend.WriteBackend
		if mc.Destination != "" {
			dest = resolveNamed(mc.Destination, writeBackends, deferredWriteBackends)
			if dest == nil {
				log.Fatal().Str("migration", mc.Name).Str("destination", mc.Destination).Msg("migration destination must name a configured write backend")
			}
		}
		var participants []backend.ReadBackend
		for _, name := range mc.Participants {
			participants = append(participants, resolveReadBackend(name, readBackends))
		}
		engine := migrate.New(srcStore, dest, participants, mc.QuarantineDir, entropylog.WithComponent("migration-engine"))
		migrationID, err := engine.CreateMigration(ctx, mc.Concurrency)
		if err != nil {
			log.Fatal().Err(err).Str("migration", mc.Name).Msg("creating migration failed")
		}
		go func() {
			if err := engine.Run(ctx, migrationID); err != nil {
				log.Error().Err(err).Str("migration", mc.Name).Msg("migration run failed")
			}
		}()
	}

	handler := httpapi.New(coordinator, entropylog.WithComponent("httpapi"))
	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("binding listener failed")
	}
	server := httpapi.NewServer(cfg.ListenAddr, handler.Routes())

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("entropyd listening")
	if err := server.Serve(listener); err != nil && err.Error() != "http: Server closed" {
		log.Fatal().Err(err).Msg("serving HTTP failed")
	}
}

// deferredMarker adapts any backend.WriteBackend into a
// backend.DeferredWriteBackend; only a configuration entry's placement in
// deferred_write_backends, not its concrete type, determines deferredness.
type deferredMarker struct {
	backend.WriteBackend
}

func (deferredMarker) Deferred() bool { return true }

func resolveNamed(name string, lists ...[]backend.WriteBackend) backend.WriteBackend {
	for _, l := range lists {
		for _, wb := range l {
			if wb.Name() == name {
				return wb
			}
		}
	}
	return nil
}

func resolveReadBackend(name string, backends []backend.ReadBackend) backend.ReadBackend {
	for _, rb := range backends {
		if rb.Name() == name {
			return rb
		}
	}
	return nil
}
