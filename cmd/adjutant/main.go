package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/adjutant/adjutant/internal/action"
	"github.com/adjutant/adjutant/internal/capability"
	"github.com/adjutant/adjutant/internal/config"
	"github.com/adjutant/adjutant/internal/executor"
	"github.com/adjutant/adjutant/internal/failover"
	"github.com/adjutant/adjutant/internal/gateway"
	"github.com/adjutant/adjutant/internal/knowledge"
	"github.com/adjutant/adjutant/internal/metrics"
	"github.com/adjutant/adjutant/internal/oauth"
	"github.com/adjutant/adjutant/internal/orchestrator"
	"github.com/adjutant/adjutant/internal/provider"
	"github.com/adjutant/adjutant/internal/scheduler"
	"github.com/adjutant/adjutant/internal/state/store"
	"github.com/adjutant/adjutant/internal/version"
	"github.com/adjutant/adjutant/internal/workspace"
)

func main() {
	configPath := flag.String("config", "adjutant.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	importPath := flag.String("import", "", "import a YAML seed file into the directory tables and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *configPath, *importPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, importPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.Open(store.Options{
		Driver:  cfg.State.Driver,
		DSN:     cfg.State.DSN,
		DataDir: cfg.State.DataDir,
	})
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer db.Close()

	directory := knowledge.NewDirectoryStore(db)

	if importPath != "" {
		seed, err := knowledge.LoadSeed(importPath)
		if err != nil {
			return err
		}
		n, err := directory.Import(ctx, seed)
		if err != nil {
			return fmt.Errorf("import seed: %w", err)
		}
		fmt.Printf("Imported %d directory rows from %s\n", n, importPath)
		return nil
	}

	fmt.Println(version.Get())

	if cfg.Routing.Primary == "" {
		return errors.New("routing.primary is required")
	}
	registry := provider.NewRegistry()
	for id, pc := range cfg.Models.Providers {
		p, err := buildProvider(id, pc)
		if err != nil {
			return err
		}
		if err := registry.Register(p); err != nil {
			return err
		}
	}
	fallbacks := make([]provider.ModelRef, len(cfg.Routing.Fallbacks))
	for i, f := range cfg.Routing.Fallbacks {
		fallbacks[i] = provider.ModelRef(f)
	}
	router := failover.NewController(registry, fallbacks,
		failover.WithMaxAttempts(cfg.Routing.MaxAttempts),
		failover.WithBaseDelay(config.DurationOr(cfg.Routing.BaseDelay, 0)),
	)

	catalog, err := buildCatalog(cfg.Capabilities)
	if err != nil {
		return err
	}

	resolver, closeCache, err := buildResolver(cfg.Knowledge, directory)
	if err != nil {
		return err
	}
	defer closeCache()

	creds := oauth.NewCredentialStore(db)
	tokens := oauth.NewManager(creds, &oauth2.Config{
		ClientID:     cfg.Workspace.OAuth.ClientID,
		ClientSecret: cfg.Workspace.OAuth.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.Workspace.OAuth.TokenURL},
	})

	mtr := metrics.New(prometheus.NewRegistry())

	exec := executor.New(executor.Deps{
		Knowledge: resolver,
		Tokens:    tokens,
		Calendar:  workspace.NewCalendarClient(cfg.Workspace.CalendarBaseURL),
		Mail:      workspace.NewMailClient(cfg.Workspace.MailBaseURL),
	},
		executor.WithTimeout(config.DurationOr(cfg.Orchestrator.ExecutionTimeout, 30*time.Second)),
		executor.WithMetrics(mtr),
	)
	for _, cc := range cfg.Capabilities {
		exec.RegisterScript(cc.Name, cc.Script)
	}

	conversations := store.NewConversationStore(db, cfg.Orchestrator.HistoryLimit)
	actions := action.NewStore(db)

	orch := orchestrator.New(orchestrator.Deps{
		Model:         router,
		ModelRef:      provider.ModelRef(cfg.Routing.Primary),
		Catalog:       catalog,
		Executor:      exec,
		Conversations: conversations,
		Actions:       actions,
		Profiles:      resolver,
	},
		orchestrator.WithMaxIterations(cfg.Orchestrator.MaxIterations),
		orchestrator.WithRules(orchestrator.NewRulesConfig(cfg.Orchestrator.Rules)),
		orchestrator.WithMetrics(mtr),
	)

	approvals := action.NewService(actions, catalog, exec, conversations)

	sched := scheduler.New(approvals, conversations, scheduler.Options{
		ExpireSpec:          cfg.Scheduler.ExpireSpec,
		PruneSpec:           cfg.Scheduler.PruneSpec,
		PendingTTL:          config.DurationOr(cfg.Actions.PendingTTL, 24*time.Hour),
		IdleConversationAge: config.DurationOr(cfg.Scheduler.IdleConversationAge, 30*24*time.Hour),
		Gauge:               mtr,
	})
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	gw := gateway.New(orch, approvals,
		gateway.WithMetrics(mtr),
		gateway.WithGatherer(mtr.Registry()),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("adjutant: listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("adjutant: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func buildProvider(id string, pc config.ProviderConfig) (provider.Provider, error) {
	specs := make([]provider.ModelSpec, len(pc.Models))
	for i, m := range pc.Models {
		specs[i] = provider.ModelSpec{
			ID:            m.ID,
			Name:          m.Name,
			ContextWindow: m.ContextWindow,
			MaxTokens:     m.MaxTokens,
		}
	}
	return provider.FromConfig(provider.ProviderConfig{
		ID:      id,
		BaseURL: pc.BaseURL,
		APIKey:  pc.APIKey,
		API:     pc.API,
		Models:  specs,
	})
}

func buildCatalog(customs []config.CapabilityConfig) (*capability.Catalog, error) {
	defs := capability.Builtins()
	for _, cc := range customs {
		params := make([]capability.Parameter, len(cc.Params))
		for i, p := range cc.Params {
			params[i] = capability.Parameter{
				Name:        p.Name,
				Type:        capability.ParamType(p.Type),
				Description: p.Description,
				Required:    p.Required,
			}
		}
		defs = append(defs, capability.NewCustomDefinition(cc.Name, cc.Description, cc.ApprovalRequired, params))
	}
	catalog, err := capability.NewCatalog(defs...)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return catalog, nil
}

// buildResolver assembles the knowledge paths the config enables: the
// structured directory always, the semantic searcher and its redis cache only
// when configured. The returned closer shuts the cache connection.
func buildResolver(kc config.KnowledgeConfig, directory *knowledge.DirectoryStore) (*knowledge.Resolver, func(), error) {
	opts := []knowledge.ResolverOption{knowledge.WithTopK(kc.Weaviate.TopK)}
	closeCache := func() {}
	if kc.Weaviate.Host != "" {
		searcher, err := knowledge.NewWeaviateSearcher(kc.Weaviate.Host, kc.Weaviate.Scheme, kc.Weaviate.Class, kc.Weaviate.Certainty)
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate searcher: %w", err)
		}
		opts = append(opts, knowledge.WithSearcher(searcher))
	}
	if kc.Cache.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     kc.Cache.Addr,
			Password: kc.Cache.Password,
			DB:       kc.Cache.DB,
		})
		closeCache = func() { _ = client.Close() }
		ttl := config.DurationOr(kc.Cache.TTL, 5*time.Minute)
		opts = append(opts, knowledge.WithCache(knowledge.NewQueryCache(client, ttl)))
	}
	for _, ph := range kc.Placeholders {
		opts = append(opts, knowledge.WithPlaceholder(ph.ID, ph.Name, ph.Email))
	}
	return knowledge.NewResolver(directory, opts...), closeCache, nil
}
