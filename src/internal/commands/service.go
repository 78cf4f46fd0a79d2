package commands

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maksimkurb/keen-dnsfilter/src/internal/api"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/config"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filter"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/filterloop"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/log"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/metrics"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/rulestore"
	"github.com/maksimkurb/keen-dnsfilter/src/internal/utils"
)

func CreateServiceCommand() *ServiceCommand {
	sc := &ServiceCommand{
		fs: flag.NewFlagSet("service", flag.ExitOnError),
	}
	sc.fs.BoolVar(&sc.NoAutostart, "no-autostart", false, "Do not start filtering until requested through the API")
	return sc
}

type ServiceCommand struct {
	fs          *flag.FlagSet
	cfg         *config.Config
	ctx         *AppContext
	NoAutostart bool

	store     *rulestore.Store
	engine    *filter.Engine
	filterSvc *filterloop.Service

	httpServer *http.Server
	apiRunner  *Supervisor
}

func (s *ServiceCommand) Name() string {
	return s.fs.Name()
}

func (s *ServiceCommand) Init(args []string, ctx *AppContext) error {
	s.ctx = ctx

	if err := s.fs.Parse(args); err != nil {
		return err
	}

	if cfg, err := loadAndValidateConfigOrFail(ctx.ConfigPath); err != nil {
		return err
	} else {
		s.cfg = cfg
	}

	if s.cfg.General.Verbose {
		log.SetVerbose(true)
	}

	return nil
}

func (s *ServiceCommand) Run() error {
	log.Infof("Starting keen-dnsfilter service...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigChan)

	s.openRuleStore()
	s.engine = filter.NewEngine(s.ruleSource())
	s.filterSvc = newFilterService(s.cfg, s.engine)

	log.SetWarnHook(s.filterSvc.RecordWarning)
	defer log.SetWarnHook(nil)

	if s.NoAutostart {
		log.Infof("Filtering is not started automatically")
	} else if err := s.startFiltering(ctx); err != nil {
		log.Errorf("Failed to start filter service: %v", err)
		log.Warnf("Service will continue without filtering. Fix the problem and start it through the API.")
	}

	if s.cfg.API.Enable {
		if err := s.startAPIServer(ctx); err != nil {
			log.Errorf("Failed to start API server: %v", err)
		}
	} else {
		log.Infof("HTTP API is disabled")
	}

	log.Infof("Service started. Send SIGHUP to reload filter rules from the configuration, SIGUSR1 to clear the query log")

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			log.Infof("Received SIGHUP signal, reloading filter rules...")
			s.reloadRules()

		case syscall.SIGUSR1:
			log.Infof("Received SIGUSR1 signal, clearing recent query log")
			s.filterSvc.ClearRecentLogs()

		case syscall.SIGINT, syscall.SIGTERM:
			log.Infof("Received signal %v, shutting down...", sig)
			return s.shutdown()
		}
	}
	return nil
}

func (s *ServiceCommand) openRuleStore() {
	path := s.cfg.GetAbsRuleStorePath()
	if err := utils.EnsureParentDir(path); err != nil {
		log.Warnf("Failed to create rule store directory: %v", err)
	}

	store, err := rulestore.Open(path)
	if err != nil {
		log.Warnf("Rule store is unavailable, rules will not survive a restart: %v", err)
		return
	}
	s.store = store
}

func (s *ServiceCommand) ruleSource() filter.RuleSource {
	if s.store == nil {
		return nil
	}
	return s.store
}

// startFiltering starts the filter loop, applying the [filter] rules from the
// configuration when there are any. Otherwise the persisted rules are used.
func (s *ServiceCommand) startFiltering(ctx context.Context) error {
	if categories, domains, allowed, ok := configRules(s.cfg); ok {
		return s.filterSvc.StartWithRules(ctx, categories, domains, allowed)
	}
	return s.filterSvc.Start(ctx)
}

func (s *ServiceCommand) reloadRules() {
	cfg, err := loadAndValidateConfigOrFail(s.ctx.ConfigPath)
	if err != nil {
		log.Errorf("Failed to reload configuration: %v", err)
		return
	}

	categories, domains, allowed, ok := configRules(cfg)
	if !ok {
		log.Infof("Configuration has no [filter] rules, keeping current rules")
		return
	}
	if err := s.filterSvc.UpdateRules(categories, domains, allowed); err != nil {
		log.Warnf("Filter rules reloaded with errors: %v", err)
		return
	}
	log.Infof("Filter rules reloaded")
}

func (s *ServiceCommand) startAPIServer(ctx context.Context) error {
	bindAddr := s.cfg.API.Listen
	log.Infof("Starting API server on %s (loopback and private subnets only)", bindAddr)

	deps := api.Dependencies{
		Service: s.filterSvc,
		Rules:   s.engine,
		Metrics: metrics.Handler(metrics.NewRegistry(s.filterSvc)),
		Version: api.VersionInfo{
			Version: s.ctx.Version,
			Commit:  s.ctx.Commit,
			Date:    s.ctx.Date,
		},
	}
	if s.store != nil {
		deps.Store = s.store
	}

	s.httpServer = &http.Server{
		Addr:         bindAddr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.apiRunner = NewSupervisor(SupervisorConfig{
		Name:           "API server",
		RestartBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
	}, func(runCtx context.Context) error {
		log.Infof("API server listening on http://%s", bindAddr)
		err := s.httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	return s.apiRunner.Start(ctx)
}

// shutdown stops filtering, the API server and closes the rule store.
func (s *ServiceCommand) shutdown() error {
	log.Infof("Shutting down keen-dnsfilter service...")

	if err := s.filterSvc.Stop(); err != nil {
		log.Errorf("Failed to stop filter service cleanly: %v", err)
	}

	if s.httpServer != nil {
		log.Infof("Stopping API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Error during API server shutdown: %v", err)
			_ = s.httpServer.Close()
		}
	}

	if s.apiRunner != nil {
		if err := s.apiRunner.Stop(10 * time.Second); err != nil {
			log.Warnf("%v", err)
		}
	}

	if s.store != nil {
		utils.CloseOrWarn(s.store, "rule store")
	}

	log.Infof("Service stopped successfully")
	return nil
}
