package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/comanda/chatsync/internal/bot"
	"github.com/comanda/chatsync/internal/cache"
	"github.com/comanda/chatsync/internal/config"
	"github.com/comanda/chatsync/internal/gateway"
	"github.com/comanda/chatsync/internal/syncengine"
)

const defaultClientName = "chatsync"

// errNotPaired is returned by one-shot commands when the gateway asks for
// pairing; only `chatsync run` shows pairing codes.
var errNotPaired = errors.New("gateway session is not paired")

// session is the wired component graph one command works with.
type session struct {
	settings config.Settings
	creds    config.Credentials
	profile  string
	log      zerolog.Logger

	store  *cache.Store
	gw     *gateway.Manager
	engine *syncengine.Engine

	// Set when the bot is wired (run command only).
	gate      *bot.Gate
	responder *bot.Responder
}

type sessionOptions struct {
	withBot bool
}

func openSession(settings config.Settings, log zerolog.Logger, opts sessionOptions) (*session, error) {
	profile := resolveProfile()
	creds, err := config.LoadCredentials(profile)
	if err != nil {
		if !errors.Is(err, config.ErrNotConfigured) || settings.Gateway.URL == "" {
			return nil, err
		}
		// A settings file may point at an unauthenticated local gateway.
		creds = config.Credentials{GatewayURL: settings.Gateway.URL}
	}

	store, err := openCache(settings, creds.GatewayURL, profile, log)
	if err != nil {
		return nil, err
	}

	gw := gateway.New(gatewayConfig(settings, creds, log))
	s := &session{
		settings: settings,
		creds:    creds,
		profile:  profile,
		log:      log,
		store:    store,
		gw:       gw,
	}

	engineCfg := engineConfig(settings, log)
	if opts.withBot {
		gate, responder, err := buildBot(settings)
		if err != nil {
			_ = gw.Close()
			_ = store.Close()
			return nil, err
		}
		s.gate, s.responder = gate, responder
	}
	s.engine = syncengine.New(gw, store, engineCfg)
	if s.gate != nil {
		s.engine.EnableAutoReply(s.gate, bot.NewDispatcher(s.gate, s.responder, s.engine.ReplySender(), dispatcherConfig(settings, log)))
	}
	return s, nil
}

func gatewayConfig(s config.Settings, creds config.Credentials, log zerolog.Logger) gateway.Config {
	client := creds.Device
	if client == "" {
		client = s.Gateway.ClientName
	}
	if client == "" {
		client = defaultClientName
	}
	return gateway.Config{
		URL:                  creds.GatewayURL,
		Token:                creds.Token,
		Client:               client,
		MaxReconnectAttempts: s.Gateway.MaxReconnectAttempts,
		ReconnectBaseDelay:   s.Gateway.ReconnectBaseDelay.Std(),
		ReconnectMaxDelay:    s.Gateway.ReconnectMaxDelay.Std(),
		DisconnectDebounce:   s.Gateway.DisconnectDebounce.Std(),
		MinGatewayVersion:    s.Gateway.MinVersion,
		Dialer:               &gateway.WebSocketDialer{PingTimeout: s.Gateway.PingTimeout.Std()},
		Logger:               log,
	}
}

func engineConfig(s config.Settings, log zerolog.Logger) syncengine.Config {
	return syncengine.Config{
		PageSize:         s.Sync.PageSize,
		MaxWindow:        s.Sync.MaxWindow,
		PollInterval:     s.Sync.PollInterval.Std(),
		RequestTimeout:   s.Sync.RequestTimeout.Std(),
		SendTimeout:      s.Sync.SendTimeout.Std(),
		ConversationsTTL: s.Cache.ConversationsTTL.Std(),
		MessagesTTL:      s.Cache.MessagesTTL.Std(),
		Logger:           log,
	}
}

func dispatcherConfig(s config.Settings, log zerolog.Logger) bot.DispatcherConfig {
	cfg := bot.DispatcherConfig{
		MinDelay: s.Bot.MinDelay.Std(),
		MaxDelay: s.Bot.MaxDelay.Std(),
		Logger:   log,
	}
	if cfg.MinDelay == 0 && cfg.MaxDelay == 0 {
		cfg.MinDelay, cfg.MaxDelay = bot.DefaultMinDelay, bot.DefaultMaxDelay
	}
	return cfg
}

// loadRuleSet picks the rules file, then inline rules, then the built-ins.
func loadRuleSet(s config.Settings) (bot.RuleSet, error) {
	switch {
	case s.Bot.RulesFile != "":
		return bot.LoadRules(s.Bot.RulesFile)
	case s.Bot.Rules != nil:
		return *s.Bot.Rules, nil
	default:
		return bot.DefaultRules(), nil
	}
}

func buildBot(s config.Settings) (*bot.Gate, *bot.Responder, error) {
	rules, err := loadRuleSet(s)
	if err != nil {
		return nil, nil, err
	}
	gate, err := bot.NewGate(bot.GateConfig{
		Enabled: s.Bot.Enabled,
		OptIn:   s.Bot.OptIn,
		Hours:   s.Bot.Hours,
	})
	if err != nil {
		return nil, nil, err
	}
	return gate, bot.NewResponder(rules), nil
}

// cacheDir is cache.dir, or the platform cache dir.
func cacheDir(s config.Settings) (string, error) {
	if s.Cache.Dir != "" {
		return s.Cache.Dir, nil
	}
	return cache.DefaultDir()
}

func openCache(s config.Settings, gatewayURL, profile string, log zerolog.Logger) (*cache.Store, error) {
	var backend cache.Backend
	switch s.Cache.Backend {
	case config.CacheBackendSQLite:
		path := s.Cache.SQLitePath
		if path == "" {
			dir, err := cacheDir(s)
			if err != nil {
				return nil, fmt.Errorf("could not determine cache directory: %w", err)
			}
			path = filepath.Join(dir, "cache.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
		b, err := cache.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		backend = b
	case config.CacheBackendRedis:
		b, err := cache.OpenRedis(s.Cache.RedisURL)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		dir, err := cacheDir(s)
		if err != nil {
			return nil, fmt.Errorf("could not determine cache directory: %w", err)
		}
		backend = cache.NewFileBackend(cache.ScopedDir(dir, gatewayURL))
	}
	return cache.New(backend, cache.Options{
		Namespace: cache.Scope(gatewayURL, profile),
		MaxItems:  s.Cache.MaxItems,
		Logger:    log,
	}), nil
}

// start runs the engine's event loop until close.
func (s *session) start() {
	go func() {
		if err := s.engine.Run(context.Background()); err != nil {
			s.log.Debug().Err(err).Msg("engine loop ended")
		}
	}()
}

// connect opens the gateway session and waits until it is live. It fails
// with errNotPaired instead of waiting for a pairing that nobody can see.
func (s *session) connect(ctx context.Context) error {
	sub := s.gw.Subscribe(8, true)
	defer sub.Close()

	if err := s.gw.Initialize(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", s.creds.GatewayURL, err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- s.gw.WaitConnected(waitCtx) }()

	events := sub.C
	for {
		select {
		case err := <-result:
			return err
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if _, pairing := ev.(gateway.PairingCodeAvailable); pairing {
				return errNotPaired
			}
		}
	}
}

func (s *session) close() {
	_ = s.engine.Close()
	_ = s.gw.Close()
	_ = s.store.Close()
}
