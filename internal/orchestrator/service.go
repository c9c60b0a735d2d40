package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wildfire_crew/internal/consensus"
	"wildfire_crew/internal/domain"
	"wildfire_crew/internal/env"
	"wildfire_crew/internal/fs"
	"wildfire_crew/internal/oracle"
	"wildfire_crew/internal/scenario"
)

var (
	ErrEpisodeRunning    = errors.New("an episode is already running")
	ErrEpisodeNotRunning = errors.New("episode is not running")
)

// EpisodeStore is the Store plus the queries the service answers.
type EpisodeStore interface {
	Store
	GetEpisode(ctx context.Context, episodeID string) (domain.Episode, error)
	ListEpisodes(ctx context.Context, limit int) ([]domain.Episode, error)
	ListTelemetry(ctx context.Context, episodeID string) ([]domain.TelemetryRow, error)
	ListDecisions(ctx context.Context, episodeID string, limit int) ([]domain.DecisionLog, error)
	ListMessages(ctx context.Context, episodeID string, limit int) ([]domain.Message, error)
}

// EnvFactory opens a fresh environment for one episode.
type EnvFactory func(ctx context.Context) (env.Environment, error)

type ServiceDeps struct {
	Store     EpisodeStore
	Catalog   *scenario.Catalog
	Oracle    oracle.Oracle
	Usage     UsageSource
	Bus       Bus
	NewEnv    EnvFactory
	Metrics   Metrics
	Consensus consensus.Observer
	Logger    *zap.Logger
}

type ServiceConfig struct {
	Round   Config
	Mode    string
	Central consensus.CentralConfig
	// LogDir holds one chat log directory per episode. Empty disables chat
	// logs.
	LogDir string
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	if c.Mode == "" {
		c.Mode = consensus.ModeCentral
	}
	return c
}

// EpisodeInput selects the level and planner of a new episode. Empty fields
// take the service defaults.
type EpisodeInput struct {
	ID    string `json:"id"`
	Level string `json:"level"`
	Mode  string `json:"mode"`
	Seed  int64  `json:"seed"`
}

// Service runs one episode at a time: oracle usage is counted per process,
// and agent mailboxes are keyed by slot.
type Service struct {
	deps   ServiceDeps
	cfg    ServiceConfig
	logger *zap.Logger

	wg sync.WaitGroup

	mu      sync.Mutex
	running string
	cancel  context.CancelFunc
}

func NewService(deps ServiceDeps, cfg ServiceConfig) (*Service, error) {
	if deps.Store == nil || deps.Catalog == nil || deps.Oracle == nil || deps.NewEnv == nil {
		return nil, errors.New("service needs a store, a catalog, an oracle and an environment factory")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	switch cfg.Mode {
	case consensus.ModeCentral, consensus.ModeLeader:
	default:
		return nil, fmt.Errorf("unknown consensus mode %q", cfg.Mode)
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With(zap.String("component", "service")),
	}, nil
}

// StartEpisode creates the episode and runs it in the background.
func (s *Service) StartEpisode(ctx context.Context, in EpisodeInput) (domain.Episode, error) {
	ep, settings, err := s.prepare(ctx, in)
	if err != nil {
		return domain.Episode{}, err
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := s.claim(ep.ID, cancel); err != nil {
		cancel()
		return domain.Episode{}, err
	}
	if err := s.deps.Store.CreateEpisode(ctx, ep); err != nil {
		s.release(ep.ID)
		cancel()
		return domain.Episode{}, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.release(ep.ID)
		if _, err := s.run(runCtx, ep, settings); err != nil {
			s.logger.Warn("episode ended with error", zap.String("episode", ep.ID), zap.Error(err))
		}
	}()
	return ep, nil
}

// RunEpisode creates the episode and blocks until it finishes.
func (s *Service) RunEpisode(ctx context.Context, in EpisodeInput) (Result, error) {
	ep, settings, err := s.prepare(ctx, in)
	if err != nil {
		return Result{}, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := s.claim(ep.ID, cancel); err != nil {
		return Result{}, err
	}
	defer s.release(ep.ID)
	if err := s.deps.Store.CreateEpisode(ctx, ep); err != nil {
		return Result{}, err
	}
	return s.run(runCtx, ep, settings)
}

// CancelEpisode stops the running episode with id.
func (s *Service) CancelEpisode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != id || s.cancel == nil {
		return fmt.Errorf("%s: %w", id, ErrEpisodeNotRunning)
	}
	s.cancel()
	return nil
}

// Running returns the id of the running episode, if any.
func (s *Service) Running() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) Levels() []string {
	return s.deps.Catalog.Names()
}

func (s *Service) GetEpisode(ctx context.Context, id string) (domain.Episode, error) {
	return s.deps.Store.GetEpisode(ctx, id)
}

func (s *Service) ListEpisodes(ctx context.Context, limit int) ([]domain.Episode, error) {
	return s.deps.Store.ListEpisodes(ctx, limit)
}

func (s *Service) ListTelemetry(ctx context.Context, id string) ([]domain.TelemetryRow, error) {
	return s.deps.Store.ListTelemetry(ctx, id)
}

func (s *Service) ListDecisions(ctx context.Context, id string, limit int) ([]domain.DecisionLog, error) {
	return s.deps.Store.ListDecisions(ctx, id, limit)
}

func (s *Service) ListMessages(ctx context.Context, id string, limit int) ([]domain.Message, error) {
	return s.deps.Store.ListMessages(ctx, id, limit)
}

func (s *Service) prepare(_ context.Context, in EpisodeInput) (domain.Episode, scenario.Settings, error) {
	level := strings.TrimSpace(in.Level)
	if level == "" {
		return domain.Episode{}, scenario.Settings{}, errors.New("level is required")
	}
	mode := strings.ToLower(strings.TrimSpace(in.Mode))
	if mode == "" {
		mode = s.cfg.Mode
	}
	if mode != consensus.ModeCentral && mode != consensus.ModeLeader {
		return domain.Episode{}, scenario.Settings{}, fmt.Errorf("unknown consensus mode %q", mode)
	}
	settings, err := s.deps.Catalog.Settings(level, in.Seed)
	if err != nil {
		return domain.Episode{}, scenario.Settings{}, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	return domain.Episode{
		ID:        in.ID,
		Level:     level,
		Mode:      mode,
		Seed:      in.Seed,
		Status:    domain.EpisodeStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}, settings, nil
}

func (s *Service) claim(id string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running != "" {
		return fmt.Errorf("%w: %s", ErrEpisodeRunning, s.running)
	}
	s.running = id
	s.cancel = cancel
	return nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == id {
		s.running = ""
		s.cancel = nil
	}
}

// run wires the per-episode collaborators and hands over to a Controller.
func (s *Service) run(ctx context.Context, ep domain.Episode, settings scenario.Settings) (Result, error) {
	logger := s.deps.Logger.With(zap.String("episode", ep.ID))

	var recorder consensus.Recorder
	if s.cfg.LogDir != "" {
		chat, err := fs.NewChatLog(filepath.Join(s.cfg.LogDir, ep.ID), logger)
		if err != nil {
			return s.abort(ctx, ep, fmt.Errorf("open chat log: %w", err))
		}
		recorder = chat
	}

	opts := consensus.Options{Logger: logger, Recorder: recorder, Observer: s.deps.Consensus}
	var planner consensus.Planner
	if ep.Mode == consensus.ModeLeader {
		planner = consensus.NewLeader(s.deps.Oracle, opts)
	} else {
		planner = consensus.NewCentral(s.deps.Oracle, s.cfg.Central, opts)
	}

	environment, err := s.deps.NewEnv(ctx)
	if err != nil {
		return s.abort(ctx, ep, fmt.Errorf("open environment: %w", err))
	}
	defer func() {
		if err := environment.Close(); err != nil {
			logger.Warn("close environment failed", zap.Error(err))
		}
	}()

	controller, err := NewController(Deps{
		Env:      environment,
		Oracle:   s.deps.Oracle,
		Planner:  planner,
		Store:    s.deps.Store,
		Bus:      s.deps.Bus,
		Recorder: recorder,
		Metrics:  s.deps.Metrics,
		Usage:    s.deps.Usage,
		Logger:   logger,
	}, s.cfg.Round)
	if err != nil {
		return s.abort(ctx, ep, err)
	}
	return controller.Run(ctx, ep, settings)
}

func (s *Service) abort(ctx context.Context, ep domain.Episode, cause error) (Result, error) {
	if err := s.deps.Store.FinishEpisode(context.WithoutCancel(ctx), ep.ID, domain.EpisodeStatusFailed, cause.Error()); err != nil {
		s.logger.Warn("finish episode failed", zap.String("episode", ep.ID), zap.Error(err))
	}
	return Result{EpisodeID: ep.ID, Status: domain.EpisodeStatusFailed, Reason: cause.Error()}, cause
}
