package api

import (
	"fmt"

	"github.com/JaimeStill/marker/internal/agent"
	"github.com/JaimeStill/marker/internal/config"
	"github.com/JaimeStill/marker/internal/events"
	"github.com/JaimeStill/marker/internal/grading"
	"github.com/JaimeStill/marker/internal/jobs"
	"github.com/JaimeStill/marker/internal/reasoning"
	"github.com/JaimeStill/marker/internal/review"
	"github.com/JaimeStill/marker/internal/session"
	"github.com/JaimeStill/marker/internal/tools"
	"github.com/JaimeStill/marker/pkg/lifecycle"
	"github.com/JaimeStill/marker/pkg/lock"
	"github.com/JaimeStill/marker/pkg/mathsandbox"
	"github.com/JaimeStill/marker/pkg/queue"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Jobs      jobs.System
	Events    *events.Log
	Reasoning *reasoning.Service
	Index     *tools.RedisIndex
	Sandbox   *mathsandbox.Sandbox
	Loop      *agent.Controller
	Review    *review.Service
	Grading   *grading.Service
}

// NewDomain wires the domain systems over the runtime's shared
// infrastructure.
func NewDomain(cfg *config.Config, runtime *Runtime) (*Domain, error) {
	logger := runtime.Logger
	client := runtime.Cache.Client()

	jobsSystem := jobs.New(runtime.Database.Connection(), cfg.API.Pagination, logger)

	meter := events.NewMetrics(runtime.Metrics)
	eventLog := events.NewLog(runtime.Cache, cfg.Loop.EventTTLDuration(), logger)
	emitter := events.Multi{eventLog, events.NewLogger(logger), meter}

	reasoner := reasoning.New(
		reasoning.NewAgentModel(cfg.Agent),
		runtime.Storage,
		reasoning.NewLimiter(cfg.Loop.RateLimit, cfg.Loop.Burst),
		logger,
	)

	index, err := tools.NewRedisIndex(client, runtime.Cache.Key(cfg.Tools.IndexKey), cfg.Tools.IndexCacheSize)
	if err != nil {
		return nil, fmt.Errorf("index init failed: %w", err)
	}

	sandbox := mathsandbox.New(cfg.Tools.SandboxLimits())

	registry, err := tools.NewRegistry(tools.NewStorageSlicer(runtime.Storage), index, sandbox, reasoner)
	if err != nil {
		return nil, fmt.Errorf("tools init failed: %w", err)
	}

	loop, err := agent.New(
		reasoner,
		registry,
		session.NewRedisStore(runtime.Cache, cfg.Loop.SessionTTLDuration()),
		emitter,
		cfg.Loop.Settings(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("loop init failed: %w", err)
	}

	locker := lock.NewNoop()
	if cfg.Review.Locking() {
		locker = lock.NewRedis(client)
	}

	reviews, err := review.New(
		jobsSystem,
		queue.New[review.Task](client, runtime.Cache.Key("review", "queue")),
		locker,
		reasoner,
		meter,
		cfg.Review.Settings(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("review init failed: %w", err)
	}

	pipeline, err := grading.New(grading.Deps{
		Jobs:       jobsSystem,
		Storage:    runtime.Storage,
		Queue:      queue.New[grading.Request](client, runtime.Cache.Key("grading", "queue")),
		Recognizer: reasoner,
		Loop:       loop,
		Reviews:    reviews,
		Renderer:   grading.NewPDFRenderer(),
		Observer:   meter,
	}, cfg.Grading.Settings(runtime.MaxUploadSize), logger)
	if err != nil {
		return nil, fmt.Errorf("grading init failed: %w", err)
	}

	return &Domain{
		Jobs:      jobsSystem,
		Events:    eventLog,
		Reasoning: reasoner,
		Index:     index,
		Sandbox:   sandbox,
		Loop:      loop,
		Review:    reviews,
		Grading:   pipeline,
	}, nil
}

// Start launches the grading and review worker pools.
func (d *Domain) Start(lc *lifecycle.Coordinator) {
	d.Review.Start(lc)
	d.Grading.Start(lc)
}
