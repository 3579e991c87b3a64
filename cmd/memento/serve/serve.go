// Package servecmder provides the serve command that runs the memento server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mementolabs/memento/api"
	"github.com/mementolabs/memento/api/mcp"
	"github.com/mementolabs/memento/pkg/config"
	"github.com/mementolabs/memento/pkg/dotdir"
	embeddingutils "github.com/mementolabs/memento/pkg/embeddings/utils"
	"github.com/mementolabs/memento/pkg/eventstream"
	kafkastream "github.com/mementolabs/memento/pkg/eventstream/kafka"
	"github.com/mementolabs/memento/pkg/eventstream/nop"
	"github.com/mementolabs/memento/pkg/graph"
	"github.com/mementolabs/memento/pkg/lifecycle"
	"github.com/mementolabs/memento/pkg/llm"
	"github.com/mementolabs/memento/pkg/logger"
	"github.com/mementolabs/memento/pkg/memory/service"
	"github.com/mementolabs/memento/pkg/repository"
	"github.com/mementolabs/memento/pkg/repository/inmemory"
	sqliterepo "github.com/mementolabs/memento/pkg/repository/sqlite"
	"github.com/mementolabs/memento/pkg/vector"
	vectorutils "github.com/mementolabs/memento/pkg/vector/utils"
)

type serveCommander struct {
	listen          string
	storageProvider string
	sqlitePath      string
	defaultUser     string
	vectorProvider  string
	vectorTarget    string
	embedProvider   string
	embedTarget     string
	embedModel      string
	embedDims       uint
	llmProvider     string
	llmModel        string
	llmTarget       string
	eventsBrokers   string
	eventsTopic     string
	noMCP           bool
	debug           bool
	configDir       string
	userFlagSet     bool
	logger          *zap.Logger
}

// serveFlags is the flag registry for the serve command. Every flag binds to
// the dotted viper key of the same setting, so the precedence chain is
// flag > MEMENTO_ env var > config.toml > default.
var serveFlags = config.FlagSet{
	config.FlagAPIListen:       {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	config.FlagStorageProv:     {Name: "storage-provider", ViperKey: "storage.provider", Description: "Repository backend (sqlite, inmemory)"},
	config.FlagSQLite:          {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to the SQLite database file"},
	config.FlagDefaultUser:     {Name: "default-user", Shorthand: "u", ViperKey: "memory.default_user", Description: "User namespace used when requests carry none"},
	config.FlagVectorStoreProv: {Name: "vector-store-provider", ViperKey: "vector_store.provider", Description: "Vector store provider (sqlite, qdrant)"},
	config.FlagVectorStoreTgt:  {Name: "vector-store-target", ViperKey: "vector_store.target", Description: "Vector store target (file path or host:port)"},
	config.FlagEmbeddingProv:   {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, openai)"},
	config.FlagEmbeddingTgt:    {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider base URL"},
	config.FlagEmbeddingModel:  {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	config.FlagEmbeddingDims:   {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding vector dimensions"},
	config.FlagLLMProv:         {Name: "llm-provider", ViperKey: "llm.provider", Description: "Extraction LLM provider (ollama, openai, anthropic)"},
	config.FlagLLMModel:        {Name: "llm-model", ViperKey: "llm.model", Description: "Extraction LLM model name"},
	config.FlagLLMTgt:          {Name: "llm-target", ViperKey: "llm.target", Description: "Extraction LLM base URL"},
	config.FlagEventsBrokers:   {Name: "events-brokers", ViperKey: "events.brokers", Description: "Comma-separated Kafka bootstrap brokers"},
	config.FlagEventsTopic:     {Name: "events-topic", ViperKey: "events.topic", Description: "Kafka topic for memory events"},
}

// serveFlagKeys is the order flags are registered and bound in.
var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageProv,
	config.FlagSQLite,
	config.FlagDefaultUser,
	config.FlagVectorStoreProv,
	config.FlagVectorStoreTgt,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagLLMProv,
	config.FlagLLMModel,
	config.FlagLLMTgt,
	config.FlagEventsBrokers,
	config.FlagEventsTopic,
}

const serveLongDesc string = `Run the memento memory server.

Serves the HTTP API and mounts the MCP surface under /mcp on the same
listener. A background lifecycle pass scores, decays, archives, and
consolidates memories while the server runs.

Configuration comes from flags, MEMENTO_ environment variables, and the
config.toml in the .memento/ directory, in that precedence order.`

const serveShortDesc string = "Run the memento memory server"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			cmder.userFlagSet = cmd.Flags().Changed(serveFlags[config.FlagDefaultUser].Name)

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			return cmder.run(v)
		},
	}

	for _, key := range serveFlagKeys {
		if key == config.FlagEmbeddingDims {
			config.AddUintFlag(cmd, serveFlags, key, &cmder.embedDims)
			continue
		}
		config.AddStringFlag(cmd, serveFlags, key, cmder.flagTarget(key))
	}
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP surface")

	return cmd
}

// flagTarget maps a registry key to the commander field it populates.
func (c *serveCommander) flagTarget(key string) *string {
	switch key {
	case config.FlagAPIListen:
		return &c.listen
	case config.FlagStorageProv:
		return &c.storageProvider
	case config.FlagSQLite:
		return &c.sqlitePath
	case config.FlagDefaultUser:
		return &c.defaultUser
	case config.FlagVectorStoreProv:
		return &c.vectorProvider
	case config.FlagVectorStoreTgt:
		return &c.vectorTarget
	case config.FlagEmbeddingProv:
		return &c.embedProvider
	case config.FlagEmbeddingTgt:
		return &c.embedTarget
	case config.FlagEmbeddingModel:
		return &c.embedModel
	case config.FlagLLMProv:
		return &c.llmProvider
	case config.FlagLLMModel:
		return &c.llmModel
	case config.FlagLLMTgt:
		return &c.llmTarget
	case config.FlagEventsBrokers:
		return &c.eventsBrokers
	case config.FlagEventsTopic:
		return &c.eventsTopic
	default:
		return new(string)
	}
}

func (c *serveCommander) run(v *viper.Viper) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Embedder
	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: v.GetString("embedding.provider"),
		Target:       v.GetString("embedding.target"),
		Model:        v.GetString("embedding.model"),
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		Dimensions:   v.GetUint("embedding.dimensions"),
	})
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	// Repository
	repo, vecDriver, err := c.newRepository(ctx, v)
	if err != nil {
		return err
	}
	defer repo.Close()
	if vecDriver != nil {
		defer vecDriver.Close()
	}

	// Extraction LLM. A caller failure is not fatal: the server still
	// stores and searches, it just skips graph extraction and
	// consolidation summaries.
	caller := c.newCaller(v)

	var pipeline *graph.Pipeline
	if caller != nil {
		pipeline = graph.NewPipeline(repo, caller, embedder, c.logger)
	}

	// Event stream
	events, err := c.newPublisher(v)
	if err != nil {
		return err
	}
	defer events.Close()

	svc := service.NewService(repo, embedder, pipeline, caller, events, c.logger)

	// Lifecycle
	if v.GetBool("lifecycle.enabled") {
		lcConfig := lifecycle.DefaultConfig()
		if interval, err := time.ParseDuration(v.GetString("lifecycle.interval")); err == nil {
			lcConfig.Interval = interval
		} else {
			c.logger.Warn("invalid lifecycle interval, using default",
				zap.String("interval", v.GetString("lifecycle.interval")),
			)
		}
		manager := lifecycle.NewManager(repo, svc, caller, lcConfig, c.logger)
		go manager.Run(ctx)
	}

	defaultUser := c.resolveDefaultUser(v)

	// MCP surface
	mcpServer, err := mcp.NewServer(mcp.Config{
		Service:     svc,
		DefaultUser: defaultUser,
		Noop:        c.noMCP,
		Logger:      c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	// API server
	apiServer := api.NewServer(api.Config{
		ListenAddr:  v.GetString("api.listen"),
		DefaultUser: defaultUser,
	}, svc, mcpServer.Handler(), c.logger)

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		return apiServer.Shutdown()
	}
}

// resolveDefaultUser picks the user namespace applied to requests that carry
// none. A session saved with "memento user" overrides the configured default;
// an explicit --default-user flag overrides the session.
func (c *serveCommander) resolveDefaultUser(v *viper.Viper) string {
	configured := v.GetString("memory.default_user")
	if c.userFlagSet {
		return configured
	}

	state, err := dotdir.NewManager().LoadSessionState(c.configDir)
	if err != nil {
		c.logger.Warn("could not load session state", zap.Error(err))
		return configured
	}
	if state == nil || state.UserID == "" {
		return configured
	}

	c.logger.Info("acting as session user namespace", zap.String("user_id", state.UserID))
	return state.UserID
}

// newRepository builds the configured repository. For the sqlite provider it
// also returns the vector driver so the caller can close it; the repository
// does not own it.
func (c *serveCommander) newRepository(ctx context.Context, v *viper.Viper) (repository.Repository, vector.Driver, error) {
	switch v.GetString("storage.provider") {
	case "inmemory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewRepository(), nil, nil

	case "sqlite":
		target := v.GetString("vector_store.target")
		if target == "" && v.GetString("vector_store.provider") == "sqlite" {
			// Default the vector index into the same database file.
			target = v.GetString("storage.sqlite_path")
		}

		vecDriver, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
			ProviderType: v.GetString("vector_store.provider"),
			Target:       target,
			Collection:   v.GetString("vector_store.collection"),
			Dimensions:   v.GetUint("embedding.dimensions"),
			Logger:       c.logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating vector driver: %w", err)
		}

		repo, err := sqliterepo.NewRepository(sqliterepo.Config{
			DBPath: v.GetString("storage.sqlite_path"),
		}, vecDriver, c.logger)
		if err != nil {
			vecDriver.Close()
			return nil, nil, fmt.Errorf("creating SQLite repository: %w", err)
		}

		c.logger.Info("using SQLite storage",
			zap.String("path", v.GetString("storage.sqlite_path")),
			zap.String("vector_store", v.GetString("vector_store.provider")),
		)
		return repo, vecDriver, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage provider: %s", v.GetString("storage.provider"))
	}
}

// newCaller builds the extraction LLM caller, or returns nil when no caller
// can be constructed.
func (c *serveCommander) newCaller(v *viper.Viper) llm.Caller {
	call, err := llm.NewCallFunc(llm.CallerConfig{
		Provider: v.GetString("llm.provider"),
		Model:    v.GetString("llm.model"),
		BaseURL:  v.GetString("llm.target"),
	})
	if err != nil {
		c.logger.Warn("extraction LLM unavailable, graph features disabled", zap.Error(err))
		return nil
	}
	return llm.NewExtractor(call)
}

// newPublisher builds the event stream publisher: Kafka when events are
// enabled, otherwise a no-op.
func (c *serveCommander) newPublisher(v *viper.Viper) (eventstream.Publisher, error) {
	if !v.GetBool("events.enabled") {
		return nop.NewPublisher(), nil
	}

	brokers := strings.Split(v.GetString("events.brokers"), ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}

	publisher, err := kafkastream.NewPublisher(kafkastream.Config{
		Brokers: brokers,
		Topic:   v.GetString("events.topic"),
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("creating Kafka publisher: %w", err)
	}

	c.logger.Info("publishing memory events",
		zap.Strings("brokers", brokers),
		zap.String("topic", v.GetString("events.topic")),
	)
	return publisher, nil
}
