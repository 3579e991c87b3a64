package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/cobra"

	"github.com/mementolabs/memento/pkg/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).NotTo(BeNil())

			defaults := config.NewDefaultConfig()
			Expect(cfg.Version).To(Equal(defaults.Version))
			Expect(cfg.Storage.Provider).To(Equal(defaults.Storage.Provider))
			Expect(cfg.Storage.SQLitePath).To(Equal(defaults.Storage.SQLitePath))
			Expect(cfg.API.Listen).To(Equal(defaults.API.Listen))
			Expect(cfg.Memory.DefaultUser).To(Equal(defaults.Memory.DefaultUser))
			Expect(cfg.VectorStore.Provider).To(Equal(defaults.VectorStore.Provider))
			Expect(cfg.Embedding.Provider).To(Equal(defaults.Embedding.Provider))
			Expect(cfg.Embedding.Target).To(Equal(defaults.Embedding.Target))
			Expect(cfg.Embedding.Model).To(Equal(defaults.Embedding.Model))
			Expect(cfg.Embedding.Dimensions).To(Equal(defaults.Embedding.Dimensions))
			Expect(cfg.LLM.Provider).To(Equal(defaults.LLM.Provider))
			Expect(cfg.Lifecycle.Interval).To(Equal(defaults.Lifecycle.Interval))
		})

		It("loads a valid config file", func() {
			data := `version = 0

[embedding]
provider = "openai"
dimensions = 1536

[llm]
provider = "anthropic"
model = "claude-haiku-4-5-20251001"
`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).NotTo(BeNil())
			Expect(cfg.Version).To(Equal(0))
			Expect(cfg.Embedding.Provider).To(Equal("openai"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1536)))
			Expect(cfg.LLM.Provider).To(Equal("anthropic"))
			Expect(cfg.LLM.Model).To(Equal("claude-haiku-4-5-20251001"))
		})

		It("loads all config fields", func() {
			data := `version = 0

[storage]
provider = "sqlite"
sqlite_path = "/tmp/memento.db"

[api]
listen = ":9091"

[memory]
default_user = "alice"

[vector_store]
provider = "qdrant"
target = "localhost:6334"
collection = "facts"

[embedding]
provider = "ollama"
target = "http://localhost:11434"
model = "all-minilm"
dimensions = 384

[llm]
provider = "ollama"
model = "llama3.2"
target = "http://localhost:11434"

[lifecycle]
enabled = true
interval = "12h"

[events]
enabled = true
brokers = "localhost:9092"
topic = "memento.memory.events"
`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.SQLitePath).To(Equal("/tmp/memento.db"))
			Expect(cfg.API.Listen).To(Equal(":9091"))
			Expect(cfg.Memory.DefaultUser).To(Equal("alice"))
			Expect(cfg.VectorStore.Provider).To(Equal("qdrant"))
			Expect(cfg.VectorStore.Target).To(Equal("localhost:6334"))
			Expect(cfg.VectorStore.Collection).To(Equal("facts"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(384)))
			Expect(cfg.Lifecycle.Enabled).To(BeTrue())
			Expect(cfg.Lifecycle.Interval).To(Equal("12h"))
			Expect(cfg.Events.Enabled).To(BeTrue())
			Expect(cfg.Events.Brokers).To(Equal("localhost:9092"))
		})

		It("fills missing fields with defaults", func() {
			data := `[api]
listen = ":7070"
`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.API.Listen).To(Equal(":7070"))

			defaults := config.NewDefaultConfig()
			Expect(cfg.Embedding.Model).To(Equal(defaults.Embedding.Model))
			Expect(cfg.Memory.DefaultUser).To(Equal(defaults.Memory.DefaultUser))
			Expect(cfg.Lifecycle.Interval).To(Equal(defaults.Lifecycle.Interval))
		})

		It("rejects unsupported config versions", func() {
			data := `version = 99`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("SaveConfig", func() {
		It("round-trips a config through save and load", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.Memory.DefaultUser = "bob"
			cfg.Events.Enabled = true
			cfg.Events.Brokers = "kafka:9092"

			Expect(c.SaveConfig(cfg)).To(Succeed())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.Memory.DefaultUser).To(Equal("bob"))
			Expect(loaded.Events.Enabled).To(BeTrue())
			Expect(loaded.Events.Brokers).To(Equal("kafka:9092"))
		})

		It("rejects a nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).NotTo(Succeed())
		})
	})

	Describe("config keys", func() {
		It("validates known keys", func() {
			Expect(config.IsValidConfigKey("memory.default_user")).To(BeTrue())
			Expect(config.IsValidConfigKey("embedding.dimensions")).To(BeTrue())
			Expect(config.IsValidConfigKey("events.brokers")).To(BeTrue())
			Expect(config.IsValidConfigKey("no.such.key")).To(BeFalse())
		})

		It("lists every key exactly once", func() {
			keys := config.ValidConfigKeys()
			seen := map[string]bool{}
			for _, k := range keys {
				Expect(seen[k]).To(BeFalse(), "duplicate key %s", k)
				seen[k] = true
				Expect(config.IsValidConfigKey(k)).To(BeTrue())
			}
			Expect(keys).To(ContainElement("storage.sqlite_path"))
			Expect(keys).To(ContainElement("llm.provider"))
			Expect(keys).To(ContainElement("lifecycle.interval"))
		})

		It("sets and gets values by key", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			Expect(c.SetConfigValue("memory.default_user", "carol")).To(Succeed())

			got, err := c.GetConfigValue("memory.default_user")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("carol"))
		})

		It("rejects non-numeric embedding dimensions", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SetConfigValue("embedding.dimensions", "not-a-number")).NotTo(Succeed())
		})

		It("rejects unknown keys", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SetConfigValue("no.such.key", "v")).NotTo(Succeed())
			_, err = c.GetConfigValue("no.such.key")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("PresetConfig", func() {
		It("returns the openai preset", func() {
			cfg, err := config.PresetConfig("openai")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Embedding.Provider).To(Equal("openai"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1536)))
			Expect(cfg.LLM.Provider).To(Equal("openai"))
		})

		It("keeps the local embedder for the anthropic preset", func() {
			cfg, err := config.PresetConfig("anthropic")
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.LLM.Provider).To(Equal("anthropic"))
			Expect(cfg.Embedding.Provider).To(Equal("ollama"))
		})

		It("rejects unknown presets", func() {
			_, err := config.PresetConfig("watson")
			Expect(err).To(HaveOccurred())
		})

		It("lists valid preset names", func() {
			Expect(config.ValidPresetNames()).To(ConsistOf("openai", "anthropic", "ollama"))
		})
	})
})

var _ = Describe("Viper integration", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "viper-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	It("applies defaults when no file or env is present", func() {
		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())

		defaults := config.NewDefaultConfig()
		Expect(v.GetString("api.listen")).To(Equal(defaults.API.Listen))
		Expect(v.GetString("embedding.model")).To(Equal(defaults.Embedding.Model))
		Expect(v.GetUint("embedding.dimensions")).To(Equal(defaults.Embedding.Dimensions))
	})

	It("prefers file values over defaults", func() {
		data := `[api]
listen = ":6061"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("api.listen")).To(Equal(":6061"))
	})

	It("prefers environment variables over file values", func() {
		data := `[api]
listen = ":6061"
`
		Expect(os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)).To(Succeed())
		Expect(os.Setenv("MEMENTO_API_LISTEN", ":6062")).To(Succeed())
		DeferCleanup(func() { os.Unsetenv("MEMENTO_API_LISTEN") })

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		Expect(v.GetString("api.listen")).To(Equal(":6062"))
	})

	It("prefers bound flags over environment variables", func() {
		Expect(os.Setenv("MEMENTO_API_LISTEN", ":6062")).To(Succeed())
		DeferCleanup(func() { os.Unsetenv("MEMENTO_API_LISTEN") })

		fs := config.FlagSet{
			config.FlagAPIListen: {
				Name:        "listen",
				ViperKey:    "api.listen",
				Description: "API listen address",
			},
		}

		var listen string
		cmd := &cobra.Command{Use: "test"}
		config.AddStringFlag(cmd, fs, config.FlagAPIListen, &listen)
		Expect(cmd.Flags().Set("listen", ":6063")).To(Succeed())

		v, err := config.InitViper(tmpDir)
		Expect(err).NotTo(HaveOccurred())
		config.BindRegisteredFlags(v, cmd, fs, []string{config.FlagAPIListen})

		Expect(v.GetString("api.listen")).To(Equal(":6063"))
	})
})
