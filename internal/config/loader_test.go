package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/sweetmill/sweetmill/pkg/provider/embeddings"
	"github.com/sweetmill/sweetmill/pkg/provider/llm"
	llmmock "github.com/sweetmill/sweetmill/pkg/provider/llm/mock"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: info
providers:
  llm:
    name: anthropic
    api_key: sk-ant-test
    model: claude-3-5-sonnet-latest
  llm_fallbacks:
    - name: ollama
      model: qwen2.5:14b
  embeddings:
    name: openai
    api_key: sk-test
    model: text-embedding-3-small
database:
  postgres_dsn: postgres://localhost:5432/sweetmill
  max_conns: 4
  migrate: true
chat:
  max_rounds: 8
  temperature: 0.2
  max_tokens: 4000
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.Name != "anthropic" || cfg.Providers.LLM.Model != "claude-3-5-sonnet-latest" {
		t.Errorf("llm entry not decoded: %+v", cfg.Providers.LLM)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("fallbacks not decoded: %+v", cfg.Providers.LLMFallbacks)
	}
	if !cfg.Database.Migrate || cfg.Database.MaxConns != 4 {
		t.Errorf("database section not decoded: %+v", cfg.Database)
	}
	if cfg.Chat.MaxRounds != 8 || cfg.Chat.Temperature != 0.2 {
		t.Errorf("chat section not decoded: %+v", cfg.Chat)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	yaml := `
banana: true
database:
  postgres_dsn: postgres://localhost/db
providers:
  llm:
    name: openai
    model: gpt-4o
`
	_, err := LoadFromReader(strings.NewReader(yaml))
	if err == nil || !strings.Contains(err.Error(), "decode yaml") {
		t.Errorf("expected strict decode failure, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Providers: ProvidersConfig{
				LLM: ProviderEntry{Name: "openai", Model: "gpt-4o"},
			},
			Database: DatabaseConfig{PostgresDSN: "postgres://localhost/db"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr []string // substrings that must appear in the error
	}{
		{
			name:   "valid minimal",
			mutate: func(*Config) {},
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "missing llm name",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantErr: []string{"providers.llm.name is required"},
		},
		{
			name:    "missing llm model",
			mutate:  func(c *Config) { c.Providers.LLM.Model = "" },
			wantErr: []string{"providers.llm.model is required"},
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.PostgresDSN = "" },
			wantErr: []string{"database.postgres_dsn is required"},
		},
		{
			name: "incomplete fallback",
			mutate: func(c *Config) {
				c.Providers.LLMFallbacks = []ProviderEntry{{Name: "ollama"}}
			},
			wantErr: []string{"llm_fallbacks[0]"},
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Chat.Temperature = 3.5 },
			wantErr: []string{"chat.temperature"},
		},
		{
			name:    "negative rounds",
			mutate:  func(c *Config) { c.Chat.MaxRounds = -1 },
			wantErr: []string{"chat.max_rounds"},
		},
		{
			name:    "tls missing key",
			mutate:  func(c *Config) { c.Server.TLS = &TLSConfig{CertFile: "cert.pem"} },
			wantErr: []string{"server.tls"},
		},
		{
			name: "multiple failures joined",
			mutate: func(c *Config) {
				c.Providers.LLM.Name = ""
				c.Database.PostgresDSN = ""
			},
			wantErr: []string{"providers.llm.name", "database.postgres_dsn"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if len(tt.wantErr) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not contain %q", err, want)
				}
			}
		})
	}
}

func TestRegistry_CreateLLM(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	_, err := reg.CreateLLM(ProviderEntry{Name: "openai"})
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}

	want := &llmmock.Provider{}
	reg.RegisterLLM("openai", func(entry ProviderEntry) (llm.Provider, error) {
		if entry.Model != "gpt-4o" {
			t.Errorf("entry not passed through: %+v", entry)
		}
		return want, nil
	})

	got, err := reg.CreateLLM(ProviderEntry{Name: "openai", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Error("factory result not returned")
	}
}

func TestRegistry_CreateEmbeddings(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	if _, err := reg.CreateEmbeddings(ProviderEntry{Name: "openai"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("expected ErrProviderNotRegistered, got %v", err)
	}

	reg.RegisterEmbeddings("openai", func(ProviderEntry) (embeddings.Provider, error) {
		return nil, errors.New("factory failed")
	})
	if _, err := reg.CreateEmbeddings(ProviderEntry{Name: "openai"}); err == nil {
		t.Error("expected factory error to propagate")
	}
}
