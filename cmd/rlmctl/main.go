// rlmctl is a thin CLI entrypoint: it loads configuration, spins up one
// sandbox pool, answers a single question against a set of document files,
// and prints the answer plus the trace file it wrote.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/codeready-toolchain/rlmengine/pkg/config"
	"github.com/codeready-toolchain/rlmengine/pkg/prompt"
	"github.com/codeready-toolchain/rlmengine/pkg/provider"
	"github.com/codeready-toolchain/rlmengine/pkg/redact"
	"github.com/codeready-toolchain/rlmengine/pkg/rlm"
	"github.com/codeready-toolchain/rlmengine/pkg/sandbox"
)

const (
	flagConfig    = "config"
	flagDotenv    = "dotenv"
	flagTraceDir  = "trace-dir"
	flagModel     = "model"
	flagProvider  = "provider"
	flagPoolSize  = "pool-size"
	flagVerify    = "verify"
	flagQuestion  = "question"
	flagVerbose   = "verbose"
	flagSandboxIm = "sandbox-image"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func buildProvider(name, apiKey, baseURL string) (provider.Provider, error) {
	switch name {
	case "anthropic", "":
		return provider.NewAnthropicProvider(apiKey, baseURL), nil
	case "openai":
		return provider.NewOpenAIProvider(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("rlmctl: unknown provider %q (want anthropic or openai)", name)
	}
}

func main() {
	logLevel := &slog.LevelVar{}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	rootCmd := &cobra.Command{
		Use:   "rlmctl",
		Short: "Answer a question over a document corpus via a supervised code-execution loop",
		Long: `rlmctl runs one query: an outer model writes and runs code against a
document corpus inside an isolated sandbox, optionally calling a smaller
inner model on chunks of content it selects itself, until it emits a final
answer or the iteration budget runs out.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String(flagConfig, "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().String(flagDotenv, "", "Path to a .env file to load before resolving config")
	rootCmd.PersistentFlags().Bool(flagVerbose, false, "Enable verbose (debug) logging")

	// Accept legacy underscore-separated flag spellings (e.g. --trace_dir)
	// alongside the documented dash form.
	rootCmd.SetGlobalNormalizationFunc(func(fs *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(normalizeFlagName(name))
	})

	queryCmd := &cobra.Command{
		Use:   "query [document files...]",
		Short: "Answer a question over the given document files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool(flagVerbose); v {
				logLevel.Set(slog.LevelDebug)
			}

			question, _ := cmd.Flags().GetString(flagQuestion)
			if question == "" {
				return fmt.Errorf("rlmctl: --question is required")
			}

			dotenvPath, _ := cmd.Flags().GetString(flagDotenv)
			configPath, _ := cmd.Flags().GetString(flagConfig)

			var cfg config.Config
			var err error
			if dotenvPath != "" {
				cfg, err = config.LoadWithDotenv(configPath, dotenvPath, buildOverrides(cmd))
			} else {
				cfg, err = config.Load(configPath, envMap(), buildOverrides(cmd))
			}
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			documents := make([]string, 0, len(args))
			docNames := make([]string, 0, len(args))
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read document %s: %w", path, err)
				}
				documents = append(documents, string(data))
				docNames = append(docNames, path)
			}

			providerName, _ := cmd.Flags().GetString(flagProvider)
			apiKeyEnv := map[string]string{"anthropic": "ANTHROPIC_API_KEY", "openai": "OPENAI_API_KEY"}[providerName]
			if apiKeyEnv == "" {
				apiKeyEnv = "ANTHROPIC_API_KEY"
			}
			p, err := buildProvider(providerName, os.Getenv(apiKeyEnv), "")
			if err != nil {
				return err
			}

			var templates *prompt.TemplateSet
			if cfg.PromptsDir != "" {
				templates, err = prompt.Load(cfg.PromptsDir)
				if err != nil {
					return fmt.Errorf("load prompt templates: %w", err)
				}
			} else {
				templates = prompt.LoadDefaults()
			}
			builder := prompt.NewBuilder(templates)

			security := sandbox.DefaultSecurityConfig()
			if cfg.SandboxImage != "" {
				security.Image = cfg.SandboxImage
			}
			if cfg.SandboxCPUCount > 0 {
				security.CPUCount = cfg.SandboxCPUCount
			}

			pool := sandbox.NewPool(func() sandbox.Executor {
				return sandbox.NewContainerExecutor(security, logger)
			}, cfg.PoolSize, logger)

			ctx := cmd.Context()
			if err := pool.Start(ctx); err != nil {
				return fmt.Errorf("start sandbox pool: %w", err)
			}
			defer pool.Stop(ctx)

			traceDir, _ := cmd.Flags().GetString(flagTraceDir)
			if traceDir == "" {
				traceDir = getEnv("RLM_TRACE_DIR", "./traces")
			}
			if err := os.MkdirAll(traceDir, 0o755); err != nil {
				return fmt.Errorf("create trace directory: %w", err)
			}

			engine := &rlm.Engine{
				Pool:     pool,
				Provider: p,
				Builder:  builder,
				Redactor: redact.New(redact.DefaultPatterns()),
				Config:   cfg,
				TraceDir: traceDir,
				Logger:   logger,
			}

			result, err := engine.Query(ctx, documents, docNames, question)
			if err != nil {
				return fmt.Errorf("query failed: %w", err)
			}

			fmt.Println(result.Answer)
			fmt.Fprintf(os.Stderr, "trace: %s/%s.jsonl\n", traceDir, result.TraceID)
			if result.Verification != nil {
				fmt.Fprintf(os.Stderr, "mechanical verification all_valid=%v\n", result.Verification.AllValid())
			}
			if result.SemanticVerification != nil {
				fmt.Fprintf(os.Stderr, "semantic verification: %d high-confidence findings\n", len(result.SemanticVerification.HighConfidence()))
			}
			return nil
		},
	}

	queryCmd.Flags().String(flagQuestion, "", "The question to answer (required)")
	queryCmd.Flags().String(flagModel, "", "Override the configured model")
	queryCmd.Flags().String(flagProvider, "anthropic", "Model provider: anthropic or openai")
	queryCmd.Flags().Int(flagPoolSize, 0, "Override the configured sandbox pool size")
	queryCmd.Flags().Bool(flagVerify, false, "Enable semantic (LLM-adversarial) verification")
	queryCmd.Flags().String(flagTraceDir, "", "Directory to write the JSONL trace file to")
	queryCmd.Flags().String(flagSandboxIm, "", "Override the configured sandbox container image")

	rootCmd.AddCommand(queryCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func normalizeFlagName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		if name[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = name[i]
		}
	}
	return string(out)
}

func envMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				out[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return out
}

func buildOverrides(cmd *cobra.Command) config.Overrides {
	var o config.Overrides
	if v, _ := cmd.Flags().GetString(flagModel); v != "" {
		o.Model = &v
	}
	if v, _ := cmd.Flags().GetInt(flagPoolSize); v > 0 {
		o.PoolSize = &v
	}
	if cmd.Flags().Changed(flagVerify) {
		v, _ := cmd.Flags().GetBool(flagVerify)
		o.Verify = &v
	}
	if v, _ := cmd.Flags().GetString(flagSandboxIm); v != "" {
		o.SandboxImage = &v
	}
	return o
}
