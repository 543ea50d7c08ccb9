package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bradylowe/paranoid-coder/internal/config"
	"github.com/bradylowe/paranoid-coder/internal/errs"
	"github.com/bradylowe/paranoid-coder/internal/graph"
	"github.com/bradylowe/paranoid-coder/internal/ignore"
	"github.com/bradylowe/paranoid-coder/internal/index"
	"github.com/bradylowe/paranoid-coder/internal/jobs"
	"github.com/bradylowe/paranoid-coder/internal/llm"
	"github.com/bradylowe/paranoid-coder/internal/model"
	"github.com/bradylowe/paranoid-coder/internal/parse"
	"github.com/bradylowe/paranoid-coder/internal/project"
	"github.com/bradylowe/paranoid-coder/internal/query"
	"github.com/bradylowe/paranoid-coder/internal/store"
	"github.com/bradylowe/paranoid-coder/internal/summarize"
)

// env bundles everything a command needs for one project.
type env struct {
	proj    *project.Project
	cfg     *config.Config
	store   *store.Store
	matcher *ignore.Matcher
	host    llm.Host
	reg     *jobs.Registry
}

// openEnv resolves the project containing target, loads the merged config,
// and opens the store. Fails with NoProjectFound when target is outside
// any initialized project.
func openEnv(target string) (*env, error) {
	proj, err := project.Find(target)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(proj.DataDir)
	if err != nil {
		return nil, err
	}

	if err := initLogger(cfg); err != nil {
		return nil, err
	}

	st, err := store.OpenExisting(proj.DBPath(), cfg.DefaultLanguage, logger)
	if err != nil {
		return nil, err
	}

	return &env{
		proj:    proj,
		cfg:     cfg,
		store:   st,
		matcher: ignore.NewMatcher(proj.Root, cfg, logger),
		host: llm.NewOllamaHost(cfg.OllamaHost,
			time.Duration(cfg.GetRequestTimeoutSec())*time.Second, logger),
		reg: jobs.NewRegistry(logger),
	}, nil
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
}

func initLogger(cfg *config.Config) error {
	if logger != nil {
		return nil
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level.SetLevel(cfg.ZapLevel())
	zcfg.OutputPaths = []string{"stderr"}
	var err error
	logger, err = zcfg.Build()
	return err
}

// syncIgnoreAudit appends file- and command-sourced patterns the audit
// table has not seen yet.
func syncIgnoreAudit(ctx context.Context, e *env) {
	existing, err := e.store.IgnorePatterns(ctx)
	if err != nil {
		logger.Warn("Failed to read ignore audit", zap.Error(err))
		return
	}
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p.Pattern] = true
	}

	for _, p := range e.matcher.Patterns() {
		if seen[p.Pattern] {
			continue
		}
		var source model.IgnorePatternSource
		switch p.Source {
		case "gitignore", "paranoidignore":
			source = model.PatternFromFile
		case "config":
			source = model.PatternFromCommand
		default:
			continue
		}
		if err := e.store.AddIgnorePattern(ctx, p.Pattern, source); err != nil {
			logger.Warn("Failed to record ignore pattern", zap.Error(err))
		}
	}
}

// runAsJob executes fn under the job registry so an interrupt cancels it
// cleanly; committed progress stays valid.
func runAsJob(ctx context.Context, e *env, name string, fn func(ctx context.Context) error) error {
	job := e.reg.Start(ctx, name, fn)
	job.Wait()
	if job.Status == jobs.StatusFailed {
		return fmt.Errorf("%s: %s", name, job.Error)
	}
	return nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [path]",
		Short: "Initialize a project",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}

			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			if err := initLogger(cfg); err != nil {
				return err
			}

			proj, existed, err := project.Init(target, logger)
			if err != nil {
				return err
			}

			st, err := store.Open(proj.DBPath(), cfg.DefaultLanguage, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.SetMetadata(cmd.Context(), "project_root", proj.Root); err != nil {
				return err
			}

			if flagJSON {
				return printJSON(map[string]any{
					"root":                proj.Root,
					"already_initialized": existed,
				})
			}
			if existed {
				fmt.Println("already initialized:", proj.Root)
			} else {
				fmt.Println("initialized:", proj.Root)
			}
			return nil
		},
	}
}

func newSummarizeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "summarize [path]",
		Short: "Summarize changed files and directories bottom-up",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}

			e, err := openEnv(target)
			if err != nil {
				return err
			}
			defer e.close()
			syncIgnoreAudit(cmd.Context(), e)

			prompts, err := summarize.NewPromptManager(e.proj.PromptOverridesPath())
			if err != nil {
				return err
			}

			var res *summarize.RunResult
			err = runAsJob(cmd.Context(), e, "summarize", func(ctx context.Context) error {
				s := summarize.NewSummarizer(e.store, e.host, prompts, e.matcher, e.cfg, logger)
				var runErr error
				res, runErr = s.Run(ctx, target, force)
				return runErr
			})
			if err != nil {
				return err
			}

			if flagJSON {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Printf("summarized %d, skipped %d, failed %d\n", res.Summarized, res.Skipped, res.Failed)
			}
			if res.Failed > 0 {
				return errs.New(errs.ModelError, "%d items failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-summarize even when unchanged")
	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "analyze [path]",
		Short: "Extract the code graph for supported files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}

			e, err := openEnv(target)
			if err != nil {
				return err
			}
			defer e.close()
			syncIgnoreAudit(cmd.Context(), e)

			var res *parse.Result
			err = runAsJob(cmd.Context(), e, "analyze", func(ctx context.Context) error {
				ex := parse.NewExtractor(e.store, logger)
				var runErr error
				res, runErr = ex.AnalyzeTree(ctx, target, e.matcher, e.cfg.GetWorkerCount(), force)
				return runErr
			})
			if err != nil {
				return err
			}

			if flagJSON {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Printf("parsed %d files (%d entities), skipped %d, failed %d\n",
					res.FilesParsed, res.Entities, res.FilesSkipped, res.FilesFailed)
			}
			if res.FilesFailed > 0 {
				return errs.New(errs.ParseError, "%d files failed", res.FilesFailed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-parse even when unchanged")
	return cmd
}

func newIndexCmd() *cobra.Command {
	var full, noSummaries, entities bool
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed summaries (and optionally entities) into the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(".")
			if err != nil {
				return err
			}
			defer e.close()

			opts := index.Options{
				Mode:      index.ModeIncremental,
				Summaries: !noSummaries,
				Entities:  entities,
			}
			if full {
				opts.Mode = index.ModeFull
			}

			var res *index.Result
			err = runAsJob(cmd.Context(), e, "index", func(ctx context.Context) error {
				ix := index.NewIndexer(e.store, e.host, e.cfg, e.proj.DataDir, logger)
				var runErr error
				res, runErr = ix.Run(ctx, opts)
				return runErr
			})
			if err != nil {
				return err
			}

			if flagJSON {
				if err := printJSON(res); err != nil {
					return err
				}
			} else {
				fmt.Printf("embedded %d, skipped %d, failed %d\n", res.Embedded, res.Skipped, res.Failed)
			}
			if res.Failed > 0 {
				return errs.New(errs.ModelError, "%d objects failed", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "re-embed everything")
	cmd.Flags().BoolVar(&noSummaries, "no-summaries", false, "skip summary embeddings")
	cmd.Flags().BoolVar(&entities, "entities", false, "also embed entities")
	return cmd
}

func newAskCmd() *cobra.Command {
	var forceRAG bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a natural-language question about the codebase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(".")
			if err != nil {
				return err
			}
			defer e.close()

			api := graph.NewAPI(e.store, e.proj.Root, logger)
			router := query.NewRouter(e.store, api, e.host, e.cfg, logger)

			resp, err := router.Ask(cmd.Context(), args[0], forceRAG)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(resp)
			}

			if resp.Answer != "" {
				fmt.Println(resp.Answer)
				fmt.Println()
			}
			if len(resp.Sources) > 0 {
				fmt.Println("sources:")
				for _, src := range resp.Sources {
					line := "  " + src.Path
					if src.Line > 0 {
						line += fmt.Sprintf(":%d", src.Line)
					}
					if src.Name != "" {
						line += "  " + src.Name
					}
					if src.Similarity > 0 {
						line += fmt.Sprintf("  (%.3f)", src.Similarity)
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&forceRAG, "force-rag", false, "always use the retrieval path")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [path]",
		Short: "Show index coverage and store statistics",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) > 0 {
				target = args[0]
			}

			e, err := openEnv(target)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			stats, err := e.store.Stats(ctx, "")
			if err != nil {
				return err
			}
			entityCount, err := e.store.CountEntities(ctx)
			if err != nil {
				return err
			}
			vectorCount, err := e.store.CountVectors(ctx)
			if err != nil {
				return err
			}

			if flagJSON {
				return printJSON(map[string]any{
					"root":      e.proj.Root,
					"summaries": stats,
					"entities":  entityCount,
					"vectors":   vectorCount,
				})
			}

			fmt.Println("project:", e.proj.Root)
			fmt.Printf("summaries: %d (%d files, %d directories, %d with errors)\n",
				stats.Total, stats.Files, stats.Directories, stats.WithErrors)
			fmt.Println("entities:", entityCount)
			fmt.Println("vectors:", vectorCount)
			for lang, n := range stats.ByLanguage {
				fmt.Printf("  %s: %d\n", lang, n)
			}
			return nil
		},
	}
}
