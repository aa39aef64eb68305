package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-rag/internal/helper"
	"quiz-rag/internal/models"
	"quiz-rag/internal/pipeline"
	"quiz-rag/internal/rag"
)

func (a *app) ingestCmd() *cobra.Command {
	var subject, unit string
	cmd := &cobra.Command{
		Use:   "ingest FILE...",
		Short: "Parse, chunk, embed and store source files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				results := make([]pipeline.IngestResult, 0, len(args))
				for _, path := range args {
					res, err := p.ProcessSource(cmd.Context(), path, subject, unit)
					if err != nil {
						return fmt.Errorf("ingest %s: %w", path, err)
					}
					results = append(results, res)
				}
				helper.PrettyPrint(results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject label stored with every chunk")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit label stored with every chunk")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}

func (a *app) generateCmd() *cobra.Command {
	var subject, unit, difficulty, query, out string
	var count int
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate questions for a subject and unit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := models.ParseDifficulty(difficulty)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("%w: count must be at least 1", models.ErrInput)
			}
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				if dryRun {
					est, err := p.EstimateGeneration(cmd.Context(), subject, unit, count, d, query)
					if err != nil {
						return err
					}
					helper.PrettyPrint(est)
					return nil
				}

				var questions []models.QuestionRecord
				if count == 1 {
					q, err := p.GenerateOne(cmd.Context(), subject, unit, d, query)
					if err != nil {
						return err
					}
					questions = []models.QuestionRecord{q}
				} else {
					questions, err = p.GenerateBatch(cmd.Context(), subject, unit, count, d)
					if err != nil && len(questions) == 0 {
						return err
					}
				}

				output := map[string]any{
					"questions":  questions,
					"statistics": p.Statistics(),
					"usage":      p.Usage(),
				}
				if out != "" {
					return writeJSON(out, output)
				}
				helper.PrettyPrint(output)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject to generate for")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit to generate for")
	cmd.Flags().StringVar(&difficulty, "difficulty", string(models.DifficultyMedium), "easy, medium or hard")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of questions")
	cmd.Flags().StringVar(&query, "query", "", "Custom retrieval query (single question only)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the result to this JSON file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Estimate the model cost without generating")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("unit")
	return cmd
}

func (a *app) evaluateCmd() *cobra.Command {
	var subject, unit, out string
	cmd := &cobra.Command{
		Use:   "evaluate FILE",
		Short: "Review the questions in a JSON file against the indexed material",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				results, err := p.Evaluate(cmd.Context(), args[0], subject, unit)
				if err != nil && len(results) == 0 {
					return err
				}
				if out != "" {
					return writeJSON(out, results)
				}
				helper.PrettyPrint(results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Override the subject stored in each question")
	cmd.Flags().StringVar(&unit, "unit", "", "Override the unit stored in each question")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the assessments to this JSON file")
	return cmd
}

func (a *app) searchCmd() *cobra.Command {
	var opts rag.RetrieveOptions
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Show the passages retrieved for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				docs, err := p.Search(cmd.Context(), strings.Join(args, " "), opts)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					log.Info().Msg("No matching passages")
					return nil
				}
				helper.PrettyPrint(docs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.Subject, "subject", "", "Restrict to a subject")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "Restrict to a unit")
	cmd.Flags().IntVarP(&opts.K, "k", "k", 0, "Number of passages (default from config)")
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show index contents and settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				st, err := p.Status(cmd.Context())
				if err != nil {
					return err
				}
				helper.PrettyPrint(map[string]any{
					"status": st,
					"config": a.cfg.Redacted(),
				})
				return nil
			})
		},
	}
}

func (a *app) clearCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every stored chunk",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the index without --yes")
			}
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				return p.Clear(cmd.Context())
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm clearing the index")
	return cmd
}

func (a *app) deleteCmd() *cobra.Command {
	var subject, unit, source string
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove chunks matching subject, unit or source file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := models.Filter{}
			for k, v := range map[string]string{
				models.MetaSubject:    subject,
				models.MetaUnit:       unit,
				models.MetaSourceFile: source,
			} {
				if v != "" {
					filter[k] = v
				}
			}
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				n, err := p.Delete(cmd.Context(), filter)
				if err != nil {
					return err
				}
				log.Info().Int("deleted", n).Msg("Deleted chunks")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Subject to delete")
	cmd.Flags().StringVar(&unit, "unit", "", "Unit to delete")
	cmd.Flags().StringVar(&source, "source", "", "Source file name to delete")
	return cmd
}

func (a *app) tagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tag ID KEY=VALUE...",
		Short: "Replace the metadata of one stored chunk",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			md := make(map[string]string, len(args)-1)
			for _, kv := range args[1:] {
				k, v, ok := strings.Cut(kv, "=")
				if !ok || k == "" {
					return fmt.Errorf("%w: expected KEY=VALUE, got %q", models.ErrInput, kv)
				}
				md[k] = v
			}
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				return p.UpdateMetadata(cmd.Context(), args[0], md)
			})
		},
	}
}

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [PATH]",
		Short: "Write a snapshot of the chromem index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				return p.Export(cmd.Context(), optionalArg(args))
			})
		},
	}
}

func (a *app) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [PATH]",
		Short: "Load a snapshot into the chromem index",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withPipeline(cmd.Context(), func(p *pipeline.Pipeline) error {
				return p.Import(cmd.Context(), optionalArg(args))
			})
		},
	}
}

func optionalArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
