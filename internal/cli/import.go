package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/importer"
	"live-quiz-service/internal/logger"
)

// NewImportCmd creates a session from an .xlsx question sheet.
func NewImportCmd(configPath *string) *cobra.Command {
	var (
		file        string
		title       string
		description string
		publish     bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a quiz session from an Excel sheet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("import needs postgres.url; in-memory sessions would be lost on exit")
			}
			log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
			if err != nil {
				return err
			}
			defer log.Sync()

			questions, err := importer.ReadFile(file)
			if err != nil {
				return err
			}

			b, err := openBackend(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer b.Close()
			service := newService(cfg, b, log)

			session, err := service.CreateSession(ctx, app.CreateSessionInput{
				Title:       title,
				Description: description,
				Questions:   questions,
			})
			if err != nil {
				return err
			}
			if publish {
				if session, err = service.Publish(ctx, session.ID); err != nil {
					return err
				}
			}
			log.Info("session imported",
				zap.String("session_id", session.ID),
				zap.String("code", session.JoinCode),
				zap.String("status", string(session.Status)),
				zap.Int("questions", len(session.Questions)),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", session.ID, session.JoinCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to the .xlsx file")
	cmd.Flags().StringVar(&title, "title", "", "session title")
	cmd.Flags().StringVar(&description, "description", "", "session description")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish the session after import")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
