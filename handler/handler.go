package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/pyama86/RCRA/domain/repository"
	"github.com/pyama86/RCRA/remediation"
	"github.com/slack-go/slack"
)

// Handle は全コンポーネントを配線し、コレクタとダッシュボードを起動する
func Handle(ctx context.Context, configPath string) error {
	cfg, err := repository.NewConfigRepository(configPath)
	if err != nil {
		return err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load aws configuration: %w", err)
	}

	dynamoRepository, err := repository.NewDynamoDBRepository()
	if err != nil {
		return err
	}
	repo := repository.NewRepository(dynamoRepository, dynamoRepository)

	aiRepository, err := repository.NewAIRepository()
	if err != nil {
		return err
	}
	if aiRepository == nil {
		slog.Warn("OpenAI credentials not set, incidents will be recorded without analysis")
	}

	webApi := slack.New(os.Getenv("SLACK_BOT_TOKEN"))
	slackRepository := repository.NewSlackRepository(webApi, cfg.NotifyChannel)

	executor := remediation.NewExecutor(
		repository.NewLambdaRepository(awsCfg),
		repository.NewCloudWatchRepository(awsCfg),
	)

	var analyzer repository.AnalyzerRepository
	if aiRepository != nil {
		analyzer = aiRepository
	}
	pipeline := NewPipeline(repo, analyzer, slackRepository, executor)

	logsRepository := repository.NewCloudWatchLogsRepository(awsCfg, cfg.FilterPattern)
	collector := NewCollector(logsRepository, pipeline, cfg.LogGroups, cfg.PollInterval)
	go collector.Run(ctx)

	var postmortemExporter repository.PostMortemExporter
	if os.Getenv("CONFLUENCE_USERNAME") != "" && os.Getenv("CONFLUENCE_PASSWORD") != "" && cfg.Confluence.Domain != "" {
		r, err := repository.NewConfluenceRepository(
			cfg.Confluence.Domain,
			os.Getenv("CONFLUENCE_USERNAME"),
			os.Getenv("CONFLUENCE_PASSWORD"),
			cfg.Confluence.Space,
			cfg.Confluence.AncestorID,
		)
		if err != nil {
			return err
		}
		postmortemExporter = r
	}

	dashboard := NewDashboard(repo, pipeline, postmortemExporter, cfg.ForecastLookbackDays)

	server := &http.Server{
		Addr:    cfg.Listen,
		Handler: dashboard.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown server", slog.Any("err", err))
		}
	}()

	slog.Info("Dashboard listening", slog.String("addr", cfg.Listen))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
