// Command letterlab is the participant client: a terminal wizard that walks
// one participant through a LetterLab session against a lab backend.
package main

import (
	"context"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"letterlab-backend/internal/labclient"
	"letterlab-backend/internal/localstore"
	"letterlab-backend/internal/wizard"
)

var (
	apiURL     string
	stateDB    string
	logFile    string
	reset      bool
	needSecond bool
)

var rootCmd = &cobra.Command{
	Use:           "letterlab",
	Short:         "Take part in a LetterLab session",
	Long:          "letterlab runs the participant wizard. Progress is kept in a local database so the session survives restarts.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.Flags().StringVar(&apiURL, "api-url", envOr("LETTERLAB_API_URL", "http://localhost:8080"), "lab backend base URL")
	rootCmd.Flags().StringVar(&stateDB, "state-db", envOr("LETTERLAB_STATE_DB", filepath.Join(home, ".letterlab", "state.db")), "local state database")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "log file (default: next to the state database)")
	rootCmd.Flags().BoolVar(&reset, "reset", false, "discard the saved session before starting")
	rootCmd.Flags().BoolVar(&needSecond, "require-authenticity", false, "make the authenticity rating mandatory on draft screens")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	if err := os.MkdirAll(filepath.Dir(stateDB), 0o700); err != nil {
		return errors.Wrap(err, "create state directory")
	}
	if logFile == "" {
		logFile = filepath.Join(filepath.Dir(stateDB), "letterlab.log")
	}
	log := newLogger(logFile)
	defer log.Sync()

	local, err := localstore.Open(stateDB)
	if err != nil {
		return err
	}
	defer local.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	store, err := wizard.OpenStore(ctx, local, wizard.WithWriteErrors(func(err error) {
		log.Warn("state.write_failed", zap.Error(err))
	}))
	if err != nil {
		return err
	}
	defer store.Close()
	if reset {
		if err := store.Clear(ctx); err != nil {
			return errors.Wrap(err, "reset session")
		}
	}

	client := labclient.New(apiURL)
	outbox := wizard.NewOutbox(local, client)
	outbox.Log = log
	ctrl := wizard.NewController(store, client, outbox)
	ctrl.RequireSecondRating = needSecond

	log.Info("client.start", zap.String("api_url", apiURL), zap.String("state_db", stateDB))
	p := tea.NewProgram(newModel(ctx, ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return store.Flush(context.Background())
}

// newLogger writes JSON lines to a rotating file so the terminal stays free
// for the wizard.
func newLogger(path string) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 2,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zap.InfoLevel)
	return zap.New(core)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
