package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wecare/clinic/internal/config"
	"github.com/wecare/clinic/internal/domain/appointment"
	"github.com/wecare/clinic/internal/domain/dashboard"
	"github.com/wecare/clinic/internal/domain/inventory"
	"github.com/wecare/clinic/internal/domain/messaging"
	"github.com/wecare/clinic/internal/domain/notification"
	"github.com/wecare/clinic/internal/domain/otp"
	"github.com/wecare/clinic/internal/domain/profile"
	"github.com/wecare/clinic/internal/domain/vaccination"
	"github.com/wecare/clinic/internal/platform/auth"
	"github.com/wecare/clinic/internal/platform/blobstore"
	"github.com/wecare/clinic/internal/platform/db"
	"github.com/wecare/clinic/internal/platform/jobs"
	"github.com/wecare/clinic/internal/platform/mailer"
	"github.com/wecare/clinic/internal/platform/middleware"
	"github.com/wecare/clinic/internal/platform/notify"
	"github.com/wecare/clinic/internal/platform/realtime"
	"github.com/wecare/clinic/internal/platform/sms"
	"github.com/wecare/clinic/internal/platform/telemetry"
	"github.com/wecare/clinic/internal/platform/webhook"
)

const version = "0.1.0"

// Job names accepted by `jobs run`.
const (
	jobReminders      = "appointment-reminders"
	jobInventoryAlert = "inventory-alerts"
	jobOTPCleanup     = "otp-cleanup"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "WeCare clinic operations API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(jobsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// loadConfig loads and validates config for one-shot commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// withPool loads config and opens the pool for one-shot commands.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrationsDir(cmd *cobra.Command, cfg *config.Config) string {
	if dir, _ := cmd.Flags().GetString("dir"); dir != "" {
		return dir
	}
	return cfg.MigrationsDir
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrationsDir(cmd, cfg)).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and run background jobs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List jobs and their schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			for _, j := range jobSchedules(cfg) {
				fmt.Printf("%-24s %s\n", j.name, j.schedule)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Run one job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg.Env)
				a, err := buildApp(ctx, cfg, logger, pool)
				if err != nil {
					return err
				}
				if err := a.jobs.RunOnce(ctx, args[0]); err != nil {
					return fmt.Errorf("job %s: %w", args[0], err)
				}
				fmt.Printf("Job %s completed.\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

type jobSpec struct {
	name     string
	schedule string
}

func jobSchedules(cfg *config.Config) []jobSpec {
	return []jobSpec{
		{jobReminders, cfg.ReminderSchedule},
		{jobInventoryAlert, cfg.InventoryAlertSchedule},
		{jobOTPCleanup, cfg.OTPCleanupSchedule},
	}
}

// publicPath reports requests that carry no user identity.
func publicPath(c echo.Context) bool {
	p := c.Request().URL.Path
	return p == "/health" || p == "/health/db" || p == "/metrics" || strings.HasPrefix(p, "/webhooks/")
}

func authMiddleware(cfg *config.Config, roles auth.RoleResolver) echo.MiddlewareFunc {
	var verify echo.MiddlewareFunc
	if cfg.AuthJWTSecret != "" || cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" {
		verify = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthJWTSecret),
			Roles:      roles,
			Skipper:    publicPath,
		})
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(verify, publicPath)
	}
	return verify
}

func smsProviders(cfg *config.Config) []sms.Provider {
	var providers []sms.Provider
	if cfg.SemaphoreAPIKey != "" {
		providers = append(providers, sms.NewSemaphore(sms.SemaphoreConfig{
			APIKey:     cfg.SemaphoreAPIKey,
			SenderName: cfg.SemaphoreSenderName,
			BaseURL:    cfg.SemaphoreBaseURL,
		}))
	}
	if cfg.TwilioAccountSID != "" {
		tc := sms.TwilioConfig{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			FromNumber: cfg.TwilioFromNumber,
			BaseURL:    cfg.TwilioBaseURL,
		}
		if cfg.PublicBaseURL != "" {
			tc.StatusCallback = strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhooks/sms/twilio/status"
		}
		providers = append(providers, sms.NewTwilio(tc))
	}
	return providers
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.StorageDriver != "s3" {
		return blobstore.NewInMemoryStore(), nil
	}
	store, err := blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		PathStyle:       cfg.S3PathStyle,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// app holds everything the serve and jobs commands share.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool

	blobs    blobstore.Store
	sms      *sms.Service
	mail     *mailer.SMTP
	notifier *notify.Dispatcher
	hub      *realtime.Hub
	jobs     *jobs.Runner

	profiles      *profile.Service
	notifications *notification.Service
	appointments  *appointment.Service
	inventory     *inventory.Service
	vaccinations  *vaccination.Service
	messages      *messaging.Service
	otp           *otp.Service
	dashboard     *dashboard.Service
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, pool: pool}
	loc := cfg.Location()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("file storage: %w", err)
	}
	a.blobs = blobs

	a.sms = sms.NewService(sms.NewRegistry(cfg.SMSProvider, smsProviders(cfg)...), sms.NewStorePG(pool), logger)
	a.mail = mailer.NewSMTP(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})

	a.profiles = profile.NewService(profile.NewRepoPG(pool), blobs, logger)
	a.notifications = notification.NewService(notification.NewRepoPG(pool))

	opts := []notify.Option{
		notify.WithSMS(a.sms),
		notify.WithDefaults(map[string]string{"clinic": cfg.ClinicName}),
	}
	if a.mail.Configured() {
		opts = append(opts, notify.WithEmail(a.mail))
	}
	a.notifier = notify.NewDispatcher(a.profiles, a.notifications, logger, opts...)

	a.appointments = appointment.NewService(
		appointment.NewRepoPG(pool),
		appointment.NewValidator(cfg.ClinicServices, loc),
		a.notifier, a.profiles, logger,
	)
	a.inventory = inventory.NewService(inventory.NewRepoPG(pool), a.notifier, loc, cfg.ExpiryWarningDays, logger)
	a.vaccinations = vaccination.NewService(vaccination.NewRepoPG(pool), db.NewTransactor(pool), a.inventory, loc, logger)
	a.messages = messaging.NewService(messaging.NewRepoPG(pool), a.profiles, a.notifier, logger)
	a.otp = otp.NewService(otp.NewRepoPG(pool), a.sms, a.notifier, a.profiles, otp.Config{
		TTL:            cfg.OTPTTL,
		MaxAttempts:    cfg.OTPMaxAttempts,
		ResendInterval: cfg.OTPResendInterval,
	}, logger)
	a.dashboard = dashboard.NewService(a.appointments, a.inventory, a.profiles, a.messages)
	a.hub = realtime.NewHub(logger)

	a.jobs = jobs.NewRunner(loc, logger)
	funcs := map[string]jobs.Func{
		jobReminders:      a.appointments.SendReminders,
		jobInventoryAlert: a.inventory.DigestAlerts,
		jobOTPCleanup:     a.otp.Cleanup,
	}
	for _, j := range jobSchedules(cfg) {
		schedule := j.schedule
		if !cfg.JobsEnabled {
			schedule = ""
		}
		if err := a.jobs.Register(j.name, schedule, funcs[j.name]); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) router() *echo.Echo {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(telemetry.Middleware())
	e.Use(middleware.SecurityHeaders(!cfg.IsDev()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M", map[string]string{
		"/api/v1/files":              "10M",
		"/api/v1/profiles/me/avatar": "10M",
	}))
	e.Use(middleware.RequestTimeout(30*time.Second, "/ws"))
	if mw := authMiddleware(cfg, a.profiles); mw != nil {
		e.Use(mw)
	}
	e.Use(middleware.Audit(logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))
	e.GET("/metrics", telemetry.Handler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	api := e.Group("/api/v1", middleware.RateLimit(rateLimitCfg))

	profile.NewHandler(a.profiles).RegisterRoutes(api)
	notification.NewHandler(a.notifications).RegisterRoutes(api)
	appointment.NewHandler(a.appointments).RegisterRoutes(api)
	inventory.NewHandler(a.inventory).RegisterRoutes(api)
	vaccination.NewHandler(a.vaccinations).RegisterRoutes(api)
	messaging.NewHandler(a.messages).RegisterRoutes(api)
	otp.NewHandler(a.otp).RegisterRoutes(api)
	dashboard.NewHandler(a.dashboard).RegisterRoutes(api)
	sms.NewHandler(a.sms).RegisterRoutes(api)
	mailer.NewHandler(a.mail, logger).RegisterRoutes(api)
	blobstore.NewHandler(a.blobs).RegisterRoutes(api)
	realtime.NewHandler(a.hub, cfg.CORSOrigins, logger).RegisterRoutes(e, api)

	webhook.NewHandler(webhook.Config{
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
	}, sms.NewStorePG(a.pool), a.profiles, logger).RegisterRoutes(e)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	a, err := buildApp(ctx, cfg, logger, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise services")
	}
	e := a.router()

	// Change feed -> websocket hub
	bridge := realtime.NewBridge(a.hub, logger)
	go func() {
		if err := bridge.Run(ctx, db.NewListener(pool, realtime.Channel, logger)); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("realtime listener stopped")
		}
	}()

	if cfg.JobsEnabled {
		a.jobs.Start(ctx)
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cfg.JobsEnabled {
		a.jobs.Stop(shutdownCtx)
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
