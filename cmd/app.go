package cmd

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cgem-lab/strainboard/internal/blob"
	"github.com/cgem-lab/strainboard/internal/dashboard"
	"github.com/cgem-lab/strainboard/internal/loader"
	"github.com/cgem-lab/strainboard/internal/metrics"
	"github.com/cgem-lab/strainboard/internal/notify"
	"github.com/cgem-lab/strainboard/internal/requests"
	"github.com/cgem-lab/strainboard/internal/strains"
)

// app holds the components shared by the commands.
type app struct {
	blobs    blob.Store
	workbook *loader.WorkbookLoader
	snapshot *loader.SnapshotCache
	engine   *dashboard.Engine
	store    requests.Store
	service  *requests.Service
	notifier *notify.Notifier
}

func openBlobs(ctx context.Context) (blob.Store, error) {
	return blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.BlobDriver),
		Root:   cfg.BlobRoot,
		S3: blob.S3Config{
			Region:    cfg.BlobS3Region,
			Bucket:    cfg.BlobS3Bucket,
			Endpoint:  cfg.BlobS3Endpoint,
			PathStyle: cfg.BlobS3PathStyle,
		},
	})
}

func engineConfig() dashboard.Config {
	dc := dashboard.DefaultConfig()
	if len(cfg.PlotColumns) > 0 {
		dc.Categories = append([]string(nil), cfg.PlotColumns...)
	}
	if len(cfg.Labs) > 0 {
		dc.FixedLabels[strains.ColLab] = append([]string(nil), cfg.Labs...)
	}
	return dc
}

// newInventory opens blob storage and builds an engine over the cached
// workbook loader. The engine is not started.
func newInventory(ctx context.Context, rec *metrics.Recorder) (*app, error) {
	store, err := openBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a := &app{
		blobs:    store,
		workbook: &loader.WorkbookLoader{Store: store, Key: cfg.WorkbookKey, Labs: cfg.Labs},
		snapshot: &loader.SnapshotCache{Store: store, Key: cfg.SnapshotKey},
	}
	opts := []dashboard.Option{
		dashboard.WithLogger(logger),
		dashboard.WithLoader(&loader.CachedLoader{Source: a.workbook, Cache: a.snapshot, Logger: logger}),
	}
	if rec != nil {
		opts = append(opts, dashboard.WithObserver(rec))
	}
	a.engine = dashboard.New(engineConfig(), opts...)
	return a, nil
}

// withRequests opens the request database and builds the workflow service
// on top of the inventory engine.
func (a *app) withRequests(ctx context.Context, rec *metrics.Recorder) error {
	st, err := requests.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open request store: %w", err)
	}
	a.store = st

	var mailer notify.Mailer = notify.LogMailer{Logger: logger}
	if cfg.MailEnabled {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
		})
	}
	nopts := []notify.Option{notify.WithSync(cfg.MailSync), notify.WithBaseURL(cfg.PublicURL), notify.WithLogger(logger)}
	sopts := []requests.Option{requests.WithLogger(logger), requests.WithMemberDomain(cfg.MemberDomain)}
	if rec != nil {
		nopts = append(nopts, notify.WithObserver(rec))
		sopts = append(sopts, requests.WithObserver(rec))
	}
	a.notifier = notify.New(mailer, cfg.MailSender, nopts...)
	sopts = append(sopts, requests.WithNotifier(a.notifier))
	a.service = requests.NewService(st, a.engine, sopts...)
	a.reloadContacts(ctx)
	return nil
}

// reloadContacts reads the lab notification addresses from the workbook.
// A missing or unreadable Emails sheet leaves the previous addresses in place.
func (a *app) reloadContacts(ctx context.Context) {
	if a.service == nil {
		return
	}
	emails, err := a.workbook.Emails(ctx)
	if err != nil {
		logger.Warn("lab emails unavailable", zap.Error(err))
		return
	}
	a.service.SetContacts(emails)
	logger.Debug("lab emails loaded", zap.Int("labs", len(emails)))
}

func (a *app) Close() {
	if a.notifier != nil {
		a.notifier.Wait()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("close request store", zap.Error(err))
		}
	}
}

func parseSelection(raw []string) ([]dashboard.Pair, error) {
	pairs := make([]dashboard.Pair, 0, len(raw))
	for _, s := range raw {
		p, err := dashboard.ParsePair(s)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}
