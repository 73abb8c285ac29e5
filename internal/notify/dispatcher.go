package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/oszuidwest/zwfm-livecam/internal/types"
	"github.com/oszuidwest/zwfm-livecam/internal/util"
)

// Config selects the notification sinks. Unconfigured sinks are skipped.
type Config struct {
	WebhookURL string
	Graph      types.GraphConfig
	Zabbix     types.ZabbixConfig
}

// Dispatcher delivers events to every configured sink without blocking the
// caller. Failures are logged, never returned.
type Dispatcher struct {
	cfg       Config
	graphOpts []GraphOption
	logger    *slog.Logger

	// mu protects graphClient
	mu          sync.Mutex
	graphClient *GraphClient

	wg sync.WaitGroup
}

// NewDispatcher returns a Dispatcher for cfg.
func NewDispatcher(cfg Config, graphOpts ...GraphOption) *Dispatcher {
	return &Dispatcher{
		cfg:       cfg,
		graphOpts: graphOpts,
		logger:    slog.Default().With("component", "notify"),
	}
}

// Enabled reports whether any sink is configured.
func (d *Dispatcher) Enabled() bool {
	return util.IsConfigured(d.cfg.WebhookURL) || IsConfigured(&d.cfg.Graph) || zabbixConfigured(&d.cfg.Zabbix)
}

// getOrCreateGraphClient returns the cached Graph client, creating it if needed.
func (d *Dispatcher) getOrCreateGraphClient() (*GraphClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.graphClient != nil {
		return d.graphClient, nil
	}
	client, err := NewGraphClient(&d.cfg.Graph, d.graphOpts...)
	if err != nil {
		return nil, err
	}
	d.graphClient = client
	return client, nil
}

// Notify fans event out to the configured sinks on background goroutines.
func (d *Dispatcher) Notify(event Event) {
	if event.Timestamp == "" {
		event.Timestamp = timestampUTC()
	}
	d.logger.Info("notifying", "event", event.Type, "broadcast_id", event.BroadcastID)

	for name, send := range d.senders() {
		d.wg.Go(func() {
			util.LogNotifyResult(d.logger, name, string(event.Type), send(context.Background(), event))
		})
	}
}

// Test delivers event synchronously to every configured sink and returns
// the combined delivery errors.
func (d *Dispatcher) Test(ctx context.Context) error {
	if !d.Enabled() {
		return errors.New("no notification sink configured")
	}
	event := NewEvent(EventTest, "This is a test notification from "+AppName)

	var errs []error
	for name, send := range d.senders() {
		if err := send(ctx, event); err != nil {
			errs = append(errs, util.WrapError("deliver "+name, err))
		}
	}
	return errors.Join(errs...)
}

// senders returns the delivery function of every configured sink.
func (d *Dispatcher) senders() map[string]func(context.Context, Event) error {
	senders := make(map[string]func(context.Context, Event) error)
	if util.IsConfigured(d.cfg.WebhookURL) {
		senders["webhook"] = func(ctx context.Context, e Event) error {
			return SendWebhook(ctx, d.cfg.WebhookURL, e)
		}
	}
	if IsConfigured(&d.cfg.Graph) {
		senders["email"] = func(ctx context.Context, e Event) error {
			client, err := d.getOrCreateGraphClient()
			if err != nil {
				return util.WrapError("create Graph client", err)
			}
			return SendEmail(ctx, client, &d.cfg.Graph, e)
		}
	}
	if zabbixConfigured(&d.cfg.Zabbix) {
		senders["zabbix"] = func(ctx context.Context, e Event) error {
			return SendZabbixEvent(ctx, &d.cfg.Zabbix, e)
		}
	}
	return senders
}

// Wait blocks until all in-flight deliveries have finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
