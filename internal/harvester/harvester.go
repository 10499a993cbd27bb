// Package harvester drives the harvest reconciliation engine: gathering
// remote identifiers, fetching records, importing them into the catalog and
// the ad hoc reimport path.
package harvester

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/berlinonline/fisbroker-harvester/internal/catalog"
	"github.com/berlinonline/fisbroker-harvester/internal/config"
	"github.com/berlinonline/fisbroker-harvester/internal/csw"
	"github.com/berlinonline/fisbroker-harvester/internal/store"
	"github.com/berlinonline/fisbroker-harvester/internal/transform"
)

const (
	defaultConnectRetries = 3
	defaultConnectWait    = 5 * time.Second
)

// CSWClient is the slice of the CSW protocol the harvester consumes.
type CSWClient interface {
	Endpoint() string
	Connect(ctx context.Context) error
	ListIdentifiers(ctx context.Context, constraints csw.Constraints) ([]string, error)
	GetRecordByID(ctx context.Context, identifier string) (*csw.Record, error)
}

// Harvester ties the collaborators together for one harvest source.
type Harvester struct {
	source      config.Source
	store       store.Store
	catalog     catalog.Service
	csw         CSWClient
	transformer *transform.Transformer
	logger      *zap.Logger

	connectRetries int
	connectWait    time.Duration
	now            func() time.Time
}

type Option func(*Harvester)

func WithLogger(logger *zap.Logger) Option {
	return func(h *Harvester) {
		h.logger = logger
	}
}

func WithStore(s store.Store) Option {
	return func(h *Harvester) {
		h.store = s
	}
}

func WithCatalog(c catalog.Service) Option {
	return func(h *Harvester) {
		h.catalog = c
	}
}

func WithClient(c CSWClient) Option {
	return func(h *Harvester) {
		h.csw = c
	}
}

func WithConnectRetries(retries int, wait time.Duration) Option {
	return func(h *Harvester) {
		h.connectRetries = retries
		h.connectWait = wait
	}
}

// withClock overrides the time source in tests.
func withClock(now func() time.Time) Option {
	return func(h *Harvester) {
		h.now = now
	}
}

func New(source config.Source, opts ...Option) *Harvester {
	h := &Harvester{
		source:         source,
		logger:         zap.NewNop(),
		connectRetries: defaultConnectRetries,
		connectWait:    defaultConnectWait,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.transformer == nil {
		h.transformer = transform.New(transform.WithLogger(h.logger))
	}
	return h
}

// Run executes one full harvest pass: gather, then fetch and import each
// entity in turn. Per-entity failures are recorded on the entity and do not
// abort the run.
func (h *Harvester) Run(ctx context.Context) (*store.Run, error) {
	run := &store.Run{
		SourceID: h.source.ID,
		Type:     store.RunTypeHarvest,
		Status:   store.RunStatusRunning,
	}
	if err := h.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}

	entities, err := h.Gather(ctx, run)
	if err != nil {
		run.Status = store.RunStatusFailed
		run.Finished = h.now()
		if updateErr := h.store.UpdateRun(ctx, run); updateErr != nil {
			h.logger.Error("finalizing failed run", zap.Error(updateErr))
		}
		return run, err
	}

	for _, entity := range entities {
		if !h.Fetch(ctx, entity) {
			continue
		}
		outcome := h.Import(ctx, entity, false)
		h.logger.Info("imported object",
			zap.String("guid", entity.GUID),
			zap.String("outcome", string(outcome)))
	}

	run.Status = store.RunStatusFinished
	run.Finished = h.now()
	if err := h.store.UpdateRun(ctx, run); err != nil {
		return run, err
	}
	return run, nil
}

// connect establishes the CSW connection with a fixed number of attempts
// and a fixed wait between them.
func (h *Harvester) connect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= h.connectRetries; attempt++ {
		h.logger.Debug("setting up CSW client",
			zap.Int("attempt", attempt),
			zap.Int("retries", h.connectRetries))
		if err = h.csw.Connect(ctx); err == nil {
			return nil
		}
		if attempt < h.connectRetries {
			select {
			case <-time.After(h.connectWait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return err
}
