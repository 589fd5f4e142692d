package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/ratnakart/api/internal/handlers"
	"github.com/ratnakart/api/internal/payments"
	"github.com/ratnakart/api/internal/platform/auth"
	"github.com/ratnakart/api/internal/platform/config"
	pfirestore "github.com/ratnakart/api/internal/platform/firestore"
	"github.com/ratnakart/api/internal/platform/idempotency"
	"github.com/ratnakart/api/internal/platform/jobs"
	"github.com/ratnakart/api/internal/platform/observability"
	"github.com/ratnakart/api/internal/platform/requestctx"
	"github.com/ratnakart/api/internal/repositories"
	repofirestore "github.com/ratnakart/api/internal/repositories/firestore"
	"github.com/ratnakart/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders   services.OrderService
	Payments services.PaymentService
	System   services.SystemService
}

// Container wires configuration, storage, services, and the HTTP surface for
// runtime use. Construct it with NewContainer and release it with Close.
type Container struct {
	Config       config.Config
	Logger       *zap.Logger
	Firestore    *pfirestore.Provider
	Repositories repositories.Registry
	Services     Services
	Handler      http.Handler
	Idempotency  idempotency.Store

	pubsubClient *pubsub.Client
	eventTopic   *pubsub.Topic
}

// Option customises container construction, mainly so tests can substitute
// in-memory collaborators.
type Option func(*containerOptions)

type containerOptions struct {
	logger    *zap.Logger
	registry  *repositories.Registry
	provider  payments.Provider
	publisher services.OrderEventPublisher
	clock     func() time.Time
}

// WithLogger supplies a pre-built logger instead of constructing one.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		o.logger = logger
	}
}

// WithRegistry bypasses Firestore wiring and uses the provided repositories.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *containerOptions) {
		o.registry = &reg
	}
}

// WithPaymentProvider overrides the Razorpay-backed payment provider.
func WithPaymentProvider(provider payments.Provider) Option {
	return func(o *containerOptions) {
		o.provider = provider
	}
}

// WithEventPublisher overrides the Pub/Sub order event publisher.
func WithEventPublisher(publisher services.OrderEventPublisher) Option {
	return func(o *containerOptions) {
		o.publisher = publisher
	}
}

// WithClock overrides the time source handed to services.
func WithClock(clock func() time.Time) Option {
	return func(o *containerOptions) {
		o.clock = clock
	}
}

// NewContainer constructs the runtime dependency graph from configuration.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (*Container, error) {
	var options containerOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	logger := options.logger
	if logger == nil {
		built, err := observability.NewLogger()
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
		logger = built
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	if options.registry != nil {
		c.Repositories = *options.registry
	} else {
		if err := c.buildFirestore(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.buildEvents(ctx, options.publisher); err != nil {
		c.Close(ctx)
		return nil, err
	}

	publisher := options.publisher
	if publisher == nil && c.eventTopic != nil {
		built, err := jobs.NewPubSubOrderEventPublisher(c.eventTopic)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("build event publisher: %w", err)
		}
		publisher = built
	}

	provider := options.provider
	if provider == nil {
		built, err := payments.NewRazorpayProvider(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)
		if err != nil {
			c.Close(ctx)
			return nil, fmt.Errorf("build payment provider: %w", err)
		}
		provider = built
	}

	if err := c.buildServices(cfg, provider, publisher, options.clock); err != nil {
		c.Close(ctx)
		return nil, err
	}

	if err := c.buildRouter(ctx, cfg); err != nil {
		c.Close(ctx)
		return nil, err
	}

	return c, nil
}

// Close releases the Firestore and Pub/Sub clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.eventTopic != nil {
		c.eventTopic.Stop()
		c.eventTopic = nil
	}
	if c.pubsubClient != nil {
		if err := c.pubsubClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub client: %w", err))
		}
		c.pubsubClient = nil
	}
	if c.Firestore != nil {
		if err := c.Firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore provider: %w", err))
		}
		c.Firestore = nil
	}
	return errors.Join(errs...)
}

func (c *Container) buildFirestore(ctx context.Context) error {
	provider := pfirestore.NewProvider(c.Config.Firestore)
	client, err := provider.Client(ctx)
	if err != nil {
		return fmt.Errorf("connect firestore: %w", err)
	}
	c.Firestore = provider

	orders, err := repofirestore.NewOrderRepository(provider)
	if err != nil {
		return fmt.Errorf("build order repository: %w", err)
	}
	gems, err := repofirestore.NewGemRepository(provider)
	if err != nil {
		return fmt.Errorf("build gem repository: %w", err)
	}
	carts, err := repofirestore.NewCartRepository(provider)
	if err != nil {
		return fmt.Errorf("build cart repository: %w", err)
	}
	counters, err := repofirestore.NewCounterRepository(provider)
	if err != nil {
		return fmt.Errorf("build counter repository: %w", err)
	}

	checks := []repositories.DependencyCheck{
		{
			Name: "firestore",
			Check: func(ctx context.Context) error {
				iter := client.Collections(ctx)
				if _, err := iter.Next(); err != nil && err != iterator.Done {
					return err
				}
				return nil
			},
		},
	}
	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		return fmt.Errorf("build health repository: %w", err)
	}

	c.Repositories = repositories.Registry{
		Orders:   orders,
		Gems:     gems,
		Carts:    carts,
		Counters: counters,
		Health:   health,
	}
	return nil
}

func (c *Container) buildEvents(ctx context.Context, override services.OrderEventPublisher) error {
	if override != nil || !c.Config.Events.Enabled {
		return nil
	}
	client, err := pubsub.NewClient(ctx, c.Config.Events.ProjectID)
	if err != nil {
		return fmt.Errorf("connect pubsub: %w", err)
	}
	c.pubsubClient = client
	c.eventTopic = client.Topic(c.Config.Events.TopicID)
	return nil
}

func (c *Container) buildServices(cfg config.Config, provider payments.Provider, publisher services.OrderEventPublisher, clock func() time.Time) error {
	logFn := serviceLogger(c.Logger)

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:           c.Repositories.Orders,
		Gems:             c.Repositories.Gems,
		Carts:            c.Repositories.Carts,
		Counters:         c.Repositories.Counters,
		Events:           publisher,
		DeliveryEstimate: cfg.Orders.DeliveryEstimate,
		Clock:            clock,
		Logger:           logFn,
	})
	if err != nil {
		return fmt.Errorf("build order service: %w", err)
	}

	paymentSvc, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:             c.Repositories.Orders,
		Gems:               c.Repositories.Gems,
		Carts:              c.Repositories.Carts,
		Provider:           provider,
		Events:             publisher,
		KeyID:              cfg.Razorpay.KeyID,
		KeySecret:          cfg.Razorpay.KeySecret,
		WebhookSecret:      cfg.Razorpay.WebhookSecret,
		MinimumAmountPaise: cfg.Orders.MinimumAmountPaise,
		StaleMaxAge:        cfg.Orders.StalePaymentMaxAge,
		Clock:              clock,
		Logger:             logFn,
	})
	if err != nil {
		return fmt.Errorf("build payment service: %w", err)
	}

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		Health: c.Repositories.Health,
	})
	if err != nil {
		return fmt.Errorf("build system service: %w", err)
	}

	c.Services = Services{
		Orders:   orderSvc,
		Payments: paymentSvc,
		System:   systemSvc,
	}
	return nil
}

func (c *Container) buildRouter(ctx context.Context, cfg config.Config) error {
	orderHandlers := handlers.NewOrderHandlers(c.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(c.Services.Payments)
	webhookLimiter := handlers.NewFixedWindowRateLimiter(cfg.RateLimits.WebhookBurst, time.Minute, nil)
	webhookHandlers := handlers.NewWebhookHandlers(c.Services.Payments, webhookLimiter)
	healthHandlers := handlers.NewHealthHandlers(c.Services.System)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(c.Logger),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(c.Logger),
		auth.GatewayIdentityMiddleware(),
	}

	routerOpts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	}

	if c.Firestore != nil {
		client, err := c.Firestore.Client(ctx)
		if err != nil {
			return fmt.Errorf("connect firestore for idempotency store: %w", err)
		}
		store := idempotency.NewFirestoreStore(client)
		c.Idempotency = store
		replay := idempotency.Middleware(store,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(observability.NewPrintfAdapter(c.Logger)),
		)
		routerOpts = append(routerOpts,
			handlers.WithOrderMiddlewares(replay),
			handlers.WithPaymentMiddlewares(replay),
		)
	}

	c.Handler = handlers.NewRouter(routerOpts...)
	return nil
}

// serviceLogger bridges the service-layer logging callback onto the request
// scoped zap logger, falling back to the container's base logger.
func serviceLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == nil || logger == requestctx.NoopLogger() {
			logger = base
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}
