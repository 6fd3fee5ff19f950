package shadowmesh

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh/credential"
	"github.com/shadowmesh/shadowmesh/internal/rate"
	"github.com/shadowmesh/shadowmesh/mail"
	"github.com/shadowmesh/shadowmesh/password"
	"github.com/shadowmesh/shadowmesh/token"
)

// Builder assembles an Engine. Configure once, Build once.
type Builder struct {
	config        Config
	store         credential.Store
	mailer        mail.Sender
	auditSink     AuditSink
	logger        *zap.Logger
	now           func() time.Time
	publicBaseURL string
	built         bool
}

// New starts a builder with default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis wires a Redis-backed credential store on the given client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.store = credential.NewRedisStore(client, "sm")
	return b
}

// WithStore wires an explicit credential store (overrides WithRedis).
func (b *Builder) WithStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithMailer wires the outbound email sender.
func (b *Builder) WithMailer(sender mail.Sender) *Builder {
	b.mailer = sender
	return b
}

// WithAuditSink wires where audit events are delivered.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger wires structured logging. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source, for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithPublicBaseURL sets the site origin used in member reset links.
func (b *Builder) WithPublicBaseURL(url string) *Builder {
	b.publicBaseURL = url
	return b
}

// Build validates the configuration and dependencies and returns a ready
// engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	adminHash, err := password.NewArgon2(cfg.Argon2)
	if err != nil {
		return nil, err
	}
	memberHash, err := password.NewDerived(cfg.Derive)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(cfg.Token)
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mailer := b.mailer
	if mailer == nil {
		mailer = mail.Discard{}
	}
	now := b.now
	if now == nil {
		now = time.Now
	}
	sink := b.auditSink
	if sink == nil {
		sink = &ZapSink{Logger: logger}
	}

	b.built = true
	return &Engine{
		config:        cfg,
		store:         b.store,
		mailer:        mailer,
		limiter:       rate.New(rate.WithClock(now)),
		totp:          newTOTPManager(cfg.TOTP),
		adminHash:     adminHash,
		memberHash:    memberHash,
		tokens:        tokens,
		audit:         newAuditDispatcher(cfg.Audit, sink),
		metrics:       NewMetrics(),
		log:           logger,
		now:           now,
		publicBaseURL: b.publicBaseURL,
	}, nil
}
