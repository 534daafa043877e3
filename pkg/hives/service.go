package hives

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gookit/validate"
	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/models"
)

var (
	// ErrGenerationExhausted means every generated identifier collided
	ErrGenerationExhausted = errors.New("could not generate a unique hive identifier")
	// ErrInvalidRequest wraps rejected admin input
	ErrInvalidRequest = errors.New("invalid hive request")
	// ErrPasswordMismatch is returned by VerifyCredentials for a wrong password
	ErrPasswordMismatch = errors.New("password mismatch")
)

// DefaultMaxAttempts caps identifier regeneration in CreateHive
const DefaultMaxAttempts = 10

// Store is the persistence the credential store needs
type Store interface {
	CreateHive(ctx context.Context, hive *database.Hive) error
	GetHive(ctx context.Context, identifier string) (*database.Hive, error)
	ListHives(ctx context.Context) ([]*database.Hive, error)
	UpdateHive(ctx context.Context, identifier string, upd database.HiveUpdate) (*database.Hive, error)
	DeleteHive(ctx context.Context, identifier string) (*database.Hive, error)
	TouchHive(ctx context.Context, id string, at time.Time) error
}

// Service owns hive identity and secret lifecycle
type Service struct {
	store       Store
	params      HashParams
	maxAttempts int
	generate    Generator
	logger      *zap.Logger

	dummyOnce sync.Once
	dummyHash string
}

// Option configures a Service
type Option func(*Service)

// WithHashParams overrides the Argon2id parameters for new hashes
func WithHashParams(p HashParams) Option {
	return func(s *Service) { s.params = p }
}

// WithMaxAttempts overrides the identifier regeneration cap
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithGenerator replaces the credential generator
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.generate = g }
}

// NewService creates a new hive service
func NewService(store Store, logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		params:      DefaultHashParams,
		maxAttempts: DefaultMaxAttempts,
		generate:    RandomCredentials,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateHive generates and stores fresh credentials. The plaintext password
// is only ever available in the returned value.
func (s *Service) CreateHive(ctx context.Context) (*models.HiveCredentials, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		identifier, password, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate credentials: %w", err)
		}

		hash, err := HashPassword(password, s.params)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}

		row := &database.Hive{
			ID:           uuid.New().String(),
			Identifier:   identifier,
			PasswordHash: hash,
		}
		err = s.store.CreateHive(ctx, row)
		if errors.Is(err, database.ErrDuplicate) {
			s.logger.Debug("generated identifier collided, retrying",
				zap.String("hive", identifier),
				zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create hive: %w", err)
		}

		s.logger.Info("hive created", zap.String("hive", identifier), zap.String("hive_id", row.ID))
		return &models.HiveCredentials{
			Hive:       row.ToModel(),
			Identifier: identifier,
			Password:   password,
		}, nil
	}

	s.logger.Error("identifier generation exhausted", zap.Int("attempts", s.maxAttempts))
	return nil, fmt.Errorf("%w after %d attempts", ErrGenerationExhausted, s.maxAttempts)
}

// RegisterHive stores a hive with caller-chosen credentials. Unlike
// CreateHive, a taken identifier or ip is reported as database.ErrDuplicate.
func (s *Service) RegisterHive(ctx context.Context, req *models.RegisterHiveRequest) (*models.Hive, error) {
	fields := map[string]interface{}{
		"identifier": req.Identifier,
		"password":   req.Password,
	}
	rules := map[string]string{
		"identifier": "required|minLen:8|maxLen:16",
		"password":   "required|minLen:8|maxLen:28",
	}
	if req.IP != nil && *req.IP != "" {
		fields["ip"] = *req.IP
		rules["ip"] = "required|ipv4"
	}
	if err := checkFields(fields, rules); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.params)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	row := &database.Hive{
		ID:           uuid.New().String(),
		Identifier:   req.Identifier,
		PasswordHash: hash,
	}
	if req.IP != nil && *req.IP != "" {
		row.IP.String, row.IP.Valid = *req.IP, true
	}

	if err := s.store.CreateHive(ctx, row); err != nil {
		return nil, fmt.Errorf("failed to register hive %s: %w", req.Identifier, err)
	}

	s.logger.Info("hive registered", zap.String("hive", row.Identifier), zap.String("hive_id", row.ID))
	return row.ToModel(), nil
}

// UpdateHive changes any subset of identifier, ip and password. An empty ip
// clears it.
func (s *Service) UpdateHive(ctx context.Context, identifier string, req *models.UpdateHiveRequest) (*models.Hive, error) {
	fields := map[string]interface{}{}
	rules := map[string]string{}
	var upd database.HiveUpdate

	if req.Identifier != nil {
		fields["identifier"] = *req.Identifier
		rules["identifier"] = "required|minLen:8|maxLen:16"
		upd.Identifier = req.Identifier
	}
	if req.Password != nil {
		fields["password"] = *req.Password
		rules["password"] = "required|minLen:8|maxLen:28"
	}
	if req.IP != nil {
		if *req.IP != "" {
			fields["ip"] = *req.IP
			rules["ip"] = "required|ipv4"
		}
		upd.IP = req.IP
	}
	if req.Identifier == nil && req.Password == nil && req.IP == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	if err := checkFields(fields, rules); err != nil {
		return nil, err
	}

	if req.Password != nil {
		hash, err := HashPassword(*req.Password, s.params)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		upd.PasswordHash = &hash
	}

	row, err := s.store.UpdateHive(ctx, identifier, upd)
	if err != nil {
		return nil, fmt.Errorf("failed to update hive %s: %w", identifier, err)
	}

	s.logger.Info("hive updated",
		zap.String("hive", identifier),
		zap.String("new_identifier", row.Identifier),
		zap.Bool("password_changed", req.Password != nil))
	return row.ToModel(), nil
}

// GetHive returns a hive by identifier
func (s *Service) GetHive(ctx context.Context, identifier string) (*models.Hive, error) {
	row, err := s.store.GetHive(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to get hive %s: %w", identifier, err)
	}
	return row.ToModel(), nil
}

// ListHives returns metadata for every hive
func (s *Service) ListHives(ctx context.Context) ([]*models.Hive, error) {
	rows, err := s.store.ListHives(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list hives: %w", err)
	}
	hives := make([]*models.Hive, 0, len(rows))
	for _, row := range rows {
		hives = append(hives, row.ToModel())
	}
	return hives, nil
}

// DeleteHive removes a hive together with its metrics and reads
func (s *Service) DeleteHive(ctx context.Context, identifier string) (*models.Hive, error) {
	row, err := s.store.DeleteHive(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to delete hive %s: %w", identifier, err)
	}
	return row.ToModel(), nil
}

// VerifyCredentials checks a password for an identifier. Errors distinguish
// database.ErrNotFound from ErrPasswordMismatch; callers facing devices must
// not pass that distinction on.
func (s *Service) VerifyCredentials(ctx context.Context, identifier, password string) (*models.Hive, error) {
	row, err := s.store.GetHive(ctx, identifier)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// spend the same hashing time as a real check
			_, _ = VerifyPassword(s.dummy(), password)
		}
		return nil, err
	}

	ok, err := VerifyPassword(row.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return nil, ErrPasswordMismatch
	}
	return row.ToModel(), nil
}

// TouchLastSeen stamps the hive's last successful authentication
func (s *Service) TouchLastSeen(ctx context.Context, hiveID string) error {
	return s.store.TouchHive(ctx, hiveID, time.Now())
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := HashPassword("not-a-real-password", s.params)
		if err != nil {
			s.logger.Warn("failed to build dummy hash", zap.Error(err))
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

func checkFields(fields map[string]interface{}, rules map[string]string) error {
	v := validate.Map(fields)
	for field, rule := range rules {
		v.StringRule(field, rule)
	}
	if !v.Validate() {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, v.Errors.One())
	}
	return nil
}
