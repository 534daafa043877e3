package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sciffer/beermqtt/pkg/database"
	"github.com/sciffer/beermqtt/pkg/hives"
	"github.com/sciffer/beermqtt/pkg/metrics"
	"github.com/sciffer/beermqtt/pkg/models"
)

// ErrRejected is the only error devices ever see. The actual reason is logged.
var ErrRejected = errors.New("authentication failed")

// CredentialVerifier checks hive credentials
type CredentialVerifier interface {
	VerifyCredentials(ctx context.Context, identifier, password string) (*models.Hive, error)
	TouchLastSeen(ctx context.Context, hiveID string) error
}

// Authenticator decides whether a connecting device may use the broker
type Authenticator struct {
	verifier CredentialVerifier
	recorder metrics.Recorder
	logger   *zap.Logger
}

// NewAuthenticator creates a new authenticator
func NewAuthenticator(verifier CredentialVerifier, recorder metrics.Recorder, logger *zap.Logger) *Authenticator {
	if recorder == nil {
		recorder = metrics.Noop()
	}
	return &Authenticator{
		verifier: verifier,
		recorder: recorder,
		logger:   logger,
	}
}

// Authenticate returns nil to accept and ErrRejected otherwise. It fails
// closed: lookup errors and panics reject.
func (a *Authenticator) Authenticate(ctx context.Context, identifier, password string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic during authentication",
				zap.String("hive", identifier),
				zap.Any("panic", r))
			err = ErrRejected
		}
		a.recorder.AuthAttempt(err == nil)
	}()

	if identifier == "" || password == "" {
		a.reject(identifier, "missing credentials", nil)
		return ErrRejected
	}

	hive, verr := a.verifier.VerifyCredentials(ctx, identifier, password)
	if verr != nil {
		reason := "lookup failed"
		switch {
		case errors.Is(verr, database.ErrNotFound):
			reason = "unknown identifier"
		case errors.Is(verr, hives.ErrPasswordMismatch):
			reason = "password mismatch"
		}
		a.reject(identifier, reason, verr)
		return ErrRejected
	}
	if hive == nil {
		a.reject(identifier, "lookup failed", nil)
		return ErrRejected
	}

	if terr := a.verifier.TouchLastSeen(ctx, hive.ID); terr != nil {
		a.logger.Warn("failed to record last seen", zap.String("hive", identifier), zap.Error(terr))
	}

	a.logger.Debug("hive authenticated", zap.String("hive", identifier))
	return nil
}

func (a *Authenticator) reject(identifier, reason string, err error) {
	fields := []zap.Field{
		zap.String("hive", identifier),
		zap.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	a.logger.Warn("authentication rejected", fields...)
}
