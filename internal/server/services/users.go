// Package services contains the directory orchestration logic: credential
// verification, token resolution, and the read-through/write-invalidate
// contract between the Postgres store and the Redis listing cache.
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/avoronov/userdir/internal/common"
	"github.com/avoronov/userdir/internal/dbx"
	"github.com/avoronov/userdir/internal/logging"
	"github.com/avoronov/userdir/internal/server/auth"
	"github.com/avoronov/userdir/internal/server/cache"
	"github.com/avoronov/userdir/internal/server/config"
	"github.com/avoronov/userdir/internal/server/models"
	"github.com/avoronov/userdir/internal/server/repositories/repomanager"
)

const minPasswordLength = 8

// invalidation retry policy: 3 extra attempts, exponential from 100ms.
const (
	invalidateMaxRetries  = 3
	invalidateBackoffBase = 100 * time.Millisecond
)

// UserService orchestrates the store, the listing cache and the token codec.
//
// Mutations follow write-invalidate: the store commit happens first, and the
// listing key is evicted strictly after the commit is known to have
// succeeded. A failed mutation leaves the cache untouched. Reads of the
// listing follow read-through: cache hit wins, a miss (or a cache read
// error) falls back to the store and repopulates the snapshot.
type UserService struct {
	db            *sql.DB
	repomanager   repomanager.RepositoryManager
	cache         cache.Cache
	logger        logging.Logger
	jwtSecret     []byte
	jwtAlgorithm  string
	tokenValidity time.Duration
	cacheTTL      time.Duration
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, c cache.Cache, l logging.Logger, cfg *config.Config) *UserService {
	return &UserService{
		db:            db,
		repomanager:   m,
		cache:         c,
		logger:        l.With("module", "user_service"),
		jwtSecret:     []byte(cfg.SecretKey),
		jwtAlgorithm:  cfg.JWTAlgorithm,
		tokenValidity: cfg.TokenValidityDuration,
		cacheTTL:      cfg.CacheTTL,
	}
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrorValidation, minPasswordLength)
	}
	return nil
}

// Register creates a user with a bcrypt digest of the secret. A conflicting
// email surfaces as common.ErrorAlreadyExists; the store is left unchanged.
func (s *UserService) Register(ctx context.Context, email, password string, role models.Role) (*models.User, error) {

	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	if role == "" {
		role = models.RoleUser
	}

	digest, err := auth.HashPassword(password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	user := &models.User{
		Email:          email,
		Role:           role,
		HashedPassword: digest,
	}

	user, err = s.repomanager.Users(s.db).Create(ctx, user)
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	// the listing changed; evict only after the commit succeeded
	if err := s.invalidateListing(ctx); err != nil {
		return nil, err
	}

	return user, nil
}

// Login verifies the credentials and issues a session token. Unknown email
// and wrong password both return common.ErrorInvalidCredentials; a dummy
// bcrypt compare keeps the two paths at one hash each.
func (s *UserService) Login(ctx context.Context, email, password string) (string, error) {

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			auth.VerifyPassword(password, auth.DummyDigest)
			return "", common.ErrorInvalidCredentials
		}
		return "", common.ErrorInternal
	}

	if !auth.VerifyPassword(password, user.HashedPassword) {
		return "", common.ErrorInvalidCredentials
	}

	token, err := auth.GenerateToken(user.Email, s.jwtSecret, s.jwtAlgorithm, s.tokenValidity)
	if err != nil {
		return "", common.ErrorInternal
	}

	return token, nil
}

// ResolveToken validates a bearer token and re-resolves its subject against
// the store. Token validity asserts the signer's claim of identity, not
// current account existence, so a user deleted after issuance maps to
// common.ErrorUnauthorized like any invalid token.
func (s *UserService) ResolveToken(ctx context.Context, token string) (*models.User, error) {

	email, err := auth.GetSubjectFromToken(token, s.jwtSecret, s.jwtAlgorithm)
	if err != nil {
		return nil, common.ErrorUnauthorized
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}

	return user, nil
}

// RequireAdmin enforces role-based authorization, strictly downstream of
// ResolveToken.
func RequireAdmin(user *models.User) error {
	if user.Role != models.RoleAdmin {
		return common.ErrorForbidden
	}
	return nil
}

// List returns the full user listing. Cache hit returns the cached snapshot
// verbatim; a miss reads the store, builds a digest-free snapshot and caches
// it with the configured TTL. Cache failures on this path degrade to store
// reads and never fail the request.
func (s *UserService) List(ctx context.Context) ([]models.UserView, error) {

	data, err := s.cache.Get(ctx, cache.ListingKey)
	if err == nil {
		var views []models.UserView
		if err := json.Unmarshal(data, &views); err == nil {
			return views, nil
		}
		s.logger.Warn(ctx, "discarding undecodable listing snapshot", "error", err)
	} else if !errors.Is(err, common.ErrorCacheMiss) {
		s.logger.Warn(ctx, "cache read failed, falling back to store", "error", err)
	}

	usersList, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}

	views := make([]models.UserView, 0, len(usersList))
	for i := range usersList {
		views = append(views, usersList[i].View())
	}

	snapshot, err := json.Marshal(views)
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := s.cache.Set(ctx, cache.ListingKey, snapshot, s.cacheTTL); err != nil {
		s.logger.Warn(ctx, "failed to cache listing snapshot", "error", err)
	}

	return views, nil
}

// Update applies a partial update to a user record inside a transaction,
// then invalidates the listing. Email conflicts surface as
// common.ErrorAlreadyExists, missing records as common.ErrorNotFound; in
// both cases the cache is left untouched.
func (s *UserService) Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {

	if upd.Email != nil {
		if err := validateEmail(*upd.Email); err != nil {
			return nil, err
		}
	}

	var updated *models.User

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)

		user, err := repo.GetByID(ctx, id)
		if err != nil {
			return err
		}

		if upd.Email != nil {
			user.Email = *upd.Email
		}
		if upd.Role != nil {
			user.Role = *upd.Role
		}

		updated, err = repo.Update(ctx, user)
		return err
	})

	if err != nil {
		if errors.Is(err, common.ErrorNotFound) || errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error updating user: %w", err)
	}

	if err := s.invalidateListing(ctx); err != nil {
		return nil, err
	}

	return updated, nil
}

// Delete removes a user record and invalidates the listing. Returns the
// deleted record.
func (s *UserService) Delete(ctx context.Context, id int64) (*models.User, error) {

	deleted, err := s.repomanager.Users(s.db).Delete(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("error deleting user: %w", err)
	}

	if err := s.invalidateListing(ctx); err != nil {
		return nil, err
	}

	return deleted, nil
}

// invalidateListing evicts the listing snapshot, retrying with exponential
// backoff. An exhausted retry budget fails the calling mutation: the store
// commit already happened, but reporting success while a stale snapshot may
// survive a full TTL window is worse than surfacing the failure.
func (s *UserService) invalidateListing(ctx context.Context) error {

	backoff := retry.WithMaxRetries(invalidateMaxRetries, retry.NewExponential(invalidateBackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.cache.Delete(ctx, cache.ListingKey); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})

	if err != nil {
		s.logger.Error(ctx, "listing cache invalidation failed", "error", err)
		return fmt.Errorf("invalidating listing cache: %w", err)
	}

	return nil
}
