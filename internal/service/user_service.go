package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"account-api/internal/domain"
	"account-api/internal/repository"
	"account-api/internal/slug"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrAddressNotFound  = errors.New("address not found")
	ErrUserExists       = errors.New("user already exists")
	ErrNothingToUpdate  = errors.New("nothing to update")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidIdentity  = errors.New("invalid identity")
	ErrInvalidPhone     = errors.New("invalid phone number")
	errServiceNotConfig = errors.New("user service not configured")
)

// UserService coordina el ciclo de vida de usuarios y sus direcciones.
// Cada operacion resuelve primero externalId -> slug y luego opera por slug.
type UserService struct {
	logger      *zap.Logger
	store       repository.DocumentStore
	slugs       *slug.Generator
	phoneRegion string
	now         func() time.Time
}

// DefaultPhoneRegion se usa para numeros sin prefijo internacional.
const DefaultPhoneRegion = "US"

func NewUserService(logger *zap.Logger, store repository.DocumentStore, slugs *slug.Generator) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slugs == nil {
		slugs = slug.NewGenerator(slug.DefaultMaxAttempts)
	}
	return &UserService{
		logger:      logger,
		store:       store,
		slugs:       slugs,
		phoneRegion: DefaultPhoneRegion,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithPhoneRegion cambia la region ISO 3166 usada para interpretar telefonos locales.
func (s *UserService) WithPhoneRegion(region string) *UserService {
	if region = strings.ToUpper(strings.TrimSpace(region)); region != "" {
		s.phoneRegion = region
	}
	return s
}

// UniqueIndexes replica en el store en memoria los indices unicos de Postgres.
func UniqueIndexes() []repository.MemoryOption {
	return []repository.MemoryOption{
		repository.WithUniqueField(domain.UsersCollection, "slug"),
		repository.WithUniqueField(domain.UsersCollection, "email"),
		repository.WithUniqueField(domain.UsersCollection, "externalId"),
		repository.WithUniqueField(domain.AddressesCollection, "slug"),
	}
}

type CreateUserInput struct {
	FirstName   string
	LastName    string
	Email       string
	PhoneNumber string
	ExternalID  string
}

// UpdateUserInput solo aplica los campos no nil.
type UpdateUserInput struct {
	FirstName   *string
	LastName    *string
	Email       *string
	PhoneNumber *string
}

type AddressInput struct {
	Address string
	City    string
	State   string
	Country string
}

// AddressFilter acota ListAddresses por createdAt en el intervalo abierto (Since, Until).
type AddressFilter struct {
	Since *time.Time
	Until *time.Time
}

func (f AddressFilter) empty() bool {
	return f.Since == nil && f.Until == nil
}

var (
	rangeFloor   = time.Unix(0, 0).UTC()
	rangeCeiling = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
)

func (s *UserService) Create(ctx context.Context, input CreateUserInput) (domain.User, error) {
	if s.store == nil {
		return domain.User{}, errServiceNotConfig
	}
	email := normalizeEmail(input.Email)
	if !validEmail(email) {
		return domain.User{}, ErrInvalidEmail
	}
	externalID := strings.TrimSpace(input.ExternalID)
	if externalID == "" {
		return domain.User{}, ErrInvalidIdentity
	}
	phone, err := normalizePhone(input.PhoneNumber, s.phoneRegion)
	if err != nil {
		return domain.User{}, err
	}

	userSlug, err := s.slugs.EnsureUnique(ctx, s.store, domain.UsersCollection, "")
	if err != nil {
		return domain.User{}, err
	}

	if _, err := s.findUserBy(ctx, s.store, "email", email); err == nil {
		return domain.User{}, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return domain.User{}, err
	}
	if _, err := s.findUserBy(ctx, s.store, "externalId", externalID); err == nil {
		return domain.User{}, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return domain.User{}, err
	}

	now := s.now()
	user := domain.User{
		FirstName:   strings.TrimSpace(input.FirstName),
		LastName:    strings.TrimSpace(input.LastName),
		Email:       email,
		PhoneNumber: phone,
		ExternalID:  externalID,
		Slug:        userSlug,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := s.store.Create(ctx, domain.UsersCollection, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Warn("concurrent user create rejected", zap.String("email", email))
			return domain.User{}, ErrUserExists
		}
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}

	created, err := s.findUserBy(ctx, s.store, "email", email)
	if err != nil {
		return domain.User{}, fmt.Errorf("reload created user: %w", err)
	}
	s.logger.Info("user created", zap.String("slug", created.Slug))
	return created, nil
}

func (s *UserService) FindAll(ctx context.Context) ([]domain.User, error) {
	if s.store == nil {
		return nil, errServiceNotConfig
	}
	docs, err := s.store.QueryAll(ctx, domain.UsersCollection)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		var u domain.User
		if err := doc.Decode(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// FindOne devuelve el usuario con su direccion. Un usuario sin direccion
// responde ErrAddressNotFound.
func (s *UserService) FindOne(ctx context.Context, externalID string) (domain.UserProfile, error) {
	if s.store == nil {
		return domain.UserProfile{}, errServiceNotConfig
	}
	userSlug, err := s.resolveSlug(ctx, s.store, externalID)
	if err != nil {
		return domain.UserProfile{}, err
	}
	user, err := s.findUserBy(ctx, s.store, "slug", userSlug)
	if err != nil {
		return domain.UserProfile{}, err
	}
	docs, err := s.store.QueryByReference(ctx, domain.AddressesCollection, domain.UsersCollection, domain.UsersCollection, userSlug)
	if err != nil {
		return domain.UserProfile{}, err
	}
	if len(docs) == 0 {
		return domain.UserProfile{}, ErrAddressNotFound
	}
	var addr domain.Address
	if err := docs[0].Decode(&addr); err != nil {
		return domain.UserProfile{}, err
	}
	return domain.UserProfile{User: user, Address: addr}, nil
}

func (s *UserService) Update(ctx context.Context, externalID string, input UpdateUserInput) (domain.User, error) {
	if s.store == nil {
		return domain.User{}, errServiceNotConfig
	}
	patch, err := buildUserPatch(input, s.phoneRegion)
	if err != nil {
		return domain.User{}, err
	}
	if len(patch) == 0 {
		return domain.User{}, ErrNothingToUpdate
	}
	patch["updatedAt"] = s.now()

	var updated domain.User
	err = s.store.RunInTx(ctx, func(tx repository.DocumentStore) error {
		userSlug, err := s.resolveSlug(ctx, tx, externalID)
		if err != nil {
			return err
		}
		if email, ok := patch["email"].(string); ok {
			other, err := s.findUserBy(ctx, tx, "email", email)
			switch {
			case err == nil && other.Slug != userSlug:
				return ErrUserExists
			case err != nil && !errors.Is(err, ErrUserNotFound):
				return err
			}
		}
		n, err := tx.UpdateWhere(ctx, domain.UsersCollection, "slug", userSlug, patch)
		if err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrUserExists
			}
			return fmt.Errorf("update user: %w", err)
		}
		if n == 0 {
			return ErrUserNotFound
		}
		updated, err = s.findUserBy(ctx, tx, "slug", userSlug)
		return err
	})
	if err != nil {
		return domain.User{}, err
	}
	return updated, nil
}

// Remove borra el usuario y sus direcciones.
func (s *UserService) Remove(ctx context.Context, externalID string) error {
	if s.store == nil {
		return errServiceNotConfig
	}
	return s.store.RunInTx(ctx, func(tx repository.DocumentStore) error {
		userSlug, err := s.resolveSlug(ctx, tx, externalID)
		if err != nil {
			return err
		}
		n, err := tx.DeleteWhere(ctx, domain.UsersCollection, "slug", userSlug)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if n == 0 {
			return ErrUserNotFound
		}
		removed, err := tx.DeleteWhere(ctx, domain.AddressesCollection, domain.UsersCollection, domain.NewRef(domain.UsersCollection, userSlug))
		if err != nil {
			return fmt.Errorf("delete user addresses: %w", err)
		}
		s.logger.Info("user removed", zap.String("slug", userSlug), zap.Int64("addresses", removed))
		return nil
	})
}

func (s *UserService) InsertUserAddress(ctx context.Context, externalID string, input AddressInput) (domain.Address, error) {
	if s.store == nil {
		return domain.Address{}, errServiceNotConfig
	}
	addrSlug, err := s.slugs.EnsureUnique(ctx, s.store, domain.AddressesCollection, "")
	if err != nil {
		return domain.Address{}, err
	}
	userSlug, err := s.resolveSlug(ctx, s.store, externalID)
	if err != nil {
		return domain.Address{}, err
	}

	now := s.now()
	addr := domain.Address{
		Address:   strings.TrimSpace(input.Address),
		City:      strings.TrimSpace(input.City),
		State:     strings.TrimSpace(input.State),
		Country:   strings.TrimSpace(input.Country),
		Slug:      addrSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ref := domain.NewRef(domain.UsersCollection, userSlug)
	if _, err := s.store.StoreWithReference(ctx, domain.AddressesCollection, addr, ref); err != nil {
		return domain.Address{}, fmt.Errorf("store address: %w", err)
	}

	docs, err := s.store.QueryByField(ctx, domain.AddressesCollection, "slug", addrSlug)
	if err != nil {
		return domain.Address{}, err
	}
	if len(docs) == 0 {
		return domain.Address{}, fmt.Errorf("reload address %s: %w", addrSlug, ErrAddressNotFound)
	}
	var created domain.Address
	if err := docs[0].Decode(&created); err != nil {
		return domain.Address{}, err
	}
	return created, nil
}

// ListAddresses devuelve las direcciones del usuario; con filtro, solo las
// creadas dentro del intervalo. Un extremo ausente queda abierto.
func (s *UserService) ListAddresses(ctx context.Context, externalID string, filter AddressFilter) ([]domain.Address, error) {
	if s.store == nil {
		return nil, errServiceNotConfig
	}
	if filter.Since != nil && filter.Until != nil && !filter.Since.Before(*filter.Until) {
		return nil, fmt.Errorf("%w: since must be before until", repository.ErrInvalidArgument)
	}
	userSlug, err := s.resolveSlug(ctx, s.store, externalID)
	if err != nil {
		return nil, err
	}

	var docs []domain.Document
	if filter.empty() {
		docs, err = s.store.QueryByReference(ctx, domain.AddressesCollection, domain.UsersCollection, domain.UsersCollection, userSlug)
	} else {
		after, before := rangeFloor, rangeCeiling
		if filter.Since != nil {
			after = filter.Since.UTC()
		}
		if filter.Until != nil {
			before = filter.Until.UTC()
		}
		docs, err = s.store.QueryByReferenceAndRange(ctx, repository.RangeQuery{
			Collection:    domain.AddressesCollection,
			RefCollection: domain.UsersCollection,
			RefID:         userSlug,
			Field:         "createdAt",
			After:         after,
			Before:        before,
		})
	}
	if err != nil {
		return nil, err
	}
	out := make([]domain.Address, 0, len(docs))
	for _, doc := range docs {
		var addr domain.Address
		if err := doc.Decode(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func (s *UserService) resolveSlug(ctx context.Context, store repository.DocumentStore, externalID string) (string, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return "", ErrInvalidIdentity
	}
	user, err := s.findUserBy(ctx, store, "externalId", externalID)
	if err != nil {
		return "", err
	}
	return user.Slug, nil
}

func (s *UserService) findUserBy(ctx context.Context, store repository.DocumentStore, field string, value any) (domain.User, error) {
	docs, err := store.QueryByField(ctx, domain.UsersCollection, field, value)
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, ErrUserNotFound
	}
	var user domain.User
	if err := docs[0].Decode(&user); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func buildUserPatch(input UpdateUserInput, phoneRegion string) (map[string]any, error) {
	patch := make(map[string]any)
	if input.FirstName != nil {
		patch["firstName"] = strings.TrimSpace(*input.FirstName)
	}
	if input.LastName != nil {
		patch["lastName"] = strings.TrimSpace(*input.LastName)
	}
	if input.PhoneNumber != nil {
		phone, err := normalizePhone(*input.PhoneNumber, phoneRegion)
		if err != nil {
			return nil, err
		}
		patch["phoneNumber"] = phone
	}
	if input.Email != nil {
		email := normalizeEmail(*input.Email)
		if !validEmail(email) {
			return nil, ErrInvalidEmail
		}
		patch["email"] = email
	}
	return patch, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// normalizePhone devuelve el numero en formato E.164; vacio se acepta tal cual.
func normalizePhone(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func validEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t")
}
