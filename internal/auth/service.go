package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	minPasswordLength    = 8
	maxPasswordBytes     = 72
	minDisplayNameLength = 2
	maxDisplayNameLength = 50
)

type Service struct {
	store          Store
	hasher         *PasswordHasher
	tokens         *TokenManager
	validate       *validator.Validate
	strictRotation bool
	now            func() time.Time
}

func NewService(store Store, hasher *PasswordHasher, tokens *TokenManager) *Service {
	return &Service{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		validate: validator.New(),
		now:      time.Now,
	}
}

// WithStrictRotation makes refresh rotation compare-and-swap: of two concurrent refreshes with
// the same token only one succeeds. Off by default, in which case the last write wins.
func (s *Service) WithStrictRotation(strict bool) *Service {
	s.strictRotation = strict
	return s
}

type RegisterInput struct {
	Email       string            `json:"email"`
	Password    string            `json:"password"`
	DisplayName string            `json:"displayName"`
	Preferences *PreferencesPatch `json:"preferences"`
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, error) {
	email := strings.TrimSpace(input.Email)
	displayName := strings.TrimSpace(input.DisplayName)
	if email == "" || input.Password == "" || displayName == "" {
		return Session{}, validationError("Email, password, and display name are required")
	}
	if err := s.checkEmail(email); err != nil {
		return Session{}, err
	}
	if err := checkPassword(input.Password); err != nil {
		return Session{}, err
	}
	if err := checkDisplayName(displayName); err != nil {
		return Session{}, err
	}

	prefs := input.Preferences.Apply(DefaultPreferences())
	if err := prefs.Validate(); err != nil {
		return Session{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return Session{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Session{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	refreshToken, refreshExpiry, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	user := User{
		ID:                 id.String(),
		Email:              email,
		PasswordHash:       hash,
		DisplayName:        displayName,
		Role:               RoleUser,
		Preferences:        prefs,
		RefreshToken:       &refreshToken,
		RefreshTokenExpiry: &refreshExpiry,
		IsActive:           true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return Session{}, err
	}
	if err := s.store.Create(ctx, user); err != nil {
		return Session{}, err
	}

	return Session{
		User: user,
		Tokens: Tokens{
			AccessToken:        accessToken,
			RefreshToken:       refreshToken,
			RefreshTokenExpiry: refreshExpiry,
		},
	}, nil
}

// Login does not distinguish an unknown email from a wrong password.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, validationError("Email and password are required")
	}
	// bcrypt ignores everything past 72 bytes, so a longer candidate could still match.
	if len(password) > maxPasswordBytes {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, err
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return Session{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	if err := s.store.TouchLastLogin(ctx, user.ID, now); err != nil {
		return Session{}, err
	}
	user.LastLogin = &now

	return s.startSession(ctx, user, "")
}

// Refresh exchanges a live refresh token for a new access token and a new refresh token.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, ErrRefreshTokenMissing
	}

	user, err := s.store.GetByRefreshToken(ctx, refreshToken, s.now().UTC())
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, err
	}

	return s.startSession(ctx, user, refreshToken)
}

// startSession issues a token pair for user and persists the refresh half. previous is the
// refresh token being rotated out, empty on login.
func (s *Service) startSession(ctx context.Context, user User, previous string) (Session, error) {
	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return Session{}, err
	}
	refreshToken, refreshExpiry, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return Session{}, err
	}

	now := s.now().UTC()
	if previous != "" && s.strictRotation {
		err = s.store.SwapRefreshToken(ctx, user.ID, previous, refreshToken, refreshExpiry, now)
	} else {
		err = s.store.SetRefreshToken(ctx, user.ID, refreshToken, refreshExpiry, now)
	}
	if err != nil {
		if previous != "" && errors.Is(err, ErrUserNotFound) {
			return Session{}, ErrInvalidRefreshToken
		}
		return Session{}, err
	}

	user.RefreshToken = &refreshToken
	user.RefreshTokenExpiry = &refreshExpiry
	return Session{
		User: user,
		Tokens: Tokens{
			AccessToken:        accessToken,
			RefreshToken:       refreshToken,
			RefreshTokenExpiry: refreshExpiry,
		},
	}, nil
}

// Logout clears the refresh state of whichever user holds refreshToken. An empty or unknown
// token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.store.ClearRefreshToken(ctx, refreshToken, s.now().UTC())
}

func (s *Service) GetUser(ctx context.Context, id string) (User, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.List(ctx)
}

// UpdateUser applies patch to the user with the given id. Only an admin actor may change role
// or isActive; those fields are silently dropped for everyone else.
func (s *Service) UpdateUser(ctx context.Context, actor Principal, id string, patch UserPatch) (User, error) {
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return User{}, err
	}

	// Blank email or display name leaves the stored value alone.
	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if email == "" {
			patch.Email = nil
		} else if err := s.checkEmail(email); err != nil {
			return User{}, err
		} else {
			patch.Email = &email
		}
	}
	if patch.DisplayName != nil {
		// The two-character minimum applies at registration only.
		displayName := strings.TrimSpace(*patch.DisplayName)
		if displayName == "" {
			patch.DisplayName = nil
		} else if utf8.RuneCountInString(displayName) > maxDisplayNameLength {
			return User{}, validationError("Display name must be between 1 and 50 characters")
		} else {
			patch.DisplayName = &displayName
		}
	}

	privileged := actor.Role == RoleAdmin
	if privileged && patch.Role != nil && !patch.Role.Valid() {
		return User{}, validationError("role must be one of user, admin, moderator")
	}

	var passwordHash string
	if patch.Password != nil {
		if err := checkPassword(*patch.Password); err != nil {
			return User{}, err
		}
		passwordHash, err = s.hasher.Hash(*patch.Password)
		if err != nil {
			return User{}, err
		}
	}

	updated := patch.Apply(user, passwordHash, privileged)
	if err := updated.Preferences.Validate(); err != nil {
		return User{}, err
	}
	updated.UpdatedAt = s.now().UTC()

	if err := s.store.Update(ctx, updated); err != nil {
		return User{}, err
	}
	return updated, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// BootstrapAdmin makes sure an admin account with the given credentials exists. Both values
// empty means there is nothing to do.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password, displayName string) error {
	email = strings.TrimSpace(email)
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return errors.New("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if err := s.checkEmail(email); err != nil {
		return err
	}
	if err := checkPassword(password); err != nil {
		return err
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = "Administrator"
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate uuid v7: %w", err)
	}

	return s.store.UpsertAdmin(ctx, User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Role:         RoleAdmin,
		Preferences:  DefaultPreferences(),
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	})
}

func (s *Service) checkEmail(email string) error {
	if email == "" || s.validate.Var(email, "email") != nil {
		return validationError("Please provide a valid email")
	}
	return nil
}

func checkPassword(password string) error {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return validationError("Password must be at least 8 characters long")
	}
	if len(password) > maxPasswordBytes {
		return validationError("Password must be at most 72 bytes long")
	}
	return nil
}

func checkDisplayName(displayName string) error {
	length := utf8.RuneCountInString(displayName)
	if length < minDisplayNameLength || length > maxDisplayNameLength {
		return validationError("Display name must be between 2 and 50 characters")
	}
	return nil
}
