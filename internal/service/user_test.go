package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chippo_portfolio/internal/config"
	"chippo_portfolio/internal/identity"
	"chippo_portfolio/internal/model"
)

// =============================================================================
// MOCK REPOSITORY
// =============================================================================
//
// UserService depends on the UserRepository interface, so each test swaps in
// a mock whose behavior it controls through function fields.

type mockUserRepository struct {
	createFn        func(ctx context.Context, user *model.User) error
	getByIDFn       func(ctx context.Context, id string) (*model.User, error)
	getByEmailFn    func(ctx context.Context, email string) (*model.User, error)
	existsByEmailFn func(ctx context.Context, email string) (bool, error)

	// Track calls for assertions
	createCalls []*model.User
}

func (m *mockUserRepository) Create(ctx context.Context, user *model.User) error {
	m.createCalls = append(m.createCalls, user)
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.existsByEmailFn != nil {
		return m.existsByEmailFn(ctx, email)
	}
	return false, nil
}

// =============================================================================
// REGISTER TESTS
// =============================================================================

func TestUserService_Register_Success(t *testing.T) {
	// ARRANGE
	var checked string
	mockRepo := &mockUserRepository{
		existsByEmailFn: func(ctx context.Context, email string) (bool, error) {
			checked = email
			return false, nil
		},
		createFn: func(ctx context.Context, user *model.User) error {
			user.ID = "3f1c2b1e-8d7a-4c1e-9a53-6a3c1f0e2d11"
			user.CreatedAt = time.Now()
			user.UpdatedAt = time.Now()
			return nil
		},
	}
	svc := NewUserService(mockRepo)

	req := &model.RegisterRequest{
		Email:       "  Dev@Example.com ",
		Password:    "securepassword123",
		DisplayName: "Dev",
	}

	// ACT
	user, err := svc.Register(context.Background(), req)

	// ASSERT
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if user.Email != "dev@example.com" {
		t.Errorf("email = %q, want normalized %q", user.Email, "dev@example.com")
	}
	if checked != "dev@example.com" {
		t.Errorf("existence checked for %q", checked)
	}
	if user.PasswordHashed == req.Password {
		t.Error("password should be hashed, not stored in plain text")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHashed), []byte(req.Password)); err != nil {
		t.Error("password hash should be valid bcrypt hash")
	}
	if len(mockRepo.createCalls) != 1 {
		t.Errorf("Create called %d times, want 1", len(mockRepo.createCalls))
	}
}

func TestUserService_Register_EmailExists(t *testing.T) {
	mockRepo := &mockUserRepository{
		existsByEmailFn: func(ctx context.Context, email string) (bool, error) {
			return true, nil
		},
	}
	svc := NewUserService(mockRepo)

	_, err := svc.Register(context.Background(), &model.RegisterRequest{
		Email:       "dev@example.com",
		Password:    "securepassword123",
		DisplayName: "Dev",
	})

	if !errors.Is(err, model.ErrEmailExists) {
		t.Errorf("error = %v, want %v", err, model.ErrEmailExists)
	}
	if len(mockRepo.createCalls) != 0 {
		t.Error("Create should not be called when the email is taken")
	}
}

func TestUserService_Register_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  model.RegisterRequest
	}{
		{"bad email", model.RegisterRequest{Email: "not-an-email", Password: "secret12", DisplayName: "Dev"}},
		{"short password", model.RegisterRequest{Email: "dev@example.com", Password: "123", DisplayName: "Dev"}},
		{"blank name", model.RegisterRequest{Email: "dev@example.com", Password: "secret12", DisplayName: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &mockUserRepository{}
			svc := NewUserService(mockRepo)

			_, err := svc.Register(context.Background(), &tt.req)

			if model.Kind(err) != model.KindValidation {
				t.Errorf("kind = %v, want validation (err=%v)", model.Kind(err), err)
			}
			if len(mockRepo.createCalls) != 0 {
				t.Error("Create should not be called for invalid input")
			}
		})
	}
}

func TestUserService_Register_CreateError(t *testing.T) {
	dbErr := errors.New("connection refused")
	mockRepo := &mockUserRepository{
		createFn: func(ctx context.Context, user *model.User) error {
			return dbErr
		},
	}
	svc := NewUserService(mockRepo)

	_, err := svc.Register(context.Background(), &model.RegisterRequest{
		Email:       "dev@example.com",
		Password:    "securepassword123",
		DisplayName: "Dev",
	})

	if !errors.Is(err, dbErr) {
		t.Errorf("error should wrap %v, got %v", dbErr, err)
	}
}

// =============================================================================
// LOGIN TESTS - Table-Driven
// =============================================================================

func TestUserService_Login(t *testing.T) {
	validPassword := "correctpassword"
	validHash, _ := bcrypt.GenerateFromPassword([]byte(validPassword), bcrypt.MinCost)

	testUser := &model.User{
		ID:             "u1",
		Email:          "dev@example.com",
		PasswordHashed: string(validHash),
	}

	tests := []struct {
		name       string
		email      string
		password   string
		getByEmail func(ctx context.Context, email string) (*model.User, error)
		wantErr    error
		wantUser   bool
	}{
		{
			name:     "successful login",
			email:    "DEV@example.com",
			password: validPassword,
			getByEmail: func(ctx context.Context, email string) (*model.User, error) {
				if email != "dev@example.com" {
					return nil, model.ErrUserNotFound
				}
				return testUser, nil
			},
			wantUser: true,
		},
		{
			name:     "user not found",
			email:    "ghost@example.com",
			password: "anypassword",
			getByEmail: func(ctx context.Context, email string) (*model.User, error) {
				return nil, model.ErrUserNotFound
			},
			wantErr: model.ErrInvalidCredentials, // Don't reveal the user doesn't exist
		},
		{
			name:     "wrong password",
			email:    "dev@example.com",
			password: "wrongpassword",
			getByEmail: func(ctx context.Context, email string) (*model.User, error) {
				return testUser, nil
			},
			wantErr: model.ErrInvalidCredentials,
		},
		{
			name:     "database error",
			email:    "dev@example.com",
			password: validPassword,
			getByEmail: func(ctx context.Context, email string) (*model.User, error) {
				return nil, errors.New("database error")
			},
			wantErr: model.ErrInvalidCredentials,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewUserService(&mockUserRepository{getByEmailFn: tt.getByEmail})

			user, err := svc.Login(context.Background(), &model.LoginRequest{Email: tt.email, Password: tt.password})

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantUser && user == nil {
				t.Error("expected user, got nil")
			}
			if !tt.wantUser && user != nil {
				t.Error("expected nil user")
			}
		})
	}
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestAuthService_IssueVerifiable(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret", AccessTokenMaxAge: 900}
	svc := NewAuthService(cfg)
	avatar := "https://cdn.example.com/a.png"
	user := &model.User{ID: "u1", DisplayName: "Dev", AvatarURL: &avatar}

	resp, err := svc.Issue(user)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if resp.ExpiresIn != 900 {
		t.Errorf("expires_in = %d, want 900", resp.ExpiresIn)
	}

	got, err := identity.NewJWTVerifier(cfg.JWTSecret).Verify(context.Background(), resp.AccessToken)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != user.Session() {
		t.Errorf("session = %+v, want %+v", got, user.Session())
	}
}
