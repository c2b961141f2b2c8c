package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/audit"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/domain"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Issue(identity, name string) (string, time.Time, error)
}

type Service struct {
	repo   *GormRepository
	tokens TokenIssuer
	cost   int
}

func NewService(repo *GormRepository, tokens TokenIssuer) *Service {
	return &Service{repo: repo, tokens: tokens, cost: bcrypt.DefaultCost}
}

// Signup creates an account and logs it in.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*AuthResponse, error) {
	l := log.Ctx(ctx)

	usn := domain.NormalizeIdentity(req.USN)
	if usn == "" {
		return nil, domain.ErrEmptyIdentity
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrEmptyDisplayName
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		l.Error().Err(err).Msg("failed to hash password")
		return nil, err
	}

	student := &Student{USN: usn, Name: name, PasswordHash: string(hashed)}
	if err := s.repo.Create(ctx, student); err != nil {
		if !errors.Is(err, ErrStudentExists) {
			l.Error().Err(err).Msg("failed to create student")
		}
		return nil, err
	}

	audit.Log(ctx, audit.ActionSignup, usn, "student signed up")
	return s.issue(student)
}

// Login verifies the password and issues a session token.
func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	usn := domain.NormalizeIdentity(req.USN)

	student, err := s.repo.GetByUSN(ctx, usn)
	if err != nil {
		if errors.Is(err, ErrStudentNotFound) {
			audit.LogWithDetail(ctx, audit.ActionLoginFailed, usn, "unknown usn", "login failed")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(student.PasswordHash), []byte(req.Password)); err != nil {
		audit.LogWithDetail(ctx, audit.ActionLoginFailed, usn, "wrong password", "login failed")
		return nil, ErrInvalidCredentials
	}

	audit.Log(ctx, audit.ActionLogin, usn, "student logged in")
	return s.issue(student)
}

func (s *Service) Me(ctx context.Context, usn string) (*Student, error) {
	return s.repo.GetByUSN(ctx, domain.NormalizeIdentity(usn))
}

// Exists lets the history service check private-message recipients.
func (s *Service) Exists(ctx context.Context, usn string) (bool, error) {
	return s.repo.Exists(ctx, domain.NormalizeIdentity(usn))
}

func (s *Service) issue(student *Student) (*AuthResponse, error) {
	token, exp, err := s.tokens.Issue(student.USN, student.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}
	return &AuthResponse{Token: token, ExpiresAt: exp, Student: student}, nil
}
