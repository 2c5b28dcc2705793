package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/creat233/finderid/internal/client/client"
	"github.com/creat233/finderid/internal/client/models"
	"github.com/creat233/finderid/internal/client/repositories/metadata"
	"github.com/creat233/finderid/internal/cryptox"
	"github.com/creat233/finderid/internal/logging"
)

// Metadata keys of the cached session.
const (
	metaSession  = "session"
	metaUser     = "user"
	metaEmail    = "email"
	metaSalt     = "salt"
	metaVerifier = "verifier"
)

// AuthService defines authentication operations for the CLI.
//
// Contract:
//   - Login: authenticate against the server and cache what offline use
//     needs; falls back to OfflineLogin when the server is unreachable.
//   - OfflineLogin: check the password against the cached verifier.
//   - Restore: resume the cached session at startup.
//   - CurrentUser: the signed-in user, served from cache when offline.
//   - Logout: forget the session and the cached entities.
type AuthService interface {
	Register(ctx context.Context, email string, password []byte, fullName string) (string, error)
	Login(ctx context.Context, email string, password []byte) (models.User, error)
	OfflineLogin(ctx context.Context, email string, password []byte) (models.User, error)
	Restore(ctx context.Context) (models.User, bool)
	CurrentUser(ctx context.Context) (models.User, error)
	SaveSession(ctx context.Context) error
	Logout(ctx context.Context) error
	Ping(ctx context.Context) error
}

type authService struct {
	deps   Deps
	meta   metadata.Repository
	logger logging.Logger

	mu   sync.RWMutex
	user *models.User
}

func NewAuthService(deps Deps) AuthService {
	deps = deps.withDefaults()
	return &authService{
		deps:   deps,
		meta:   deps.Store.Metadata(),
		logger: deps.Logger.With("module", "auth"),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account. It needs a connection.
func (a *authService) Register(ctx context.Context, email string, password []byte, fullName string) (string, error) {
	if !a.deps.online() {
		return "", ErrOfflineUnsupported
	}
	id, err := a.deps.Client.Register(ctx, normalizeEmail(email), string(password), fullName)
	if err != nil {
		return "", fmt.Errorf("register error: %w", err)
	}
	return id, nil
}

func (a *authService) Login(ctx context.Context, email string, password []byte) (models.User, error) {
	email = normalizeEmail(email)
	if !a.deps.online() {
		return a.OfflineLogin(ctx, email, password)
	}

	u, err := a.deps.Client.Login(ctx, email, string(password))
	if errors.Is(err, client.ErrUnavailable) {
		a.logger.Info(ctx, "service unreachable, trying offline login")
		return a.OfflineLogin(ctx, email, password)
	}
	if err != nil {
		return models.User{}, fmt.Errorf("login error: %w", err)
	}

	if err := a.saveOfflineData(ctx, email, password, u); err != nil {
		return models.User{}, fmt.Errorf("offline data saving error: %w", err)
	}
	a.setUser(&u)
	return u, nil
}

// saveOfflineData caches the session, the user and a password verifier.
func (a *authService) saveOfflineData(ctx context.Context, email string, password []byte, u models.User) error {
	cred := cryptox.NewCredential(password)

	if err := a.SaveSession(ctx); err != nil {
		return err
	}
	if err := a.saveUser(ctx, u); err != nil {
		return err
	}
	for k, v := range map[string][]byte{metaEmail: []byte(email), metaSalt: cred.Salt, metaVerifier: cred.Verifier} {
		if err := a.meta.Set(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// OfflineLogin verifies the password against the cached verifier and
// resumes the cached session. Without cached data it returns
// client.ErrLocalDataNotAvailable; a mismatch gives client.ErrUnauthorized.
func (a *authService) OfflineLogin(ctx context.Context, email string, password []byte) (models.User, error) {
	vals := map[string][]byte{}
	for _, k := range []string{metaEmail, metaSalt, metaVerifier} {
		v, err := a.meta.Get(ctx, k)
		if err != nil || v == nil {
			return models.User{}, client.ErrLocalDataNotAvailable
		}
		vals[k] = v
	}

	if string(vals[metaEmail]) != normalizeEmail(email) {
		return models.User{}, client.ErrUnauthorized
	}
	cred := cryptox.Credential{Salt: vals[metaSalt], Verifier: vals[metaVerifier]}
	if !cred.Verify(password) {
		return models.User{}, client.ErrUnauthorized
	}

	u, ok := a.Restore(ctx)
	if !ok {
		return models.User{}, client.ErrLocalDataNotAvailable
	}
	return u, nil
}

// Restore loads the cached session into the client.
func (a *authService) Restore(ctx context.Context) (models.User, bool) {
	var s client.Session
	if !a.readJSON(ctx, metaSession, &s) || s.AccessToken == "" {
		return models.User{}, false
	}
	var u models.User
	if !a.readJSON(ctx, metaUser, &u) || u.ID == "" {
		return models.User{}, false
	}

	a.deps.Client.Restore(s)
	a.setUser(&u)
	return u, true
}

// CurrentUser asks the service when online and falls back to the cached
// user. Without a session it returns client.ErrUnauthorized.
func (a *authService) CurrentUser(ctx context.Context) (models.User, error) {
	if a.deps.online() && a.deps.Client.Session().AccessToken != "" {
		u, err := a.deps.Client.CurrentUser(ctx)
		switch {
		case err == nil:
			a.setUser(&u)
			if err := a.saveUser(ctx, u); err != nil {
				a.logger.Warn(ctx, "could not cache user", "error", err)
			}
			return u, nil
		case !errors.Is(err, client.ErrUnavailable):
			return models.User{}, err
		}
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.user == nil {
		return models.User{}, client.ErrUnauthorized
	}
	return *a.user, nil
}

// SaveSession persists the client's current tokens, which change when the
// access token is refreshed.
func (a *authService) SaveSession(ctx context.Context) error {
	s := a.deps.Client.Session()
	if s.AccessToken == "" {
		return nil
	}
	return a.writeJSON(ctx, metaSession, s)
}

// Logout forgets the session, the offline credentials and the cached
// entities. Queued changes are kept.
func (a *authService) Logout(ctx context.Context) error {
	a.deps.Client.Logout()
	a.setUser(nil)

	for _, k := range []string{metaSession, metaUser, metaEmail, metaSalt, metaVerifier} {
		if err := a.meta.Delete(ctx, k); err != nil {
			return fmt.Errorf("clear %s: %w", k, err)
		}
	}
	a.deps.Store.ClearCache(ctx)
	return nil
}

func (a *authService) Ping(ctx context.Context) error {
	return a.deps.Client.Ping(ctx)
}

func (a *authService) setUser(u *models.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.user = u
}

func (a *authService) saveUser(ctx context.Context, u models.User) error {
	return a.writeJSON(ctx, metaUser, u)
}

func (a *authService) writeJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return a.meta.Set(ctx, key, b)
}

func (a *authService) readJSON(ctx context.Context, key string, v any) bool {
	b, err := a.meta.Get(ctx, key)
	if err != nil || b == nil {
		return false
	}
	return json.Unmarshal(b, v) == nil
}
