package account

import (
	"crypto/hmac"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/gommon/log"
	"memberd/internal/model"
	"memberd/internal/uid"
)

// Action names the one account-recovery mutation a token authorizes.
type Action string

const (
	ActionUnlock Action = "unlock"
	ActionRole   Action = "role"
	ActionEmail  Action = "email"
	ActionPasswd Action = "passwd"
)

// resetWindow is how long a recovery token stays valid, measured from the
// resetDate persisted at issuance.
const resetWindow = 3 * 24 * time.Hour

// envelope is the externally shared token: a base64url JSON capsule carrying
// no server-side session state. The signature binds action and email to the
// account's persisted resetKey.
type envelope struct {
	Action    string `json:"action"`
	Email     string `json:"email"`
	ID        string `json:"id,omitempty"`
	Signature string `json:"signature"`
}

// IssueRecoveryToken rotates the account's resetKey and packages a signed,
// time-boxed token authorizing the given action.
func (s *Service) IssueRecoveryToken(publicID string, action Action) (string, error) {
	entry, ok := s.index.Lookup(publicID)
	if !ok {
		return "", model.ErrorUserNotFound
	}
	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return "", fmt.Errorf("decoding public id: %w", err)
	}

	issuedAt := s.now().UnixMilli()
	resetKey := sha256Hex(strconv.FormatInt(issuedAt, 10))

	user, err := s.store.UpdateUser(id, map[string]any{
		"reset_key":  resetKey,
		"reset_date": issuedAt,
	})
	if err != nil {
		log.Errorf("persisting reset key: %+v", err)
		return "", model.ErrorStore
	}

	env := envelope{
		Action:    string(action),
		Email:     user.Email,
		ID:        entry.ID,
		Signature: signToken(resetKey, string(action), user.Email),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshalling token envelope: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// RecoveryURL embeds a token in the externally shared recovery link.
func (s *Service) RecoveryURL(token string) string {
	return s.baseURL + "/api/user/reset/" + token
}

// VerifyRecoveryToken runs the ordered verification chain: envelope shape,
// account resolution, expiry (before the signature so expiry and tamper are
// never conflated), signature, then the action itself. On success the store
// is updated first and the index and document cache after.
func (s *Service) VerifyRecoveryToken(token string) (*model.PrivateProfile, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, model.ErrorTokenInvalid
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, model.ErrorTokenInvalid
	}
	if env.Action == "" || env.Email == "" || env.Signature == "" {
		return nil, model.ErrorTokenInvalid
	}

	key := env.Email
	if env.ID != "" {
		key = env.ID
	}
	entry, ok := s.index.Lookup(key)
	if !ok {
		return nil, model.ErrorTokenInvalid
	}
	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return nil, model.ErrorTokenInvalid
	}

	auth, err := s.store.GetAuth(id)
	if err != nil {
		if err == model.ErrorUserNotFound {
			return nil, model.ErrorTokenInvalid
		}
		log.Errorf("fetching auth fields: %+v", err)
		return nil, model.ErrorStore
	}

	if s.now().UnixMilli()-auth.ResetDate > resetWindow.Milliseconds() {
		return nil, model.ErrorTokenExpired
	}

	expected := signToken(auth.ResetKey, env.Action, env.Email)
	if !hmac.Equal([]byte(expected), []byte(env.Signature)) {
		return nil, model.ErrorTokenInvalid
	}

	var user *model.User
	switch Action(env.Action) {
	case ActionUnlock:
		if err := s.store.Unlock(id); err != nil {
			log.Errorf("unlocking account: %+v", err)
			return nil, model.ErrorStore
		}
		if user, err = s.store.GetUser(id); err != nil {
			log.Errorf("fetching user document: %+v", err)
			return nil, model.ErrorStore
		}
	case ActionRole:
		if user, err = s.applyDelta(id, map[string]any{"role": model.RoleUser}); err != nil {
			return nil, err
		}
	case ActionEmail:
		if existing, ok := s.index.Lookup(env.Email); ok && existing.ID != entry.ID {
			return nil, model.ErrorEmailTaken
		}
		if user, err = s.applyDelta(id, map[string]any{"email": env.Email}); err != nil {
			return nil, err
		}
	case ActionPasswd:
		// temporary secret derived from the email; the owner is expected to
		// change it straight away
		if user, err = s.applyDelta(id, map[string]any{"passwd": sha256Hex(env.Email)}); err != nil {
			return nil, err
		}
	default:
		return nil, model.ErrorTokenInvalid
	}

	s.refresh(entry.ID, user)
	profile := user.Private(entry.ID)
	return &profile, nil
}

func (s *Service) applyDelta(id int64, delta map[string]any) (*model.User, error) {
	user, err := s.store.UpdateUser(id, delta)
	if err != nil {
		log.Errorf("applying recovery action: %+v", err)
		return nil, model.ErrorStore
	}
	return user, nil
}

// signToken is the keyed hash chain binding resetKey to the action and the
// account email.
func signToken(resetKey, action, email string) string {
	return hmacSHA256Hex(hmacSHA256Hex(resetKey, action), email)
}
