// Package account is the account-management core: registration,
// authentication with lockout, profile editing, recovery tokens and the
// cached admin listing. It owns the identity index and both bounded caches;
// the persistent store is always written first and the caches updated only
// after the store confirms success.
package account

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"memberd/internal/cache"
	"memberd/internal/index"
	"memberd/internal/model"
	"memberd/internal/store"
	"memberd/internal/uid"
)

const (
	lockThreshold   = 5
	defaultPageSize = 20
	maxPageSize     = 100
)

// Notifier delivers recovery links to the account owner. Delivery transport
// is not this package's concern.
type Notifier interface {
	SendRecovery(name, email, link string) error
}

type logNotifier struct{}

func (logNotifier) SendRecovery(name, email, link string) error {
	log.Infof("recovery link for %s <%s>: %s", name, email, link)
	return nil
}

type Options struct {
	BaseURL       string
	UserCacheSize int
	PageCacheSize int
	Notifier      Notifier
}

type Service struct {
	store    *store.Store
	index    *index.Index
	users    *cache.Cache[string, *model.User]
	pages    *cache.Cache[int64, []string]
	notifier Notifier
	baseURL  string
	now      func() time.Time
}

func New(st *store.Store, opts Options) *Service {
	if opts.UserCacheSize < 1 {
		opts.UserCacheSize = 100
	}
	if opts.PageCacheSize < 1 {
		opts.PageCacheSize = 5
	}
	if opts.Notifier == nil {
		opts.Notifier = logNotifier{}
	}
	return &Service{
		store:    st,
		index:    index.New(),
		users:    cache.New[string, *model.User](opts.UserCacheSize),
		pages:    cache.New[int64, []string](opts.PageCacheSize),
		notifier: opts.Notifier,
		baseURL:  opts.BaseURL,
		now:      time.Now,
	}
}

// Init populates the identity index from the store. It is idempotent and
// meant to run once at process start.
func (s *Service) Init() (int, error) {
	count := 0
	err := s.store.EachIdentity(func(id int64, name, email, avatar string) error {
		publicID, err := uid.Encode(id, uid.KindUser)
		if err != nil {
			return fmt.Errorf("encoding id %d: %w", id, err)
		}
		s.index.Upsert(model.Identity{ID: publicID, Name: name, Email: email, Avatar: avatar})
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("loading identity index: %w", err)
	}
	return count, nil
}

// Resolve maps a public id, name or email to the account's public id.
func (s *Service) Resolve(key string) (string, error) {
	entry, ok := s.index.Lookup(key)
	if !ok {
		return "", model.ErrorUserNotFound
	}
	return entry.ID, nil
}

// Authenticate checks credentials for the account named by logname (public
// id, name or email) and runs the lockout state machine. The submitted
// secret is the keyed hash of the stored password hash under the login name,
// never the raw password.
func (s *Service) Authenticate(logname, secret, ip string) (*model.PrivateProfile, error) {
	entry, ok := s.index.Lookup(logname)
	if !ok {
		if model.CheckEmail(logname) || model.CheckPublicID(logname) || model.CheckName(logname) {
			return nil, model.ErrorUserNotFound
		}
		return nil, model.ErrorInvalidLogin
	}

	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return nil, fmt.Errorf("decoding public id: %w", err)
	}

	auth, err := s.store.GetAuth(id)
	if err != nil {
		log.Errorf("fetching auth fields: %+v", err)
		return nil, model.ErrorStore
	}

	if auth.Locked {
		return nil, model.ErrorAccountLocked
	}

	if !credentialsMatch(auth.Passwd, logname, secret) {
		attempts, err := s.store.IncLoginAttempts(id)
		if err != nil {
			log.Errorf("recording failed login: %+v", err)
			return nil, model.ErrorStore
		}
		if attempts >= lockThreshold {
			if err := s.store.SetLocked(id); err != nil {
				log.Errorf("locking account: %+v", err)
				return nil, model.ErrorStore
			}
		}
		return nil, model.ErrorWrongCredentials
	}

	if auth.LoginAttempts > 0 {
		if err := s.store.ResetLoginAttempts(id); err != nil {
			log.Errorf("resetting login attempts: %+v", err)
			return nil, model.ErrorStore
		}
	}
	if err := s.store.RecordLogin(id, s.now().UTC(), ip); err != nil {
		log.Errorf("recording login: %+v", err)
		return nil, model.ErrorStore
	}

	user, err := s.cachedUser(entry.ID, id)
	if err != nil {
		return nil, err
	}
	profile := user.Private(entry.ID)
	return &profile, nil
}

// Register validates the candidate against the identity index before any
// store I/O, creates the record, indexes it and hands a role-grant recovery
// link to the notifier.
func (s *Service) Register(params *model.CreateUserParams) (*model.PrivateProfile, error) {
	if !model.CheckEmail(params.Email) {
		return nil, model.ErrorInvalidEmail
	}
	if _, ok := s.index.Lookup(params.Email); ok {
		return nil, model.ErrorEmailTaken
	}
	if !model.CheckName(params.Name) {
		return nil, model.ErrorInvalidName
	}
	if _, ok := s.index.Lookup(params.Name); ok {
		return nil, model.ErrorNameTaken
	}

	now := s.now()
	user := &model.User{
		CreatedAt: now.UTC(),
		Name:      params.Name,
		Email:     params.Email,
		Passwd:    sha256Hex(params.Password),
		Role:      model.RoleGuest,
		Avatar:    model.Gravatar(params.Email),
		ResetDate: now.UnixMilli(),
	}

	id, err := s.store.Insert(user)
	if err != nil {
		// a concurrent registration can win the unique constraint after both
		// passed the index check
		if err == model.ErrorNameTaken || err == model.ErrorEmailTaken {
			return nil, err
		}
		log.Errorf("inserting user: %+v", err)
		return nil, model.ErrorStore
	}
	user.ID = id

	publicID, err := uid.Encode(id, uid.KindUser)
	if err != nil {
		return nil, fmt.Errorf("encoding id %d: %w", id, err)
	}
	s.index.Upsert(user.Identity(publicID))

	// cache the same secret-free shape the store projection yields
	doc := *user
	doc.Passwd = ""
	doc.ResetKey = ""
	doc.ResetDate = 0
	s.users.Put(publicID, &doc)

	if token, err := s.IssueRecoveryToken(publicID, ActionRole); err != nil {
		log.Errorf("issuing recovery token: %+v", err)
	} else if err := s.notifier.SendRecovery(user.Name, user.Email, s.RecoveryURL(token)); err != nil {
		log.Errorf("sending recovery link: %+v", err)
	}

	profile := user.Private(publicID)
	return &profile, nil
}

// AddUsers is the admin bulk registration; it stops at the first failure and
// returns the accounts created so far.
func (s *Service) AddUsers(batch []model.CreateUserParams) ([]model.PrivateProfile, error) {
	created := make([]model.PrivateProfile, 0, len(batch))
	for i := range batch {
		profile, err := s.Register(&batch[i])
		if err != nil {
			return created, err
		}
		created = append(created, *profile)
	}
	return created, nil
}

// GetUser returns the public view of an account by public id or name.
func (s *Service) GetUser(key string) (*model.PublicProfile, error) {
	entry, ok := s.index.Lookup(key)
	if !ok {
		return nil, model.ErrorUserNotFound
	}
	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return nil, fmt.Errorf("decoding public id: %w", err)
	}
	user, err := s.cachedUser(entry.ID, id)
	if err != nil {
		return nil, err
	}
	profile := user.Public(entry.ID)
	return &profile, nil
}

// GetOwn returns the private view of the authenticated account.
func (s *Service) GetOwn(publicID string) (*model.PrivateProfile, error) {
	entry, ok := s.index.Lookup(publicID)
	if !ok {
		return nil, model.ErrorUserNotFound
	}
	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return nil, fmt.Errorf("decoding public id: %w", err)
	}
	user, err := s.cachedUser(entry.ID, id)
	if err != nil {
		return nil, err
	}
	profile := user.Private(entry.ID)
	return &profile, nil
}

// UpdateUser applies a profile edit. Name and email changes are checked
// against the index first; unchanged values are dropped; invalid optional
// fields (sex, avatar) are dropped silently.
func (s *Service) UpdateUser(publicID string, params *model.UpdateUserParams) (*model.PrivateProfile, error) {
	entry, ok := s.index.Lookup(publicID)
	if !ok {
		return nil, model.ErrorUserNotFound
	}

	delta := map[string]any{}
	if params.Name != nil && *params.Name != entry.Name {
		if !model.CheckName(*params.Name) {
			return nil, model.ErrorInvalidName
		}
		if _, ok := s.index.Lookup(*params.Name); ok {
			return nil, model.ErrorNameTaken
		}
		delta["name"] = *params.Name
	}
	if params.Email != nil && *params.Email != entry.Email {
		if !model.CheckEmail(*params.Email) {
			return nil, model.ErrorInvalidEmail
		}
		if _, ok := s.index.Lookup(*params.Email); ok {
			return nil, model.ErrorEmailTaken
		}
		delta["email"] = *params.Email
	}
	if params.Passwd != nil && *params.Passwd != "" {
		delta["passwd"] = sha256Hex(*params.Passwd)
	}
	if params.Sex != nil && (*params.Sex == "male" || *params.Sex == "female") {
		delta["sex"] = *params.Sex
	}
	if params.Avatar != nil && model.CheckURL(*params.Avatar) {
		delta["avatar"] = *params.Avatar
	}
	if params.Description != nil {
		delta["description"] = model.TrimDescription(*params.Description)
	}

	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return nil, fmt.Errorf("decoding public id: %w", err)
	}
	if len(delta) == 0 {
		return s.GetOwn(entry.ID)
	}

	user, err := s.store.UpdateUser(id, delta)
	if err != nil {
		if err == model.ErrorNameTaken || err == model.ErrorEmailTaken {
			return nil, err
		}
		log.Errorf("updating user: %+v", err)
		return nil, model.ErrorStore
	}
	s.refresh(entry.ID, user)

	profile := user.Private(entry.ID)
	return &profile, nil
}

// ListPage serves the admin listing from a pagination snapshot so a browse
// stays consistent while the index mutates. Page 1 (or generation 0)
// captures a fresh snapshot; later pages keep slicing the one the browse
// started from, falling back to a fresh capture only when that snapshot has
// been evicted.
func (s *Service) ListPage(generation int64, page, perPage int) (*model.UserPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPageSize
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	var ids []string
	var ok bool
	if page == 1 || generation == 0 {
		generation, ids = s.captureSnapshot()
	} else if ids, ok = s.pages.Get(generation); !ok {
		page = 1
		generation, ids = s.captureSnapshot()
	}

	result := &model.UserPage{
		Generation: generation,
		Page:       page,
		PerPage:    perPage,
		Total:      len(ids),
		Users:      []model.PublicProfile{},
	}

	start := (page - 1) * perPage
	if start >= len(ids) {
		return result, nil
	}
	end := start + perPage
	if end > len(ids) {
		end = len(ids)
	}

	for _, publicID := range ids[start:end] {
		id, err := uid.Decode(publicID, uid.KindUser)
		if err != nil {
			return nil, fmt.Errorf("decoding public id: %w", err)
		}
		user, err := s.cachedUser(publicID, id)
		if err != nil {
			if err == model.ErrorUserNotFound {
				// removed since the snapshot was captured
				continue
			}
			return nil, err
		}
		profile := user.Public(publicID)
		profile.Email = user.Email
		result.Users = append(result.Users, profile)
	}
	return result, nil
}

// captureSnapshot starts a fresh browse: the generation and membership are
// read as one consistent pair and cached, so a registration racing the
// capture can never file its member under the older generation.
func (s *Service) captureSnapshot() (int64, []string) {
	generation, ids := s.index.Snapshot()
	if cached, ok := s.pages.Get(generation); ok {
		return generation, cached
	}
	s.pages.Put(generation, ids)
	return generation, ids
}

// Follow records follower -> target and invalidates both cached documents.
func (s *Service) Follow(followerID, targetKey string) error {
	return s.setFollow(followerID, targetKey, true)
}

func (s *Service) Unfollow(followerID, targetKey string) error {
	return s.setFollow(followerID, targetKey, false)
}

func (s *Service) setFollow(followerID, targetKey string, follow bool) error {
	follower, ok := s.index.Lookup(followerID)
	if !ok {
		return model.ErrorUserNotFound
	}
	target, ok := s.index.Lookup(targetKey)
	if !ok {
		return model.ErrorUserNotFound
	}

	fid, err := uid.Decode(follower.ID, uid.KindUser)
	if err != nil {
		return fmt.Errorf("decoding public id: %w", err)
	}
	tid, err := uid.Decode(target.ID, uid.KindUser)
	if err != nil {
		return fmt.Errorf("decoding public id: %w", err)
	}

	if follow {
		err = s.store.Follow(fid, tid)
	} else {
		err = s.store.Unfollow(fid, tid)
	}
	if err != nil {
		log.Errorf("updating follow relation: %+v", err)
		return model.ErrorStore
	}

	s.users.Remove(follower.ID)
	s.users.Remove(target.ID)
	return nil
}

// AdjustScore moves an account's reputation score by a signed delta, for
// other modules rewarding or penalizing activity, and drops the cached
// document so the next read sees the new value.
func (s *Service) AdjustScore(key string, delta int64) error {
	entry, ok := s.index.Lookup(key)
	if !ok {
		return model.ErrorUserNotFound
	}
	id, err := uid.Decode(entry.ID, uid.KindUser)
	if err != nil {
		return fmt.Errorf("decoding public id: %w", err)
	}
	if err := s.store.AdjustScore(id, delta); err != nil {
		if err == model.ErrorUserNotFound {
			return err
		}
		log.Errorf("adjusting score: %+v", err)
		return model.ErrorStore
	}
	s.users.Remove(entry.ID)
	return nil
}

// cachedUser serves the full document from the bounded cache, falling back
// to the store on a miss. A miss is never treated as "does not exist"; the
// index has already answered that.
func (s *Service) cachedUser(publicID string, id int64) (*model.User, error) {
	if user, ok := s.users.Get(publicID); ok {
		return user, nil
	}
	user, err := s.store.GetUser(id)
	if err != nil {
		if err == model.ErrorUserNotFound {
			return nil, err
		}
		log.Errorf("fetching user document: %+v", err)
		return nil, model.ErrorStore
	}
	s.users.Put(publicID, user)
	return user, nil
}

// refresh rebinds the identity index and replaces the cached document after
// a confirmed store write.
func (s *Service) refresh(publicID string, user *model.User) {
	s.index.Upsert(user.Identity(publicID))
	s.users.Put(publicID, user)
}

func sha256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

func hmacSHA256Hex(message, key string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// credentialsMatch compares the submitted secret against the keyed hash of
// the stored password hash under the login name, in constant time.
func credentialsMatch(storedHash, logname, secret string) bool {
	expected := hmacSHA256Hex(storedHash, logname)
	return hmac.Equal([]byte(expected), []byte(secret))
}
