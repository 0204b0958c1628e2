// Package store is the persistent account record store, backed by sqlite.
// It knows nothing about caching; the identity index and document cache are
// rebuilt from it on restart.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"memberd/internal/model"
)

type Store struct {
	db *sqlx.DB
}

func New(path string) (*Store, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	_, err := s.db.Exec(`create table if not exists users(
		id             integer primary key autoincrement,
		created_at     datetime not null,
		name           text not null unique,
		email          text not null unique,
		passwd         text not null,
		sex            text not null default '',
		role           text not null default 'guest',
		avatar         text not null default '',
		description    text not null default '',
		score          integer not null default 0,
		fans           integer not null default 0,
		following      integer not null default 0,
		articles       integer not null default 0,
		collections    integer not null default 0,
		comments       integer not null default 0,
		locked         boolean not null default 0,
		login_attempts tinyint not null default 0,
		reset_key      text not null default '',
		reset_date     integer not null default 0,
		last_login_at  datetime null
	)`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists logins(
		user_id integer not null references users(id),
		at      datetime not null,
		ip      text not null
	)`)
	if err != nil {
		return fmt.Errorf("creating logins table: %w", err)
	}

	_, err = s.db.Exec(`create table if not exists follows(
		user_id   integer not null references users(id),
		target_id integer not null references users(id),
		primary key (user_id, target_id)
	)`)
	if err != nil {
		return fmt.Errorf("creating follows table: %w", err)
	}

	return nil
}

// EachIdentity streams every account's identity projection, newest first,
// calling fn once per row. The pass holds no state beyond the cursor.
func (s *Store) EachIdentity(fn func(id int64, name, email, avatar string) error) error {
	rows, err := s.db.Query(`select id, name, email, avatar from users order by id desc`)
	if err != nil {
		return fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                  int64
			name, email, avatar string
		)
		if err := rows.Scan(&id, &name, &email, &avatar); err != nil {
			return fmt.Errorf("scanning identity row: %w", err)
		}
		if err := fn(id, name, email, avatar); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) CountUsers() (int, error) {
	var count int
	if err := s.db.Get(&count, `select count(*) from users`); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

func (s *Store) GetAuth(id int64) (*model.AuthFields, error) {
	auth := &model.AuthFields{}
	err := s.db.Get(auth, `select id, name, email, passwd, reset_key, reset_date,
		login_attempts, locked, role, avatar from users where id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching auth fields: %w", err)
	}
	return auth, nil
}

// GetUser fetches the secret-free document projection.
func (s *Store) GetUser(id int64) (*model.User, error) {
	user := &model.User{}
	err := s.db.Get(user, `select id, created_at, name, email, sex, role, avatar,
		description, score, fans, following, articles, collections, comments,
		last_login_at from users where id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("fetching user: %w", err)
	}
	return user, nil
}

// uniqueConflict maps a unique-constraint violation on name or email to its
// conflict sentinel and returns nil for any other error. The index check runs
// first, but two concurrent writers can both pass it; the loser must still
// surface as a conflict rather than a storage failure.
func uniqueConflict(err error) error {
	var serr sqlite3.Error
	if !errors.As(err, &serr) || serr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	if strings.Contains(serr.Error(), "users.name") {
		return model.ErrorNameTaken
	}
	return model.ErrorEmailTaken
}

// Insert creates the record in a single atomic statement and returns the
// assigned sequential id.
func (s *Store) Insert(user *model.User) (int64, error) {
	res, err := s.db.NamedExec(`insert into users
		(created_at, name, email, passwd, sex, role, avatar, description, reset_key, reset_date)
		values(:created_at, :name, :email, :passwd, :sex, :role, :avatar, :description, :reset_key, :reset_date)`, user)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return 0, conflict
		}
		return 0, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting inserted id: %w", err)
	}
	return id, nil
}

var updatableColumns = map[string]bool{
	"name":        true,
	"email":       true,
	"passwd":      true,
	"sex":         true,
	"role":        true,
	"avatar":      true,
	"description": true,
	"locked":      true,
	"reset_key":   true,
	"reset_date":  true,
}

// UpdateUser applies a field delta and reads the post-write document back
// within the same transaction.
func (s *Store) UpdateUser(id int64, delta map[string]any) (*model.User, error) {
	if len(delta) == 0 {
		return s.GetUser(id)
	}

	columns := make([]string, 0, len(delta))
	for column := range delta {
		if !updatableColumns[column] {
			return nil, fmt.Errorf("column %q is not updatable", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	assignments := make([]string, 0, len(columns))
	args := make([]any, 0, len(columns)+1)
	for _, column := range columns {
		assignments = append(assignments, column+" = ?")
		args = append(args, delta[column])
	}
	args = append(args, id)

	tx, err := s.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`update users set `+strings.Join(assignments, ", ")+` where id = ?`, args...)
	if err != nil {
		if conflict := uniqueConflict(err); conflict != nil {
			return nil, conflict
		}
		return nil, fmt.Errorf("updating user: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	} else if rows == 0 {
		return nil, model.ErrorUserNotFound
	}

	user := &model.User{}
	err = tx.Get(user, `select id, created_at, name, email, sex, role, avatar,
		description, score, fans, following, articles, collections, comments,
		last_login_at from users where id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("reading back user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing update: %w", err)
	}
	return user, nil
}

// AdjustScore moves the reputation counter by a signed delta in one atomic
// statement.
func (s *Store) AdjustScore(id int64, delta int64) error {
	res, err := s.db.Exec(`update users set score = score + ? where id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("adjusting score: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows == 0 {
		return model.ErrorUserNotFound
	}
	return nil
}

// IncLoginAttempts bumps the persisted failure counter and returns the new
// count so the caller can decide whether the lockout threshold was reached.
func (s *Store) IncLoginAttempts(id int64) (int, error) {
	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`update users set login_attempts = login_attempts + 1 where id = ?`, id); err != nil {
		return 0, fmt.Errorf("incrementing login attempts: %w", err)
	}
	var attempts int
	if err := tx.Get(&attempts, `select login_attempts from users where id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, model.ErrorUserNotFound
		}
		return 0, fmt.Errorf("reading login attempts: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing attempt count: %w", err)
	}
	return attempts, nil
}

func (s *Store) ResetLoginAttempts(id int64) error {
	if _, err := s.db.Exec(`update users set login_attempts = 0 where id = ?`, id); err != nil {
		return fmt.Errorf("resetting login attempts: %w", err)
	}
	return nil
}

func (s *Store) SetLocked(id int64) error {
	if _, err := s.db.Exec(`update users set locked = 1 where id = ?`, id); err != nil {
		return fmt.Errorf("locking user: %w", err)
	}
	return nil
}

// Unlock clears the locked flag and the failure counter in one statement.
func (s *Store) Unlock(id int64) error {
	if _, err := s.db.Exec(`update users set locked = 0, login_attempts = 0 where id = ?`, id); err != nil {
		return fmt.Errorf("unlocking user: %w", err)
	}
	return nil
}

// RecordLogin appends to the login history; earlier entries are never
// replaced.
func (s *Store) RecordLogin(id int64, at time.Time, ip string) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`insert into logins (user_id, at, ip) values (?, ?, ?)`, id, at, ip); err != nil {
		return fmt.Errorf("appending login record: %w", err)
	}
	if _, err := tx.Exec(`update users set last_login_at = ? where id = ?`, at, id); err != nil {
		return fmt.Errorf("updating last login: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing login record: %w", err)
	}
	return nil
}

func (s *Store) LoginHistory(id int64) ([]model.LoginRecord, error) {
	records := []model.LoginRecord{}
	if err := s.db.Select(&records, `select user_id, at, ip from logins where user_id = ? order by at`, id); err != nil {
		return nil, fmt.Errorf("fetching login history: %w", err)
	}
	return records, nil
}

// Follow records that follower follows target. The target's fans counter and
// the follower's following counter each move independently.
func (s *Store) Follow(followerID, targetID int64) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`insert or ignore into follows (user_id, target_id) values (?, ?)`, followerID, targetID)
	if err != nil {
		return fmt.Errorf("inserting follow: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows == 0 {
		// already following
		return nil
	}

	if _, err := tx.Exec(`update users set fans = fans + 1 where id = ?`, targetID); err != nil {
		return fmt.Errorf("incrementing fans: %w", err)
	}
	if _, err := tx.Exec(`update users set following = following + 1 where id = ?`, followerID); err != nil {
		return fmt.Errorf("incrementing following: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing follow: %w", err)
	}
	return nil
}

func (s *Store) Unfollow(followerID, targetID int64) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`delete from follows where user_id = ? and target_id = ?`, followerID, targetID)
	if err != nil {
		return fmt.Errorf("deleting follow: %w", err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	} else if rows == 0 {
		return nil
	}

	if _, err := tx.Exec(`update users set fans = fans - 1 where id = ?`, targetID); err != nil {
		return fmt.Errorf("decrementing fans: %w", err)
	}
	if _, err := tx.Exec(`update users set following = following - 1 where id = ?`, followerID); err != nil {
		return fmt.Errorf("decrementing following: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing unfollow: %w", err)
	}
	return nil
}
