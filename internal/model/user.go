package model

import "time"

type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the persisted account record. The numeric ID is the store's
// sequential primary key; the public-facing identifier is derived from it by
// the uid codec and never stored.
type User struct {
	ID            int64      `db:"id"`
	CreatedAt     time.Time  `db:"created_at"`
	Name          string     `db:"name"`
	Email         string     `db:"email"`
	Passwd        string     `db:"passwd"`
	Sex           string     `db:"sex"`
	Role          Role       `db:"role"`
	Avatar        string     `db:"avatar"`
	Description   string     `db:"description"`
	Score         int64      `db:"score"`
	Fans          int64      `db:"fans"`
	Following     int64      `db:"following"`
	Articles      int64      `db:"articles"`
	Collections   int64      `db:"collections"`
	Comments      int64      `db:"comments"`
	Locked        bool       `db:"locked"`
	LoginAttempts int        `db:"login_attempts"`
	ResetKey      string     `db:"reset_key"`
	ResetDate     int64      `db:"reset_date"`
	LastLoginAt   *time.Time `db:"last_login_at"`
}

// AuthFields is the projection fetched for credential checks and recovery
// token verification.
type AuthFields struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	Email         string `db:"email"`
	Passwd        string `db:"passwd"`
	ResetKey      string `db:"reset_key"`
	ResetDate     int64  `db:"reset_date"`
	LoginAttempts int    `db:"login_attempts"`
	Locked        bool   `db:"locked"`
	Role          Role   `db:"role"`
	Avatar        string `db:"avatar"`
}

// Identity is the lightweight projection held by the identity index, one per
// live account, reachable by public id, name and email.
type Identity struct {
	ID     string
	Name   string
	Email  string
	Avatar string
}

// LoginRecord is one entry of the append-only login history.
type LoginRecord struct {
	UserID int64     `db:"user_id"`
	At     time.Time `db:"at"`
	IP     string    `db:"ip"`
}

type CreateUserParams struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"passwd"`
}

// UpdateUserParams carries optional profile changes; nil fields are left
// untouched.
type UpdateUserParams struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Passwd      *string `json:"passwd"`
	Sex         *string `json:"sex"`
	Avatar      *string `json:"avatar"`
	Description *string `json:"desc"`
}

// PublicProfile is the view of an account anyone may see. Email is only
// filled in for the admin listing.
type PublicProfile struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Sex         string `json:"sex"`
	Avatar      string `json:"avatar"`
	Description string `json:"desc"`
	Score       int64  `json:"score"`
	Fans        int64  `json:"fans"`
	Following   int64  `json:"following"`
	Articles    int64  `json:"articles"`
	Collections int64  `json:"collections"`
}

// PrivateProfile is the view returned to the account owner.
type PrivateProfile struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Sex         string `json:"sex"`
	Role        Role   `json:"role"`
	Avatar      string `json:"avatar"`
	Description string `json:"desc"`
	Score       int64  `json:"score"`
	Fans        int64  `json:"fans"`
	Following   int64  `json:"following"`
	Articles    int64  `json:"articles"`
	Collections int64  `json:"collections"`
}

// UserPage is one page of the admin listing, pinned to the identity index
// generation the browse started from.
type UserPage struct {
	Generation int64           `json:"pagination"`
	Page       int             `json:"now"`
	PerPage    int             `json:"num"`
	Total      int             `json:"total"`
	Users      []PublicProfile `json:"data"`
}

func (u *User) Public(publicID string) PublicProfile {
	return PublicProfile{
		ID:          publicID,
		Name:        u.Name,
		Sex:         u.Sex,
		Avatar:      u.Avatar,
		Description: u.Description,
		Score:       u.Score,
		Fans:        u.Fans,
		Following:   u.Following,
		Articles:    u.Articles,
		Collections: u.Collections,
	}
}

func (u *User) Private(publicID string) PrivateProfile {
	return PrivateProfile{
		ID:          publicID,
		Name:        u.Name,
		Email:       u.Email,
		Sex:         u.Sex,
		Role:        u.Role,
		Avatar:      u.Avatar,
		Description: u.Description,
		Score:       u.Score,
		Fans:        u.Fans,
		Following:   u.Following,
		Articles:    u.Articles,
		Collections: u.Collections,
	}
}

func (u *User) Identity(publicID string) Identity {
	return Identity{
		ID:     publicID,
		Name:   u.Name,
		Email:  u.Email,
		Avatar: u.Avatar,
	}
}
