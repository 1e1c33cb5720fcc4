package types

import (
	"time"
)

// Role is the permission tier of a user account. Roles are ordered: an account satisfies any
// requirement at or below its own tier.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{
	RoleViewer: 0,
	RoleUser:   1,
	RoleAdmin:  2,
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// AtLeast reports whether r meets or exceeds required.
func (r Role) AtLeast(required Role) bool {
	have, ok := roleRank[r]
	if !ok {
		return false
	}
	return have >= roleRank[required]
}

// Category classifies channels for filtering and for the group-title of rendered manifests.
type Category string

const (
	CategorySports      Category = "sports"
	CategoryNews        Category = "news"
	CategoryMovies      Category = "movies"
	CategorySeries      Category = "series"
	CategoryKids        Category = "kids"
	CategoryMusic       Category = "music"
	CategoryDocumentary Category = "documentary"
	CategoryGeneral     Category = "general"
)

// Categories lists every accepted category.
var Categories = []Category{
	CategorySports, CategoryNews, CategoryMovies, CategorySeries,
	CategoryKids, CategoryMusic, CategoryDocumentary, CategoryGeneral,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// AccessCode is a shareable unlock key for one playlist. CurrentUses never exceeds MaxUses
// when MaxUses is set, and a code that is inactive or past ExpiresAt stays unusable forever.
// Codes are soft-deactivated, never deleted.
type AccessCode struct {
	ID          string     `json:"id"`
	Code        string     `json:"code"`
	PlaylistID  string     `json:"playlist_id"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	MaxUses     *int       `json:"max_uses,omitempty"`
	CurrentUses int        `json:"current_uses"`
	IsActive    bool       `json:"is_active"`
}

// ExpiredAt reports whether the code's expiry has passed at now.
func (a *AccessCode) ExpiredAt(now time.Time) bool {
	return a.ExpiresAt != nil && !now.Before(*a.ExpiresAt)
}

// Exhausted reports whether the code has reached its use limit.
func (a *AccessCode) Exhausted() bool {
	return a.MaxUses != nil && a.CurrentUses >= *a.MaxUses
}

// Channel is a catalog entry pointing at one origin stream.
type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	LogoURL   string    `json:"logo_url,omitempty"`
	Category  Category  `json:"category"`
	Country   string    `json:"country,omitempty"`
	Language  string    `json:"language,omitempty"`
	Quality   string    `json:"quality"`
	IsActive  bool      `json:"is_active"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ChannelFilter narrows channel listings. Zero values match everything.
type ChannelFilter struct {
	Category   Category
	Country    string
	ActiveOnly bool
}

// Playlist is an ordered set of channel ids. Order is preserved in rendered manifests.
type Playlist struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	ChannelIDs  []string   `json:"channels"`
	IsPublic    bool       `json:"is_public"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// ExpiredAt reports whether the playlist's own expiry has passed at now.
func (p *Playlist) ExpiredAt(now time.Time) bool {
	return p.ExpiryDate != nil && !now.Before(*p.ExpiryDate)
}

// User is an account that can manage channels, playlists and access codes.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// Identity is the resolved caller of an authenticated request.
type Identity struct {
	UserID   string
	Username string
	Role     Role
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// Stats is the admin dashboard snapshot.
type Stats struct {
	TotalUsers        int       `json:"total_users"`
	TotalChannels     int       `json:"total_channels"`
	ActiveChannels    int       `json:"active_channels"`
	TotalPlaylists    int       `json:"total_playlists"`
	ActiveAccessCodes int       `json:"active_access_codes"`
	ActiveRelays      int64     `json:"active_relays"`
	RelayedBytes      string    `json:"relayed_bytes"`
	ServerStatus      string    `json:"server_status"`
	GeneratedAt       time.Time `json:"generated_at"`
}
