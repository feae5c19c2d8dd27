package model

import "time"

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusBusy    = "busy"
)

type Profile struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	Email               string     `gorm:"not null" json:"email"`
	DisplayName         *string    `json:"display_name"`
	AvatarURL           *string    `json:"avatar_url"`
	Status              *string    `json:"status"`
	LastSeen            *time.Time `json:"last_seen"`
	About               *string    `json:"about"`
	WallpaperURL        *string    `json:"wallpaper_url"`
	ForcePasswordChange bool       `gorm:"not null;default:false" json:"force_password_change"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Name is the display name or "" when unset.
func (p Profile) Name() string {
	if p.DisplayName == nil {
		return ""
	}
	return *p.DisplayName
}

// ProfileUpdate carries the self-service fields a user may change on their
// own profile. Nil fields are left untouched.
type ProfileUpdate struct {
	DisplayName  *string `json:"display_name"`
	AvatarURL    *string `json:"avatar_url"`
	Status       *string `json:"status"`
	About        *string `json:"about"`
	WallpaperURL *string `json:"wallpaper_url"`
}

func (u ProfileUpdate) Columns() map[string]any {
	cols := map[string]any{}
	if u.DisplayName != nil {
		cols["display_name"] = *u.DisplayName
	}
	if u.AvatarURL != nil {
		cols["avatar_url"] = *u.AvatarURL
	}
	if u.Status != nil {
		cols["status"] = *u.Status
	}
	if u.About != nil {
		cols["about"] = *u.About
	}
	if u.WallpaperURL != nil {
		cols["wallpaper_url"] = *u.WallpaperURL
	}
	return cols
}
