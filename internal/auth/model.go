package auth

import (
	"slices"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator:
		return true
	default:
		return false
	}
}

var (
	activityTypes    = []string{"restaurant", "shopping", "entertainment", "culture", "sports", "education", "healthcare", "nature", "other"}
	transportMethods = []string{"walking", "wheelchair", "public_transport", "car"}
	budgets          = []string{"free", "low", "medium", "high"}
)

type User struct {
	ID                 string
	Email              string
	PasswordHash       string
	DisplayName        string
	Role               Role
	Preferences        Preferences
	RefreshToken       *string
	RefreshTokenExpiry *time.Time
	IsActive           bool
	LastLogin          *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type AccessibilityRequirements struct {
	WheelchairAccessible  bool `json:"wheelchairAccessible"`
	HasElevator           bool `json:"hasElevator"`
	HasRamp               bool `json:"hasRamp"`
	HasAccessibleBathroom bool `json:"hasAccessibleBathroom"`
}

type Preferences struct {
	ActivityTypes             []string                  `json:"activityTypes"`
	TransportMethod           string                    `json:"transportMethod"`
	Budget                    string                    `json:"budget"`
	BaseLocation              Location                  `json:"baseLocation"`
	SearchRadius              int                       `json:"searchRadius"`
	AccessibilityRequirements AccessibilityRequirements `json:"accessibilityRequirements"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		ActivityTypes:   []string{},
		TransportMethod: "wheelchair",
		Budget:          "free",
		SearchRadius:    5,
	}
}

func (p Preferences) Validate() error {
	for _, activity := range p.ActivityTypes {
		if !slices.Contains(activityTypes, activity) {
			return validationError("activityTypes contains an unsupported value: " + activity)
		}
	}
	if !slices.Contains(transportMethods, p.TransportMethod) {
		return validationError("transportMethod must be one of walking, wheelchair, public_transport, car")
	}
	if !slices.Contains(budgets, p.Budget) {
		return validationError("budget must be one of free, low, medium, high")
	}
	if p.BaseLocation.Latitude < -90 || p.BaseLocation.Latitude > 90 {
		return validationError("baseLocation.latitude must be between -90 and 90")
	}
	if p.BaseLocation.Longitude < -180 || p.BaseLocation.Longitude > 180 {
		return validationError("baseLocation.longitude must be between -180 and 180")
	}
	if p.SearchRadius < 1 || p.SearchRadius > 50 {
		return validationError("searchRadius must be between 1 and 50")
	}
	return nil
}

// PublicUser is the only outbound shape of a user; it never carries credentials or refresh state.
type PublicUser struct {
	ID          string      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"displayName"`
	Role        Role        `json:"role"`
	Preferences Preferences `json:"preferences"`
	IsActive    bool        `json:"isActive"`
	LastLogin   *time.Time  `json:"lastLogin"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func (u User) Public() PublicUser {
	prefs := u.Preferences
	if prefs.ActivityTypes == nil {
		prefs.ActivityTypes = []string{}
	}
	return PublicUser{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Preferences: prefs,
		IsActive:    u.IsActive,
		LastLogin:   u.LastLogin,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}

// Principal is the verified identity attached to a request. It is rebuilt from the access
// token on every request and never persisted.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
	Role        Role
	ExpiresAt   time.Time
}

type Tokens struct {
	AccessToken        string
	RefreshToken       string
	RefreshTokenExpiry time.Time
}

// Session is what a successful register, login or refresh hands back to the transport layer.
type Session struct {
	User   User
	Tokens Tokens
}

type LocationPatch struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type AccessibilityPatch struct {
	WheelchairAccessible  *bool `json:"wheelchairAccessible"`
	HasElevator           *bool `json:"hasElevator"`
	HasRamp               *bool `json:"hasRamp"`
	HasAccessibleBathroom *bool `json:"hasAccessibleBathroom"`
}

type PreferencesPatch struct {
	ActivityTypes             *[]string           `json:"activityTypes"`
	TransportMethod           *string             `json:"transportMethod"`
	Budget                    *string             `json:"budget"`
	BaseLocation              *LocationPatch      `json:"baseLocation"`
	SearchRadius              *int                `json:"searchRadius"`
	AccessibilityRequirements *AccessibilityPatch `json:"accessibilityRequirements"`
}

// Apply merges the provided fields into p. Absent fields keep their current value.
func (pp *PreferencesPatch) Apply(p Preferences) Preferences {
	if pp == nil {
		return p
	}
	if pp.ActivityTypes != nil {
		p.ActivityTypes = slices.Clone(*pp.ActivityTypes)
		if p.ActivityTypes == nil {
			p.ActivityTypes = []string{}
		}
	}
	if pp.TransportMethod != nil {
		p.TransportMethod = *pp.TransportMethod
	}
	if pp.Budget != nil {
		p.Budget = *pp.Budget
	}
	if loc := pp.BaseLocation; loc != nil {
		if loc.Latitude != nil {
			p.BaseLocation.Latitude = *loc.Latitude
		}
		if loc.Longitude != nil {
			p.BaseLocation.Longitude = *loc.Longitude
		}
	}
	if pp.SearchRadius != nil {
		p.SearchRadius = *pp.SearchRadius
	}
	if acc := pp.AccessibilityRequirements; acc != nil {
		if acc.WheelchairAccessible != nil {
			p.AccessibilityRequirements.WheelchairAccessible = *acc.WheelchairAccessible
		}
		if acc.HasElevator != nil {
			p.AccessibilityRequirements.HasElevator = *acc.HasElevator
		}
		if acc.HasRamp != nil {
			p.AccessibilityRequirements.HasRamp = *acc.HasRamp
		}
		if acc.HasAccessibleBathroom != nil {
			p.AccessibilityRequirements.HasAccessibleBathroom = *acc.HasAccessibleBathroom
		}
	}
	return p
}

type UserPatch struct {
	Email       *string           `json:"email"`
	Password    *string           `json:"password"`
	DisplayName *string           `json:"displayName"`
	Preferences *PreferencesPatch `json:"preferences"`
	Role        *Role             `json:"role"`
	IsActive    *bool             `json:"isActive"`
}

// Apply merges the patch into u. passwordHash replaces the stored hash when non-empty;
// role and isActive are only honoured when privileged is set.
func (p UserPatch) Apply(u User, passwordHash string, privileged bool) User {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if passwordHash != "" {
		u.PasswordHash = passwordHash
	}
	if p.DisplayName != nil {
		u.DisplayName = *p.DisplayName
	}
	u.Preferences = p.Preferences.Apply(u.Preferences)
	if privileged {
		if p.Role != nil {
			u.Role = *p.Role
		}
		if p.IsActive != nil {
			u.IsActive = *p.IsActive
		}
	}
	return u
}
