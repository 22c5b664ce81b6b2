package apimodel

import "slices"

type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusInactive  UserStatus = "INACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
	UserStatusDeleted   UserStatus = "DELETED"
)

type Gender string

const (
	GenderMale   Gender = "MALE"
	GenderFemale Gender = "FEMALE"
	GenderOther  Gender = "OTHER"
)

var genders = []Gender{GenderMale, GenderFemale, GenderOther}

// Valid reports whether g is one of the genders the API accepts.
func (g Gender) Valid() bool {
	return slices.Contains(genders, g)
}

// UserProfileResponse is the profile attached to a user.
type UserProfileResponse struct {
	ID          string `json:"id,omitempty"`
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	Gender      Gender `json:"gender,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Address     string `json:"address,omitempty"`
	City        string `json:"city,omitempty"`
	Country     string `json:"country,omitempty"`
}

// UserResponse is returned by /api/users/me and the other user lookups.
type UserResponse struct {
	ID        string               `json:"id"`
	AccountID string               `json:"accountId"`
	Username  string               `json:"username"`
	Email     string               `json:"email"`
	Status    UserStatus           `json:"status"`
	Profile   *UserProfileResponse `json:"profile,omitempty"`
	CreatedAt string               `json:"createdAt"`
	UpdatedAt string               `json:"updatedAt"`
}

type UpdateUserRequest struct {
	Email *string `json:"email,omitempty"`
}

// UpdateUserProfileRequest only sends the fields that are set.
type UpdateUserProfileRequest struct {
	FirstName   *string `json:"firstName,omitempty"`
	LastName    *string `json:"lastName,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
	Gender      *Gender `json:"gender,omitempty"`
	Bio         *string `json:"bio,omitempty"`
	AvatarURL   *string `json:"avatarUrl,omitempty"`
	Address     *string `json:"address,omitempty"`
	City        *string `json:"city,omitempty"`
	Country     *string `json:"country,omitempty"`
}
