// Package userservice wraps the /api/users endpoints.
package userservice

import (
	"cmp"
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-elearn-client/apiclient"
	"github.com/jrsteele09/go-elearn-client/apimodel"
	clienterrors "github.com/jrsteele09/go-elearn-client/internal/errors"
	"github.com/jrsteele09/go-elearn-client/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPageSize      = 20
	DefaultSortBy        = "createdAt"
	DefaultSortDirection = "DESC"
)

// SessionStore gives the service the signed-in user and lets it keep that
// user in step with server side edits.
type SessionStore interface {
	User() *apimodel.UserInfo
	UpdateUser(ctx context.Context, patch apimodel.UserPatch) error
}

var _ SessionStore = (*session.Store)(nil)

// ValidationError is a pre-flight rejection. No request was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == clienterrors.ErrInvalidInput
}

// ListOptions pages through users. Zero values take the defaults.
type ListOptions struct {
	Page          int
	Size          int
	SortBy        string
	SortDirection string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(max(o.Page, 0)))
	q.Set("size", strconv.Itoa(cmp.Or(o.Size, DefaultPageSize)))
	q.Set("sortBy", cmp.Or(o.SortBy, DefaultSortBy))
	q.Set("sortDirection", strings.ToUpper(cmp.Or(o.SortDirection, DefaultSortDirection)))
	return q
}

type Service struct {
	client *apiclient.Client
	store  SessionStore
}

func New(client *apiclient.Client, store SessionStore) (*Service, error) {
	if client == nil {
		return nil, errors.New("[userservice.New] api client is required")
	}
	if store == nil {
		return nil, errors.New("[userservice.New] session store is required")
	}
	return &Service{client: client, store: store}, nil
}

func (s *Service) GetCurrentUser(ctx context.Context) (*apimodel.UserResponse, error) {
	user, err := apiclient.DoData[apimodel.UserResponse](ctx, s.client, apiclient.Request{Path: apimodel.RouteUserMe})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetCurrentUser] GET")
	}
	return user, nil
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*apimodel.UserResponse, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	user, err := apiclient.DoData[apimodel.UserResponse](ctx, s.client, apiclient.Request{Path: apimodel.UserPath(id)})
	if err != nil {
		return nil, errors.Wrapf(err, "[Service.GetUserByID] GET %s", id)
	}
	return user, nil
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*apimodel.UserResponse, error) {
	if strings.TrimSpace(username) == "" {
		return nil, &ValidationError{Field: "username", Message: "Username is required"}
	}
	user, err := apiclient.DoData[apimodel.UserResponse](ctx, s.client, apiclient.Request{Path: apimodel.UserByUsernamePath(username)})
	if err != nil {
		return nil, errors.Wrapf(err, "[Service.GetUserByUsername] GET %s", username)
	}
	return user, nil
}

func (s *Service) ListUsers(ctx context.Context, opts ListOptions) (*apimodel.PageResponse[apimodel.UserResponse], error) {
	if opts.Size < 0 {
		return nil, &ValidationError{Field: "size", Message: "Page size must be positive"}
	}
	page, err := apiclient.DoData[apimodel.PageResponse[apimodel.UserResponse]](ctx, s.client, apiclient.Request{
		Path:  apimodel.RouteUsers,
		Query: opts.query(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.ListUsers] GET")
	}
	return page, nil
}

// UpdateUser changes account fields. When the account is the signed-in user
// the session copy is patched too.
func (s *Service) UpdateUser(ctx context.Context, id string, req apimodel.UpdateUserRequest) (*apimodel.UserResponse, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	if req.Email != nil && strings.TrimSpace(*req.Email) == "" {
		return nil, &ValidationError{Field: "email", Message: "Email cannot be blank"}
	}

	user, err := apiclient.DoData[apimodel.UserResponse](ctx, s.client, apiclient.Request{
		Method: http.MethodPut,
		Path:   apimodel.UserPath(id),
		Body:   req,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "[Service.UpdateUser] PUT %s", id)
	}

	if current := s.store.User(); current != nil && current.ID == user.ID {
		patch := apimodel.UserPatch{Username: &user.Username, Email: &user.Email}
		if err := s.store.UpdateUser(ctx, patch); err != nil {
			log.Err(err).Msg("failed to persist updated user")
		}
	}
	return user, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	if _, err := apiclient.Do[struct{}](ctx, s.client, apiclient.Request{Method: http.MethodDelete, Path: apimodel.UserPath(id)}); err != nil {
		return errors.Wrapf(err, "[Service.DeleteUser] DELETE %s", id)
	}
	return nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*apimodel.UserProfileResponse, error) {
	if err := requireID(userID); err != nil {
		return nil, err
	}
	profile, err := apiclient.DoData[apimodel.UserProfileResponse](ctx, s.client, apiclient.Request{Path: apimodel.ProfilePath(userID)})
	if err != nil {
		return nil, errors.Wrapf(err, "[Service.GetProfile] GET %s", userID)
	}
	return profile, nil
}

// GetCurrentUserProfile reads the signed-in user's own profile.
func (s *Service) GetCurrentUserProfile(ctx context.Context) (*apimodel.UserProfileResponse, error) {
	userID, err := s.currentUserID()
	if err != nil {
		return nil, err
	}
	profile, err := apiclient.DoData[apimodel.UserProfileResponse](ctx, s.client, apiclient.Request{Path: apimodel.OwnProfilePath(userID)})
	if err != nil {
		return nil, errors.Wrap(err, "[Service.GetCurrentUserProfile] GET")
	}
	return profile, nil
}

// UpdateProfile sends only the fields set in req. An empty userID means the
// signed-in user.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req apimodel.UpdateUserProfileRequest) (*apimodel.UserProfileResponse, error) {
	if userID == "" {
		id, err := s.currentUserID()
		if err != nil {
			return nil, err
		}
		userID = id
	}
	if err := ValidateProfile(req); err != nil {
		return nil, err
	}

	profile, err := apiclient.DoData[apimodel.UserProfileResponse](ctx, s.client, apiclient.Request{
		Method: http.MethodPut,
		Path:   apimodel.ProfilePath(userID),
		Body:   req,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "[Service.UpdateProfile] PUT %s", userID)
	}
	return profile, nil
}

// ValidateProfile checks the fields the API constrains: gender and date of birth.
func ValidateProfile(req apimodel.UpdateUserProfileRequest) error {
	if req.Gender != nil && !req.Gender.Valid() {
		return &ValidationError{Field: "gender", Message: "Gender must be one of MALE, FEMALE, OTHER"}
	}
	if req.DateOfBirth != nil && *req.DateOfBirth != "" {
		dob, err := time.Parse(time.DateOnly, *req.DateOfBirth)
		if err != nil {
			return &ValidationError{Field: "dateOfBirth", Message: "Date of birth must be in YYYY-MM-DD format"}
		}
		if dob.After(time.Now()) {
			return &ValidationError{Field: "dateOfBirth", Message: "Date of birth cannot be in the future"}
		}
	}
	return nil
}

func (s *Service) currentUserID() (string, error) {
	user := s.store.User()
	if user == nil || user.ID == "" {
		return "", errors.Wrap(clienterrors.ErrNotAuthenticated, "[userservice] no signed-in user")
	}
	return user.ID, nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return &ValidationError{Field: "id", Message: "User id is required"}
	}
	return nil
}
