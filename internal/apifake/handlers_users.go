package apifake

import (
	"cmp"
	"net/http"
	"net/mail"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
)

func (s *Server) CurrentUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.RLock()
		defer s.lock.RUnlock()

		a, ok := s.accounts[callerID(r)]
		if !ok {
			s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found")
			return
		}
		s.writeData(w, http.StatusOK, "", a.response())
	}
}

func (s *Server) GetUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.RLock()
		defer s.lock.RUnlock()

		a, ok := s.accounts[r.PathValue("id")]
		if !ok {
			s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found with id: "+r.PathValue("id"))
			return
		}
		s.writeData(w, http.StatusOK, "", a.response())
	}
}

// UserSubresourceHandler serves /api/users/username/{username} and /api/users/{id}/profile.
func (s *Server) UserSubresourceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, sub := r.PathValue("id"), r.PathValue("sub")

		s.lock.RLock()
		defer s.lock.RUnlock()

		switch {
		case id == "username":
			a, ok := s.accountByLogin(sub)
			if !ok || !strings.EqualFold(a.Username, sub) {
				s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found with username: "+sub)
				return
			}
			s.writeData(w, http.StatusOK, "", a.response())
		case sub == "profile":
			a, ok := s.accounts[id]
			if !ok {
				s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found with id: "+id)
				return
			}
			s.writeData(w, http.StatusOK, "", a.Profile)
		default:
			s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "No handler for "+r.URL.Path)
		}
	}
}

func (s *Server) OwnProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.RLock()
		defer s.lock.RUnlock()

		a, ok := s.ownAccount(w, r)
		if !ok {
			return
		}
		s.writeData(w, http.StatusOK, "", a.Profile)
	}
}

func (s *Server) ListUsersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := queryInt(q.Get("page"), 0)
		size := queryInt(q.Get("size"), 20)
		if page < 0 || size <= 0 {
			s.writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "page must be >= 0 and size > 0")
			return
		}
		sortBy := cmp.Or(q.Get("sortBy"), "createdAt")
		descending := !strings.EqualFold(q.Get("sortDirection"), "ASC")

		s.lock.RLock()
		defer s.lock.RUnlock()

		all := make([]*account, 0, len(s.accounts))
		for _, a := range s.accounts {
			all = append(all, a)
		}

		slices.SortFunc(all, func(a, b *account) int {
			var c int
			switch sortBy {
			case "username":
				c = strings.Compare(a.Username, b.Username)
			case "email":
				c = strings.Compare(a.Email, b.Email)
			default:
				c = a.CreatedAt.Compare(b.CreatedAt)
			}
			if c == 0 {
				c = strings.Compare(a.ID, b.ID)
			}
			if descending {
				return -c
			}
			return c
		})

		total := len(all)
		start := min(page*size, total)
		end := min(start+size, total)
		content := make([]apimodel.UserResponse, 0, end-start)
		for _, a := range all[start:end] {
			content = append(content, a.response())
		}
		totalPages := (total + size - 1) / size

		s.writeData(w, http.StatusOK, "", apimodel.PageResponse[apimodel.UserResponse]{
			Content:       content,
			Page:          page,
			Size:          size,
			TotalElements: int64(total),
			TotalPages:    totalPages,
			First:         page == 0,
			Last:          page >= totalPages-1,
		})
	}
}

func (s *Server) UpdateUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := apimodel.UpdateUserRequest{}
		if !s.decode(w, r, &req) {
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()

		a, ok := s.ownAccount(w, r)
		if !ok {
			return
		}
		if req.Email != nil {
			if _, err := mail.ParseAddress(*req.Email); err != nil {
				s.writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "", apimodel.ErrorDetail{
					Field: "email", Message: "must be a well-formed email address", RejectedValue: *req.Email,
				})
				return
			}
			if otherID, taken := s.emails[strings.ToLower(*req.Email)]; taken && otherID != a.ID {
				s.writeError(w, r, http.StatusConflict, "DUPLICATE_RESOURCE", errEmailTaken.Error())
				return
			}
			delete(s.emails, strings.ToLower(a.Email))
			a.Email = *req.Email
			s.emails[strings.ToLower(a.Email)] = a.ID
		}
		a.UpdatedAt = s.nowFunc()
		s.writeData(w, http.StatusOK, "User updated successfully", a.response())
	}
}

func (s *Server) DeleteUserHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.lock.Lock()
		defer s.lock.Unlock()

		a, ok := s.ownAccount(w, r)
		if !ok {
			return
		}
		delete(s.accounts, a.ID)
		delete(s.usernames, strings.ToLower(a.Username))
		delete(s.emails, strings.ToLower(a.Email))
		for token, id := range s.refreshTokens {
			if id == a.ID {
				delete(s.refreshTokens, token)
			}
		}
		s.writeData(w, http.StatusOK, "User deleted successfully", nil)
	}
}

func (s *Server) UpdateProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := apimodel.UpdateUserProfileRequest{}
		if !s.decode(w, r, &req) {
			return
		}

		var details []apimodel.ErrorDetail
		if req.Gender != nil && !req.Gender.Valid() {
			details = append(details, apimodel.ErrorDetail{Field: "gender", Message: "must be one of MALE, FEMALE, OTHER", RejectedValue: *req.Gender})
		}
		if req.DateOfBirth != nil && *req.DateOfBirth != "" {
			if _, err := time.Parse(time.DateOnly, *req.DateOfBirth); err != nil {
				details = append(details, apimodel.ErrorDetail{Field: "dateOfBirth", Message: "must be a date in the format yyyy-MM-dd", RejectedValue: *req.DateOfBirth})
			}
		}
		if len(details) > 0 {
			s.writeError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "", details...)
			return
		}

		s.lock.Lock()
		defer s.lock.Unlock()

		a, ok := s.ownAccount(w, r)
		if !ok {
			return
		}
		applyProfile(&a.Profile, req)
		a.UpdatedAt = s.nowFunc()
		s.writeData(w, http.StatusOK, "Profile updated successfully", a.Profile)
	}
}

// ownAccount resolves the {id} path value and only lets callers act on themselves.
// Callers hold s.lock.
func (s *Server) ownAccount(w http.ResponseWriter, r *http.Request) (*account, bool) {
	id := r.PathValue("id")
	if id != callerID(r) {
		s.writeError(w, r, http.StatusForbidden, "ACCESS_DENIED", "You can only access your own account")
		return nil, false
	}
	a, ok := s.accounts[id]
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "RESOURCE_NOT_FOUND", "User not found with id: "+id)
		return nil, false
	}
	return a, true
}

func applyProfile(p *apimodel.UserProfileResponse, req apimodel.UpdateUserProfileRequest) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.FirstName, req.FirstName)
	set(&p.LastName, req.LastName)
	set(&p.Phone, req.Phone)
	set(&p.DateOfBirth, req.DateOfBirth)
	set(&p.Bio, req.Bio)
	set(&p.AvatarURL, req.AvatarURL)
	set(&p.Address, req.Address)
	set(&p.City, req.City)
	set(&p.Country, req.Country)
	if req.Gender != nil {
		p.Gender = *req.Gender
	}
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
