package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/jrsteele09/go-elearn-client/apimodel"
	"github.com/jrsteele09/go-elearn-client/authservice"
	"github.com/jrsteele09/go-elearn-client/internal/app"
	"github.com/jrsteele09/go-elearn-client/internal/utils"
	"github.com/jrsteele09/go-elearn-client/userservice"
	"github.com/pkg/errors"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app.App, args []string) error
}

var commands = map[string]command{
	"register":       {"create an account and send a verification code", registerCmd},
	"verify-otp":     {"confirm the emailed code and sign in", verifyOTPCmd},
	"resend-otp":     {"send a new verification code", resendOTPCmd},
	"login":          {"sign in with username or email", loginCmd},
	"logout":         {"sign out and forget the saved session", logoutCmd},
	"status":         {"show the saved session", statusCmd},
	"me":             {"show the signed-in user", meCmd},
	"profile":        {"show a profile, your own by default", profileCmd},
	"profile-update": {"change your profile", profileUpdateCmd},
	"users":          {"list users or look one up", usersCmd},
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: elearn <command> [flags]")
	fmt.Fprintln(w)
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-15s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet("elearn "+name, flag.ContinueOnError)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func registerCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("register")
	form := authservice.RegisterForm{}
	fs.StringVar(&form.Username, "username", "", "username")
	fs.StringVar(&form.Email, "email", "", "email address")
	fs.StringVar(&form.Password, "password", "", "password")
	fs.StringVar(&form.ConfirmPassword, "confirm", "", "password again")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := a.Auth.Register(ctx, form)
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s. A verification code was sent to %s.\n", resp.Username, resp.Email)
	return nil
}

func verifyOTPCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("verify-otp")
	email := fs.String("email", "", "email address")
	otp := fs.String("otp", "", "6 digit code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := a.Auth.VerifyOTP(ctx, *email, *otp)
	if err != nil {
		return err
	}
	fmt.Printf("Verified. Signed in as %s.\n", resp.User.Username)
	return nil
}

func resendOTPCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("resend-otp")
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.Auth.ResendOTP(ctx, *email); err != nil {
		return err
	}
	fmt.Println("A new code is on its way.")
	return nil
}

func loginCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("login")
	account := fs.String("account", "", "username or email")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	resp, err := a.Auth.Login(ctx, *account, *password)
	if err != nil {
		return err
	}
	fmt.Printf("Signed in as %s.\n", resp.User.Username)
	return nil
}

func logoutCmd(ctx context.Context, a *app.App, _ []string) error {
	if err := a.Auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func statusCmd(_ context.Context, a *app.App, _ []string) error {
	snap := a.Store.Snapshot()
	if !snap.Hydrated {
		fmt.Println("Saved session not loaded yet.")
	}
	if !snap.IsAuthenticated() {
		fmt.Println("Not signed in.")
		return nil
	}
	fmt.Printf("Signed in as %s <%s> (%s)\n", snap.User.Username, snap.User.Email, snap.User.Roles)
	if left, ok := a.Store.ExpiresIn(time.Now()); ok {
		if left > 0 {
			fmt.Printf("Access token expires in %s\n", left.Round(time.Second))
		} else {
			fmt.Println("Access token has expired and will be renewed on the next call")
		}
	}
	fmt.Printf("Device: %s\n", a.Auth.DeviceID())
	return nil
}

func meCmd(ctx context.Context, a *app.App, _ []string) error {
	if err := a.Store.RequireAuthenticated(ctx); err != nil {
		return err
	}
	user, err := a.Users.GetCurrentUser(ctx)
	if err != nil {
		return err
	}
	return printJSON(user)
}

func profileCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("profile")
	userID := fs.String("user", "", "user id, defaults to you")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.Store.RequireAuthenticated(ctx); err != nil {
		return err
	}

	var (
		profile *apimodel.UserProfileResponse
		err     error
	)
	if *userID == "" {
		profile, err = a.Users.GetCurrentUserProfile(ctx)
	} else {
		profile, err = a.Users.GetProfile(ctx, *userID)
	}
	if err != nil {
		return err
	}
	return printJSON(profile)
}

func profileUpdateCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("profile-update")
	firstName := fs.String("first-name", "", "first name")
	lastName := fs.String("last-name", "", "last name")
	phone := fs.String("phone", "", "phone number")
	dob := fs.String("dob", "", "date of birth, YYYY-MM-DD")
	gender := fs.String("gender", "", "MALE, FEMALE or OTHER")
	bio := fs.String("bio", "", "short bio")
	avatar := fs.String("avatar", "", "avatar image URL")
	address := fs.String("address", "", "street address")
	city := fs.String("city", "", "city")
	country := fs.String("country", "", "country")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.Store.RequireAuthenticated(ctx); err != nil {
		return err
	}

	req := apimodel.UpdateUserProfileRequest{
		FirstName:   utils.NonEmptyPtr(*firstName),
		LastName:    utils.NonEmptyPtr(*lastName),
		Phone:       utils.NonEmptyPtr(*phone),
		DateOfBirth: utils.NonEmptyPtr(*dob),
		Bio:         utils.NonEmptyPtr(*bio),
		AvatarURL:   utils.NonEmptyPtr(*avatar),
		Address:     utils.NonEmptyPtr(*address),
		City:        utils.NonEmptyPtr(*city),
		Country:     utils.NonEmptyPtr(*country),
	}
	if *gender != "" {
		req.Gender = utils.Ptr(apimodel.Gender(*gender))
	}
	profile, err := a.Users.UpdateProfile(ctx, "", req)
	if err != nil {
		return err
	}
	return printJSON(profile)
}

func usersCmd(ctx context.Context, a *app.App, args []string) error {
	fs := newFlagSet("users")
	opts := userservice.ListOptions{}
	fs.IntVar(&opts.Page, "page", 0, "page number, from 0")
	fs.IntVar(&opts.Size, "size", userservice.DefaultPageSize, "page size")
	fs.StringVar(&opts.SortBy, "sort", userservice.DefaultSortBy, "sort field")
	fs.StringVar(&opts.SortDirection, "dir", userservice.DefaultSortDirection, "ASC or DESC")
	id := fs.String("id", "", "look up one user by id")
	username := fs.String("username", "", "look up one user by username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.Store.RequireAuthenticated(ctx); err != nil {
		return err
	}

	switch {
	case *id != "" && *username != "":
		return errors.New("use either -id or -username")
	case *id != "":
		user, err := a.Users.GetUserByID(ctx, *id)
		if err != nil {
			return err
		}
		return printJSON(user)
	case *username != "":
		user, err := a.Users.GetUserByUsername(ctx, *username)
		if err != nil {
			return err
		}
		return printJSON(user)
	}

	page, err := a.Users.ListUsers(ctx, opts)
	if err != nil {
		return err
	}
	for _, u := range page.Content {
		fmt.Printf("%-36s  %-20s  %-30s  %s\n", u.ID, u.Username, u.Email, u.Status)
	}
	fmt.Printf("page %d of %d, %d users\n", page.Page+1, max(page.TotalPages, 1), page.TotalElements)
	return nil
}
