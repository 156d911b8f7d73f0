package cli

import (
	"context"
	"fmt"
)

// getSimpleText and getPassword are indirections used to facilitate testing.
// They point to interactive input helpers and can be swapped in tests.
var getSimpleText = GetSimpleText
var getPassword = GetPassword

// Register prompts for an email and password and creates a new account.
// The new account is a regular user; promotion to admin is done by an
// existing admin via the update command.
func (a *App) Register(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}

	user, err := a.api.Register(ctx, email, password, "")
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Registered %s\n", user.Email)
	return nil
}

// Login prompts for credentials, obtains an access token and caches it in
// the token file for subsequent invocations.
func (a *App) Login(ctx context.Context) error {
	email, err := getSimpleText(a.reader, "Enter email", a.out)
	if err != nil {
		return err
	}

	password, err := getPassword(a.out)
	if err != nil {
		return err
	}

	token, err := a.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	user, err := a.api.Me(ctx, token)
	if err != nil {
		return err
	}

	a.token = token
	a.userEmail = user.Email
	a.userRole = user.Role

	if err := SaveToken(a.tokenPath, token); err != nil {
		fmt.Fprintln(a.out, "Warning: could not save session:", err.Error())
	}

	fmt.Fprintf(a.out, "Logged in as %s\n", user.Email)
	return nil
}

// Logout drops the in-memory session and removes the cached token file.
func (a *App) Logout(ctx context.Context) error {
	a.token = ""
	a.userEmail = ""
	a.userRole = ""
	return RemoveToken(a.tokenPath)
}

// Whoami prints the profile of the currently authenticated user.
func (a *App) Whoami(ctx context.Context) error {
	user, err := a.api.Me(ctx, a.token)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "#%d %s [%s]\n", user.ID, user.Email, user.Role)
	return nil
}
