package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// listUsers prints the full directory listing. The server restricts this
// to admins, so a role error surfaces here as a server message.
func (a *App) listUsers(ctx context.Context) error {
	users, err := a.api.ListUsers(ctx, a.token)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Fprintf(a.out, "#%d %s [%s]\n", u.ID, u.Email, u.Role)
	}
	fmt.Fprintf(a.out, "%d user(s)\n", len(users))
	return nil
}

// updateUser changes a user's email and/or role.
//
// Usage: update <id> [email=<email>] [role=<USER|ADMIN>]
func (a *App) updateUser(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: update <id> [email=<email>] [role=<USER|ADMIN>]")
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	var email, role string
	for _, arg := range args[1:] {
		switch {
		case len(arg) > 6 && arg[:6] == "email=":
			email = arg[6:]
		case len(arg) > 5 && arg[:5] == "role=":
			role = arg[5:]
		default:
			return fmt.Errorf("unknown argument %q", arg)
		}
	}

	user, err := a.api.UpdateUser(ctx, a.token, id, email, role)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Updated #%d %s [%s]\n", user.ID, user.Email, user.Role)
	return nil
}

// deleteUser removes a user by id.
//
// Usage: delete <id>
func (a *App) deleteUser(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: delete <id>")
	}

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}

	if err := a.api.DeleteUser(ctx, a.token, id); err != nil {
		return err
	}

	fmt.Fprintf(a.out, "Deleted #%d\n", id)
	return nil
}
