package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/avoronov/userdir/internal/client/config"
)

// App is the interactive directory client. It keeps the current session
// token in memory and mirrors it to a token file so that subsequent
// invocations stay logged in.
type App struct {
	config    *config.Config
	api       *APIClient
	reader    *bufio.Reader
	out       io.Writer
	tokenPath string
	token     string
	userEmail string
	userRole  string
}

func NewApp(c *config.Config) (*App, error) {
	tokenPath := c.TokenFile
	if tokenPath == "" {
		p, err := defaultTokenPath()
		if err != nil {
			return nil, err
		}
		tokenPath = p
	}

	return &App{
		config:    c,
		api:       NewAPIClient(c.ServerAddr),
		reader:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		tokenPath: tokenPath,
	}, nil
}

func (a *App) isLoggedIn() bool {
	return a.token != ""
}

func (a *App) isAdmin() bool {
	return a.userRole == "ADMIN"
}

func (a *App) getStatus() string {
	if a.userEmail == "" {
		return ""
	}
	return fmt.Sprintf("(%s %s)", a.userEmail, strings.ToLower(a.userRole))
}

// restoreSession loads a cached token and verifies it against the server.
// A stale or rejected token is discarded silently.
func (a *App) restoreSession(ctx context.Context) {
	token, err := LoadToken(a.tokenPath)
	if err != nil || token == "" {
		return
	}
	user, err := a.api.Me(ctx, token)
	if err != nil {
		_ = RemoveToken(a.tokenPath)
		return
	}
	a.token = token
	a.userEmail = user.Email
	a.userRole = user.Role
}

func (a *App) printHelp() {
	if !a.isLoggedIn() {
		fmt.Fprintln(a.out, "Available commands: register, login, exit")
		return
	}
	if a.isAdmin() {
		fmt.Fprintln(a.out, "Available commands: whoami, list, update, delete, logout, exit")
	} else {
		fmt.Fprintln(a.out, "Available commands: whoami, logout, exit")
	}
}

func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to the user directory CLI (type 'help' for commands)")

	a.restoreSession(ctx)
	if a.isLoggedIn() {
		fmt.Fprintf(a.out, "Logged in as %s\n", a.userEmail)
	}

	for {
		fmt.Fprintf(a.out, "udir %s> ", a.getStatus())

		line, err := a.reader.ReadString('\n')
		if err != nil {
			if len(strings.TrimSpace(line)) == 0 {
				return
			}
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			if err != nil {
				return
			}
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			a.printHelp()
		case "register":
			cmdErr = a.Register(ctx)
		case "login":
			cmdErr = a.Login(ctx)
		case "logout":
			cmdErr = a.Logout(ctx)
		case "whoami":
			cmdErr = a.Whoami(ctx)
		case "list":
			cmdErr = a.listUsers(ctx)
		case "update":
			cmdErr = a.updateUser(ctx, args)
		case "delete":
			cmdErr = a.deleteUser(ctx, args)
		case "exit", "quit":
			fmt.Fprintln(a.out, "Bye!")
			return
		default:
			fmt.Fprintln(a.out, "Unknown command:", cmd)
		}

		if cmdErr != nil {
			fmt.Fprintln(a.out, "Error:", cmdErr.Error())
		}

		if err != nil {
			return
		}
	}
}
