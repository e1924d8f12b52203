package cmd

import (
	"context"

	"github.com/ekmate/portal/session"
)

// sessionClient is the slice of the session store the client commands use
type sessionClient interface {
	Login(ctx context.Context, email, password string) session.LoginResult
	Logout(ctx context.Context)
	Await(ctx context.Context) (session.Snapshot, error)
	Snapshot() session.Snapshot
}

var _ sessionClient = (*session.Store)(nil)
