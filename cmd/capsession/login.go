// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/capsession/callback"
	"github.com/hashicorp/capsession/metrics"
	"github.com/hashicorp/capsession/oidc"
	"github.com/hashicorp/capsession/session"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type loginFlags struct {
	noBrowser bool
	userInfo  bool
	once      bool
	timeout   time.Duration
}

func newLoginCmd(flags *rootFlags) *cobra.Command {
	lf := &loginFlags{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with the provider and keep the session alive until interrupted",
		Long: `Log in with the provider.  A local listener on the redirect URL receives the
authorization response.  The session's claims are printed, then the session
is renewed as its access token expires until it's interrupted (unless --once).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runLogin(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), flags, lf)
		},
	}
	cmd.Flags().BoolVar(&lf.noBrowser, "no-browser", false, "print the authorization URL instead of opening a browser")
	cmd.Flags().BoolVar(&lf.userInfo, "userinfo", false, "print the provider's userinfo claims after login")
	cmd.Flags().BoolVar(&lf.once, "once", false, "log out and exit after the login completes")
	cmd.Flags().DurationVar(&lf.timeout, "timeout", 2*time.Minute, "how long to wait for the authorization response")
	return cmd
}

func runLogin(ctx context.Context, stdout, stderr io.Writer, flags *rootFlags, lf *loginFlags) error {
	const op = "login"
	c, oc, err := flags.load()
	if err != nil {
		return err
	}
	logger := flags.logger(stderr)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	opts, err := c.SessionOptions()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	opts = append(opts,
		session.WithLogger(logger),
		session.WithExchangerWrapper(m.InstrumentExchanger),
	)
	if !c.Session.AutomaticRenew && !lf.once {
		opts = append(opts, session.WithAutomaticRenew(true))
	}
	s, err := session.NewFromConfig(ctx, oc, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer s.Close()
	defer m.Observe(s)()

	redirect, err := url.Parse(oc.RedirectURL)
	if err != nil {
		return fmt.Errorf("%s: redirect URL: %w", op, err)
	}
	successFn, successCh := success(stderr)
	errorFn, failedCh := failed(stderr)
	authCode, err := callback.AuthCode(ctx, s, successFn, errorFn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	login, err := callback.Login(ctx, s, errorFn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r := chi.NewRouter()
	callbackPath := redirect.Path
	if callbackPath == "" {
		callbackPath = "/"
	}
	r.Get(callbackPath, authCode)
	r.Post(callbackPath, authCode)
	r.Get("/login", login)
	if c.MetricsAddr == "" {
		r.Handle("/metrics", metrics.Handler(reg))
	} else {
		mr := chi.NewRouter()
		mr.Handle("/metrics", metrics.Handler(reg))
		stopMetrics, err := serve(c.MetricsAddr, mr, logger)
		if err != nil {
			return fmt.Errorf("%s: metrics listener: %w", op, err)
		}
		defer stopMetrics()
	}

	stopCallback, err := serve(redirect.Host, r, logger)
	if err != nil {
		return fmt.Errorf("%s: callback listener: %w", op, err)
	}
	defer stopCallback()

	authURL, err := s.Login(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if lf.noBrowser {
		fmt.Fprintf(stderr, "Complete the login via your OIDC provider. Visit:\n\n    %s\n\n\n", authURL)
	} else {
		fmt.Fprintf(stderr, "Complete the login via your OIDC provider. Launching browser to:\n\n    %s\n\n\n", authURL)
		if err := openURL(authURL); err != nil {
			fmt.Fprintf(stderr, "Error attempting to automatically open browser: '%s'.\nPlease visit the authorization URL manually.\n", err)
		}
	}

	// Wait for either the callback to finish, SIGINT to be received or the
	// timeout
	select {
	case ts := <-successCh:
		printTokenSet(stdout, ts)
	case err := <-failedCh:
		return fmt.Errorf("%s: %w", op, err)
	case <-ctx.Done():
		return fmt.Errorf("%s: interrupted", op)
	case <-time.After(lf.timeout):
		return fmt.Errorf("%s: timed out waiting for response from provider", op)
	}

	if claims, ok := s.Claims(); ok {
		printJSON(stdout, "IdToken claims", claims.Extra)
	}
	if lf.userInfo {
		info, err := s.UserInfo(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "UserInfo: %s\n", err)
		} else {
			printJSON(stdout, "UserInfo", info)
		}
	}

	if !lf.once {
		if err := keepAlive(ctx, s, stderr); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	endSessionURL, err := s.Logout(context.Background())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if endSessionURL != "" {
		fmt.Fprintf(stderr, "Logged out. End the provider session at:\n\n    %s\n\n", endSessionURL)
	}
	return nil
}

// keepAlive reports the session's events until ctx is done or the session
// fails.
func keepAlive(ctx context.Context, s *session.Session, w io.Writer) error {
	failedCh := make(chan session.ErrorState, 1)
	unsubscribe := s.Subscribe(func(e session.Event) {
		switch e.Type {
		case session.AccessTokenExpiring:
			fmt.Fprintln(w, "access token expiring")
			return
		}
		fmt.Fprintf(w, "session %s\n", e.State.Status())
		if st, ok := e.State.(session.ErrorState); ok {
			select {
			case failedCh <- st:
			default:
			}
		}
	})
	defer unsubscribe()
	fmt.Fprintln(w, "Session active; interrupt to log out.")
	select {
	case <-ctx.Done():
		return nil
	case st := <-failedCh:
		return errors.New(st.Reason)
	}
}

// serve serves h on addr until the returned func is called.
func serve(addr string, h http.Handler, logger hclog.Logger) (stop func(), err error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server closed with error", "addr", addr, "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func success(w io.Writer) (callback.SuccessResponseFunc, <-chan *oidc.TokenSet) {
	doneCh := make(chan *oidc.TokenSet, 1)
	return func(state string, t *oidc.TokenSet, rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusOK)
		if _, err := rw.Write([]byte(successHTML)); err != nil {
			fmt.Fprintf(w, "error writing successful response: %s\n", err)
		}
		select {
		case doneCh <- t:
		default:
		}
	}, doneCh
}

func failed(w io.Writer) (callback.ErrorResponseFunc, <-chan error) {
	doneCh := make(chan error, 1)
	return func(state string, r *callback.AuthenErrorResponse, e error, rw http.ResponseWriter, req *http.Request) {
		if errors.Is(e, session.ErrStateMismatch) {
			// not our request; keep waiting for the real response
			rw.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, "ignoring callback: %s\n", e)
			return
		}
		var responseErr error
		switch {
		case r != nil:
			responseErr = fmt.Errorf("callback error from oidc provider: %s: %s", r.Error, r.Description)
			rw.WriteHeader(http.StatusUnauthorized)
		case e != nil:
			responseErr = e
			rw.WriteHeader(http.StatusInternalServerError)
		default:
			responseErr = errors.New("unknown error from callback")
			rw.WriteHeader(http.StatusInternalServerError)
		}
		fmt.Fprintf(w, "%s\n", responseErr)
		select {
		case doneCh <- responseErr:
		default:
		}
	}, doneCh
}

func printTokenSet(w io.Writer, t *oidc.TokenSet) {
	if t == nil {
		return
	}
	printJSON(w, "Tokens", struct {
		TokenType    string    `json:"token_type"`
		Scope        string    `json:"scope,omitempty"`
		ExpiresAt    time.Time `json:"expires_at,omitempty"`
		RefreshToken bool      `json:"refresh_token"`
		IdToken      bool      `json:"id_token"`
	}{
		TokenType:    t.TokenType(),
		Scope:        t.Scope(),
		ExpiresAt:    t.ExpiresAt(),
		RefreshToken: t.RefreshToken() != "",
		IdToken:      t.IdToken() != "",
	})
}

func printJSON(w io.Writer, title string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		fmt.Fprintf(w, "%s: error encoding: %s\n", title, err)
		return
	}
	fmt.Fprintf(w, "%s: %s\n", title, data)
}

const successHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>Authentication Succeeded</title>
</head>
<body>
    <h1>Authentication Succeeded</h1>
    <p>You can close this window and return to the command line.</p>
</body>
</html>
`
