// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/provkit/provkit/internal/audit"
	"github.com/provkit/provkit/internal/config"
	"github.com/provkit/provkit/internal/container"
	"github.com/provkit/provkit/internal/deps"
	"github.com/provkit/provkit/internal/invoke"
	"github.com/provkit/provkit/internal/issue"
	"github.com/provkit/provkit/internal/launch"
	"github.com/provkit/provkit/internal/provision"
	"github.com/provkit/provkit/internal/secrets"
	"github.com/provkit/provkit/pkg/types"

	"github.com/spf13/cobra"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. Always create via newServiceError.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// classifyError maps a failure to an issue catalog ID. Zero means no catalog entry.
func classifyError(err error) issue.Id {
	var engineErr *container.ErrEngineNotAvailable
	switch {
	case errors.As(err, &engineErr):
		return issue.ContainerEngineNotFoundId
	case errors.Is(err, config.ErrInvalidConfig):
		return issue.ConfigLoadFailedId
	case errors.Is(err, secrets.ErrSecretUnavailable), errors.Is(err, secrets.ErrHostKeyMismatch):
		return issue.SecretUnavailableId
	case errors.Is(err, deps.ErrInvalidManifest), errors.Is(err, deps.ErrRefNotFound):
		return issue.ManifestInvalidId
	case errors.Is(err, provision.ErrMissingArtifact):
		return issue.AppFileMissingId
	case errors.Is(err, invoke.ErrImageNotFound):
		return issue.ImageTagNotFoundId
	case errors.Is(err, launch.ErrPortMissing), errors.Is(err, types.ErrInvalidListenPort), errors.Is(err, types.ErrMalformedListenPort):
		return issue.InvalidPortId
	case errors.Is(err, audit.ErrLeak):
		return issue.SecretLeakId
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId
	}
	return 0
}

// fail renders err with its catalog guidance and returns an ExitError with
// code 1. Cobra's own error printing is silenced for the command.
func (a *App) fail(cmd *cobra.Command, err error) error {
	return a.failAs(cmd, err, 0)
}

// failAs is fail with a catalog entry used when err matches no known sentinel.
func (a *App) failAs(cmd *cobra.Command, err error, fallback issue.Id) error {
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	id := classifyError(err)
	if id == 0 {
		id = fallback
	}
	svcErr := newServiceError(err, id,
		fmt.Sprintf("\n%s %s\n", ErrorStyle.Render("Error:"), formatErrorForDisplay(err, a.verbose)))
	renderServiceError(a.stderr, svcErr)
	return &ExitError{Code: 1, Err: err}
}

// renderServiceError prints any styled message first, then the optional issue help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render("dark")
		if renderErr != nil {
			fmt.Fprintf(stderr, "%s failed to render help for issue %d: %v\n", WarningStyle.Render("!"), svcErr.IssueID, renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}
