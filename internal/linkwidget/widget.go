// Package linkwidget drives the external account-linking widget and turns
// its callback API into a single blocking call with one outcome.
package linkwidget

import (
	"context"
	"fmt"
)

// ScriptURL is where the aggregator serves the widget
const ScriptURL = "https://cdn.plaid.com/link/v2/stable/link-initialize.js"

// Script is a loaded widget instance
type Script struct {
	ID  string
	URL string
}

// ExitError is what the widget reports when the user leaves with an error
type ExitError struct {
	Code    string `json:"error_code"`
	Type    string `json:"error_type"`
	Message string `json:"error_message"`
}

func (e *ExitError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s", e.Type, e.Code, e.Message)
}

// Config binds a widget instance to one link token
type Config struct {
	Token string
	// OnSuccess receives the one-time public token
	OnSuccess func(publicToken string)
	// OnExit fires when the widget closes; err is nil on a plain cancel.
	// It may also fire after OnSuccess.
	OnExit func(err *ExitError)
}

// Handler opens a created widget
type Handler interface {
	Open(ctx context.Context) error
}

// Widget is the external linking widget
type Widget interface {
	// Load injects the widget script
	Load(ctx context.Context) (Script, error)

	// Create builds a handler for script bound to cfg
	Create(script Script, cfg Config) (Handler, error)

	// Remove tears down a loaded script
	Remove(script Script)

	// RemoveAll drops instances left over from earlier opens
	RemoveAll()
}
