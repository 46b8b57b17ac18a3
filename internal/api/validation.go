package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

func validatePropagate(req PropagateRequest) error {
	if req.Login == "" {
		return fmt.Errorf("login is required")
	}
	if !strings.Contains(req.Login, "@") {
		return fmt.Errorf("login must be an email address")
	}

	if req.Secret == "" {
		return fmt.Errorf("secret is required")
	}

	if req.Session == "" {
		return fmt.Errorf("session is required")
	}
	if err := validateSession(req.Session); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}

	return nil
}

// validateSession checks that the session blob is a JSON cookie array,
// the only shape the probe can load.
func validateSession(session string) error {
	var cookies []json.RawMessage
	if err := json.Unmarshal([]byte(session), &cookies); err != nil {
		return fmt.Errorf("must be a JSON array of cookies")
	}
	if len(cookies) == 0 {
		return fmt.Errorf("cookie array is empty")
	}
	return nil
}
