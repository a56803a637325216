package mpesa

import "fmt"

// AuthenticationError reports a failed credential exchange with the provider.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	return "mpesa authentication failed: " + e.Message
}

// PushFailedError reports a push the provider rejected or that never reached it.
type PushFailedError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *PushFailedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mpesa push failed (%s): %s", e.Code, e.Description)
	}

	return "mpesa push failed: " + e.Description
}
