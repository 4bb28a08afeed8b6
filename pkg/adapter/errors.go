package adapter

import (
	"fmt"
	"net/http"

	"github.com/jrodrigosm/llm-user-memory/pkg/model"
)

func transient(err error) error {
	return fmt.Errorf("%w: %w", model.ErrTransientIO, err)
}

func completionFailure(err error) error {
	return fmt.Errorf("%w: %w", model.ErrCompletion, err)
}

func permanent(err error) error {
	return fmt.Errorf("%w: %w", model.ErrPermanentEntry, err)
}

// rejected reports statuses of requests the backend refuses the same way on
// every retry. Auth, quota and server errors are not among them: they are
// fixed by configuration or time, not by skipping the entry.
func rejected(status int) bool {
	switch status {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
		return true
	}
	return false
}
