package hub

import (
	"errors"
	"fmt"

	"github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"
)

var (
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubStopped        = errors.New("hub was stopped and cannot be restarted")
	ErrEventQueueFull    = fmt.Errorf("event queue is full: %w", interfaces.ErrDeliveryFailed)
)
