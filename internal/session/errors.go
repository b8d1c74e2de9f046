package session

import "github.com/haphu2512-java/ZaloForEdu/pkg/interfaces"

// ErrInvalidToken is returned for every rejected refresh token, whatever the
// cause, so callers cannot probe token state.
var ErrInvalidToken = interfaces.ErrInvalidToken
