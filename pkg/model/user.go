package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 32
	MaxChannelLength  = 64
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, underscores, or hyphens")
var ErrChannelNameEmpty = errors.New("channel name must not be empty")
var ErrChannelNameTooLong = fmt.Errorf("channel name must not exceed %d characters", MaxChannelLength)

// ValidateUsername checks that a username is 1-32 ASCII alphanumeric,
// underscore, or hyphen characters.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// ValidateChannel checks a channel name. A leading '#' is conventional but
// not required; everything after it must be non-blank.
func ValidateChannel(name string) error {
	if strings.TrimSpace(strings.TrimPrefix(name, "#")) == "" {
		return ErrChannelNameEmpty
	}
	if utf8.RuneCountInString(name) > MaxChannelLength {
		return ErrChannelNameTooLong
	}
	return nil
}
