package main

import (
	"crypto/rand"

	"vrschool-media/config"
)

// sessionKey returns the configured admin session key, or a random one that
// only lasts until the next restart.
func sessionKey() ([]byte, error) {
	key, err := config.GetSessionAuthKey()
	if err == nil && len(key) > 0 {
		return key, nil
	}
	log.Warnln("VRSCHOOL_SESSION_AUTH_KEY is not set; admin sessions will not survive a restart")
	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
