package env

import "os"

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// InstanceID names the running process in logs. Heroku sets DYNO; other hosts
// can set WORKER_ID.
func InstanceID() string {
	if id := os.Getenv("DYNO"); id != "" {
		return id
	}
	return Get("WORKER_ID", "local")
}
