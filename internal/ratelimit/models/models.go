package models

import (
	"net/http"
	"time"
)

// Class groups routes that share a limit.
type Class string

const (
	// ClassRead covers ballot views, results and the voting window.
	ClassRead Class = "read"
	// ClassWrite covers nomination intake, acceptance and ballot submission.
	ClassWrite Class = "write"
)

// ClassFor maps a request method to its class.
func ClassFor(method string) Class {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return ClassRead
	}
	return ClassWrite
}

// Limit allows Requests per sliding Window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Result is the outcome of one check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, set when denied
}

// Key names the bucket for one client and class.
func Key(class Class, ip string) string {
	return "ratelimit:" + string(class) + ":" + ip
}
