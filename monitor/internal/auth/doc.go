// Package auth provides API key middleware for the monitor's HTTP surfaces.
//
// RequireAPIKey(header, key, next) compares the named request header with
// key. When key == "" every request passes through, which keeps local
// development without a key configured working. A missing or incorrect key
// is answered with 401 before next runs.
package auth
