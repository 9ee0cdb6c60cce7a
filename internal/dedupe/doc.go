// Package dedupe tracks recently seen request ids so a repeated request is
// answered only once.
package dedupe
