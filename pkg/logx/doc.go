// Package logx is the zerolog wrapper used by every winkdrops component.
//
// Console output is human readable with a short caller. File output is JSON.
// A Service can be re-applied at runtime when the config file changes.
package logx
