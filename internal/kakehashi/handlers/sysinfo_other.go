//go:build !linux

package handlers

// readHostStats has no portable source for memory and uptime outside
// Linux; zero values are reported.
func readHostStats() hostStats { return hostStats{} }
