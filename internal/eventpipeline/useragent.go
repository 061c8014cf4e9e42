// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import "strings"

// User agent sniffing for event attribution. The rules are deliberately
// coarse substring checks kept bug-compatible with the note producers'
// historical classification, so normalized events agree with rows already
// in the store.

// DeviceCategory classifies a user agent as mobile, tablet, or desktop.
func DeviceCategory(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"), strings.Contains(ua, "iphone"):
		return "mobile"
	case strings.Contains(ua, "tablet"), strings.Contains(ua, "ipad"):
		return "tablet"
	default:
		return "desktop"
	}
}

// OperatingSystem extracts a coarse OS name from a user agent. Android
// agents classify as Linux because the checks run in this fixed order;
// changing it would split historical aggregates.
func OperatingSystem(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac os"), strings.Contains(ua, "macintosh"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"), strings.Contains(ua, "ios"):
		return "iOS"
	default:
		return "Unknown"
	}
}

// Browser extracts a coarse browser name from a user agent. Chromium
// derivatives other than Edge classify as Chrome; that quirk is part of
// the historical rules and is kept.
func Browser(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "chrome") && !strings.Contains(ua, "edg"):
		return "Chrome"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "safari") && !strings.Contains(ua, "chrome"):
		return "Safari"
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "opera"), strings.Contains(ua, "opr"):
		return "Opera"
	default:
		return "Unknown"
	}
}

// ContextFromUserAgent builds a user context block from a raw user agent
// string. Returns nil for an empty agent.
func ContextFromUserAgent(userAgent string) *UserContext {
	if userAgent == "" {
		return nil
	}
	device := DeviceCategory(userAgent)
	os := OperatingSystem(userAgent)
	browser := Browser(userAgent)
	return &UserContext{
		DeviceCategory:  &device,
		OperatingSystem: &os,
		Browser:         &browser,
	}
}
