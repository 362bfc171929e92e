package services

import (
	"fmt"
	"math/rand/v2"
	"runtime"
)

type browserTemplate struct {
	name     string
	versions []int
	os       map[string][]string
	template string
}

var browsers = []browserTemplate{
	{
		name:     "chrome",
		versions: []int{128, 129, 130, 131},
		os: map[string][]string{
			"windows": {"Windows NT 10.0; Win64; x64"},
			"darwin":  {"Macintosh; Intel Mac OS X 10_15_7"},
			"linux":   {"X11; Linux x86_64"},
		},
		template: "Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36",
	},
	{
		name:     "firefox",
		versions: []int{130, 131, 132, 133},
		os: map[string][]string{
			"windows": {"Windows NT 10.0; Win64; x64"},
			"darwin":  {"Macintosh; Intel Mac OS X 10.15"},
			"linux":   {"X11; Linux x86_64", "X11; Ubuntu; Linux x86_64"},
		},
		template: "Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0",
	},
	{
		name:     "edge",
		versions: []int{128, 129, 130, 131},
		os: map[string][]string{
			"windows": {"Windows NT 10.0; Win64; x64"},
			"darwin":  {"Macintosh; Intel Mac OS X 10_15_7"},
			"linux":   {"X11; Linux x86_64"},
		},
		template: "Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 Safari/537.36 Edg/%d.0.0.0",
	},
}

const fallbackUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// RandomUserAgent returns a desktop browser UA for the operating system the
// program runs on, so the portal sees a plausible client.
func RandomUserAgent() string {
	return randomUserAgentFor(runtime.GOOS)
}

func randomUserAgentFor(goos string) string {
	browser := browsers[rand.IntN(len(browsers))]
	platforms, ok := browser.os[goos]
	if !ok {
		platforms = browser.os["windows"]
	}
	version := browser.versions[rand.IntN(len(browser.versions))]
	platform := platforms[rand.IntN(len(platforms))]

	switch browser.name {
	case "chrome":
		return fmt.Sprintf(browser.template, platform, version)
	case "firefox", "edge":
		return fmt.Sprintf(browser.template, platform, version, version)
	default:
		return fallbackUserAgent
	}
}
