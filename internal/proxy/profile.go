package proxy

import "crypto/tls"

// Profile is a browser fingerprint. The User-Agent, client hints and TLS
// preferences of one profile always travel together.
type Profile struct {
	Name           string
	UserAgent      string
	AcceptLanguage string
	SecCHUA        string
	Platform       string
	Mobile         bool
	// CurvePreferences and MinTLSVersion shape the TLS ClientHello.
	CurvePreferences []tls.CurveID
	MinTLSVersion    uint16
}

// Headers returns the request headers that belong to the profile.
func (p Profile) Headers() map[string]string {
	h := map[string]string{
		"User-Agent":      p.UserAgent,
		"Accept-Language": p.AcceptLanguage,
	}
	if p.SecCHUA != "" {
		h["Sec-CH-UA"] = p.SecCHUA
		h["Sec-CH-UA-Platform"] = p.Platform
		if p.Mobile {
			h["Sec-CH-UA-Mobile"] = "?1"
		} else {
			h["Sec-CH-UA-Mobile"] = "?0"
		}
	}
	return h
}

// TLSConfig returns a client TLS config for the profile. Certificate
// verification is always on.
func (p Profile) TLSConfig() *tls.Config {
	minVersion := p.MinTLSVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	return &tls.Config{
		MinVersion:       minVersion,
		CurvePreferences: p.CurvePreferences,
	}
}

// DefaultProfiles lists the built-in fingerprints.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:             "chrome110",
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.0.0 Safari/537.36",
			AcceptLanguage:   "en-US,en;q=0.9,fil;q=0.8",
			SecCHUA:          `"Chromium";v="110", "Not A(Brand";v="24", "Google Chrome";v="110"`,
			Platform:         `"Windows"`,
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		},
		{
			Name:             "chrome120",
			UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage:   "en-US,en;q=0.9",
			SecCHUA:          `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`,
			Platform:         `"macOS"`,
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384},
		},
		{
			Name:             "safari15_5",
			UserAgent:        "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.5 Safari/605.1.15",
			AcceptLanguage:   "en-US,en;q=0.9",
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384, tls.CurveP521},
		},
		{
			Name:             "safari_ios",
			UserAgent:        "Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
			AcceptLanguage:   "en-PH,en;q=0.9",
			Mobile:           true,
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256, tls.CurveP384, tls.CurveP521},
		},
	}
}

// ProfileByName returns a built-in profile by name.
func ProfileByName(name string) (Profile, bool) {
	for _, p := range DefaultProfiles() {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}
