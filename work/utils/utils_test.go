package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObfuscateURL(t *testing.T) {
	assert.Equal(t, "http://host.example:8080/***?***",
		ObfuscateURL("http://host.example:8080/live/user/secret/42.ts?token=abc"))
	assert.Equal(t, "https://host.example", ObfuscateURL("https://host.example"))
	assert.Equal(t, "", ObfuscateURL(""))
}

func TestLogURLRespectsFlag(t *testing.T) {
	url := "http://host/live/user/pass/1.ts"
	assert.Equal(t, url, LogURL(false, url))
	assert.Equal(t, "http://host/***", LogURL(true, url))
}

func TestLogToken(t *testing.T) {
	assert.Equal(t, "supersecrettoken", LogToken(false, "supersecrettoken"))
	assert.Equal(t, "***", LogToken(true, "short"))
	assert.Equal(t, "supersec...(16)", LogToken(true, "supersecrettoken"))
}

func TestNormalizeLanguage(t *testing.T) {
	assert.Equal(t, "en", NormalizeLanguage("en-US"))
	assert.Equal(t, "en", NormalizeLanguage("EN_us"))
	assert.Equal(t, "eng", NormalizeLanguage("eng"))
	assert.Equal(t, "", NormalizeLanguage(""))
}

func TestLanguageMatches(t *testing.T) {
	assert.True(t, LanguageMatches("en", "eng"))
	assert.True(t, LanguageMatches("eng", "en-US"))
	assert.True(t, LanguageMatches("de", "ger"))
	assert.False(t, LanguageMatches("en", "ger"))
	assert.False(t, LanguageMatches("", "eng"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(3<<20/2))
}
