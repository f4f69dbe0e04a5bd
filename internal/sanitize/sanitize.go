// Copyright 2026 The Agent Watch Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sanitize masks secrets in command arguments before they are
// persisted: passwords, API keys, tokens and auth headers. Masking is
// idempotent, so already-sanitized input passes through unchanged.
package sanitize

import "strings"

// Mask replaces the sensitive portion of a masked value.
const Mask = "***"

// sensitiveFlags mark the next argument as sensitive.
var sensitiveFlags = map[string]bool{
	"-p":             true,
	"--password":     true,
	"--token":        true,
	"--api-key":      true,
	"--apikey":       true,
	"--secret":       true,
	"-k":             true,
	"--key":          true,
	"--auth":         true,
	"--auth-token":   true,
	"--access-token": true,
	"--private-key":  true,
}

// sensitiveInlineFlags carry the secret inline as --flag=value.
var sensitiveInlineFlags = []string{
	"--password=",
	"--token=",
	"--api-key=",
	"--apikey=",
	"--secret=",
	"--key=",
	"--auth=",
	"--auth-token=",
	"--access-token=",
	"--private-key=",
}

// sensitiveEnvPrefixes are environment assignments whose value is a secret.
var sensitiveEnvPrefixes = []string{
	"ANTHROPIC_API_KEY=",
	"OPENAI_API_KEY=",
	"AWS_SECRET_ACCESS_KEY=",
	"AWS_SESSION_TOKEN=",
	"GITHUB_TOKEN=",
	"GH_TOKEN=",
	"NPM_TOKEN=",
	"DOCKER_PASSWORD=",
	"DATABASE_PASSWORD=",
	"DB_PASSWORD=",
	"MYSQL_PASSWORD=",
	"POSTGRES_PASSWORD=",
	"REDIS_PASSWORD=",
	"SECRET_KEY=",
	"PRIVATE_KEY=",
	"API_KEY=",
	"API_SECRET=",
	"AUTH_TOKEN=",
	"ACCESS_TOKEN=",
	"REFRESH_TOKEN=",
}

// Args returns a copy of args with sensitive values replaced by Mask.
func Args(args []string) []string {
	result := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			result = append(result, Mask)
			maskNext = false
			continue
		}

		if sensitiveFlags[arg] {
			result = append(result, arg)
			maskNext = true
			continue
		}

		if masked, ok := maskInlineFlag(arg); ok {
			result = append(result, masked)
			continue
		}
		if masked, ok := maskEnvVariable(arg); ok {
			result = append(result, masked)
			continue
		}
		if masked, ok := maskTokenPattern(arg); ok {
			result = append(result, masked)
			continue
		}
		if masked, ok := maskHTTPHeader(arg); ok {
			result = append(result, masked)
			continue
		}

		result = append(result, arg)
	}

	return result
}

// CommandString sanitizes a command passed as a single string. Input
// without sensitive content is returned unchanged.
func CommandString(command string) string {
	if !needsSanitization(command) {
		return command
	}
	return strings.Join(Args(strings.Fields(command)), " ")
}

func needsSanitization(command string) bool {
	for flag := range sensitiveFlags {
		if strings.Contains(command, flag) {
			return true
		}
	}
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.Contains(command, prefix) {
			return true
		}
	}
	return strings.Contains(command, "sk-ant-") ||
		strings.Contains(command, "sk-") ||
		strings.Contains(command, "ghp_") ||
		strings.Contains(command, "Bearer ")
}

func maskInlineFlag(arg string) (string, bool) {
	lower := strings.ToLower(arg)
	for _, prefix := range sensitiveInlineFlags {
		if !strings.HasPrefix(lower, prefix) {
			continue
		}
		if eq := strings.IndexByte(arg, '='); eq >= 0 {
			return arg[:eq] + "=" + Mask, true
		}
	}
	return "", false
}

func maskEnvVariable(arg string) (string, bool) {
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(arg, prefix) {
			name := strings.TrimSuffix(prefix, "=")
			return name + "=" + Mask, true
		}
	}
	return "", false
}

func maskTokenPattern(arg string) (string, bool) {
	switch {
	case strings.HasPrefix(arg, "sk-ant-"):
		return "sk-ant-" + Mask, true
	case strings.HasPrefix(arg, "sk-") && len(arg) > 20:
		// OpenAI keys; length guard avoids masking short flags like sk-1.
		return "sk-" + Mask, true
	case strings.HasPrefix(arg, "ghp_"), strings.HasPrefix(arg, "gho_"),
		strings.HasPrefix(arg, "ghs_"), strings.HasPrefix(arg, "ghr_"):
		return arg[:4] + Mask, true
	case (strings.HasPrefix(arg, "AKIA") || strings.HasPrefix(arg, "ASIA")) && len(arg) == 20:
		return Mask, true
	case strings.HasPrefix(arg, "npm_"):
		return "npm_" + Mask, true
	}
	return "", false
}

func maskHTTPHeader(arg string) (string, bool) {
	lower := strings.ToLower(arg)

	switch {
	case strings.HasPrefix(lower, "bearer "):
		return "Bearer " + Mask, true
	case strings.HasPrefix(lower, "basic "):
		return "Basic " + Mask, true
	case strings.HasPrefix(lower, "authorization:"), strings.HasPrefix(lower, "x-api-key:"):
		if colon := strings.IndexByte(arg, ':'); colon >= 0 {
			return arg[:colon] + ": " + Mask, true
		}
	}
	return "", false
}
