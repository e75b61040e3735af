package shell

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/acolita/ptyexec/internal/ports"
)

const profileLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// forcedVars cannot be overridden through WithEnv.
var forcedVars = []string{"PS1", "LANG", "LANGUAGE"}

// buildProfile renders the file sourced by every new session. Caller
// variables come first in key order, then the forced ones.
func buildProfile(env map[string]string, prompt string) []byte {
	keys := make([]string, 0, len(env))
	for k := range env {
		if isForced(k) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		writeExport(&b, k, env[k])
	}
	writeExport(&b, "PS1", prompt)
	writeExport(&b, "LANG", DefaultLocale)
	writeExport(&b, "LANGUAGE", DefaultLocale)
	return []byte(b.String())
}

// writeExport emits export KEY="VALUE". Only backslash and double quote are
// escaped, so $VAR references in values still expand.
func writeExport(b *strings.Builder, key, value string) {
	value = strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(value)
	fmt.Fprintf(b, "export %s=\"%s\"\n", key, value)
}

func isForced(key string) bool {
	for _, f := range forcedVars {
		if key == f {
			return true
		}
	}
	return false
}

// profilePath picks a random file name of letters under dir.
func profilePath(random ports.Random, dir string) (string, error) {
	buf := make([]byte, profileNameLen)
	if _, err := random.Read(buf); err != nil {
		return "", fmt.Errorf("generate profile name: %w", err)
	}
	for i, c := range buf {
		buf[i] = profileLetters[int(c)%len(profileLetters)]
	}
	return path.Join(dir, string(buf)), nil
}
