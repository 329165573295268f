package asm

import "strings"

var bannerPrefixes = []string{
	"Microsoft (R) ARM Macro Assembler",
	"Copyright (C) Microsoft Corporation",
}

// CleanDiagnostic strips the assembler banner, blank lines and the
// temporary source path from raw assembler output. A line naming srcPath
// loses the path and everything up to the first colon after it, which
// leaves "error A2173: ..." style text. The remaining lines are kept in
// order and joined with newlines.
func CleanDiagnostic(raw, srcPath string) string {
	var out []string
	for _, line := range lineBreak.Split(raw, -1) {
		s := strings.TrimSpace(line)
		if s == "" || hasBanner(s) {
			continue
		}
		if srcPath != "" && strings.HasPrefix(s, srcPath) {
			s = s[len(srcPath):]
			if i := strings.IndexByte(s, ':'); i >= 0 {
				s = s[i+1:]
			}
			s = strings.TrimSpace(s)
		}
		out = append(out, s)
	}
	return strings.Join(out, "\n")
}

func hasBanner(s string) bool {
	for _, p := range bannerPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
