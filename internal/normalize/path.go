package normalize

import "strings"

// NormalizePath resolves "." and ".." segments and collapses repeated
// slashes so route prefixes cannot be sidestepped with dot segments.
func NormalizePath(path string) string {
	if path == "" {
		return "/"
	}

	trailing := strings.HasSuffix(path, "/") && path != "/"

	var stack []string
	for _, part := range strings.Split(path, "/") {
		switch part {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	out := "/" + strings.Join(stack, "/")
	if trailing && out != "/" {
		out += "/"
	}
	return out
}
