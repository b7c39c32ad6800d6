// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package shrink

import "strings"

// DescriptorClasses returns the class names a field or method descriptor
// mentions, in internal form.
func DescriptorClasses(desc string) []string {
	var out []string
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			break
		}
		out = append(out, desc[i+1:i+end])
		i += end
	}
	return out
}

// InternalName converts a type descriptor such as "Lcom/example/Foo;" to
// "com/example/Foo". Array and primitive descriptors are returned as is.
func InternalName(desc string) string {
	if len(desc) >= 2 && desc[0] == 'L' && desc[len(desc)-1] == ';' {
		return desc[1 : len(desc)-1]
	}
	return desc
}
