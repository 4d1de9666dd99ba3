package main

import "strings"

// backendList collects repeated -backend flag values, the direct model
// being cmd/registry/flagtypes.go's blobStores: a []string with a custom
// flag.Value so -backend can be given more than once to build a
// priority-ordered read list.
type backendList []string

func (b *backendList) String() string {
	if b == nil || len(*b) == 0 {
		return ""
	}
	return strings.Join(*b, ", ")
}

func (b *backendList) Set(value string) error {
	*b = append(*b, value)
	return nil
}
