//go:build unstable

package hub

const diagnosticsDefault = true
