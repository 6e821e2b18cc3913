//go:build !marketplace

package gate

const marketplaceBuild = false
