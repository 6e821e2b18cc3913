//go:build marketplace

package gate

const marketplaceBuild = true
