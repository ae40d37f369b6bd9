// +build debug

package tag

const Debug = true
