//go:build !unix

package storage

func isNoSpace(err error) bool {
	return false
}
