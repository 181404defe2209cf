// Package app holds bootstrap plumbing shared by the three binaries.
package app
