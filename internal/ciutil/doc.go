// Package ciutil detects CI environments and resolves the external services
// integration tests run against.
//
// Integration tests never hard-code connection strings: they call
// TestDatabaseURL and skip when it returns an empty string.
package ciutil
