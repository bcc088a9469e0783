// Package types provides core types used across the chatflow orchestration core.
// This package has ZERO dependencies on other chatflow packages to avoid circular
// imports. All other packages should import types from here.
package types
