// SPDX-License-Identifier: MPL-2.0

// Package issue turns scheduler and transport failures into errors a user
// can act on. ActionableError carries the failed operation and suggestions;
// the issue catalog holds Markdown guides rendered with glamour.
package issue
