// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable errors and a catalog of Markdown troubleshooting
// guides rendered with glamour when a provkit command fails.
package issue
